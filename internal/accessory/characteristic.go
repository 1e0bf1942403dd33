package accessory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

var (
	ErrInvalidValue = errors.New("invalid characteristic value")
	ErrReadOnly     = errors.New("characteristic is read-only")
)

// SetHandler receives values written by the host side.
type SetHandler func(ctx context.Context, value any) error

// Props constrain the values a characteristic accepts from the host.
type Props struct {
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
	ValidValues []int    `json:"valid_values,omitempty"`
}

// Range is a shorthand for numeric props.
func Range(minValue, maxValue, step float64) Props {
	return Props{Min: &minValue, Max: &maxValue, Step: &step}
}

// Characteristic is a single observable value on a service.
type Characteristic struct {
	Type string

	svc *Service

	mu    sync.RWMutex
	value any
	err   error
	props Props
	onSet SetHandler
}

func (c *Characteristic) Value() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *Characteristic) Float() float64 {
	v, _ := toFloat(c.Value())
	return v
}

func (c *Characteristic) Int() int {
	v, _ := toFloat(c.Value())
	return int(math.Round(v))
}

// Err is the error marker last set by the device side, if any.
func (c *Characteristic) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Characteristic) Props() Props {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props
}

// SetProps replaces the constraints. The current value is left as is.
func (c *Characteristic) SetProps(props Props) *Characteristic {
	c.mu.Lock()
	c.props = props
	c.mu.Unlock()
	return c
}

// OnSet registers the host write handler, making the characteristic writable.
func (c *Characteristic) OnSet(fn SetHandler) *Characteristic {
	c.mu.Lock()
	c.onSet = fn
	c.mu.Unlock()
	return c
}

func (c *Characteristic) Writable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onSet != nil
}

// Update stores a device-side value, clears the error marker and notifies
// observers when something changed.
func (c *Characteristic) Update(value any) {
	c.mu.Lock()
	changed := c.err != nil || !equalValue(c.value, value)
	c.value = value
	c.err = nil
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// SetError marks the characteristic as failed without changing its value.
func (c *Characteristic) SetError(err error) {
	c.mu.Lock()
	changed := (c.err == nil) != (err == nil) || (err != nil && c.err.Error() != err.Error())
	c.err = err
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// RemoteSet applies a host-side write: validate, hand to the handler, store.
func (c *Characteristic) RemoteSet(ctx context.Context, value any) error {
	c.mu.RLock()
	handler := c.onSet
	props := c.props
	c.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("%s: %w", c.Type, ErrReadOnly)
	}
	normalized, err := validate(props, value)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Type, err)
	}
	if err := handler(ctx, normalized); err != nil {
		return err
	}
	c.Update(normalized)
	return nil
}

func (c *Characteristic) notify() {
	if c.svc != nil {
		c.svc.changed(c)
	}
}

func validate(props Props, value any) (any, error) {
	if b, ok := value.(bool); ok {
		if len(props.ValidValues) == 0 && props.Min == nil && props.Max == nil {
			return b, nil
		}
		if b {
			value = 1
		} else {
			value = 0
		}
	}

	f, ok := toFloat(value)
	if !ok {
		if s, isString := value.(string); isString && len(props.ValidValues) == 0 && props.Min == nil {
			return s, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}

	if len(props.ValidValues) > 0 {
		i := int(math.Round(f))
		if float64(i) != f || !slices.Contains(props.ValidValues, i) {
			return nil, fmt.Errorf("%w: %v not in %v", ErrInvalidValue, value, props.ValidValues)
		}
		return i, nil
	}
	if props.Min != nil && f < *props.Min {
		return nil, fmt.Errorf("%w: %v below %v", ErrInvalidValue, f, *props.Min)
	}
	if props.Max != nil && f > *props.Max {
		return nil, fmt.Errorf("%w: %v above %v", ErrInvalidValue, f, *props.Max)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func equalValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return a == b
}
