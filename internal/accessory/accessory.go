package accessory

import (
	"math"
	"sync"

	"github.com/google/uuid"
)

// UUIDFor derives the stable accessory identity from a key such as
// "<deviceID>-<deviceClass>".
func UUIDFor(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Observer is notified of characteristic changes on registered accessories.
type Observer interface {
	CharacteristicChanged(acc *Accessory, svc *Service, char *Characteristic)
}

// Accessory is a host-visible device with a set of services.
type Accessory struct {
	UUID        string
	DisplayName string

	mu       sync.RWMutex
	context  map[string]any
	external bool
	services []*Service
	observer Observer
}

func New(displayName, id string) *Accessory {
	return &Accessory{
		UUID:        id,
		DisplayName: displayName,
		context:     make(map[string]any),
	}
}

// Context is the persisted per-accessory map restored on restart.
func (a *Accessory) Context(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.context[key]
	return v, ok
}

func (a *Accessory) SetContext(key string, value any) {
	a.mu.Lock()
	a.context[key] = value
	a.mu.Unlock()
}

func (a *Accessory) contextCopy() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.context))
	for k, v := range a.context {
		out[k] = v
	}
	return out
}

func (a *Accessory) External() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.external
}

// Service returns the service of the given type, or nil.
func (a *Accessory) Service(typ string) *Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.services {
		if s.Type == typ {
			return s
		}
	}
	return nil
}

// EnsureService returns the existing service or adds a new one.
func (a *Accessory) EnsureService(typ, name string) *Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.services {
		if s.Type == typ {
			return s
		}
	}
	s := &Service{Type: typ, Name: name, acc: a}
	a.services = append(a.services, s)
	return s
}

// RemoveService drops a service, used when a capability is hidden.
func (a *Accessory) RemoveService(typ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.services {
		if s.Type == typ {
			a.services = append(a.services[:i], a.services[i+1:]...)
			return
		}
	}
}

func (a *Accessory) Services() []*Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*Service(nil), a.services...)
}

// Characteristic looks up a characteristic across services.
func (a *Accessory) Characteristic(svcType, charType string) *Characteristic {
	s := a.Service(svcType)
	if s == nil {
		return nil
	}
	return s.Characteristic(charType)
}

func (a *Accessory) setObserver(o Observer) {
	a.mu.Lock()
	a.observer = o
	a.mu.Unlock()
}

func (a *Accessory) changed(s *Service, c *Characteristic) {
	a.mu.RLock()
	o := a.observer
	a.mu.RUnlock()
	if o != nil {
		o.CharacteristicChanged(a, s, c)
	}
}

// Service groups characteristics of one function, e.g. Thermostat.
type Service struct {
	Type string
	Name string

	acc   *Accessory
	mu    sync.RWMutex
	chars []*Characteristic
}

func (s *Service) Characteristic(typ string) *Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chars {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// EnsureCharacteristic returns the existing characteristic or adds one
// holding the initial value.
func (s *Service) EnsureCharacteristic(typ string, initial any) *Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chars {
		if c.Type == typ {
			return c
		}
	}
	c := &Characteristic{Type: typ, svc: s, value: initial}
	s.chars = append(s.chars, c)
	return c
}

func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Characteristic(nil), s.chars...)
}

// SetError marks every characteristic on the service as failed.
func (s *Service) SetError(err error) {
	for _, c := range s.Characteristics() {
		c.SetError(err)
	}
}

func (s *Service) changed(c *Characteristic) {
	if s.acc != nil {
		s.acc.changed(s, c)
	}
}

// AsFloat converts a value delivered to a SetHandler.
func AsFloat(v any) float64 {
	f, _ := toFloat(v)
	return f
}

// AsInt converts a value delivered to a SetHandler, rounding floats.
func AsInt(v any) int {
	f, _ := toFloat(v)
	return int(math.Round(f))
}
