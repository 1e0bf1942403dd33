package resideo

import (
	"context"
	"slices"
	"sync"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
)

// thermostatMirror holds host-side values. Temperatures are celsius.
type thermostatMirror struct {
	units          int
	current        float64
	humidity       *float64
	target         float64
	heat           float64
	cool           float64
	mode           int
	state          int
	setpointStatus string
	nextPeriod     string
	autoChangeover *bool
}

// parseThermostat normalises a vendor thermostat payload.
func parseThermostat(d Device) thermostatMirror {
	units := DisplayUnits(d.Units)
	cv := d.ChangeableValues
	m := thermostatMirror{
		units:          units,
		current:        ToCelsius(d.IndoorTemperature, units),
		heat:           ToCelsius(cv.HeatSetpoint, units),
		cool:           ToCelsius(cv.CoolSetpoint, units),
		mode:           HostMode(cv.Mode),
		state:          CurrentState(d.OperationStatus.Mode),
		setpointStatus: cv.ThermostatSetpointStatus,
		nextPeriod:     cv.NextPeriodTime,
		autoChangeover: cv.AutoChangeoverActive,
	}
	if d.IndoorHumidity != nil {
		h := *d.IndoorHumidity
		m.humidity = &h
	}
	m.target = m.heat
	if cv.Mode == ModeCool {
		m.target = m.cool
	}
	return m
}

// thermostatControl is the Thermostat service bound to a mirror.
type thermostatControl struct {
	allowed []string
	opts    config.ThermostatOptions

	mu     sync.Mutex
	mirror thermostatMirror

	current, target, heat, cool *accessory.Characteristic
	mode, state, units          *accessory.Characteristic
	humidity                    *accessory.Characteristic
}

func newThermostatControl(acc *accessory.Accessory, d Device, opts config.ThermostatOptions, signal func(func())) *thermostatControl {
	c := &thermostatControl{allowed: d.AllowedModes, opts: opts}
	units := DisplayUnits(d.Units)
	svc := acc.EnsureService(accessory.ServiceThermostat, acc.DisplayName)

	heatMin := limit(d.MinHeatSetpoint, units, 10)
	heatMax := limit(d.MaxHeatSetpoint, units, 32)
	coolMin := limit(d.MinCoolSetpoint, units, 10)
	coolMax := limit(d.MaxCoolSetpoint, units, 35)

	c.current = svc.EnsureCharacteristic(accessory.CurrentTemperature, 0.0).
		SetProps(accessory.Range(-270, 100, 0.1))
	c.state = svc.EnsureCharacteristic(accessory.CurrentHeatingCoolingState, accessory.StateOff)
	c.units = svc.EnsureCharacteristic(accessory.TemperatureDisplayUnits, units).
		SetProps(accessory.Props{ValidValues: []int{accessory.UnitsCelsius, accessory.UnitsFahrenheit}}).
		OnSet(func(context.Context, any) error { return nil })

	c.mode = svc.EnsureCharacteristic(accessory.TargetHeatingCoolingState, accessory.StateOff).
		SetProps(accessory.Props{ValidValues: TargetModes(d.AllowedModes, opts.ShowAuto)}).
		OnSet(c.setter(signal, func(m *thermostatMirror, v any) { m.mode = accessory.AsInt(v) }))
	c.target = svc.EnsureCharacteristic(accessory.TargetTemperature, heatMin).
		SetProps(accessory.Range(min(heatMin, coolMin), max(heatMax, coolMax), 0.5)).
		OnSet(c.setter(signal, func(m *thermostatMirror, v any) { m.target = accessory.AsFloat(v) }))
	c.heat = svc.EnsureCharacteristic(accessory.HeatingThresholdTemperature, heatMin).
		SetProps(accessory.Range(heatMin, heatMax, 0.5)).
		OnSet(c.setter(signal, func(m *thermostatMirror, v any) { m.heat = accessory.AsFloat(v) }))
	c.cool = svc.EnsureCharacteristic(accessory.CoolingThresholdTemperature, coolMin).
		SetProps(accessory.Range(coolMin, coolMax, 0.5)).
		OnSet(c.setter(signal, func(m *thermostatMirror, v any) { m.cool = accessory.AsFloat(v) }))

	if d.IndoorHumidity != nil && !opts.HideHumidity {
		c.humidity = acc.EnsureService(accessory.ServiceHumiditySensor, acc.DisplayName+" Humidity").
			EnsureCharacteristic(accessory.CurrentRelativeHumidity, 0.0)
	} else {
		acc.RemoveService(accessory.ServiceHumiditySensor)
	}
	return c
}

// setter updates the mirror through the push stream. It never calls the
// vendor directly.
func (c *thermostatControl) setter(signal func(func()), mutate func(*thermostatMirror, any)) accessory.SetHandler {
	return func(_ context.Context, v any) error {
		signal(func() {
			c.mu.Lock()
			mutate(&c.mirror, v)
			c.mu.Unlock()
		})
		return nil
	}
}

func (c *thermostatControl) apply(m thermostatMirror) {
	c.mu.Lock()
	c.mirror = m
	c.mu.Unlock()

	c.current.Update(m.current)
	c.state.Update(m.state)
	c.mode.Update(m.mode)
	c.target.Update(m.target)
	c.heat.Update(m.heat)
	c.cool.Update(m.cool)
	if c.humidity != nil && m.humidity != nil {
		c.humidity.Update(*m.humidity)
	}
}

func (c *thermostatControl) snapshot() thermostatMirror {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// command builds the full payload from the mirror as it is now.
func (c *thermostatControl) command() ThermostatCommand {
	m := c.snapshot()

	mode := VendorMode(m.mode)
	if m.mode == accessory.StateAuto && !slices.Contains(c.allowed, ModeAuto) {
		mode = ModeCool
		if m.current < m.heat {
			mode = ModeHeat
		}
	}

	heat, cool := m.heat, m.cool
	switch m.mode {
	case accessory.StateHeat:
		heat = m.target
	case accessory.StateCool:
		cool = m.target
	}

	cmd := ThermostatCommand{
		Mode:                 mode,
		HeatSetpoint:         ToFahrenheit(heat, m.units),
		CoolSetpoint:         ToFahrenheit(cool, m.units),
		AutoChangeoverActive: m.autoChangeover,
	}
	cmd.ThermostatSetpointStatus = m.setpointStatus
	if c.opts.ThermostatSetpointStatus != "" {
		cmd.ThermostatSetpointStatus = c.opts.ThermostatSetpointStatus
	}
	if cmd.ThermostatSetpointStatus == "TemporaryHold" {
		cmd.NextPeriodTime = m.nextPeriod
	}
	return cmd
}

func (c *thermostatControl) readings() map[string]float64 {
	m := c.snapshot()
	out := map[string]float64{
		"current_temperature": m.current,
		"target_temperature":  m.target,
		"heating_threshold":   m.heat,
		"cooling_threshold":   m.cool,
		"target_mode":         float64(m.mode),
		"current_state":       float64(m.state),
	}
	if m.humidity != nil {
		out["humidity"] = *m.humidity
	}
	return out
}

// limit converts a vendor setpoint bound, falling back when it is absent.
func limit(v float64, units int, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return ToCelsius(v, units)
}
