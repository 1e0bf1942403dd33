package resideo

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

// Thermostat mirrors a Resideo thermostat, its fan and room priority.
type Thermostat struct {
	base

	ctl  *thermostatControl
	push *pushStream

	fan     *fanControl
	fanPush *pushStream

	mu       sync.Mutex
	priority CurrentPriority
}

func newThermostat(d adapterDeps) *Thermostat {
	t := &Thermostat{base: newBase(ClassThermostat, d)}
	setInformation(d.acc, d.device.DeviceModel, d.device.DeviceID, d.device.FirmwareVersion)

	t.push = t.loop.newStream("push", d.timing.pushWait, t.pushChanges)
	t.ctl = newThermostatControl(d.acc, d.device, d.opts.Thermostat, t.push.Signal)
	t.ctl.apply(parseThermostat(d.device))

	if d.device.Settings != nil && d.device.Settings.Fan != nil && !d.opts.Thermostat.HideFan {
		fan := d.device.Settings.Fan
		t.fanPush = t.loop.newStream("fan", d.timing.pushWait, t.pushFan)
		t.fan = newFanControl(d.acc, fan.AllowedModes, t.fanPush.Signal)
		t.fan.apply(FanTargetState(fan.ChangeableValues.Mode), fan.ChangeableValues.Mode == FanModeOn)
	} else {
		d.acc.RemoveService(accessory.ServiceFan)
	}

	t.loop.fetch = t.fetchStatus
	t.loop.readings = t.readings
	return t
}

// PushChanges sends the current mirror immediately, bypassing the debounce.
func (t *Thermostat) PushChanges(ctx context.Context) error {
	return t.loop.push(ctx, "push", t.pushChanges)
}

func (t *Thermostat) fetchStatus(ctx context.Context) (func(), error) {
	device, err := t.client.Thermostat(ctx, t.device.DeviceID, t.locationID)
	if err != nil {
		return nil, err
	}
	mirror := parseThermostat(device)

	var fan FanStatus
	if t.fan != nil {
		if fan, err = t.client.Fan(ctx, t.device.DeviceID, t.locationID); err != nil {
			return nil, err
		}
	}

	var priority Priority
	if t.opts.Thermostat.RoomPriority != "" {
		if priority, err = t.client.Priority(ctx, t.device.DeviceID, t.locationID); err != nil {
			return nil, err
		}
	}

	return func() {
		t.ctl.apply(mirror)
		if t.fan != nil {
			t.fan.apply(FanTargetState(fan.ChangeableValues.Mode), fan.FanRunning || fan.ChangeableValues.Mode == FanModeOn)
		}
		if t.opts.Thermostat.RoomPriority != "" {
			t.mu.Lock()
			t.priority = priority.CurrentPriority
			t.mu.Unlock()
		}
	}, nil
}

func (t *Thermostat) pushChanges(ctx context.Context) error {
	if want := t.opts.Thermostat.RoomPriority; want != "" {
		t.mu.Lock()
		current := t.priority
		t.mu.Unlock()
		if current.PriorityType != want {
			current.PriorityType = want
			if err := t.client.SetPriority(ctx, t.device.DeviceID, t.locationID, current); err != nil {
				return err
			}
			t.mu.Lock()
			t.priority = current
			t.mu.Unlock()
		}
	}

	cmd := t.ctl.command()
	t.log.WithFields(logrus.Fields{
		"mode":          cmd.Mode,
		"heat_setpoint": cmd.HeatSetpoint,
		"cool_setpoint": cmd.CoolSetpoint,
	}).Debug("pushing thermostat setpoints")
	return t.client.SetThermostat(ctx, t.device.DeviceID, t.locationID, cmd)
}

func (t *Thermostat) pushFan(ctx context.Context) error {
	mode := t.fan.mode()
	t.log.WithField("fan_mode", mode).Debug("pushing fan mode")
	return t.client.SetFan(ctx, t.device.DeviceID, t.locationID, mode)
}

func (t *Thermostat) readings() map[string]float64 {
	out := t.ctl.readings()
	if t.fan != nil {
		target, active := t.fan.values()
		out["fan_target"] = float64(target)
		out["fan_active"] = float64(active)
	}
	return out
}

// fanControl is the Fanv2 service. It has its own push stream.
type fanControl struct {
	allowed []string

	mu     sync.Mutex
	target int
	active int

	targetChar, activeChar *accessory.Characteristic
}

func newFanControl(acc *accessory.Accessory, allowed []string, signal func(func())) *fanControl {
	f := &fanControl{allowed: allowed}
	svc := acc.EnsureService(accessory.ServiceFan, acc.DisplayName+" Fan")
	f.activeChar = svc.EnsureCharacteristic(accessory.Active, accessory.Inactive).
		SetProps(accessory.Props{ValidValues: []int{accessory.Inactive, accessory.IsActive}}).
		OnSet(func(_ context.Context, v any) error {
			signal(func() {
				f.mu.Lock()
				f.active = accessory.AsInt(v)
				f.mu.Unlock()
			})
			return nil
		})
	f.targetChar = svc.EnsureCharacteristic(accessory.TargetFanState, accessory.FanAuto).
		SetProps(accessory.Props{ValidValues: []int{accessory.FanManual, accessory.FanAuto}}).
		OnSet(func(_ context.Context, v any) error {
			signal(func() {
				f.mu.Lock()
				f.target = accessory.AsInt(v)
				f.mu.Unlock()
			})
			return nil
		})
	return f
}

func (f *fanControl) apply(target int, running bool) {
	active := boolInt(running)
	f.mu.Lock()
	f.target, f.active = target, active
	f.mu.Unlock()
	f.targetChar.Update(target)
	f.activeChar.Update(active)
}

func (f *fanControl) values() (target, active int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, f.active
}

func (f *fanControl) mode() string {
	target, active := f.values()
	return VendorFanMode(target, active, f.allowed)
}
