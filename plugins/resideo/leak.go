package resideo

import (
	"context"
	"sync"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

const lowBatteryPercent = 15

// LeakSensor mirrors a water leak detector. It is read-only.
type LeakSensor struct {
	base

	leak, leakActive    *accessory.Characteristic
	battery, lowBattery *accessory.Characteristic
	temperature         *accessory.Characteristic
	humidity            *accessory.Characteristic

	mu                   sync.Mutex
	lastLeak, lastActive int
}

type leakMirror struct {
	leak        int
	active      int
	battery     *float64
	temperature *float64
	humidity    *float64
}

func parseLeak(d Device) leakMirror {
	m := leakMirror{
		leak:    accessory.LeakNone,
		active:  boolInt(d.IsAlive || d.HasDeviceCheckedIn),
		battery: d.BatteryRemaining,
	}
	if d.WaterPresent {
		m.leak = accessory.LeakFound
	}
	if r := d.CurrentSensorReadings; r != nil {
		m.temperature = r.Temperature
		m.humidity = r.Humidity
	}
	return m
}

func newLeakSensor(d adapterDeps) *LeakSensor {
	l := &LeakSensor{base: newBase(ClassLeakDetector, d)}
	acc := d.acc
	opts := d.opts.LeakSensor
	setInformation(acc, d.device.DeviceModel, d.device.DeviceID, d.device.FirmwareVersion)

	if !opts.HideLeak {
		svc := acc.EnsureService(accessory.ServiceLeakSensor, acc.DisplayName)
		l.leak = svc.EnsureCharacteristic(accessory.LeakDetected, accessory.LeakNone)
		l.leakActive = svc.EnsureCharacteristic(accessory.StatusActive, true)
	} else {
		acc.RemoveService(accessory.ServiceLeakSensor)
	}

	battery := acc.EnsureService(accessory.ServiceBattery, acc.DisplayName+" Battery")
	l.battery = battery.EnsureCharacteristic(accessory.BatteryLevel, 100.0)
	l.lowBattery = battery.EnsureCharacteristic(accessory.StatusLowBattery, accessory.BatteryNormal)
	battery.EnsureCharacteristic(accessory.ChargingState, accessory.NotChargeable)

	if !opts.HideTemperature {
		l.temperature = acc.EnsureService(accessory.ServiceTemperatureSensor, acc.DisplayName+" Temperature").
			EnsureCharacteristic(accessory.CurrentTemperature, 0.0)
	} else {
		acc.RemoveService(accessory.ServiceTemperatureSensor)
	}
	if !opts.HideHumidity {
		l.humidity = acc.EnsureService(accessory.ServiceHumiditySensor, acc.DisplayName+" Humidity").
			EnsureCharacteristic(accessory.CurrentRelativeHumidity, 0.0)
	} else {
		acc.RemoveService(accessory.ServiceHumiditySensor)
	}

	l.loop.fetch = l.fetchStatus
	l.loop.readings = l.readings
	l.apply(parseLeak(d.device))
	return l
}

// PushChanges is a no-op: leak detectors accept no commands.
func (l *LeakSensor) PushChanges(context.Context) error {
	return nil
}

func (l *LeakSensor) fetchStatus(ctx context.Context) (func(), error) {
	device, err := l.client.LeakDetector(ctx, l.device.DeviceID, l.locationID)
	if err != nil {
		return nil, err
	}
	m := parseLeak(device)
	return func() { l.apply(m) }, nil
}

func (l *LeakSensor) apply(m leakMirror) {
	l.mu.Lock()
	l.lastLeak, l.lastActive = m.leak, m.active
	l.mu.Unlock()
	if l.leak != nil {
		if m.leak == accessory.LeakFound && l.leak.Int() != accessory.LeakFound {
			l.log.Warn("water leak detected")
		}
		l.leak.Update(m.leak)
		l.leakActive.Update(m.active == 1)
	}
	if m.battery != nil {
		l.battery.Update(*m.battery)
		low := accessory.BatteryNormal
		if *m.battery < lowBatteryPercent {
			low = accessory.BatteryLow
		}
		l.lowBattery.Update(low)
	}
	if l.temperature != nil && m.temperature != nil {
		l.temperature.Update(*m.temperature)
	}
	if l.humidity != nil && m.humidity != nil {
		l.humidity.Update(*m.humidity)
	}
}

func (l *LeakSensor) readings() map[string]float64 {
	l.mu.Lock()
	leak, active := l.lastLeak, l.lastActive
	l.mu.Unlock()
	out := map[string]float64{
		"leak_detected": float64(leak),
		"active":        float64(active),
		"battery":       l.battery.Float(),
	}
	if l.temperature != nil {
		out["temperature"] = l.temperature.Float()
	}
	if l.humidity != nil {
		out["humidity"] = l.humidity.Float()
	}
	return out
}
