package resideo

import (
	"context"
	"fmt"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

// RoomSensor mirrors a wireless room sensor paired with a thermostat.
// Readings come from the shared sensor cache.
type RoomSensor struct {
	base

	sensors func(ctx context.Context, device Device, locationID, groupID int) (RoomGroup, error)
	room    roomTarget
	units   int

	temperature, humidity *accessory.Characteristic
	motion, occupancy     *accessory.Characteristic
	lowBattery            *accessory.Characteristic
}

func newRoomSensor(d adapterDeps) *RoomSensor {
	r := &RoomSensor{
		base:    newBase(ClassRoomSensor, d),
		sensors: d.sensors,
		room:    d.room,
		units:   DisplayUnits(d.device.Units),
	}
	acc := d.acc
	opts := d.opts.RoomSensor
	setInformation(acc, d.room.attr.Model, d.room.attr.SerialNumber, d.room.attr.SoftwareRevision)

	if !opts.HideTemperature {
		r.temperature = acc.EnsureService(accessory.ServiceTemperatureSensor, acc.DisplayName).
			EnsureCharacteristic(accessory.CurrentTemperature, 0.0)
	} else {
		acc.RemoveService(accessory.ServiceTemperatureSensor)
	}
	if !opts.HideHumidity {
		r.humidity = acc.EnsureService(accessory.ServiceHumiditySensor, acc.DisplayName+" Humidity").
			EnsureCharacteristic(accessory.CurrentRelativeHumidity, 0.0)
	} else {
		acc.RemoveService(accessory.ServiceHumiditySensor)
	}
	if !opts.HideMotion {
		r.motion = acc.EnsureService(accessory.ServiceMotionSensor, acc.DisplayName+" Motion").
			EnsureCharacteristic(accessory.MotionDetected, false)
	} else {
		acc.RemoveService(accessory.ServiceMotionSensor)
	}
	if !opts.HideOccupancy {
		r.occupancy = acc.EnsureService(accessory.ServiceOccupancySensor, acc.DisplayName+" Occupancy").
			EnsureCharacteristic(accessory.OccupancyDetected, 0)
	} else {
		acc.RemoveService(accessory.ServiceOccupancySensor)
	}
	r.lowBattery = acc.EnsureService(accessory.ServiceBattery, acc.DisplayName+" Battery").
		EnsureCharacteristic(accessory.StatusLowBattery, accessory.BatteryNormal)

	r.loop.fetch = r.fetchStatus
	r.loop.readings = r.readings
	return r
}

// PushChanges is a no-op: room sensors accept no commands.
func (r *RoomSensor) PushChanges(context.Context) error {
	return nil
}

func (r *RoomSensor) fetchStatus(ctx context.Context) (func(), error) {
	value, err := currentRoomValue(ctx, r.sensors, r.device, r.locationID, r.room)
	if err != nil {
		return nil, err
	}
	return func() { r.apply(value) }, nil
}

func (r *RoomSensor) apply(v AccessoryValue) {
	if r.temperature != nil {
		r.temperature.Update(ToCelsius(v.IndoorTemperature, r.units))
	}
	if r.humidity != nil {
		r.humidity.Update(v.IndoorHumidity)
	}
	if r.motion != nil {
		r.motion.Update(v.MotionDet)
	}
	if r.occupancy != nil {
		r.occupancy.Update(boolInt(v.OccupancyDet))
	}
	low := accessory.BatteryNormal
	if v.BatteryStatus != "" && v.BatteryStatus != "Ok" {
		low = accessory.BatteryLow
	}
	r.lowBattery.Update(low)
}

func (r *RoomSensor) readings() map[string]float64 {
	out := map[string]float64{"low_battery": float64(r.lowBattery.Int())}
	if r.temperature != nil {
		out["temperature"] = r.temperature.Float()
	}
	if r.humidity != nil {
		out["humidity"] = r.humidity.Float()
	}
	if r.occupancy != nil {
		out["occupancy"] = float64(r.occupancy.Int())
	}
	return out
}

func currentRoomValue(ctx context.Context, sensors func(context.Context, Device, int, int) (RoomGroup, error), device Device, locationID int, room roomTarget) (AccessoryValue, error) {
	group, err := sensors(ctx, device, locationID, room.groupID)
	if err != nil {
		return AccessoryValue{}, err
	}
	_, acc, ok := group.Sensor(room.accessoryID)
	if !ok {
		return AccessoryValue{}, fmt.Errorf("room sensor %s not reported by thermostat %s", room.attr.SerialNumber, device.DeviceID)
	}
	return acc.Value, nil
}
