package resideo

import "context"

// RoomSensorThermostat is a thermostat control whose current temperature is
// a room sensor. Pushing selects that room before sending setpoints.
type RoomSensorThermostat struct {
	base

	sensors func(ctx context.Context, device Device, locationID, groupID int) (RoomGroup, error)
	room    roomTarget
	ctl     *thermostatControl
	push    *pushStream
}

func newRoomSensorThermostat(d adapterDeps) *RoomSensorThermostat {
	r := &RoomSensorThermostat{
		base:    newBase(ClassRoomSensorThermostat, d),
		sensors: d.sensors,
		room:    d.room,
	}
	setInformation(d.acc, d.room.attr.Model, d.room.attr.SerialNumber, d.room.attr.SoftwareRevision)

	opts := d.opts.Thermostat
	opts.HideHumidity = true
	r.push = r.loop.newStream("push", d.timing.pushWait, r.pushChanges)
	r.ctl = newThermostatControl(d.acc, d.device, opts, r.push.Signal)
	r.ctl.apply(parseThermostat(d.device))

	r.loop.fetch = r.fetchStatus
	r.loop.readings = r.ctl.readings
	return r
}

func (r *RoomSensorThermostat) PushChanges(ctx context.Context) error {
	return r.loop.push(ctx, "push", r.pushChanges)
}

func (r *RoomSensorThermostat) fetchStatus(ctx context.Context) (func(), error) {
	device, err := r.client.Thermostat(ctx, r.device.DeviceID, r.locationID)
	if err != nil {
		return nil, err
	}
	value, err := currentRoomValue(ctx, r.sensors, device, r.locationID, r.room)
	if err != nil {
		return nil, err
	}
	mirror := parseThermostat(device)
	mirror.current = ToCelsius(value.IndoorTemperature, mirror.units)
	return func() { r.ctl.apply(mirror) }, nil
}

func (r *RoomSensorThermostat) pushChanges(ctx context.Context) error {
	priority := CurrentPriority{PriorityType: "PickARoom", SelectedRooms: []int{r.room.roomID}}
	if err := r.client.SetPriority(ctx, r.device.DeviceID, r.locationID, priority); err != nil {
		return err
	}
	cmd := r.ctl.command()
	r.log.WithField("room_id", r.room.roomID).Debug("pushing room thermostat setpoints")
	return r.client.SetThermostat(ctx, r.device.DeviceID, r.locationID, cmd)
}
