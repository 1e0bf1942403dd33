package resideo

import (
	"context"
	"strings"
	"sync"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

// Valve mirrors a water shutoff valve.
type Valve struct {
	base

	push *pushStream

	mu     sync.Mutex
	active int

	activeChar, inUse *accessory.Characteristic
}

func valveOpen(d Device) bool {
	return d.ActuatorValve != nil && strings.EqualFold(d.ActuatorValve.ValveStatus, "Open")
}

func newValve(d adapterDeps) *Valve {
	v := &Valve{base: newBase(ClassShutoffValve, d)}
	acc := d.acc
	setInformation(acc, d.device.DeviceModel, d.device.DeviceID, d.device.FirmwareVersion)

	v.push = v.loop.newStream("push", d.timing.pushWait, v.pushChanges)
	svc := acc.EnsureService(accessory.ServiceValve, acc.DisplayName)
	svc.EnsureCharacteristic(accessory.ValveType, accessory.GenericValve)
	v.inUse = svc.EnsureCharacteristic(accessory.InUse, accessory.NotInUse)
	v.activeChar = svc.EnsureCharacteristic(accessory.Active, accessory.Inactive).
		SetProps(accessory.Props{ValidValues: []int{accessory.Inactive, accessory.IsActive}}).
		OnSet(func(_ context.Context, value any) error {
			v.push.Signal(func() {
				v.mu.Lock()
				v.active = accessory.AsInt(value)
				v.mu.Unlock()
			})
			return nil
		})

	v.loop.fetch = v.fetchStatus
	v.loop.readings = v.readings
	v.apply(valveOpen(d.device))
	return v
}

func (v *Valve) PushChanges(ctx context.Context) error {
	return v.loop.push(ctx, "push", v.pushChanges)
}

func (v *Valve) fetchStatus(ctx context.Context) (func(), error) {
	device, err := v.client.ShutoffValve(ctx, v.device.DeviceID, v.locationID)
	if err != nil {
		return nil, err
	}
	open := valveOpen(device)
	return func() { v.apply(open) }, nil
}

func (v *Valve) apply(open bool) {
	state := boolInt(open)
	v.mu.Lock()
	v.active = state
	v.mu.Unlock()
	v.activeChar.Update(state)
	v.inUse.Update(state)
}

func (v *Valve) pushChanges(ctx context.Context) error {
	v.mu.Lock()
	open := v.active == accessory.IsActive
	v.mu.Unlock()
	v.log.WithField("open", open).Debug("pushing valve state")
	if err := v.client.SetShutoffValve(ctx, v.device.DeviceID, v.locationID, open); err != nil {
		return err
	}
	v.inUse.Update(boolInt(open))
	return nil
}

func (v *Valve) readings() map[string]float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]float64{"open": float64(v.active)}
}
