package resideo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/logging"
	"github.com/joshp123/gohome-resideo/internal/telemetry"
)

const roomSensorType = "IndoorAirSensor"

// Platform discovers devices and owns one adapter per visible device.
type Platform struct {
	client    *Client
	bridge    *accessory.Bridge
	opts      config.Options
	logger    *logrus.Logger
	log       *logrus.Entry
	sink      telemetry.Sink
	sensors   *sensorCache
	reconcile time.Duration

	// discoverMu serializes sweeps from the rediscovery ticker and the HTTP route.
	discoverMu sync.Mutex

	mu       sync.Mutex
	adapters map[string]Adapter
	lastErr  error
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type PlatformOption func(*Platform)

func WithTelemetry(sink telemetry.Sink) PlatformOption {
	return func(p *Platform) { p.sink = sink }
}

// WithReconcileDelay sets how long after a push the device is re-read.
func WithReconcileDelay(d time.Duration) PlatformOption {
	return func(p *Platform) { p.reconcile = d }
}

func NewPlatform(client *Client, bridge *accessory.Bridge, opts config.Options, logger *logrus.Logger, options ...PlatformOption) *Platform {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Platform{
		client:    client,
		bridge:    bridge,
		opts:      opts,
		logger:    logger,
		log:       logger.WithField("plugin", "resideo"),
		sink:      telemetry.Nop{},
		reconcile: defaultReconcileDelay,
		adapters:  make(map[string]Adapter),
	}
	p.sensors = newSensorCache(client.RoomGroup)
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Start runs the first discovery sweep and schedules rediscovery. A failed
// sweep is logged and retried on the next interval.
func (p *Platform) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	err := p.Discover(runCtx)
	if err == nil {
		if stale := p.bridge.CachedUUIDs(); len(stale) > 0 {
			p.log.WithField("count", len(stale)).Info("dropping cached accessories no longer reported")
			p.bridge.UnregisterCached(stale...)
		}
	}

	if every := p.opts.DiscoveryEvery(); every > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.rediscover(runCtx, every)
		}()
	}
	return err
}

func (p *Platform) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// A sweep in flight finishes before the adapters are collected.
	p.discoverMu.Lock()
	p.mu.Lock()
	adapters := make([]Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		adapters = append(adapters, a)
	}
	p.mu.Unlock()
	p.discoverMu.Unlock()

	for _, a := range adapters {
		a.Stop()
	}
	p.wg.Wait()
}

func (p *Platform) rediscover(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Discover(ctx)
		}
	}
}

// Discover enumerates locations and their devices. A location that fails
// is skipped and its adapters are left alone.
func (p *Platform) Discover(ctx context.Context) error {
	p.discoverMu.Lock()
	defer p.discoverMu.Unlock()

	locations, err := p.client.Locations(ctx)
	if err != nil {
		p.log.WithError(err).WithField("category", Category(err)).Error("location discovery failed")
		p.setErr(err)
		return err
	}

	seen := make(map[string]bool)
	failed := make(map[int]bool)
	var errs []error
	for _, loc := range locations {
		log := p.log.WithField("location_id", loc.LocationID)
		devices, err := p.client.Devices(ctx, loc.LocationID)
		if err != nil {
			log.WithError(err).WithField("category", Category(err)).Error("device discovery failed")
			failed[loc.LocationID] = true
			errs = append(errs, err)
			continue
		}
		log.WithField("devices", len(devices)).Debug("discovered devices")
		for _, device := range devices {
			p.discoverDevice(ctx, loc.LocationID, device, seen)
		}
	}

	p.prune(seen, failed)
	err = errors.Join(errs...)
	p.setErr(err)
	return err
}

func (p *Platform) discoverDevice(ctx context.Context, locationID int, device Device, seen map[string]bool) {
	overlay := p.opts.Device(device.DeviceID)
	switch device.DeviceClass {
	case ClassThermostat:
		p.ensure(ClassThermostat, device.DeviceID+"-"+ClassThermostat, device.DisplayName(), locationID, device, roomTarget{}, overlay, seen)
		if overlay.Thermostat.RoomSensors || overlay.Thermostat.RoomSensorThermostats {
			p.discoverRooms(ctx, locationID, device, overlay, seen)
		}
	case ClassLeakDetector, ClassShutoffValve:
		key := device.DeviceID + "-" + device.DeviceClass
		p.ensure(device.DeviceClass, key, device.DisplayName(), locationID, device, roomTarget{}, overlay, seen)
	default:
		p.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "device_class": device.DeviceClass}).
			Info("unsupported device class")
	}
}

func (p *Platform) discoverRooms(ctx context.Context, locationID int, device Device, overlay config.DeviceOptions, seen map[string]bool) {
	for _, g := range device.Groups {
		group, err := p.CurrentSensorData(ctx, device, locationID, g.ID)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"device_id": device.DeviceID, "category": Category(err)}).
				Warn("room sensor discovery failed")
			p.keepRooms(device.DeviceID, seen)
			continue
		}
		for _, room := range group.Rooms {
			for _, sensor := range room.Accessories {
				if !strings.HasPrefix(sensor.Attribute.Type, roomSensorType) {
					continue
				}
				target := roomTarget{groupID: g.ID, roomID: room.ID, accessoryID: sensor.ID, attr: sensor.Attribute}
				serial := sensor.Attribute.SerialNumber
				name := room.Name
				if name == "" {
					name = sensor.Attribute.Name
				}
				if overlay.Thermostat.RoomSensors {
					p.ensure(ClassRoomSensor, serial+"-"+ClassRoomSensor, name, locationID, device, target, overlay, seen)
				}
				if overlay.Thermostat.RoomSensorThermostats {
					p.ensure(ClassRoomSensorThermostat, serial+"-"+ClassRoomSensorThermostat, name+" Thermostat", locationID, device, target, overlay, seen)
				}
			}
		}
	}
}

// keepRooms marks existing room adapters of a thermostat as seen.
func (p *Platform) keepRooms(deviceID string, seen map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, a := range p.adapters {
		if a.DeviceID() == deviceID && (a.Class() == ClassRoomSensor || a.Class() == ClassRoomSensorThermostat) {
			seen[id] = true
		}
	}
}

// ensure creates the adapter unless the device is hidden or offline, in
// which case it is left unseen and pruned.
func (p *Platform) ensure(class, key, name string, locationID int, device Device, room roomTarget, overlay config.DeviceOptions, seen map[string]bool) {
	uuid := accessory.UUIDFor(key)
	log := p.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "device_class": class})
	if overlay.HideDevice {
		log.Debug("device hidden by configuration")
		return
	}
	if !device.IsAlive {
		log.Warn("device offline, not exposing")
		return
	}
	seen[uuid] = true

	p.mu.Lock()
	_, exists := p.adapters[uuid]
	runCtx := p.ctx
	p.mu.Unlock()
	if exists {
		return
	}

	acc, restored := p.bridge.Restore(uuid)
	if !restored {
		acc = accessory.New(name, uuid)
	}
	acc.SetContext("deviceID", device.DeviceID)
	acc.SetContext("deviceClass", class)
	acc.SetContext("locationID", locationID)
	acc.SetContext("model", device.DeviceModel)

	deps := adapterDeps{
		client:     p.client,
		sensors:    p.CurrentSensorData,
		acc:        acc,
		locationID: locationID,
		device:     device,
		room:       room,
		opts:       overlay,
		timing: timing{
			refreshEvery: p.opts.RefreshInterval(overlay),
			pushWait:     p.opts.PushInterval(overlay),
			retryDelay:   p.opts.RetryDelay(),
			maxRetries:   p.opts.MaxRetries,
			retry:        overlay.Retry,
			reconcile:    p.reconcile,
		},
		log: logging.WithLevel(p.logger, p.opts.LogLevelFor(overlay)).WithFields(logrus.Fields{
			"plugin":       "resideo",
			"device_id":    device.DeviceID,
			"device_class": class,
			"location_id":  locationID,
		}),
		sink: p.sink,
	}

	var adapter Adapter
	switch class {
	case ClassThermostat:
		adapter = newThermostat(deps)
	case ClassLeakDetector:
		adapter = newLeakSensor(deps)
	case ClassShutoffValve:
		adapter = newValve(deps)
	case ClassRoomSensor:
		adapter = newRoomSensor(deps)
	case ClassRoomSensorThermostat:
		adapter = newRoomSensorThermostat(deps)
	default:
		return
	}

	p.mu.Lock()
	if _, exists := p.adapters[uuid]; exists {
		p.mu.Unlock()
		return
	}
	p.adapters[uuid] = adapter
	p.mu.Unlock()

	if overlay.External {
		p.bridge.PublishExternalAccessories(acc)
	} else {
		p.bridge.RegisterPlatformAccessories(acc)
	}
	devicesActive.WithLabelValues(class).Inc()
	log.WithFields(logrus.Fields{"uuid": uuid, "restored": restored}).Info("device adapter started")

	if runCtx == nil {
		runCtx = context.Background()
	}
	adapter.Start(runCtx)
}

func (p *Platform) prune(seen map[string]bool, failed map[int]bool) {
	var removed []Adapter
	p.mu.Lock()
	for id, a := range p.adapters {
		if seen[id] || failed[a.LocationID()] {
			continue
		}
		delete(p.adapters, id)
		removed = append(removed, a)
	}
	p.mu.Unlock()

	for _, a := range removed {
		a.Stop()
		p.bridge.UnregisterPlatformAccessories(a.Accessory())
		devicesActive.WithLabelValues(a.Class()).Dec()
		p.log.WithFields(logrus.Fields{"device_id": a.DeviceID(), "device_class": a.Class()}).Info("device adapter removed")
	}
}

// CurrentSensorData returns the room sensor snapshot of a thermostat group,
// fetching it when the cached copy is older than 45s.
func (p *Platform) CurrentSensorData(ctx context.Context, device Device, locationID, groupID int) (RoomGroup, error) {
	return p.sensors.get(ctx, device.DeviceID, locationID, groupID)
}

// Adapters lists running adapters ordered by accessory UUID.
func (p *Platform) Adapters() []Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (p *Platform) Adapter(uuid string) (Adapter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.adapters[uuid]
	return a, ok
}

// LastError is the outcome of the most recent discovery sweep.
func (p *Platform) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Platform) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}
