package resideo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
)

const hallwayPath = "/v2/devices/thermostats/ABC123"

func startPlatform(t *testing.T, api *fakeAPI, opts config.Options) (*Platform, *accessory.Bridge) {
	t.Helper()
	p, bridge := newTestPlatform(t, api, opts)
	require.NoError(t, p.Start(context.Background()))
	return p, bridge
}

func waitForRefresh(t *testing.T, api *fakeAPI, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodGet, path)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func decodeCommands(t *testing.T, reqs []recordedRequest) []ThermostatCommand {
	t.Helper()
	out := make([]ThermostatCommand, 0, len(reqs))
	for _, r := range reqs {
		var cmd ThermostatCommand
		require.NoError(t, json.Unmarshal(r.Body, &cmd))
		out = append(out, cmd)
	}
	return out
}

func TestDiscoverExposesThermostat(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeCool))
	p, bridge := startPlatform(t, api, testOptions())

	uuid := accessory.UUIDFor("ABC123-Thermostat")
	adapter, ok := p.Adapter(uuid)
	require.True(t, ok)
	assert.Equal(t, ClassThermostat, adapter.Class())
	assert.Equal(t, 10, adapter.LocationID())

	acc, ok := bridge.Accessory(uuid)
	require.True(t, ok)
	assert.Equal(t, "Hallway", acc.DisplayName)
	id, _ := acc.Context("deviceID")
	assert.Equal(t, "ABC123", id)

	svc := accessory.ServiceThermostat
	assert.Equal(t, 24.0, acc.Characteristic(svc, accessory.TargetTemperature).Float())
	assert.Equal(t, 16.5, acc.Characteristic(svc, accessory.HeatingThresholdTemperature).Float())
	assert.Equal(t, 24.0, acc.Characteristic(svc, accessory.CoolingThresholdTemperature).Float())
	assert.Equal(t, accessory.StateCool, acc.Characteristic(svc, accessory.TargetHeatingCoolingState).Int())
	assert.Equal(t, accessory.UnitsFahrenheit, acc.Characteristic(svc, accessory.TemperatureDisplayUnits).Int())
	assert.Equal(t, 45.0, acc.Characteristic(accessory.ServiceHumiditySensor, accessory.CurrentRelativeHumidity).Float())
	assert.Nil(t, acc.Service(accessory.ServiceFan))
	assert.NoError(t, p.LastError())
}

func TestAutoOnlyOfferedWhenAllowed(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10,
		fahrenheitThermostat("NOAUTO", ModeHeat, ModeHeat, ModeOff),
		fahrenheitThermostat("SHOWAUTO", ModeHeat, ModeHeat, ModeOff),
	)
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "SHOWAUTO", Thermostat: config.ThermostatOptions{ShowAuto: true}}}
	_, bridge := startPlatform(t, api, opts)

	modes := func(id string) []int {
		acc, ok := bridge.Accessory(accessory.UUIDFor(id + "-Thermostat"))
		require.True(t, ok)
		return acc.Characteristic(accessory.ServiceThermostat, accessory.TargetHeatingCoolingState).Props().ValidValues
	}
	assert.Equal(t, []int{accessory.StateOff, accessory.StateHeat}, modes("NOAUTO"))
	assert.Equal(t, []int{accessory.StateOff, accessory.StateHeat, accessory.StateAuto}, modes("SHOWAUTO"))
}

func TestSettersCoalesceIntoOnePush(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeCool))
	_, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, hallwayPath)

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	ctx := context.Background()
	require.NoError(t, acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature).RemoteSet(ctx, 22.0))
	require.NoError(t, acc.Characteristic(accessory.ServiceThermostat, accessory.HeatingThresholdTemperature).RemoteSet(ctx, 18.0))

	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) > 1
	}, 300*time.Millisecond, 20*time.Millisecond)

	cmds := decodeCommands(t, api.matching(http.MethodPost, hallwayPath))
	assert.Equal(t, ModeCool, cmds[0].Mode)
	assert.Equal(t, 72.0, cmds[0].CoolSetpoint)
	assert.Equal(t, 64.0, cmds[0].HeatSetpoint)
}

func TestRapidSettersPushLastValue(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	p, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, hallwayPath)

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	target := acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature)
	for _, v := range []float64{19, 19.5, 20, 20.5, 21} {
		require.NoError(t, target.RemoteSet(context.Background(), v))
	}

	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)

	cmd := decodeCommands(t, api.matching(http.MethodPost, hallwayPath))[0]
	assert.Equal(t, ModeHeat, cmd.Mode)
	assert.Equal(t, 70.0, cmd.HeatSetpoint)
	assert.Equal(t, 75.0, cmd.CoolSetpoint)

	// A forced push bypasses the debounce and sends the same mirror.
	adapter, _ := p.Adapter(acc.UUID)
	require.NoError(t, adapter.PushChanges(context.Background()))
	assert.Len(t, api.matching(http.MethodPost, hallwayPath), 2)
}

func TestAutoFallsBackOnDevicesWithoutAuto(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat, ModeHeat, ModeCool, ModeOff))
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "ABC123", Thermostat: config.ThermostatOptions{ShowAuto: true}}}
	_, bridge := startPlatform(t, api, opts)
	waitForRefresh(t, api, hallwayPath)

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	mode := acc.Characteristic(accessory.ServiceThermostat, accessory.TargetHeatingCoolingState)
	require.NoError(t, mode.RemoteSet(context.Background(), accessory.StateAuto))

	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cmd := decodeCommands(t, api.matching(http.MethodPost, hallwayPath))[0]
	// 70°F indoors is above the 62°F heat setpoint.
	assert.Equal(t, ModeCool, cmd.Mode)
}

func TestHiddenDeviceIsNotRegistered(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "ABC123", HideDevice: true}}
	p, bridge := startPlatform(t, api, opts)

	assert.Empty(t, p.Adapters())
	assert.Empty(t, bridge.Accessories())
}

func TestOfflineDeviceIsNotRegistered(t *testing.T) {
	api := newFakeAPI(t)
	d := fahrenheitThermostat("ABC123", ModeHeat)
	d.IsAlive = false
	api.addLocation(10, d)
	p, _ := startPlatform(t, api, testOptions())

	assert.Empty(t, p.Adapters())
}

func TestLocationFailureKeepsItsAdapters(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	api.addLocation(20, fahrenheitThermostat("DEF456", ModeHeat))
	p, bridge := startPlatform(t, api, testOptions())
	require.Len(t, p.Adapters(), 2)

	api.mu.Lock()
	api.failDevices[20] = http.StatusInternalServerError
	api.devices[10] = nil
	api.mu.Unlock()

	err := p.Discover(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, p.LastError())

	_, ok := p.Adapter(accessory.UUIDFor("DEF456-Thermostat"))
	assert.True(t, ok, "adapters in a failed location survive")
	_, ok = p.Adapter(accessory.UUIDFor("ABC123-Thermostat"))
	assert.False(t, ok, "devices no longer reported are pruned")
	_, ok = bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	assert.False(t, ok)
}

func TestStartDropsStaleCachedAccessories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accessories.json")
	previous := accessory.NewBridge(path, nil)
	previous.RegisterPlatformAccessories(
		accessory.New("Hallway", accessory.UUIDFor("ABC123-Thermostat")),
		accessory.New("Gone", accessory.UUIDFor("GONE-Thermostat")),
	)

	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	bridge := accessory.NewBridge(path, nil)
	require.NoError(t, bridge.LoadCache())

	p := NewPlatform(api.client(), bridge, testOptions(), testLogger(), WithReconcileDelay(time.Hour))
	t.Cleanup(p.Stop)
	require.NoError(t, p.Start(context.Background()))

	assert.Empty(t, bridge.CachedUUIDs())
	_, ok := bridge.Restore(accessory.UUIDFor("GONE-Thermostat"))
	assert.False(t, ok)
	_, ok = bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	assert.True(t, ok)
}

func TestPushRetriesServerErrors(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	api.writeStatus = []int{http.StatusInternalServerError, http.StatusServiceUnavailable}
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "ABC123", Retry: true}}
	_, bridge := startPlatform(t, api, opts)
	waitForRefresh(t, api, hallwayPath)

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	target := acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature)
	require.NoError(t, target.RemoteSet(context.Background(), 21.0))

	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return target.Err() != nil
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestPushFailureWithoutRetrySetsErrorMarker(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	api.writeStatus = []int{http.StatusInternalServerError}
	_, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, hallwayPath)

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	target := acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature)
	require.NoError(t, target.RemoteSet(context.Background(), 21.0))

	require.Eventually(t, func() bool {
		return target.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)

	info := acc.Characteristic(accessory.ServiceAccessoryInformation, accessory.Model)
	assert.NoError(t, info.Err())
}

func TestRefreshFailureSetsErrorMarkerAndRecovers(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	p, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, hallwayPath)

	uuid := accessory.UUIDFor("ABC123-Thermostat")
	acc, _ := bridge.Accessory(uuid)
	adapter, _ := p.Adapter(uuid)
	current := acc.Characteristic(accessory.ServiceThermostat, accessory.CurrentTemperature)

	api.failPath(hallwayPath, http.StatusBadGateway)
	err := adapter.RefreshStatus(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Internal Server Error", Category(err))
	assert.Error(t, current.Err())
	assert.Equal(t, 21.0, current.Float(), "last good value is kept")

	api.failPath(hallwayPath, 0)
	require.NoError(t, adapter.RefreshStatus(context.Background()))
	assert.NoError(t, current.Err())
}

func TestValvePushesState(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, Device{
		DeviceID:      "VALVE1",
		DeviceClass:   ClassShutoffValve,
		Name:          "Main Water",
		IsAlive:       true,
		ActuatorValve: &ActuatorValve{ValveStatus: "open"},
	})
	_, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, "/v2/devices/shutoffValves/VALVE1")

	acc, ok := bridge.Accessory(accessory.UUIDFor("VALVE1-ShutoffValve"))
	require.True(t, ok)
	active := acc.Characteristic(accessory.ServiceValve, accessory.Active)
	assert.Equal(t, accessory.IsActive, active.Int())

	require.NoError(t, active.RemoteSet(context.Background(), accessory.Inactive))
	inUse := acc.Characteristic(accessory.ServiceValve, accessory.InUse)
	require.Eventually(t, func() bool {
		return inUse.Int() == accessory.NotInUse
	}, 2*time.Second, 10*time.Millisecond)
	posts := api.matching(http.MethodPost, "/v2/devices/shutoffValves/VALVE1")
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"state":"closed"}`, string(posts[0].Body))
}

func TestLeakDetectorReadings(t *testing.T) {
	battery, temp := 10.0, 19.5
	api := newFakeAPI(t)
	api.addLocation(10, Device{
		DeviceID:              "LEAK1",
		DeviceClass:           ClassLeakDetector,
		UserDefinedDeviceName: "Basement",
		IsAlive:               true,
		WaterPresent:          true,
		BatteryRemaining:      &battery,
		CurrentSensorReadings: &SensorReading{Temperature: &temp},
	})
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "LEAK1", LeakSensor: config.LeakSensorOptions{HideHumidity: true}}}
	p, bridge := startPlatform(t, api, opts)
	waitForRefresh(t, api, "/v2/devices/waterLeakDetectors/LEAK1")

	acc, ok := bridge.Accessory(accessory.UUIDFor("LEAK1-LeakDetector"))
	require.True(t, ok)
	assert.Equal(t, accessory.LeakFound, acc.Characteristic(accessory.ServiceLeakSensor, accessory.LeakDetected).Int())
	assert.Equal(t, accessory.BatteryLow, acc.Characteristic(accessory.ServiceBattery, accessory.StatusLowBattery).Int())
	assert.Equal(t, 19.5, acc.Characteristic(accessory.ServiceTemperatureSensor, accessory.CurrentTemperature).Float())
	assert.Nil(t, acc.Service(accessory.ServiceHumiditySensor))

	adapter, _ := p.Adapter(acc.UUID)
	require.NoError(t, adapter.PushChanges(context.Background()))
	assert.Empty(t, api.matching(http.MethodPost, "/v2/devices/waterLeakDetectors/LEAK1"))
}

func roomThermostat() (Device, RoomGroup) {
	d := fahrenheitThermostat("LCC-1", ModeHeat)
	d.Groups = []Group{{ID: 0, Rooms: []int{1}}}
	group := RoomGroup{DeviceID: "LCC-1", GroupID: 0, Rooms: []Room{{
		ID:   1,
		Name: "Bedroom",
		Accessories: []RoomAccessory{{
			ID:   2,
			Type: "IndoorAirSensor",
			Attribute: AccessoryAttribute{
				Type:         "IndoorAirSensor",
				Model:        "C7189R",
				SerialNumber: "S1",
			},
			Value: AccessoryValue{IndoorTemperature: 71, IndoorHumidity: 40, OccupancyDet: true, BatteryStatus: "Ok"},
		}},
	}}}
	return d, group
}

func TestRoomSensorsFromThermostatGroups(t *testing.T) {
	d, group := roomThermostat()
	api := newFakeAPI(t)
	api.addLocation(10, d)
	api.rooms["LCC-1"] = group
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "LCC-1", Thermostat: config.ThermostatOptions{RoomSensors: true}}}
	p, bridge := startPlatform(t, api, opts)

	uuid := accessory.UUIDFor("S1-RoomSensor")
	adapter, ok := p.Adapter(uuid)
	require.True(t, ok)
	require.NoError(t, adapter.RefreshStatus(context.Background()))

	acc, _ := bridge.Accessory(uuid)
	assert.Equal(t, "Bedroom", acc.DisplayName)
	assert.Equal(t, 21.5, acc.Characteristic(accessory.ServiceTemperatureSensor, accessory.CurrentTemperature).Float())
	assert.Equal(t, 1, acc.Characteristic(accessory.ServiceOccupancySensor, accessory.OccupancyDetected).Int())
	assert.Equal(t, accessory.BatteryNormal, acc.Characteristic(accessory.ServiceBattery, accessory.StatusLowBattery).Int())

	// Discovery, the initial poll and the forced refresh share one fetch.
	assert.Len(t, api.matching(http.MethodGet, "/v2/devices/thermostats/LCC-1/group/0/rooms"), 1)
}

func TestRoomSensorThermostatSelectsRoomBeforePush(t *testing.T) {
	d, group := roomThermostat()
	api := newFakeAPI(t)
	api.addLocation(10, d)
	api.rooms["LCC-1"] = group
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "LCC-1", Thermostat: config.ThermostatOptions{RoomSensorThermostats: true}}}
	p, bridge := startPlatform(t, api, opts)

	uuid := accessory.UUIDFor("S1-RoomSensorThermostat")
	adapter, ok := p.Adapter(uuid)
	require.True(t, ok)
	require.NoError(t, adapter.RefreshStatus(context.Background()))

	acc, _ := bridge.Accessory(uuid)
	assert.Equal(t, 21.5, acc.Characteristic(accessory.ServiceThermostat, accessory.CurrentTemperature).Float())
	assert.Nil(t, acc.Service(accessory.ServiceHumiditySensor))

	require.NoError(t, adapter.PushChanges(context.Background()))
	var order []string
	api.mu.Lock()
	for _, r := range api.requests {
		if r.Method != http.MethodGet {
			order = append(order, r.Method+" "+r.Path)
		}
	}
	api.mu.Unlock()
	assert.Equal(t, []string{
		"PUT /v2/devices/thermostats/LCC-1/priority",
		"POST /v2/devices/thermostats/LCC-1",
	}, order)
}

func TestRoomAdaptersSurviveRoomFetchFailure(t *testing.T) {
	d, group := roomThermostat()
	api := newFakeAPI(t)
	api.addLocation(10, d)
	api.rooms["LCC-1"] = group
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "LCC-1", Thermostat: config.ThermostatOptions{RoomSensors: true}}}
	p, _ := newTestPlatform(t, api, opts)
	p.sensors.ttl = 0
	require.NoError(t, p.Start(context.Background()))
	require.Len(t, p.Adapters(), 2)

	api.failPath("/v2/devices/thermostats/LCC-1/group/0/rooms", http.StatusInternalServerError)

	require.NoError(t, p.Discover(context.Background()))
	assert.Len(t, p.Adapters(), 2)
}

func TestPlatformUsesDeviceLogLevel(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	opts := testOptions()
	opts.LogLevel = "info"
	opts.Devices = []config.DeviceOptions{{DeviceID: "ABC123", LogLevel: "debug"}}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.InfoLevel)
	bridge := accessory.NewBridge("", logrus.NewEntry(logger))
	p := NewPlatform(api.client(), bridge, opts, logger, WithReconcileDelay(time.Hour))
	t.Cleanup(p.Stop)
	require.NoError(t, p.Start(context.Background()))

	adapter, _ := p.Adapter(accessory.UUIDFor("ABC123-Thermostat"))
	th := adapter.(*Thermostat)
	assert.Equal(t, logrus.DebugLevel, th.log.Logger.GetLevel())
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestConcurrentDiscoveryKeepsOneAdapterPerDevice(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	p, bridge := newTestPlatform(t, api, testOptions())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Discover(context.Background()))
		}()
	}
	wg.Wait()

	require.Len(t, p.Adapters(), 1)
	assert.Len(t, bridge.Accessories(), 1)
	// Only one adapter ever started, so only one initial poll hits the device.
	waitForRefresh(t, api, hallwayPath)
	assert.Never(t, func() bool {
		return len(api.matching(http.MethodGet, hallwayPath)) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestPollResultDiscardedWhilePushPending(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	opts := testOptions()
	opts.PushRate = 0.4
	p, bridge := startPlatform(t, api, opts)
	waitForRefresh(t, api, hallwayPath)

	ctx := context.Background()
	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	adapter, _ := p.Adapter(acc.UUID)
	target := acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature)
	require.NoError(t, target.RemoteSet(ctx, 20.0))

	// The vendor still reports the 62°F heat setpoint; the optimistic value stays.
	require.NoError(t, adapter.RefreshStatus(ctx))
	assert.Len(t, api.matching(http.MethodGet, hallwayPath), 2)
	assert.Equal(t, 20.0, target.Float())
	assert.Empty(t, api.matching(http.MethodPost, hallwayPath))

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.thermostats["ABC123"].ChangeableValues.HeatSetpoint == 68
	}, 2*time.Second, 10*time.Millisecond)
	cmd := decodeCommands(t, api.matching(http.MethodPost, hallwayPath))[0]
	assert.Equal(t, 68.0, cmd.HeatSetpoint)

	// Once the push has landed, polls apply again.
	api.mu.Lock()
	d := api.thermostats["ABC123"]
	d.ChangeableValues.HeatSetpoint = 64
	api.thermostats["ABC123"] = d
	api.mu.Unlock()
	require.Eventually(t, func() bool {
		_ = adapter.RefreshStatus(ctx)
		return target.Float() == 18.0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFanPushesOwnStream(t *testing.T) {
	allowed := []string{FanModeAuto, FanModeOn, FanModeCirculate}
	d := fahrenheitThermostat("ABC123", ModeHeat)
	settings := &FanSettings{AllowedModes: allowed}
	settings.ChangeableValues.Mode = FanModeAuto
	d.Settings = &Settings{Fan: settings}

	var fan FanStatus
	fan.AllowedModes = allowed
	fan.ChangeableValues.Mode = FanModeAuto

	api := newFakeAPI(t)
	api.addLocation(10, d)
	api.fans["ABC123"] = fan
	_, bridge := startPlatform(t, api, testOptions())
	waitForRefresh(t, api, hallwayPath+"/fan")

	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	require.NotNil(t, acc.Service(accessory.ServiceFan))
	ctx := context.Background()
	require.NoError(t, acc.Characteristic(accessory.ServiceFan, accessory.TargetFanState).RemoteSet(ctx, accessory.FanManual))
	require.NoError(t, acc.Characteristic(accessory.ServiceFan, accessory.Active).RemoteSet(ctx, accessory.IsActive))

	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath+"/fan")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath+"/fan")) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)

	posts := api.matching(http.MethodPost, hallwayPath+"/fan")
	assert.JSONEq(t, `{"mode":"On"}`, string(posts[0].Body))
	assert.Empty(t, api.matching(http.MethodPost, hallwayPath))
}

func TestThermostatRoomPrioritySentBeforeSetpoints(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, fahrenheitThermostat("ABC123", ModeHeat))
	api.priorities["ABC123"] = Priority{
		DeviceID:        "ABC123",
		CurrentPriority: CurrentPriority{PriorityType: "PickARoom", SelectedRooms: []int{1}},
	}
	opts := testOptions()
	opts.Devices = []config.DeviceOptions{{DeviceID: "ABC123", Thermostat: config.ThermostatOptions{RoomPriority: "WholeHouse"}}}
	p, bridge := startPlatform(t, api, opts)

	ctx := context.Background()
	acc, _ := bridge.Accessory(accessory.UUIDFor("ABC123-Thermostat"))
	adapter, _ := p.Adapter(acc.UUID)
	require.NoError(t, adapter.RefreshStatus(ctx))
	require.NotEmpty(t, api.matching(http.MethodGet, hallwayPath+"/priority"))

	require.NoError(t, acc.Characteristic(accessory.ServiceThermostat, accessory.TargetTemperature).RemoteSet(ctx, 20.0))
	require.Eventually(t, func() bool {
		return len(api.matching(http.MethodPost, hallwayPath)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var order []string
	api.mu.Lock()
	for _, r := range api.requests {
		if r.Method != http.MethodGet {
			order = append(order, r.Method+" "+r.Path)
		}
	}
	api.mu.Unlock()
	assert.Equal(t, []string{"PUT " + hallwayPath + "/priority", "POST " + hallwayPath}, order)

	var body struct {
		CurrentPriority CurrentPriority `json:"currentPriority"`
	}
	require.NoError(t, json.Unmarshal(api.matching(http.MethodPut, hallwayPath+"/priority")[0].Body, &body))
	assert.Equal(t, "WholeHouse", body.CurrentPriority.PriorityType)

	// The priority is already in place, so a second push only sends setpoints.
	require.NoError(t, adapter.PushChanges(ctx))
	assert.Len(t, api.matching(http.MethodPut, hallwayPath+"/priority"), 1)
	assert.Len(t, api.matching(http.MethodPost, hallwayPath), 2)
}

func TestLeakRefreshesMayOverlap(t *testing.T) {
	api := newFakeAPI(t)
	api.addLocation(10, Device{
		DeviceID:     "LEAK1",
		DeviceClass:  ClassLeakDetector,
		Name:         "Basement",
		IsAlive:      true,
		WaterPresent: true,
	})
	p, _ := startPlatform(t, api, testOptions())
	adapter, ok := p.Adapter(accessory.UUIDFor("LEAK1-LeakDetector"))
	require.True(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, adapter.RefreshStatus(context.Background()))
		}()
	}
	wg.Wait()

	leak := adapter.(*LeakSensor)
	assert.Equal(t, float64(accessory.LeakFound), leak.readings()["leak_detected"])
}
