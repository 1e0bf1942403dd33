package resideo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
)

const testAPIKey = "consumer-key"

type staticTokens struct {
	refreshes atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context) (string, error) { return "access-1", nil }

func (s *staticTokens) TriggerRefresh(context.Context) { s.refreshes.Add(1) }

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// fakeAPI is an in-memory Resideo cloud.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	locations   []Location
	devices     map[int][]Device
	failDevices map[int]int
	failGet     map[string]int
	thermostats map[string]Device
	leaks       map[string]Device
	valves      map[string]Device
	fans        map[string]FanStatus
	priorities  map[string]Priority
	rooms       map[string]RoomGroup
	writeStatus []int
	requests    []recordedRequest
}

func newFakeAPI(t *testing.T) *fakeAPI {
	api := &fakeAPI{
		t:           t,
		devices:     map[int][]Device{},
		failDevices: map[int]int{},
		failGet:     map[string]int{},
		thermostats: map[string]Device{},
		leaks:       map[string]Device{},
		valves:      map[string]Device{},
		fans:        map[string]FanStatus{},
		priorities:  map[string]Priority{},
		rooms:       map[string]RoomGroup{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/locations", func(w http.ResponseWriter, _ *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.locations)
	})
	mux.HandleFunc("GET /v2/devices", func(w http.ResponseWriter, r *http.Request) {
		loc, _ := strconv.Atoi(r.URL.Query().Get("locationId"))
		api.mu.Lock()
		defer api.mu.Unlock()
		if status := api.failDevices[loc]; status != 0 {
			http.Error(w, `{"message":"boom"}`, status)
			return
		}
		api.reply(w, api.devices[loc])
	})
	mux.HandleFunc("GET /v2/devices/thermostats/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.thermostats[r.PathValue("id")])
	})
	mux.HandleFunc("POST /v2/devices/thermostats/{id}", func(w http.ResponseWriter, r *http.Request) {
		if status := api.nextWriteStatus(); status != http.StatusOK {
			http.Error(w, `{"message":"write failed"}`, status)
			return
		}
		var cmd ThermostatCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		d := api.thermostats[r.PathValue("id")]
		d.ChangeableValues.Mode = cmd.Mode
		d.ChangeableValues.HeatSetpoint = cmd.HeatSetpoint
		d.ChangeableValues.CoolSetpoint = cmd.CoolSetpoint
		api.thermostats[r.PathValue("id")] = d
		api.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v2/devices/thermostats/{id}/fan", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.fans[r.PathValue("id")])
	})
	mux.HandleFunc("POST /v2/devices/thermostats/{id}/fan", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v2/devices/thermostats/{id}/priority", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.priorities[r.PathValue("id")])
	})
	mux.HandleFunc("PUT /v2/devices/thermostats/{id}/priority", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v2/devices/thermostats/{id}/group/{group}/rooms", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.rooms[r.PathValue("id")])
	})
	mux.HandleFunc("GET /v2/devices/waterLeakDetectors/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.leaks[r.PathValue("id")])
	})
	mux.HandleFunc("GET /v2/devices/shutoffValves/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.reply(w, api.valves[r.PathValue("id")])
	})
	mux.HandleFunc("POST /v2/devices/shutoffValves/{id}", func(w http.ResponseWriter, _ *http.Request) {
		if status := api.nextWriteStatus(); status != http.StatusOK {
			http.Error(w, `{"message":"write failed"}`, status)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != testAPIKey {
			t.Errorf("missing apikey on %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer access-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.requests = append(api.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		status := api.failGet[r.URL.Path]
		api.mu.Unlock()
		if r.Method == http.MethodGet && status != 0 {
			http.Error(w, `{"message":"unavailable"}`, status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func (api *fakeAPI) reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (api *fakeAPI) nextWriteStatus() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.writeStatus) == 0 {
		return http.StatusOK
	}
	status := api.writeStatus[0]
	api.writeStatus = api.writeStatus[1:]
	return status
}

func (api *fakeAPI) addLocation(id int, devices ...Device) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.locations = append(api.locations, Location{LocationID: id, Name: "Home " + strconv.Itoa(id)})
	api.devices[id] = append(api.devices[id], devices...)
	for _, d := range devices {
		switch d.DeviceClass {
		case ClassThermostat:
			api.thermostats[d.DeviceID] = d
		case ClassLeakDetector:
			api.leaks[d.DeviceID] = d
		case ClassShutoffValve:
			api.valves[d.DeviceID] = d
		}
	}
}

// failPath makes GETs of path answer with status; 0 clears it.
func (api *fakeAPI) failPath(path string, status int) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if status == 0 {
		delete(api.failGet, path)
		return
	}
	api.failGet[path] = status
}

func (api *fakeAPI) matching(method, path string) []recordedRequest {
	api.mu.Lock()
	defer api.mu.Unlock()
	var out []recordedRequest
	for _, r := range api.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (api *fakeAPI) client() *Client {
	return NewClient(api.srv.URL, testAPIKey, &staticTokens{}, api.srv.Client())
}

func fahrenheitThermostat(id, mode string, allowed ...string) Device {
	if len(allowed) == 0 {
		allowed = []string{ModeHeat, ModeOff, ModeCool, ModeAuto}
	}
	humidity := 45.0
	return Device{
		DeviceID:              id,
		DeviceClass:           ClassThermostat,
		DeviceModel:           "T6-T6Pro",
		UserDefinedDeviceName: "Hallway",
		IsAlive:               true,
		Units:                 "Fahrenheit",
		IndoorTemperature:     70,
		IndoorHumidity:        &humidity,
		AllowedModes:          allowed,
		MinHeatSetpoint:       50,
		MaxHeatSetpoint:       90,
		MinCoolSetpoint:       50,
		MaxCoolSetpoint:       99,
		ChangeableValues: ChangeableValues{
			Mode:         mode,
			HeatSetpoint: 62,
			CoolSetpoint: 75,
		},
		OperationStatus: OperationStatus{Mode: "EquipmentOff"},
	}
}

func testOptions() config.Options {
	return config.Options{
		RefreshRate:         3600,
		PushRate:            0.05,
		MaxRetries:          2,
		DelayBetweenRetries: 0.01,
	}
}

func testLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func newTestPlatform(t *testing.T, api *fakeAPI, opts config.Options) (*Platform, *accessory.Bridge) {
	t.Helper()
	logger := testLogger()
	bridge := accessory.NewBridge("", logrus.NewEntry(logger))
	p := NewPlatform(api.client(), bridge, opts, logger, WithReconcileDelay(time.Hour))
	t.Cleanup(p.Stop)
	return p, bridge
}
