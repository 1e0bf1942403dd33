package hostmqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

type fakeConn struct {
	mu        sync.Mutex
	published map[string][]byte
	handlers  map[string]MessageHandler
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: map[string][]byte{}, handlers: map[string]MessageHandler{}}
}

func (f *fakeConn) Publish(topic string, _ byte, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	return nil
}

func (f *fakeConn) Subscribe(topic string, _ byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) payload(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.published[topic]
	return p, ok
}

func testLogger() *logrus.Entry {
	log, _ := test.NewNullLogger()
	return logrus.NewEntry(log)
}

func TestExposerPublishesAndRoutesSets(t *testing.T) {
	conn := newFakeConn()
	bridge := accessory.NewBridge("", nil)
	exp := NewExposer(conn, bridge, "gohome/accessories/", 1, testLogger())
	require.NoError(t, exp.Start(context.Background()))

	acc := accessory.New("Hall", accessory.UUIDFor("ABC123-Thermostat"))
	svc := acc.EnsureService(accessory.ServiceThermostat, "Hall")
	current := svc.EnsureCharacteristic(accessory.CurrentTemperature, 20.0)
	target := svc.EnsureCharacteristic(accessory.TargetTemperature, 21.0).
		SetProps(accessory.Range(10, 30, 0.5))

	var written []float64
	target.OnSet(func(_ context.Context, v any) error {
		written = append(written, accessory.AsFloat(v))
		return nil
	})
	bridge.RegisterPlatformAccessories(acc)

	base := "gohome/accessories/" + acc.UUID
	_, ok := conn.payload(base + "/accessory")
	assert.True(t, ok)

	current.Update(19.5)
	raw, ok := conn.payload(base + "/Thermostat/CurrentTemperature")
	require.True(t, ok)
	var got struct {
		Value float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 19.5, got.Value)

	handler := conn.handlers["gohome/accessories/+/+/+/set"]
	require.NotNil(t, handler)

	handler(base+"/Thermostat/TargetTemperature/set", []byte("22.5"))
	handler(base+"/Thermostat/TargetTemperature/set", []byte("45"))
	handler(base+"/Thermostat/CurrentTemperature/set", []byte("18"))
	handler(base+"/Thermostat/Missing/set", []byte("1"))

	assert.Equal(t, []float64{22.5}, written)
	assert.Equal(t, 22.5, target.Float())
	assert.Equal(t, 19.5, current.Float())

	bridge.UnregisterPlatformAccessories(acc)
	raw, ok = conn.payload(base + "/accessory")
	assert.True(t, ok)
	assert.Empty(t, raw)
}
