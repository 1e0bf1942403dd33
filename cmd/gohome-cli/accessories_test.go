package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{"Living Room": "a", "Hallway-Thermostat": "b"}

	id, err := resolveNamedID("accessory", "living_room", options)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = resolveNamedID("accessory", "hallway thermostat", options)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	_, err = resolveNamedID("accessory", "attic", options)
	assert.ErrorContains(t, err, "Available: Hallway-Thermostat, Living Room")
}

func TestFindAccessoryAndSet(t *testing.T) {
	accs := []accessory.Snapshot{{UUID: "u-1", DisplayName: "Hallway"}}
	var setBody []byte
	var setPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(accs)
		case http.MethodPut:
			setPath = r.URL.Path
			setBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(accessory.CharacteristicSnapshot{Type: "TargetTemperature", Value: 21.5})
		}
	}))
	defer srv.Close()

	client := &httpClient{base: srv.URL, http: srv.Client()}
	acc, err := findAccessory(client, "hallway")
	require.NoError(t, err)
	assert.Equal(t, "u-1", acc.UUID)

	var snap accessory.CharacteristicSnapshot
	require.NoError(t, client.do(http.MethodPut, "/accessories/u-1/Thermostat/TargetTemperature", []byte("21.5"), &snap))
	assert.Equal(t, "/accessories/u-1/Thermostat/TargetTemperature", setPath)
	assert.Equal(t, "21.5", string(setBody))
	assert.Equal(t, 21.5, snap.Value)
}

func TestHTTPClientReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "TargetTemperature: invalid characteristic value", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := &httpClient{base: srv.URL, http: srv.Client()}
	err := client.do(http.MethodPut, "/accessories/u-1/Thermostat/TargetTemperature", []byte("99"), nil)
	assert.ErrorContains(t, err, "422")
}
