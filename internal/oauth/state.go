package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("oauth state not found")

// State is the persisted refresh state for a provider.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	ClientID      string    `json:"client_id"`
	ClientSecret  string    `json:"client_secret,omitempty"`
	RefreshToken  string    `json:"refresh_token"`
	Scope         string    `json:"scope,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Bootstrap holds the configured credentials used when no state exists yet.
type Bootstrap struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scope        string
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.ClientID == "" {
		return fmt.Errorf("state missing client_id")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("state missing refresh_token")
	}
	return nil
}

func (b Bootstrap) Validate() error {
	if b.ClientID == "" {
		return fmt.Errorf("bootstrap missing client_id")
	}
	return nil
}

func (b Bootstrap) state() State {
	return State{
		SchemaVersion: SchemaVersion,
		ClientID:      b.ClientID,
		ClientSecret:  b.ClientSecret,
		RefreshToken:  b.RefreshToken,
		Scope:         b.Scope,
	}
}

// WriteState persists state with owner-only permissions.
func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
