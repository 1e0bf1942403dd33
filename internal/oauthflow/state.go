package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/oauth"
)

// PersistResult reports where a freshly linked token ended up.
type PersistResult struct {
	StatePath     string
	BlobSaved     bool
	BlobErr       error
	ConfigWritten bool
}

// PersistOptions controls persistence behavior.
type PersistOptions struct {
	StatePathOverride string
	SkipBlob          bool
	// ConfigPath, when set, also receives the refresh token.
	ConfigPath string
}

// NewState builds the state written after a successful link.
func NewState(clientID, clientSecret, refreshToken, scope string, now time.Time) oauth.State {
	return oauth.State{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		RefreshToken:  refreshToken,
		Scope:         scope,
		UpdatedAt:     now.UTC(),
	}
}

// PersistState writes state to disk, then to the config file and blob
// storage when asked. A blob failure lands in BlobErr; the local copy is
// authoritative. The blob copy never carries the client secret.
func PersistState(ctx context.Context, decl oauth.Declaration, state oauth.State, blob oauth.BlobStore, opts PersistOptions) (PersistResult, error) {
	statePath := decl.StatePath
	if opts.StatePathOverride != "" {
		statePath = opts.StatePathOverride
	}
	if statePath == "" {
		return PersistResult{}, fmt.Errorf("state path missing")
	}
	if err := oauth.WriteState(statePath, state); err != nil {
		return PersistResult{}, err
	}
	result := PersistResult{StatePath: statePath}

	if opts.ConfigPath != "" {
		if err := config.WriteRefreshToken(opts.ConfigPath, state.RefreshToken); err != nil {
			return result, fmt.Errorf("write refresh token to config: %w", err)
		}
		result.ConfigWritten = true
	}

	if opts.SkipBlob || blob == nil {
		return result, nil
	}
	remote := state
	remote.ClientSecret = ""
	payload, err := json.MarshalIndent(remote, "", "  ")
	if err != nil {
		return result, err
	}
	if err := blob.Save(ctx, decl.Provider, payload); err != nil {
		result.BlobErr = fmt.Errorf("save blob: %w", err)
		return result, nil
	}
	result.BlobSaved = true
	return result, nil
}
