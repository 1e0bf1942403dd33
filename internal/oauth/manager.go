package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var (
	ErrScopeMismatch    = errors.New("oauth scope mismatch")
	ErrTokenUnavailable = errors.New("oauth token unavailable")
)

// RotateFunc receives a refresh token that replaced the previous one.
type RotateFunc func(refreshToken string)

// Manager keeps an access token fresh and persists rotated refresh tokens.
type Manager struct {
	decl       Declaration
	blobStore  BlobStore
	httpClient *http.Client
	log        *logrus.Entry
	onRotate   RotateFunc
	now        func() time.Time

	mu              sync.Mutex
	accessToken     string
	expiresAt       time.Time
	lifetime        time.Duration
	refreshToken    string
	clientID        string
	clientSecret    string
	scope           string
	refreshInFlight bool
	lastErr         error
	config          *oauth2.Config
}

type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// WithRotateHook is called after a rotated refresh token was written to the state file.
func WithRotateHook(fn RotateFunc) Option {
	return func(m *Manager) { m.onRotate = fn }
}

func NewManager(decl Declaration, bootstrap Bootstrap, blobStore BlobStore, opts ...Option) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if blobStore == nil {
		blobStore = NopStore{}
	}

	m := &Manager{
		decl:         decl,
		blobStore:    blobStore,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		log:          logrus.NewEntry(logrus.StandardLogger()),
		now:          time.Now,
		clientID:     bootstrap.ClientID,
		clientSecret: bootstrap.ClientSecret,
		config: &oauth2.Config{
			ClientID:     bootstrap.ClientID,
			ClientSecret: bootstrap.ClientSecret,
			Endpoint:     decl.endpoint(),
			Scopes:       scopes(decl.Scope),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("provider", decl.Provider)

	state, err := m.loadInitialState(bootstrap)
	if err != nil {
		return nil, err
	}
	m.refreshToken = state.RefreshToken
	m.scope = state.Scope

	return m, nil
}

// Start performs the first refresh and keeps refreshing at a third of the
// token lifetime until ctx is done. The first refresh error is returned, but
// the loop keeps retrying regardless.
func (m *Manager) Start(ctx context.Context) error {
	err := m.Refresh(ctx)
	go m.run(ctx, m.nextDelay(err))
	return err
}

func (m *Manager) run(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		nextRefresh.WithLabelValues(m.decl.Provider).Set(delay.Seconds())
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		err := m.Refresh(ctx)
		delay = m.nextDelay(err)
		timer.Reset(delay)
	}
}

func (m *Manager) nextDelay(err error) time.Duration {
	if err != nil {
		return failureRetryInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return RefreshInterval(m.lifetime)
}

// AccessToken returns the cached token while it has more than 30s left.
func (m *Manager) AccessToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && m.expiresAt.Sub(m.now()) > 30*time.Second {
		return m.accessToken, nil
	}

	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	return "", ErrTokenUnavailable
}

// TriggerRefresh refreshes out of band, e.g. after the API answered 401.
func (m *Manager) TriggerRefresh(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := m.Refresh(ctx); err != nil {
			m.log.WithError(err).Warn("triggered token refresh failed")
		}
	}()
}

// Refresh exchanges the refresh token now. Concurrent calls collapse into one.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshInFlight {
		m.mu.Unlock()
		return nil
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshInFlight = false
		m.mu.Unlock()
	}()

	err := m.refresh(ctx)
	if err != nil {
		m.log.WithError(err).Error("token refresh failed")
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// LastError is the outcome of the most recent refresh.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Lifetime is the validity window reported with the last token.
func (m *Manager) Lifetime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifetime
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	current := m.refreshToken
	m.mu.Unlock()
	if current == "" {
		return fmt.Errorf("no refresh token; run gohome link")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current}).Token()
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("token refresh failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return err
	}

	now := m.now()
	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	m.lifetime = 0
	if !token.Expiry.IsZero() {
		m.lifetime = token.Expiry.Sub(now)
	}
	rotated := token.RefreshToken != "" && token.RefreshToken != m.refreshToken
	if rotated {
		m.refreshToken = token.RefreshToken
	}
	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.clientID,
		ClientSecret:  m.clientSecret,
		RefreshToken:  m.refreshToken,
		Scope:         m.scope,
		UpdatedAt:     now.UTC(),
	}
	lifetime := m.lifetime
	m.mu.Unlock()

	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	m.log.WithField("expires_in", lifetime.Round(time.Second)).Debug("access token refreshed")

	if !rotated {
		return nil
	}

	tokenRotations.WithLabelValues(m.decl.Provider).Inc()
	if err := WriteState(m.decl.StatePath, state); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return fmt.Errorf("persist state: %w", err)
	}
	m.setRemotePersist(m.persistBlob(ctx, state))
	if m.onRotate != nil {
		m.onRotate(state.RefreshToken)
	}
	m.log.Info("refresh token rotated and persisted")
	return nil
}

func (m *Manager) loadInitialState(bootstrap Bootstrap) (State, error) {
	ctx := context.Background()

	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		if err := m.checkScope(&local); err != nil {
			return State{}, err
		}
		local.ClientID = bootstrap.ClientID
		local.ClientSecret = bootstrap.ClientSecret
		m.setRemotePersist(m.persistBlob(ctx, local))
		return local, nil
	}

	blob, blobErr := m.loadFromBlob(ctx)
	if blobErr == nil {
		blob.ClientID = bootstrap.ClientID
		blob.ClientSecret = bootstrap.ClientSecret
		if err := m.checkScope(&blob); err != nil {
			return State{}, err
		}
		if err := WriteState(m.decl.StatePath, blob); err != nil {
			return State{}, err
		}
		return blob, nil
	}

	if !errors.Is(blobErr, ErrBlobNotFound) {
		if !errors.Is(localErr, ErrStateNotFound) {
			return State{}, localErr
		}
		return State{}, blobErr
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		m.log.WithError(localErr).Warn("ignoring unreadable state file")
	}

	if bootstrap.RefreshToken == "" {
		return State{}, fmt.Errorf("no refresh_token configured; run gohome link")
	}

	state := bootstrap.state()
	if err := m.checkScope(&state); err != nil {
		return State{}, err
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		return State{}, err
	}
	m.setRemotePersist(m.persistBlob(ctx, state))
	return state, nil
}

func (m *Manager) checkScope(state *State) error {
	if state.Scope == "" {
		state.Scope = m.decl.Scope
		return nil
	}
	if m.decl.Scope != "" && state.Scope != m.decl.Scope {
		return ErrScopeMismatch
	}
	return nil
}

func (m *Manager) setRemotePersist(err error) {
	if err != nil {
		m.log.WithError(err).Warn("remote state persist failed")
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		return
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, m.decl.Provider, data)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}

func scopes(scope string) []string {
	return strings.Fields(scope)
}
