package resideo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/core"
	"github.com/joshp123/gohome-resideo/internal/oauth"
	"github.com/joshp123/gohome-resideo/internal/rate"
	"github.com/joshp123/gohome-resideo/internal/telemetry"
)

const defaultStatePath = "/var/lib/gohome/resideo-credentials.json"

// tokenManager is the part of oauth.Manager the plugin drives.
type tokenManager interface {
	Start(ctx context.Context) error
	LastError() error
}

// Plugin implements the GoHome plugin contract for Resideo devices.
type Plugin struct {
	decl     oauth.Declaration
	tokens   tokenManager
	platform *Platform
	log      *logrus.Entry

	mu            sync.Mutex
	health        core.HealthStatus
	healthMessage string
}

var (
	_ core.Plugin         = (*Plugin)(nil)
	_ core.Runner         = (*Plugin)(nil)
	_ core.HTTPRegistrant = (*Plugin)(nil)
	_ rate.RateLimited    = (*Plugin)(nil)
)

// NewPlugin wires the token manager, API client and platform. The bool is
// false when the resideo section is absent.
func NewPlugin(cfg *config.Config, bridge *accessory.Bridge, logger *logrus.Logger, sink telemetry.Sink) (*Plugin, bool) {
	if cfg == nil || cfg.Resideo == nil {
		return nil, false
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rc := cfg.Resideo
	p := &Plugin{
		decl: Declaration(rc.BaseURL, rc.StateFile),
		log:  logger.WithField("plugin", "resideo"),
	}

	blobStore, err := oauth.NewBlobStore(cfg.OAuth)
	if err != nil {
		return p.failed(err), true
	}

	bootstrap := oauth.Bootstrap{
		ClientID:     rc.Credentials.ConsumerKey,
		ClientSecret: rc.Credentials.ConsumerSecret,
		RefreshToken: rc.Credentials.RefreshToken,
	}
	options := []oauth.Option{oauth.WithLogger(p.log)}
	if rc.PersistToConfig && cfg.Path() != "" {
		path := cfg.Path()
		options = append(options, oauth.WithRotateHook(func(token string) {
			if err := config.WriteRefreshToken(path, token); err != nil {
				p.log.WithError(err).Error("persist refresh token to config")
				return
			}
			p.log.Info("refresh token written back to config")
		}))
	}
	tokens, err := oauth.NewManager(p.decl, bootstrap, blobStore, options...)
	if err != nil {
		return p.failed(err), true
	}
	p.tokens = tokens

	httpClient := rate.WrapHTTP(p.RateLimits(), &http.Client{Timeout: requestTimeout})
	client := NewClient(rc.BaseURL, rc.Credentials.ConsumerKey, tokens, httpClient)
	p.platform = NewPlatform(client, bridge, rc.Options, logger, WithTelemetry(sink))
	p.health = core.HealthHealthy
	return p, true
}

func (p *Plugin) failed(err error) *Plugin {
	p.health = core.HealthError
	p.healthMessage = err.Error()
	return p
}

// Declaration is the OAuth contract for the Honeywell Home token endpoint.
// Consumer key and secret travel in the Basic header.
func Declaration(baseURL, statePath string) oauth.Declaration {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if statePath == "" {
		statePath = defaultStatePath
	}
	return oauth.Declaration{
		Provider:     "resideo",
		AuthorizeURL: baseURL + "/oauth2/authorize",
		TokenURL:     baseURL + "/oauth2/token",
		StatePath:    statePath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

func (p *Plugin) ID() string {
	return "resideo"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:      "resideo",
		DisplayName:   "Resideo (Honeywell Home)",
		Version:       "0.1.0",
		DeviceClasses: []string{ClassThermostat, ClassLeakDetector, ClassShutoffValve, ClassRoomSensor, ClassRoomSensorThermostat},
	}
}

func (p *Plugin) OAuthDeclaration() oauth.Declaration {
	return p.decl
}

func (p *Plugin) RateLimits() rate.Declaration {
	return rate.Provider("resideo").
		MaxRequestsPer(rate.Minute, 60).
		MaxRequestsPer(rate.Day, 20000).
		CooldownOn429(time.Minute)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return MetricsCollectors()
}

func (p *Plugin) Start(ctx context.Context) error {
	if p.tokens == nil || p.platform == nil {
		return fmt.Errorf("resideo plugin not configured: %s", p.HealthMessage())
	}
	if err := p.tokens.Start(ctx); err != nil {
		p.log.WithError(err).Warn("initial token refresh failed, retrying in background")
	}
	if err := p.platform.Start(ctx); err != nil {
		p.log.WithError(err).Warn("initial discovery failed, retrying on the next sweep")
	}
	return nil
}

func (p *Plugin) Stop() {
	if p.platform != nil {
		p.platform.Stop()
	}
}

// Platform exposes the coordinator, mainly for tests and the HTTP routes.
func (p *Plugin) Platform() *Platform {
	return p.platform
}

func (p *Plugin) Health() core.HealthStatus {
	status, _ := p.status()
	return status
}

func (p *Plugin) HealthMessage() string {
	_, msg := p.status()
	return msg
}

// status is derived from the latest token refresh and discovery sweep, so
// it recovers on its own once both succeed again.
func (p *Plugin) status() (core.HealthStatus, string) {
	p.mu.Lock()
	health, msg := p.health, p.healthMessage
	p.mu.Unlock()
	if health == core.HealthError {
		return health, msg
	}
	if p.tokens != nil {
		if err := p.tokens.LastError(); err != nil {
			return core.HealthDegraded, "token refresh failed: " + err.Error()
		}
	}
	if p.platform != nil {
		if err := p.platform.LastError(); err != nil {
			return core.HealthDegraded, "discovery failed: " + err.Error()
		}
	}
	return core.HealthHealthy, ""
}

type deviceSummary struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
	Class      string `json:"device_class"`
	LocationID int    `json:"location_id"`
}

// RegisterHTTP mounts the plugin routes under /resideo.
func (p *Plugin) RegisterHTTP(r chi.Router) {
	r.Route("/resideo", func(r chi.Router) {
		r.Get("/devices", p.handleDevices)
		r.Post("/discover", p.handleDiscover)
		r.Post("/devices/{uuid}/refresh", p.handleRefresh)
	})
}

func (p *Plugin) handleDevices(w http.ResponseWriter, _ *http.Request) {
	out := []deviceSummary{}
	if p.platform != nil {
		for _, a := range p.platform.Adapters() {
			out = append(out, deviceSummary{
				UUID:       a.UUID(),
				Name:       a.Accessory().DisplayName,
				DeviceID:   a.DeviceID(),
				Class:      a.Class(),
				LocationID: a.LocationID(),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Plugin) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if p.platform == nil {
		http.Error(w, p.HealthMessage(), http.StatusServiceUnavailable)
		return
	}
	if err := p.platform.Discover(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Plugin) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if p.platform == nil {
		http.Error(w, p.HealthMessage(), http.StatusServiceUnavailable)
		return
	}
	adapter, ok := p.platform.Adapter(chi.URLParam(r, "uuid"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := adapter.RefreshStatus(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, adapter.Accessory().Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
