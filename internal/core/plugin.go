package core

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-resideo/internal/oauth"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID      string
	DisplayName   string
	Version       string
	DeviceClasses []string
}

// Plugin is the compile-time contract for all GoHome plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	OAuthDeclaration() oauth.Declaration
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// Runner is implemented by plugins with background work.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(chi.Router)
}
