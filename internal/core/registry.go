package core

import (
	"sort"
	"sync"
)

// PluginSummary is the registry view of one plugin.
type PluginSummary struct {
	PluginID      string   `json:"plugin_id"`
	DisplayName   string   `json:"display_name"`
	Version       string   `json:"version"`
	DeviceClasses []string `json:"device_classes,omitempty"`
	Status        string   `json:"status"`
	HealthMessage string   `json:"health_message,omitempty"`
}

// Registry provides plugin discovery to the HTTP and gRPC surfaces.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

func NewRegistry(plugins []Plugin) *Registry {
	return &Registry{plugins: plugins}
}

func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

func (r *Registry) List() []PluginSummary {
	plugins := r.Plugins()
	out := make([]PluginSummary, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, summarize(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

func (r *Registry) Describe(id string) (PluginSummary, bool) {
	for _, p := range r.Plugins() {
		if p.ID() == id {
			return summarize(p), true
		}
	}
	return PluginSummary{}, false
}

// Overall is the worst health across plugins.
func (r *Registry) Overall() HealthStatus {
	status := HealthHealthy
	for _, p := range r.Plugins() {
		switch p.Health() {
		case HealthError:
			return HealthError
		case HealthDegraded:
			status = HealthDegraded
		}
	}
	return status
}

func summarize(p Plugin) PluginSummary {
	m := p.Manifest()
	return PluginSummary{
		PluginID:      m.PluginID,
		DisplayName:   m.DisplayName,
		Version:       m.Version,
		DeviceClasses: m.DeviceClasses,
		Status:        string(p.Health()),
		HealthMessage: p.HealthMessage(),
	}
}
