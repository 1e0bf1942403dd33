package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/core"
	"github.com/joshp123/gohome-resideo/internal/telemetry"
)

// Env is what a plugin factory may wire into its plugin.
type Env struct {
	Config *config.Config
	Bridge *accessory.Bridge
	Logger *logrus.Logger
	Sink   telemetry.Sink
}

// Factory builds a plugin instance. The bool is false when the plugin is
// not configured.
type Factory func(Env) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(env Env) []core.Plugin {
	if env.Config == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(env)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
