package plugins

import (
	"github.com/joshp123/gohome-resideo/internal/core"
	"github.com/joshp123/gohome-resideo/plugins/resideo"
)

func init() {
	Register(func(env Env) (core.Plugin, bool) {
		p, ok := resideo.NewPlugin(env.Config, env.Bridge, env.Logger, env.Sink)
		if !ok {
			return nil, false
		}
		return p, true
	})
}
