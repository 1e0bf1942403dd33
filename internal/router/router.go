package router

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gohome-resideo/internal/core"
)

// ServiceName is the health service name reported for a plugin.
func ServiceName(pluginID string) string {
	return "gohome.plugins." + pluginID
}

// RegisterPlugins registers the health service and reports every plugin on it.
func RegisterPlugins(server *grpc.Server, registry *core.Registry) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	Sync(hs, registry)
	return hs
}

// Sync copies plugin health into the health server. The empty service name
// carries the overall status.
func Sync(hs *health.Server, registry *core.Registry) {
	for _, p := range registry.Plugins() {
		hs.SetServingStatus(ServiceName(p.ID()), servingStatus(p.Health()))
	}
	hs.SetServingStatus("", servingStatus(registry.Overall()))
}

// Watch re-syncs until ctx is done, then marks everything not serving.
func Watch(ctx context.Context, hs *health.Server, registry *core.Registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			Sync(hs, registry)
		}
	}
}

func servingStatus(status core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if status == core.HealthError {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
