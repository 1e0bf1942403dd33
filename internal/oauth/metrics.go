package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_oauth_refresh_success_total",
			Help: "Successful OAuth refreshes",
		},
		[]string{"provider"},
	)
	refreshFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_oauth_refresh_failure_total",
			Help: "Failed OAuth refreshes",
		},
		[]string{"provider"},
	)
	tokenRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_oauth_refresh_token_rotations_total",
			Help: "Refresh tokens replaced by the provider",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_oauth_token_valid",
			Help: "OAuth access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	nextRefresh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_oauth_next_refresh_seconds",
			Help: "Seconds until the next scheduled refresh",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_oauth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the shared OAuth module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenRotations,
		tokenValid,
		nextRefresh,
		remotePersistOK,
	}
}
