package resideo

import "github.com/prometheus/client_golang/prometheus"

var (
	apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_resideo_api_errors_total",
			Help: "Non-2xx responses from the Resideo API",
		},
		[]string{"op", "status"},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_resideo_refresh_total",
			Help: "Device status refreshes by outcome",
		},
		[]string{"device_class", "result"},
	)
	pushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_resideo_push_total",
			Help: "Coalesced device writes by outcome",
		},
		[]string{"device_class", "result"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_resideo_retries_total",
			Help: "Retried device operations",
		},
		[]string{"device_class", "op"},
	)
	deviceReading = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_resideo_device_reading",
			Help: "Last mirrored device reading (temperatures in celsius)",
		},
		[]string{"device_id", "device_class", "field"},
	)
	devicesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_resideo_devices",
			Help: "Adapters currently running",
		},
		[]string{"device_class"},
	)
	sensorCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_resideo_sensor_cache_hits_total",
		Help: "Room sensor reads served from cache",
	})
	sensorCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_resideo_sensor_cache_misses_total",
		Help: "Room sensor reads that hit the API",
	})
)

// MetricsCollectors returns collectors for the Resideo plugin.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		apiErrorsTotal,
		refreshTotal,
		pushTotal,
		retriesTotal,
		deviceReading,
		devicesActive,
		sensorCacheHits,
		sensorCacheMisses,
	}
}
