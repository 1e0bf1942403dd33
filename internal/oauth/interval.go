package oauth

import "time"

const (
	// DefaultRefreshInterval applies until the first token reports its lifetime.
	DefaultRefreshInterval = 10 * time.Minute
	MinRefreshInterval     = 30 * time.Second
	failureRetryInterval   = time.Minute
)

// RefreshInterval schedules the next refresh at a third of the token lifetime.
func RefreshInterval(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return DefaultRefreshInterval
	}
	interval := lifetime / 3
	if interval < MinRefreshInterval {
		return MinRefreshInterval
	}
	return interval
}
