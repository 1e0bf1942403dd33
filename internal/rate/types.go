package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	if w == Day {
		return 24 * time.Hour
	}
	return time.Minute
}

// Declaration defines a provider's request budget.
type Declaration struct {
	provider        string
	limits          map[Window]int
	defaultCooldown time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// CooldownOn429 sets the pause applied when a 429 arrives without Retry-After.
func (d Declaration) CooldownOn429(wait time.Duration) Declaration {
	d.defaultCooldown = wait
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

// RateLimited is the compile-time contract for plugins that declare limits.
type RateLimited interface {
	RateLimits() Declaration
}
