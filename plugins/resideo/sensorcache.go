package resideo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const sensorCacheTTL = 45 * time.Second

type roomFetcher func(ctx context.Context, deviceID string, locationID, groupID int) (RoomGroup, error)

type sensorEntry struct {
	group   RoomGroup
	expires time.Time
}

// sensorCache shares room sensor snapshots between the adapters of one
// thermostat. Lookup and fetch are separate steps, so concurrent misses for
// the same key may both fetch.
type sensorCache struct {
	fetch roomFetcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]sensorEntry
}

func newSensorCache(fetch roomFetcher) *sensorCache {
	return &sensorCache{
		fetch:   fetch,
		ttl:     sensorCacheTTL,
		now:     time.Now,
		entries: make(map[string]sensorEntry),
	}
}

func (c *sensorCache) get(ctx context.Context, deviceID string, locationID, groupID int) (RoomGroup, error) {
	key := fmt.Sprintf("%s/%d", deviceID, groupID)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		sensorCacheHits.Inc()
		return entry.group, nil
	}

	sensorCacheMisses.Inc()
	group, err := c.fetch(ctx, deviceID, locationID, groupID)
	if err != nil {
		return RoomGroup{}, err
	}

	c.mu.Lock()
	c.entries[key] = sensorEntry{group: group, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return group, nil
}
