package accessory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener follows the accessory lifecycle and characteristic changes.
type Listener interface {
	Observer
	AccessoryAdded(acc *Accessory)
	AccessoryRemoved(acc *Accessory)
}

type cachedAccessory struct {
	UUID        string         `json:"uuid"`
	DisplayName string         `json:"display_name"`
	Context     map[string]any `json:"context,omitempty"`
}

// Bridge is the host-side registry that platforms hand accessories to.
type Bridge struct {
	log       *logrus.Entry
	cachePath string
	saveMu    sync.Mutex

	mu          sync.RWMutex
	accessories map[string]*Accessory
	cached      map[string]cachedAccessory
	listeners   []Listener
}

func NewBridge(cachePath string, log *logrus.Entry) *Bridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		log:         log.WithField("component", "bridge"),
		cachePath:   cachePath,
		accessories: make(map[string]*Accessory),
		cached:      make(map[string]cachedAccessory),
	}
}

// LoadCache restores accessories persisted by a previous run. A missing
// cache file is not an error.
func (b *Bridge) LoadCache() error {
	if b.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(b.cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read accessory cache: %w", err)
	}
	var entries []cachedAccessory
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode accessory cache: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.cached[e.UUID] = e
	}
	b.log.WithField("count", len(entries)).Debug("restored cached accessories")
	return nil
}

// Restore returns a cached accessory with its persisted context, if known.
func (b *Bridge) Restore(uuid string) (*Accessory, bool) {
	b.mu.RLock()
	e, ok := b.cached[uuid]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	acc := New(e.DisplayName, e.UUID)
	for k, v := range e.Context {
		acc.context[k] = v
	}
	return acc, true
}

// CachedUUIDs lists restored accessories that no platform has claimed yet.
func (b *Bridge) CachedUUIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.cached))
	for id := range b.cached {
		if _, live := b.accessories[id]; !live {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) Subscribe(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	accs := b.sortedLocked()
	b.mu.Unlock()
	for _, acc := range accs {
		l.AccessoryAdded(acc)
	}
}

func (b *Bridge) RegisterPlatformAccessories(accs ...*Accessory) {
	b.add(false, accs...)
}

// PublishExternalAccessories exposes accessories outside the bridge. They
// are not cached.
func (b *Bridge) PublishExternalAccessories(accs ...*Accessory) {
	b.add(true, accs...)
}

// UpdatePlatformAccessories re-persists context changes.
func (b *Bridge) UpdatePlatformAccessories(accs ...*Accessory) {
	b.mu.Lock()
	for _, acc := range accs {
		if _, ok := b.accessories[acc.UUID]; ok && !acc.External() {
			b.cached[acc.UUID] = snapshotCache(acc)
		}
	}
	b.mu.Unlock()
	b.saveCache()
}

func (b *Bridge) UnregisterPlatformAccessories(accs ...*Accessory) {
	var removed []*Accessory
	b.mu.Lock()
	for _, acc := range accs {
		delete(b.cached, acc.UUID)
		if live, ok := b.accessories[acc.UUID]; ok {
			delete(b.accessories, acc.UUID)
			live.setObserver(nil)
			removed = append(removed, live)
		}
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, acc := range removed {
		b.log.WithField("accessory", acc.DisplayName).Info("removing accessory")
		for _, l := range listeners {
			l.AccessoryRemoved(acc)
		}
	}
	b.saveCache()
}

// UnregisterCached drops cache entries that were never claimed.
func (b *Bridge) UnregisterCached(uuids ...string) {
	b.mu.Lock()
	for _, id := range uuids {
		if _, live := b.accessories[id]; !live {
			delete(b.cached, id)
		}
	}
	b.mu.Unlock()
	b.saveCache()
}

func (b *Bridge) Accessory(uuid string) (*Accessory, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.accessories[uuid]
	return acc, ok
}

func (b *Bridge) Accessories() []*Accessory {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedLocked()
}

// CharacteristicChanged fans out to listeners.
func (b *Bridge) CharacteristicChanged(acc *Accessory, svc *Service, char *Characteristic) {
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, l := range listeners {
		l.CharacteristicChanged(acc, svc, char)
	}
}

func (b *Bridge) add(external bool, accs ...*Accessory) {
	var added []*Accessory
	b.mu.Lock()
	for _, acc := range accs {
		if _, exists := b.accessories[acc.UUID]; exists {
			continue
		}
		acc.mu.Lock()
		acc.external = external
		acc.mu.Unlock()
		acc.setObserver(b)
		b.accessories[acc.UUID] = acc
		if !external {
			b.cached[acc.UUID] = snapshotCache(acc)
		}
		added = append(added, acc)
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, acc := range added {
		b.log.WithFields(logrus.Fields{"accessory": acc.DisplayName, "uuid": acc.UUID, "external": external}).Info("adding accessory")
		for _, l := range listeners {
			l.AccessoryAdded(acc)
		}
	}
	b.saveCache()
}

func (b *Bridge) sortedLocked() []*Accessory {
	out := make([]*Accessory, 0, len(b.accessories))
	for _, acc := range b.accessories {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].UUID < out[j].UUID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

func (b *Bridge) saveCache() {
	if b.cachePath == "" {
		return
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	b.mu.RLock()
	entries := make([]cachedAccessory, 0, len(b.cached))
	for _, e := range b.cached {
		entries = append(entries, e)
	}
	b.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].UUID < entries[j].UUID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		b.log.WithError(err).Warn("encode accessory cache")
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.cachePath), 0o755); err != nil {
		b.log.WithError(err).Warn("create accessory cache dir")
		return
	}
	tmp := b.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		b.log.WithError(err).Warn("write accessory cache")
		return
	}
	if err := os.Rename(tmp, b.cachePath); err != nil {
		b.log.WithError(err).Warn("replace accessory cache")
	}
}

func snapshotCache(acc *Accessory) cachedAccessory {
	return cachedAccessory{
		UUID:        acc.UUID,
		DisplayName: acc.DisplayName,
		Context:     acc.contextCopy(),
	}
}
