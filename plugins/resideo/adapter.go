package resideo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/debounce"
	"github.com/joshp123/gohome-resideo/internal/telemetry"
)

const defaultReconcileDelay = 2 * time.Second

// Adapter synchronises one vendor device with one host accessory.
type Adapter interface {
	UUID() string
	DeviceID() string
	Class() string
	LocationID() int
	Accessory() *accessory.Accessory
	Start(ctx context.Context)
	Stop()
	RefreshStatus(ctx context.Context) error
	PushChanges(ctx context.Context) error
}

type timing struct {
	refreshEvery time.Duration
	pushWait     time.Duration
	retryDelay   time.Duration
	maxRetries   int
	retry        bool
	reconcile    time.Duration
}

// fetchFunc reads vendor state and returns the mutation that applies it.
type fetchFunc func(ctx context.Context) (apply func(), err error)

type adapterDeps struct {
	client     *Client
	sensors    func(ctx context.Context, device Device, locationID, groupID int) (RoomGroup, error)
	acc        *accessory.Accessory
	locationID int
	device     Device
	room       roomTarget
	opts       config.DeviceOptions
	timing     timing
	log        *logrus.Entry
	sink       telemetry.Sink
}

// roomTarget identifies a room sensor inside a thermostat group.
type roomTarget struct {
	groupID     int
	roomID      int
	accessoryID int
	attr        AccessoryAttribute
}

// syncLoop drives polling and pushes for one adapter.
type syncLoop struct {
	class    string
	deviceID string
	acc      *accessory.Accessory
	log      *logrus.Entry
	timing   timing
	sink     telemetry.Sink

	fetch    fetchFunc
	readings func() map[string]float64

	// applyMu orders poll results against setters marking a push pending.
	applyMu sync.Mutex
	pushing atomic.Int32
	streams []*pushStream

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (l *syncLoop) start(parent context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.ctx, l.cancel = ctx, cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.poll(ctx)
	}()
}

func (l *syncLoop) stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	for _, s := range l.streams {
		s.debouncer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *syncLoop) context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return context.Background()
	}
	return l.ctx
}

func (l *syncLoop) poll(ctx context.Context) {
	_ = l.refresh(ctx)

	ticker := time.NewTicker(l.timing.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.busy() {
				l.log.Debug("push in progress, skipping poll")
				continue
			}
			_ = l.refresh(ctx)
		}
	}
}

func (l *syncLoop) busy() bool {
	return l.pushing.Load() > 0
}

// refresh never panics or escapes to the host; failures become error markers.
func (l *syncLoop) refresh(ctx context.Context) error {
	var apply func()
	err := l.withRetry(ctx, "refresh", func(ctx context.Context) error {
		var err error
		apply, err = l.fetch(ctx)
		return err
	})
	if err != nil {
		refreshTotal.WithLabelValues(l.class, "error").Inc()
		l.fail("refresh", err)
		return err
	}
	l.applyMu.Lock()
	if l.busy() {
		l.applyMu.Unlock()
		l.log.Debug("discarding poll result, push pending")
		return nil
	}
	apply()
	l.applyMu.Unlock()
	refreshTotal.WithLabelValues(l.class, "ok").Inc()
	l.record()
	return nil
}

func (l *syncLoop) push(ctx context.Context, op string, fn func(context.Context) error) error {
	err := l.withRetry(ctx, op, fn)
	if err != nil {
		pushTotal.WithLabelValues(l.class, "error").Inc()
		l.fail(op, err)
		return err
	}
	pushTotal.WithLabelValues(l.class, "ok").Inc()
	return nil
}

// reconcileLater re-reads the device once the vendor has applied a push.
func (l *syncLoop) reconcileLater() {
	ctx := l.context()
	time.AfterFunc(l.timing.reconcile, func() {
		if ctx.Err() != nil || l.busy() {
			return
		}
		_ = l.refresh(ctx)
	})
}

func (l *syncLoop) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := 1
	if l.timing.retry {
		attempts += l.timing.maxRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			retriesTotal.WithLabelValues(l.class, op).Inc()
			if werr := sleepCtx(ctx, l.timing.retryDelay); werr != nil {
				return werr
			}
		}
		err = fn(ctx)
		if err == nil || !l.timing.retry || !IsRetryable(err) {
			return err
		}
		l.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": i + 1}).Warn("retrying")
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *syncLoop) fail(op string, err error) {
	entry := l.log.WithError(err).WithFields(logrus.Fields{"op": op, "category": Category(err)})
	if errors.Is(err, ErrUnauthorized) {
		entry.Error("access token rejected; run `gohome link` if this persists")
	} else {
		entry.Error(op + " failed")
	}
	for _, svc := range l.acc.Services() {
		if svc.Type != accessory.ServiceAccessoryInformation {
			svc.SetError(err)
		}
	}
}

func (l *syncLoop) record() {
	if l.readings == nil {
		return
	}
	readings := l.readings()
	for field, v := range readings {
		deviceReading.WithLabelValues(l.deviceID, l.class, field).Set(v)
	}
	if l.sink != nil {
		l.sink.Record(l.deviceID, l.class, readings)
	}
}

// pushStream coalesces setter signals into one push of the full mirror.
type pushStream struct {
	loop      *syncLoop
	op        string
	fn        func(context.Context) error
	debouncer *debounce.Debouncer

	mu   sync.Mutex
	busy bool
}

func (l *syncLoop) newStream(op string, wait time.Duration, fn func(context.Context) error) *pushStream {
	s := &pushStream{loop: l, op: op, fn: fn}
	s.debouncer = debounce.New(wait, s.flush)
	l.streams = append(l.streams, s)
	return s
}

// Signal applies mutate to the mirror and schedules a push. The signal
// carries no payload; the push reads the mirror when it fires.
func (s *pushStream) Signal(mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		s.busy = true
		s.loop.applyMu.Lock()
		s.loop.pushing.Add(1)
		s.loop.applyMu.Unlock()
	}
	mutate()
	s.debouncer.Trigger()
}

func (s *pushStream) flush() {
	err := s.loop.push(s.loop.context(), s.op, s.fn)

	s.mu.Lock()
	if s.busy && !s.debouncer.Pending() {
		s.busy = false
		s.loop.pushing.Add(-1)
	}
	s.mu.Unlock()

	if err == nil {
		s.loop.reconcileLater()
	}
}

// base carries what every adapter shares.
type base struct {
	loop       *syncLoop
	client     *Client
	acc        *accessory.Accessory
	class      string
	locationID int
	device     Device
	opts       config.DeviceOptions
	log        *logrus.Entry
}

func newBase(class string, d adapterDeps) base {
	return base{
		loop: &syncLoop{
			class:    class,
			deviceID: d.device.DeviceID,
			acc:      d.acc,
			log:      d.log,
			timing:   d.timing,
			sink:     d.sink,
		},
		client:     d.client,
		acc:        d.acc,
		class:      class,
		locationID: d.locationID,
		device:     d.device,
		opts:       d.opts,
		log:        d.log,
	}
}

func (b *base) UUID() string {
	return b.acc.UUID
}

func (b *base) DeviceID() string {
	return b.device.DeviceID
}

func (b *base) Class() string {
	return b.class
}

func (b *base) LocationID() int {
	return b.locationID
}

func (b *base) Accessory() *accessory.Accessory {
	return b.acc
}

func (b *base) Start(ctx context.Context) {
	b.loop.start(ctx)
}

func (b *base) Stop() {
	b.loop.stop()
}

func (b *base) RefreshStatus(ctx context.Context) error {
	return b.loop.refresh(ctx)
}

func setInformation(acc *accessory.Accessory, model, serial, firmware string) {
	info := acc.EnsureService(accessory.ServiceAccessoryInformation, acc.DisplayName)
	info.EnsureCharacteristic(accessory.Name, acc.DisplayName)
	info.EnsureCharacteristic(accessory.Manufacturer, "Resideo")
	info.EnsureCharacteristic(accessory.Model, model).Update(model)
	info.EnsureCharacteristic(accessory.SerialNumber, serial).Update(serial)
	if firmware != "" {
		info.EnsureCharacteristic(accessory.FirmwareRevision, firmware).Update(firmware)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
