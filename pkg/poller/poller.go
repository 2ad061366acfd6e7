// Package poller periodically snapshots the sync queue and hands each
// snapshot to a callback until the handle is cancelled.
package poller

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 2 * time.Second

// Source provides queue snapshots.
type Source interface {
	Snapshot() []queue.Item
}

// UpdateFunc receives one snapshot per completed tick.
type UpdateFunc func(items []queue.Item)

// Poller starts polling loops over one Source.
type Poller struct {
	source Source
	logger *zap.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// New creates a Poller.
func New(source Source, log *zap.Logger) *Poller {
	return &Poller{
		source:  source,
		logger:  logger.OrNop(log).With(zap.String("component", "poller")),
		handles: make(map[*Handle]struct{}),
	}
}

// Handle controls one polling loop.
type Handle struct {
	poller   *Poller
	interval time.Duration
	onUpdate UpdateFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	busy    atomic.Bool
	ticks   atomic.Int64
	skipped atomic.Int64

	mu       sync.RWMutex
	latest   []queue.Item
	latestAt time.Time
}

// Start polls every interval, beginning immediately. A tick that fires
// while the previous snapshot is still being delivered is skipped.
func (p *Poller) Start(interval time.Duration, onUpdate UpdateFunc) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	h := &Handle{
		poller:   p,
		interval: interval,
		onUpdate: onUpdate,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.mu.Lock()
	p.handles[h] = struct{}{}
	p.mu.Unlock()

	go h.loop()
	p.logger.Debug("poller started", zap.Duration("interval", interval))
	return h
}

// Cancel stops h. See Handle.Cancel.
func (p *Poller) Cancel(h *Handle) {
	if h != nil {
		h.Cancel()
	}
}

// Close cancels every running handle.
func (p *Poller) Close() {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

func (h *Handle) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-h.stopCh:
			h.wg.Wait()
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Handle) tick() {
	h.ticks.Add(1)
	if !h.busy.CompareAndSwap(false, true) {
		h.skipped.Add(1)
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.busy.Store(false)

		select {
		case <-h.stopCh:
			return
		default:
		}

		items := h.poller.source.Snapshot()
		h.mu.Lock()
		h.latest = items
		h.latestAt = time.Now()
		h.mu.Unlock()

		if h.onUpdate == nil {
			return
		}
		// Checked again so a cancel that raced the snapshot wins.
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.onUpdate(items)
	}()
}

// Cancel stops the loop and waits for an in-flight update to return, so no
// onUpdate call happens after Cancel returns. It is idempotent. It must not
// be called from inside onUpdate, which would wait on itself.
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.poller.mu.Lock()
		delete(h.poller.handles, h)
		h.poller.mu.Unlock()
	})
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Latest returns the most recent snapshot and when it was taken. The zero
// time means no tick has completed yet.
func (h *Handle) Latest() ([]queue.Item, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]queue.Item, len(h.latest))
	copy(out, h.latest)
	return out, h.latestAt
}

// Ticks returns how many ticks fired and how many of them were skipped.
func (h *Handle) Ticks() (fired, skipped int64) {
	return h.ticks.Load(), h.skipped.Load()
}
