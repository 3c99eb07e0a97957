// Package live keeps push-based views of store collections. Every change to
// a collection re-reads each view watching it and delivers the whole result
// again; views never receive diffs.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/emaihada/yoonha/internal/logging"
	"github.com/emaihada/yoonha/internal/storage"
)

type waker interface {
	wake()
}

// Hub routes store changes to the subscriptions of the touched collection.
type Hub struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       logging.Logger
	fetchTimeout time.Duration

	mu   sync.Mutex
	next uint64
	subs map[storage.Collection]map[uint64]waker
}

func NewHub(logger logging.Logger, fetchTimeout time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "live"),
		fetchTimeout: fetchTimeout,
		subs:         make(map[storage.Collection]map[uint64]waker),
	}
}

// Run consumes changes until the channel closes or ctx is done.
func (h *Hub) Run(ctx context.Context, changes <-chan storage.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				h.logger.Info(ctx, "change feed closed")
				return
			}
			h.Notify(c.Collection)
		}
	}
}

// Notify wakes every subscription watching c.
func (h *Hub) Notify(c storage.Collection) {
	h.mu.Lock()
	subs := make([]waker, 0, len(h.subs[c]))
	for _, s := range h.subs[c] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.wake()
	}
}

// Count reports the number of live subscriptions on c.
func (h *Hub) Count(c storage.Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[c])
}

// Close stops every subscription's refresh loop. Subscriptions still need
// Cancel to release their channels.
func (h *Hub) Close() {
	h.cancel()
}

func (h *Hub) register(c storage.Collection, w waker) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	if h.subs[c] == nil {
		h.subs[c] = make(map[uint64]waker)
	}
	h.subs[c][h.next] = w
	return h.next
}

func (h *Hub) unregister(c storage.Collection, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[c], id)
	if len(h.subs[c]) == 0 {
		delete(h.subs, c)
	}
}

func (h *Hub) fetchContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.fetchTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, h.fetchTimeout)
}
