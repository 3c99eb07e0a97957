package live

import (
	"context"
	"slices"
	"sync"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/storage"
)

// Query describes a live view: which collection wakes it, how to read the
// rows, and the client-side filter and order applied to every read.
type Query[T any] struct {
	Collection storage.Collection
	Fetch      func(ctx context.Context) ([]T, error)
	// Filter keeps rows for which it returns true. Nil keeps everything.
	Filter func(T) bool
	// Compare orders the snapshot. Nil keeps the store order.
	Compare func(a, b T) int
}

// Subscription delivers the complete, filtered and sorted result of its
// query on start and after every change to the query's collection. Only the
// newest undelivered snapshot is buffered.
type Subscription[T any] struct {
	query   Query[T]
	hub     *Hub
	id      uint64
	ctx     context.Context
	stop    context.CancelFunc
	trigger chan struct{}

	mu        sync.Mutex
	closed    bool
	snapshots chan []T
	errs      chan error
	once      sync.Once
}

// Subscribe registers q with the hub and starts delivering snapshots. The
// returned subscription must be cancelled by the caller.
func Subscribe[T any](h *Hub, q Query[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(h.ctx)
	s := &Subscription[T]{
		query:     q,
		hub:       h,
		ctx:       ctx,
		stop:      cancel,
		trigger:   make(chan struct{}, 1),
		snapshots: make(chan []T, 1),
		errs:      make(chan error, 1),
	}
	s.id = h.register(q.Collection, s)
	s.wake()
	go s.run()
	return s
}

// Updates is closed by Cancel.
func (s *Subscription[T]) Updates() <-chan []T { return s.snapshots }

// Errors carries fetch failures. The subscription stays registered and
// retries on the next change. Closed by Cancel.
func (s *Subscription[T]) Errors() <-chan error { return s.errs }

// Cancel stops delivery. It is idempotent and nothing is delivered after it
// returns; a snapshot that was buffered but not yet read is discarded.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.hub.unregister(s.query.Collection, s.id)
		s.stop()

		s.mu.Lock()
		s.closed = true
		drain(s.snapshots)
		drain(s.errs)
		close(s.snapshots)
		close(s.errs)
		s.mu.Unlock()
	})
}

func (s *Subscription[T]) wake() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.trigger:
		}
		s.refresh()
	}
}

func (s *Subscription[T]) refresh() {
	ctx, cancel := s.hub.fetchContext(s.ctx)
	rows, err := s.query.Fetch(ctx)
	cancel()
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.hub.logger.Warn(s.ctx, "live query fetch failed", "collection", s.query.Collection, "error", err)
		s.deliverErr(apperr.FromContext("live query", err))
		return
	}
	s.deliver(Snapshot(rows, s.query.Filter, s.query.Compare))
}

func (s *Subscription[T]) deliver(rows []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	drain(s.snapshots)
	s.snapshots <- rows
}

func (s *Subscription[T]) deliverErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	drain(s.errs)
	s.errs <- err
}

func drain[V any](ch chan V) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Snapshot filters rows and sorts them stably. The result is never nil so an
// empty view serializes as [].
func Snapshot[T any](rows []T, filter func(T) bool, compare func(a, b T) int) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if filter == nil || filter(r) {
			out = append(out, r)
		}
	}
	if compare != nil {
		slices.SortStableFunc(out, compare)
	}
	return out
}
