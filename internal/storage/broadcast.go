package storage

import (
	"context"
	"sync"
)

// Broadcaster fans changes out to every active watcher. Publish never
// blocks: pending changes of a slow watcher are coalesced per collection,
// which loses nothing because a change only says "re-read this collection".
type Broadcaster struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

type watcher struct {
	mu      sync.Mutex
	pending map[Collection]struct{}
	order   []Collection
	wake    chan struct{}
	stop    context.CancelFunc
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{watchers: make(map[*watcher]struct{})}
}

// Watch registers a watcher. Its channel is closed when ctx is done or the
// broadcaster is closed.
func (b *Broadcaster) Watch(ctx context.Context) <-chan Change {
	out := make(chan Change)
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		pending: make(map[Collection]struct{}),
		wake:    make(chan struct{}, 1),
		stop:    cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(out)
		return out
	}
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.watchers, w)
			b.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
			for _, c := range w.drain() {
				select {
				case out <- Change{Collection: c}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (w *watcher) add(c Collection) {
	w.mu.Lock()
	if _, ok := w.pending[c]; !ok {
		w.pending[c] = struct{}{}
		w.order = append(w.order, c)
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []Collection {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.order
	w.order = nil
	w.pending = make(map[Collection]struct{})
	return out
}

func (b *Broadcaster) Publish(changes ...Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for w := range b.watchers {
		for _, c := range changes {
			w.add(c.Collection)
		}
	}
}

// Close stops every watcher; later Watch calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ws := make([]*watcher, 0, len(b.watchers))
	for w := range b.watchers {
		ws = append(ws, w)
	}
	b.mu.Unlock()

	for _, w := range ws {
		w.stop()
	}
}
