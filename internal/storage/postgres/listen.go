package postgres

import (
	"context"
	"time"

	"github.com/emaihada/yoonha/internal/storage"
)

const (
	listenRetryMin = 500 * time.Millisecond
	listenRetryMax = 30 * time.Second
)

// listen holds one connection out of the pool on LISTEN and republishes
// every notification to local watchers. The connection is re-established
// with exponential backoff; after a reconnect every collection is published
// because notifications sent while disconnected are lost.
func (s *PostgresStorage) listen(ctx context.Context) {
	defer close(s.done)

	delay := listenRetryMin
	first := true
	for {
		err := s.listenOnce(ctx, !first)
		if ctx.Err() != nil {
			return
		}
		first = false
		s.logger.Warn(ctx, "change listener disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, listenRetryMax)
	}
}

func (s *PostgresStorage) listenOnce(ctx context.Context, resync bool) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	if resync {
		s.changes.Publish(
			storage.Change{Collection: storage.Guestbook},
			storage.Change{Collection: storage.Contents},
			storage.Change{Collection: storage.Comments},
		)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		switch c := storage.Collection(n.Payload); c {
		case storage.Guestbook, storage.Contents, storage.Comments:
			s.changes.Publish(storage.Change{Collection: c})
		default:
			s.logger.Warn(ctx, "ignoring unknown change payload", "payload", n.Payload)
		}
	}
}
