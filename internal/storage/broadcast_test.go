package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w1 := b.Watch(ctx)
	w2 := b.Watch(ctx)

	b.Publish(Change{Collection: Comments})

	assert.Equal(t, Comments, recv(t, w1).Collection)
	assert.Equal(t, Comments, recv(t, w2).Collection)
}

func TestBroadcaster_CoalescesSlowWatcher(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := b.Watch(ctx)
	for i := 0; i < 100; i++ {
		b.Publish(Change{Collection: Contents}, Change{Collection: Comments})
	}
	b.Publish(Change{Collection: Guestbook})

	seen := map[Collection]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case c := <-w:
			seen[c.Collection] = true
		case <-deadline:
			t.Fatalf("missing collections, saw %v", seen)
		}
	}
}

func TestBroadcaster_CancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	w := b.Watch(ctx)
	cancel()

	select {
	case _, ok := <-w:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	w := b.Watch(context.Background())

	b.Close()
	b.Close()

	select {
	case _, ok := <-w:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	_, ok := <-b.Watch(context.Background())
	assert.False(t, ok)
}
