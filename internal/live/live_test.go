package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/logging"
	"github.com/emaihada/yoonha/internal/models"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/emaihada/yoonha/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, store storage.Storage) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	hub := NewHub(logging.Discard(), time.Second)
	go hub.Run(ctx, changes)
	t.Cleanup(func() {
		cancel()
		hub.Close()
	})
	return hub
}

// waitFor reads snapshots until ok accepts one.
func waitFor[T any](t *testing.T, sub *Subscription[T], ok func([]T) bool) []T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, open := <-sub.Updates():
			require.True(t, open, "subscription closed")
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func TestListSubscription_SortsPinnedFirst(t *testing.T) {
	store := memory.New()
	hub := startHub(t, store)
	ctx := context.Background()

	sub := Subscribe(hub, ListQuery(store, models.CategoryBlog))
	defer sub.Cancel()

	first := waitFor(t, sub, func([]models.ContentItem) bool { return true })
	assert.Empty(t, first)
	assert.NotNil(t, first)

	old := &models.ContentItem{Category: models.CategoryBlog, Content: "old", CreatedAt: 100}
	mid := &models.ContentItem{Category: models.CategoryBlog, Content: "mid", CreatedAt: 200}
	newest := &models.ContentItem{Category: models.CategoryBlog, Content: "new", CreatedAt: 300}
	other := &models.ContentItem{Category: models.CategoryMemo, Content: "memo", CreatedAt: 400}
	for _, it := range []*models.ContentItem{old, mid, newest, other} {
		require.NoError(t, store.CreateContentItem(ctx, it))
	}
	require.NoError(t, store.TogglePin(ctx, old.ID, models.CategoryBlog, false))

	snap := waitFor(t, sub, func(s []models.ContentItem) bool { return len(s) == 3 && s[0].IsPinned })
	assert.Equal(t, []string{old.ID, newest.ID, mid.ID}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	require.NoError(t, store.DeleteContentItem(ctx, newest.ID))
	snap = waitFor(t, sub, func(s []models.ContentItem) bool { return len(s) == 2 })
	assert.Equal(t, old.ID, snap[0].ID)
	assert.Equal(t, mid.ID, snap[1].ID)
}

func TestThreadSubscription_EmptyThenOne(t *testing.T) {
	store := memory.New()
	hub := startHub(t, store)
	loader := NewThreadLoader(store, time.Millisecond)
	ctx := context.Background()

	post := &models.ContentItem{Category: models.CategoryBlog, Content: "p"}
	require.NoError(t, store.CreateContentItem(ctx, post))

	sub := Subscribe(hub, ThreadQuery(loader, post.ID))
	defer sub.Cancel()

	first := waitFor(t, sub, func([]models.Comment) bool { return true })
	assert.Empty(t, first)

	require.NoError(t, store.AddCommentWithCount(ctx, &models.Comment{PostID: post.ID, Name: "n", Content: "c", CreatedAt: 5}))
	snap := waitFor(t, sub, func(s []models.Comment) bool { return len(s) == 1 })
	assert.Equal(t, post.ID, snap[0].PostID)
}

func TestThreadSubscription_OldestFirst(t *testing.T) {
	store := memory.New()
	hub := startHub(t, store)
	loader := NewThreadLoader(store, time.Millisecond)
	ctx := context.Background()

	post := &models.ContentItem{Category: models.CategoryBlog, Content: "p"}
	require.NoError(t, store.CreateContentItem(ctx, post))
	require.NoError(t, store.AddCommentWithCount(ctx, &models.Comment{PostID: post.ID, Name: "b", Content: "2", CreatedAt: 20}))
	require.NoError(t, store.AddCommentWithCount(ctx, &models.Comment{PostID: post.ID, Name: "a", Content: "1", CreatedAt: 10}))

	sub := Subscribe(hub, ThreadQuery(loader, post.ID))
	defer sub.Cancel()

	snap := waitFor(t, sub, func(s []models.Comment) bool { return len(s) == 2 })
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "b", snap[1].Name)
}

func TestGuestbookSubscription_NewestFirst(t *testing.T) {
	store := memory.New()
	hub := startHub(t, store)
	ctx := context.Background()

	sub := Subscribe(hub, GuestbookQuery(store))
	defer sub.Cancel()

	require.NoError(t, store.CreateGuestbookEntry(ctx, &models.GuestbookEntry{Name: "a", Content: "1", CreatedAt: 1}))
	require.NoError(t, store.CreateGuestbookEntry(ctx, &models.GuestbookEntry{Name: "b", Content: "2", CreatedAt: 2}))

	snap := waitFor(t, sub, func(s []models.GuestbookEntry) bool { return len(s) == 2 })
	assert.Equal(t, "b", snap[0].Name)
}

func TestCancel_IdempotentAndFinal(t *testing.T) {
	store := memory.New()
	hub := startHub(t, store)

	sub := Subscribe(hub, GuestbookQuery(store))
	waitFor(t, sub, func([]models.GuestbookEntry) bool { return true })
	assert.Equal(t, 1, hub.Count(storage.Guestbook))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, hub.Count(storage.Guestbook))

	require.NoError(t, store.CreateGuestbookEntry(context.Background(), &models.GuestbookEntry{Name: "a", Content: "1"}))
	_, open := <-sub.Updates()
	assert.False(t, open, "no delivery after cancel")
	_, open = <-sub.Errors()
	assert.False(t, open)

	// cancelling after the store is gone is still safe
	require.NoError(t, store.Close())
	sub.Cancel()
}

func TestFetchErrorIsReportedAndRetried(t *testing.T) {
	hub := NewHub(logging.Discard(), time.Second)
	defer hub.Close()

	var mu sync.Mutex
	fail := true
	q := Query[int]{
		Collection: storage.Guestbook,
		Fetch: func(ctx context.Context) ([]int, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, apperr.Unavailable("list", errors.New("connection reset"))
			}
			return []int{3, 1, 2}, nil
		},
		Compare: func(a, b int) int { return a - b },
	}

	sub := Subscribe(hub, q)
	defer sub.Cancel()

	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	case <-time.After(time.Second):
		t.Fatal("expected fetch error")
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	hub.Notify(storage.Guestbook)

	snap := waitFor(t, sub, func([]int) bool { return true })
	assert.Equal(t, []int{1, 2, 3}, snap)
}

type countingReader struct {
	mu    sync.Mutex
	calls [][]string
	Reader
}

func (r *countingReader) ListCommentsByPosts(ctx context.Context, postIDs []string) (map[string][]models.Comment, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), postIDs...))
	r.mu.Unlock()

	out := make(map[string][]models.Comment)
	for _, id := range postIDs {
		out[id] = []models.Comment{{ID: "c-" + id, PostID: id}}
	}
	return out, nil
}

func (r *countingReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestThreadLoader_BatchesOneChange(t *testing.T) {
	hub := NewHub(logging.Discard(), time.Second)
	defer hub.Close()
	reader := &countingReader{}
	loader := NewThreadLoader(reader, 50*time.Millisecond)

	s1 := Subscribe(hub, ThreadQuery(loader, "p1"))
	defer s1.Cancel()
	s2 := Subscribe(hub, ThreadQuery(loader, "p2"))
	defer s2.Cancel()

	waitFor(t, s1, func(s []models.Comment) bool { return len(s) == 1 })
	waitFor(t, s2, func(s []models.Comment) bool { return len(s) == 1 })
	before := reader.callCount()

	hub.Notify(storage.Comments)
	waitFor(t, s1, func(s []models.Comment) bool { return len(s) == 1 })
	waitFor(t, s2, func(s []models.Comment) bool { return len(s) == 1 })

	assert.Equal(t, 1, reader.callCount()-before, "one query for both threads")
	reader.mu.Lock()
	assert.ElementsMatch(t, []string{"p1", "p2"}, reader.calls[len(reader.calls)-1])
	reader.mu.Unlock()
}

func TestSnapshot(t *testing.T) {
	rows := []models.ContentItem{
		{ID: "a", CreatedAt: 1},
		{ID: "b", CreatedAt: 3, IsPinned: true},
		{ID: "c", CreatedAt: 2},
		{ID: "d", CreatedAt: 9, Category: "skip"},
	}
	got := Snapshot(rows, func(it models.ContentItem) bool { return it.Category == "" }, ContentOrder)

	ids := make([]string, len(got))
	for i, it := range got {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
	assert.Equal(t, []int{}, Snapshot[int](nil, nil, nil))
}
