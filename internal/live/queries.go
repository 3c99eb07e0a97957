package live

import (
	"context"
	"time"

	"github.com/emaihada/yoonha/internal/models"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/graph-gophers/dataloader/v7"
)

// Reader is the read side of the store used by live views.
type Reader interface {
	ListGuestbook(ctx context.Context) ([]models.GuestbookEntry, error)
	ListContentItems(ctx context.Context, category string) ([]models.ContentItem, error)
	ListCommentsByPosts(ctx context.Context, postIDs []string) (map[string][]models.Comment, error)
}

func ListQuery(r Reader, category string) Query[models.ContentItem] {
	return Query[models.ContentItem]{
		Collection: storage.Contents,
		Fetch: func(ctx context.Context) ([]models.ContentItem, error) {
			return r.ListContentItems(ctx, category)
		},
		Filter:  func(it models.ContentItem) bool { return it.Category == category },
		Compare: ContentOrder,
	}
}

func GuestbookQuery(r Reader) Query[models.GuestbookEntry] {
	return Query[models.GuestbookEntry]{
		Collection: storage.Guestbook,
		Fetch:      r.ListGuestbook,
		Compare:    GuestbookOrder,
	}
}

func ThreadQuery(l *ThreadLoader, postID string) Query[models.Comment] {
	return Query[models.Comment]{
		Collection: storage.Comments,
		Fetch: func(ctx context.Context) ([]models.Comment, error) {
			return l.Load(ctx, postID)
		},
		Filter:  func(c models.Comment) bool { return c.PostID == postID },
		Compare: CommentOrder,
	}
}

// ThreadLoader batches the comment reads of all thread views woken by the
// same change into one ListCommentsByPosts call. Nothing is cached between
// batches, so a read issued after a committed write always sees it.
type ThreadLoader struct {
	reader Reader
	loader *dataloader.Loader[string, []models.Comment]
}

func NewThreadLoader(r Reader, wait time.Duration) *ThreadLoader {
	l := &ThreadLoader{reader: r}
	l.loader = dataloader.NewBatchedLoader(l.batch,
		dataloader.WithWait[string, []models.Comment](wait),
		dataloader.WithCache[string, []models.Comment](&dataloader.NoCache[string, []models.Comment]{}),
	)
	return l
}

func (l *ThreadLoader) Load(ctx context.Context, postID string) ([]models.Comment, error) {
	return l.loader.Load(ctx, postID)()
}

func (l *ThreadLoader) batch(ctx context.Context, postIDs []string) []*dataloader.Result[[]models.Comment] {
	// the batch serves several views; one of them going away must not fail
	// the others
	deadline, hasDeadline := ctx.Deadline()
	ctx = context.WithoutCancel(ctx)
	if hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	results := make([]*dataloader.Result[[]models.Comment], len(postIDs))
	byPost, err := l.reader.ListCommentsByPosts(ctx, postIDs)
	if err != nil {
		for i := range results {
			results[i] = &dataloader.Result[[]models.Comment]{Error: err}
		}
		return results
	}
	for i, id := range postIDs {
		results[i] = &dataloader.Result[[]models.Comment]{Data: byPost[id]}
	}
	return results
}
