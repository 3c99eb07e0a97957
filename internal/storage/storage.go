package storage

import (
	"context"

	"github.com/emaihada/yoonha/internal/models"
)

// Collection names a document collection.
type Collection string

const (
	Guestbook Collection = "guestbook"
	Contents  Collection = "contents"
	Comments  Collection = "comments"
)

// Change reports that a committed write touched a collection.
type Change struct {
	Collection Collection
}

// Storage is the entity store. Comment insert/delete and pin toggling are
// dual writes and must be applied all-or-nothing by the implementation.
type Storage interface {
	CreateGuestbookEntry(ctx context.Context, entry *models.GuestbookEntry) error
	DeleteGuestbookEntry(ctx context.Context, id string) error
	ListGuestbook(ctx context.Context) ([]models.GuestbookEntry, error)

	CreateContentItem(ctx context.Context, item *models.ContentItem) error
	GetContentItem(ctx context.Context, id string) (*models.ContentItem, error)
	UpdateContentItem(ctx context.Context, id string, patch models.ContentItemPatch) error
	DeleteContentItem(ctx context.Context, id string) error
	ListContentItems(ctx context.Context, category string) ([]models.ContentItem, error)

	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
	ListCommentsByPosts(ctx context.Context, postIDs []string) (map[string][]models.Comment, error)

	// AddCommentWithCount inserts comment and increments its parent's
	// commentCount. Nothing is written when the parent does not exist.
	AddCommentWithCount(ctx context.Context, comment *models.Comment) error
	// DeleteCommentWithCount deletes the comment and decrements the count of
	// the post it is stored under. A non-empty postID must match that post.
	DeleteCommentWithCount(ctx context.Context, commentID, postID string) error
	// TogglePin unpins itemID when currentlyPinned, otherwise unpins every
	// pinned item in category and pins itemID in the same batch. itemID
	// must belong to category.
	TogglePin(ctx context.Context, itemID, category string, currentlyPinned bool) error

	// Watch streams committed changes until ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)

	Close() error
}
