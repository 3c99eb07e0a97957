package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/models"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/google/uuid"
)

// MemoryStorage keeps every collection in maps guarded by one RWMutex, so
// each dual write is a single critical section. Lists come back in
// insertion order; callers sort.
type MemoryStorage struct {
	guestbook    map[string]*models.GuestbookEntry
	guestOrder   []string
	contents     map[string]*models.ContentItem
	contentOrder []string
	comments     map[string]*models.Comment
	commentOrder []string
	mu           sync.RWMutex

	changes *storage.Broadcaster
}

func New() *MemoryStorage {
	return &MemoryStorage{
		guestbook: make(map[string]*models.GuestbookEntry),
		contents:  make(map[string]*models.ContentItem),
		comments:  make(map[string]*models.Comment),
		changes:   storage.NewBroadcaster(),
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func misfiled(itemID, category string) error {
	return apperr.Invalid("content item %s is not in category %q", itemID, category)
}

func without(order []string, id string) []string {
	return slices.DeleteFunc(order, func(s string) bool { return s == id })
}

func (s *MemoryStorage) publish(cols ...storage.Collection) {
	changes := make([]storage.Change, len(cols))
	for i, c := range cols {
		changes[i] = storage.Change{Collection: c}
	}
	s.changes.Publish(changes...)
}

func (s *MemoryStorage) CreateGuestbookEntry(ctx context.Context, entry *models.GuestbookEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	entry.ID = newID(entry.ID)
	e := *entry
	s.guestbook[e.ID] = &e
	s.guestOrder = append(s.guestOrder, e.ID)
	s.mu.Unlock()

	s.publish(storage.Guestbook)
	return nil
}

func (s *MemoryStorage) DeleteGuestbookEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.guestbook[id]; !ok {
		s.mu.Unlock()
		return apperr.NotFound("guestbook entry", id)
	}
	delete(s.guestbook, id)
	s.guestOrder = without(s.guestOrder, id)
	s.mu.Unlock()

	s.publish(storage.Guestbook)
	return nil
}

func (s *MemoryStorage) ListGuestbook(ctx context.Context) ([]models.GuestbookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.GuestbookEntry, 0, len(s.guestOrder))
	for _, id := range s.guestOrder {
		entries = append(entries, *s.guestbook[id])
	}
	return entries, nil
}

func (s *MemoryStorage) CreateContentItem(ctx context.Context, item *models.ContentItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	item.ID = newID(item.ID)
	it := item.Clone()
	s.contents[it.ID] = &it
	s.contentOrder = append(s.contentOrder, it.ID)
	s.mu.Unlock()

	s.publish(storage.Contents)
	return nil
}

func (s *MemoryStorage) GetContentItem(ctx context.Context, id string) (*models.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.contents[id]
	if !ok {
		return nil, apperr.NotFound("content item", id)
	}
	it := item.Clone()
	return &it, nil
}

func (s *MemoryStorage) UpdateContentItem(ctx context.Context, id string, patch models.ContentItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	item, ok := s.contents[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("content item", id)
	}
	patch.Apply(item)
	s.mu.Unlock()

	s.publish(storage.Contents)
	return nil
}

// DeleteContentItem leaves the item's comments in place.
func (s *MemoryStorage) DeleteContentItem(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.contents[id]; !ok {
		s.mu.Unlock()
		return apperr.NotFound("content item", id)
	}
	delete(s.contents, id)
	s.contentOrder = without(s.contentOrder, id)
	s.mu.Unlock()

	s.publish(storage.Contents)
	return nil
}

func (s *MemoryStorage) ListContentItems(ctx context.Context, category string) ([]models.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.ContentItem
	for _, id := range s.contentOrder {
		if it := s.contents[id]; it.Category == category {
			items = append(items, it.Clone())
		}
	}
	return items, nil
}

func (s *MemoryStorage) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	byPost, err := s.ListCommentsByPosts(ctx, []string{postID})
	if err != nil {
		return nil, err
	}
	return byPost[postID], nil
}

func (s *MemoryStorage) ListCommentsByPosts(ctx context.Context, postIDs []string) (map[string][]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(postIDs))
	for _, id := range postIDs {
		want[id] = struct{}{}
	}

	result := make(map[string][]models.Comment, len(postIDs))
	for _, id := range s.commentOrder {
		c := s.comments[id]
		if _, ok := want[c.PostID]; ok {
			result[c.PostID] = append(result[c.PostID], *c)
		}
	}
	return result, nil
}

func (s *MemoryStorage) AddCommentWithCount(ctx context.Context, comment *models.Comment) error {
	if err := comment.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	post, ok := s.contents[comment.PostID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("content item", comment.PostID)
	}
	comment.ID = newID(comment.ID)
	c := *comment
	s.comments[c.ID] = &c
	s.commentOrder = append(s.commentOrder, c.ID)
	post.CommentCount++
	s.mu.Unlock()

	s.publish(storage.Comments, storage.Contents)
	return nil
}

func (s *MemoryStorage) DeleteCommentWithCount(ctx context.Context, commentID, postID string) error {
	s.mu.Lock()
	c, ok := s.comments[commentID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("comment", commentID)
	}
	if postID != "" && postID != c.PostID {
		s.mu.Unlock()
		return apperr.Invalid("comment %q belongs to post %q, not %q", commentID, c.PostID, postID)
	}
	delete(s.comments, commentID)
	s.commentOrder = without(s.commentOrder, commentID)
	if post, ok := s.contents[c.PostID]; ok && post.CommentCount > 0 {
		post.CommentCount--
	}
	s.mu.Unlock()

	s.publish(storage.Comments, storage.Contents)
	return nil
}

func (s *MemoryStorage) TogglePin(ctx context.Context, itemID, category string, currentlyPinned bool) error {
	s.mu.Lock()
	item, ok := s.contents[itemID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("content item", itemID)
	}
	if item.Category != category {
		s.mu.Unlock()
		return misfiled(itemID, category)
	}

	if currentlyPinned {
		item.IsPinned = false
	} else {
		for _, it := range s.contents {
			if it.Category == category && it.IsPinned {
				it.IsPinned = false
			}
		}
		item.IsPinned = true
	}
	s.mu.Unlock()

	s.publish(storage.Contents)
	return nil
}

func (s *MemoryStorage) Watch(ctx context.Context) (<-chan storage.Change, error) {
	return s.changes.Watch(ctx), nil
}

// Close drops all data and stops every watcher.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.guestbook = make(map[string]*models.GuestbookEntry)
	s.contents = make(map[string]*models.ContentItem)
	s.comments = make(map[string]*models.Comment)
	s.guestOrder, s.contentOrder, s.commentOrder = nil, nil, nil
	s.mu.Unlock()

	s.changes.Close()
	return nil
}
