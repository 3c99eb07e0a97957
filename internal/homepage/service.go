// Package homepage is the set of operations the site UI calls: live views of
// the content lists, comment threads and guestbook, the writes behind them,
// and admin login. Admin-only operations are checked here against the
// session carried by the request context.
package homepage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/live"
	"github.com/emaihada/yoonha/internal/logging"
	"github.com/emaihada/yoonha/internal/models"
	"github.com/emaihada/yoonha/internal/session"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/emaihada/yoonha/internal/uploads"
)

// Uploader presigns image uploads. A nil Uploader disables uploads.
type Uploader interface {
	ImageUploadURL(ctx context.Context, contentType string) (*uploads.Upload, error)
}

type Service struct {
	store    storage.Storage
	hub      *live.Hub
	threads  *live.ThreadLoader
	auth     *session.Authority
	uploader Uploader
	timeout  time.Duration
	logger   logging.Logger
}

type Options struct {
	Store    storage.Storage
	Hub      *live.Hub
	Threads  *live.ThreadLoader
	Auth     *session.Authority
	Uploader Uploader
	// Timeout bounds every store call. Zero means no bound.
	Timeout time.Duration
	Logger  logging.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    opts.Store,
		hub:      opts.Hub,
		threads:  opts.Threads,
		auth:     opts.Auth,
		uploader: opts.Uploader,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "homepage"),
	}
}

// NewContentItem holds the caller-settable fields of a content item.
type NewContentItem struct {
	Category string  `json:"category"`
	Title    *string `json:"title,omitempty"`
	Content  string  `json:"content"`
	Link     *string `json:"link,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

func (s *Service) SubscribeToList(category string) (*live.Subscription[models.ContentItem], error) {
	if strings.TrimSpace(category) == "" {
		return nil, apperr.Invalid("category is required")
	}
	return live.Subscribe(s.hub, live.ListQuery(s.store, category)), nil
}

func (s *Service) SubscribeToThread(postID string) (*live.Subscription[models.Comment], error) {
	if strings.TrimSpace(postID) == "" {
		return nil, apperr.Invalid("postId is required")
	}
	return live.Subscribe(s.hub, live.ThreadQuery(s.threads, postID)), nil
}

func (s *Service) SubscribeToGuestbook() *live.Subscription[models.GuestbookEntry] {
	return live.Subscribe(s.hub, live.GuestbookQuery(s.store))
}

// ListContentItems is the one-shot form of SubscribeToList.
func (s *Service) ListContentItems(ctx context.Context, category string) ([]models.ContentItem, error) {
	if strings.TrimSpace(category) == "" {
		return nil, apperr.Invalid("category is required")
	}
	return fetchOnce(s, ctx, "list content items", live.ListQuery(s.store, category))
}

func (s *Service) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, apperr.Invalid("postId is required")
	}
	return fetchOnce(s, ctx, "list comments", live.ThreadQuery(s.threads, postID))
}

func (s *Service) ListGuestbook(ctx context.Context) ([]models.GuestbookEntry, error) {
	return fetchOnce(s, ctx, "list guestbook", live.GuestbookQuery(s.store))
}

func fetchOnce[T any](s *Service, ctx context.Context, op string, q live.Query[T]) ([]T, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := q.Fetch(ctx)
	if err != nil {
		return nil, apperr.FromContext(op, err)
	}
	return live.Snapshot(rows, q.Filter, q.Compare), nil
}

func (s *Service) AddContentItem(ctx context.Context, in NewContentItem) (*models.ContentItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	item := &models.ContentItem{
		Category:  strings.TrimSpace(in.Category),
		Title:     in.Title,
		Content:   in.Content,
		Link:      in.Link,
		ImageURL:  in.ImageURL,
		CreatedAt: models.NowMillis(),
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	err := s.do(ctx, "add content item", func(ctx context.Context) error {
		return s.store.CreateContentItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "content item added", "id", item.ID, "category", item.Category)
	return item, nil
}

func (s *Service) UpdateContentItem(ctx context.Context, id string, patch models.ContentItemPatch) (*models.ContentItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var item *models.ContentItem
	err := s.do(ctx, "update content item", func(ctx context.Context) error {
		if err := s.store.UpdateContentItem(ctx, id, patch); err != nil {
			return err
		}
		var err error
		item, err = s.store.GetContentItem(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "content item updated", "id", id)
	return item, nil
}

// DeleteContentItem removes the item only. Its comments stay in the store.
func (s *Service) DeleteContentItem(ctx context.Context, id string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.do(ctx, "delete content item", func(ctx context.Context) error {
		return s.store.DeleteContentItem(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "content item deleted", "id", id)
	return nil
}

// TogglePin pins or unpins id. An empty category is taken from the stored
// item; a category that disagrees with the stored one is rejected so the
// pin of another category is never cleared.
func (s *Service) TogglePin(ctx context.Context, id, category string, currentlyPinned bool) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.do(ctx, "toggle pin", func(ctx context.Context) error {
		item, err := s.store.GetContentItem(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case category == "":
			category = item.Category
		case category != item.Category:
			return apperr.Invalid("item %q is in category %q, not %q", id, item.Category, category)
		}
		return s.store.TogglePin(ctx, id, category, currentlyPinned)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "pin toggled", "id", id, "category", category, "pinned", !currentlyPinned)
	return nil
}

func (s *Service) AddComment(ctx context.Context, postID, name, content string) (*models.Comment, error) {
	c := &models.Comment{
		PostID:    postID,
		Name:      strings.TrimSpace(name),
		Content:   content,
		CreatedAt: models.NowMillis(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	err := s.do(ctx, "add comment", func(ctx context.Context) error {
		return s.store.AddCommentWithCount(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, id, postID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.do(ctx, "delete comment", func(ctx context.Context) error {
		return s.store.DeleteCommentWithCount(ctx, id, postID)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "comment deleted", "id", id, "post_id", postID)
	return nil
}

func (s *Service) AddGuestbookEntry(ctx context.Context, name, content string) (*models.GuestbookEntry, error) {
	e := &models.GuestbookEntry{
		Name:      strings.TrimSpace(name),
		Content:   content,
		CreatedAt: models.NowMillis(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	err := s.do(ctx, "add guestbook entry", func(ctx context.Context) error {
		return s.store.CreateGuestbookEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) DeleteGuestbookEntry(ctx context.Context, id string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.do(ctx, "delete guestbook entry", func(ctx context.Context) error {
		return s.store.DeleteGuestbookEntry(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "guestbook entry deleted", "id", id)
	return nil
}

func (s *Service) ImageUploadURL(ctx context.Context, contentType string) (*uploads.Upload, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("%w: uploads are not configured", apperr.ErrUnavailable)
	}

	var up *uploads.Upload
	err := s.do(ctx, "image upload url", func(ctx context.Context) error {
		var err error
		up, err = s.uploader.ImageUploadURL(ctx, contentType)
		return err
	})
	return up, err
}

// Login authenticates an admin outside of any connection, e.g. for the HTTP
// API. Connections use an Observer instead.
func (s *Service) Login(ctx context.Context, identifier, secret string) (*session.Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	sess, err := s.auth.Authenticate(ctx, identifier, secret)
	if err != nil {
		s.logger.Warn(ctx, "login failed", "identifier", identifier, "code", apperr.CodeOf(err))
		return nil, err
	}
	s.logger.Info(ctx, "admin logged in", "identifier", identifier)
	return sess, nil
}

// Logout ends the session carried by ctx. Anonymous callers are a no-op.
func (s *Service) Logout(ctx context.Context) error {
	return s.auth.EndSession(session.FromContext(ctx))
}

// Authenticate resolves a bearer token for the transport.
func (s *Service) Authenticate(token string) (*session.Session, error) {
	return s.auth.Validate(token)
}

func (s *Service) NewObserver() *session.Observer {
	return session.NewObserver(s.auth)
}

// requireAdmin re-validates the session in ctx so that sessions ended or
// expired after the request began are refused.
func (s *Service) requireAdmin(ctx context.Context) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return fmt.Errorf("%w: admin session required", apperr.ErrPermissionDenied)
	}
	if _, err := s.auth.Validate(sess.Token); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrPermissionDenied, err)
	}
	return nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil && apperr.CodeOf(err) == apperr.CodeInternal {
			return apperr.Unavailable(op, err)
		}
		return apperr.FromContext(op, err)
	}
	return nil
}
