package models

import (
	"strings"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
)

// Categories used by the homepage sections. Any non-empty category is
// accepted by the store; these are the ones the site renders.
const (
	CategoryManualDo   = "manual_do"
	CategoryManualDont = "manual_dont"
	CategoryTaste      = "taste"
	CategoryWishlist   = "wishlist"
	CategoryCulture    = "culture"
	CategoryBlog       = "blog"
	CategoryMemo       = "memo"
)

// GuestbookNameLimit is the display convention for guestbook names. It is
// not enforced by the store.
const GuestbookNameLimit = 10

type GuestbookEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

type ContentItem struct {
	ID           string  `json:"id"`
	Category     string  `json:"category"`
	Title        *string `json:"title,omitempty"`
	Content      string  `json:"content"`
	Link         *string `json:"link,omitempty"`
	ImageURL     *string `json:"imageUrl,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	CommentCount int     `json:"commentCount"`
	IsPinned     bool    `json:"isPinned"`
}

// ContentItemPatch is a partial update. Nil fields are left untouched.
type ContentItemPatch struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Link     *string `json:"link,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// NowMillis is the clock used for createdAt. Tests replace it.
var NowMillis = func() int64 { return time.Now().UnixMilli() }

func (e *GuestbookEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if strings.TrimSpace(e.Content) == "" {
		return apperr.Invalid("content is required")
	}
	return nil
}

func (c *ContentItem) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return apperr.Invalid("category is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		return apperr.Invalid("content is required")
	}
	if c.CommentCount < 0 {
		return apperr.Invalid("commentCount must not be negative")
	}
	return nil
}

func (p *ContentItemPatch) Validate() error {
	if p.Title == nil && p.Content == nil && p.Link == nil && p.ImageURL == nil {
		return apperr.Invalid("patch has no fields")
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return apperr.Invalid("content must not be empty")
	}
	return nil
}

// Apply copies the set fields of p onto item.
func (p *ContentItemPatch) Apply(item *ContentItem) {
	if p.Title != nil {
		item.Title = clone(p.Title)
	}
	if p.Content != nil {
		item.Content = *p.Content
	}
	if p.Link != nil {
		item.Link = clone(p.Link)
	}
	if p.ImageURL != nil {
		item.ImageURL = clone(p.ImageURL)
	}
}

// Clone returns a copy of item that shares no pointers with it.
func (item ContentItem) Clone() ContentItem {
	item.Title = clone(item.Title)
	item.Link = clone(item.Link)
	item.ImageURL = clone(item.ImageURL)
	return item
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (c *Comment) Validate() error {
	if strings.TrimSpace(c.PostID) == "" {
		return apperr.Invalid("postId is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		return apperr.Invalid("content is required")
	}
	return nil
}
