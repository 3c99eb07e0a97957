package models

import (
	"testing"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestGuestbookEntry_Validate(t *testing.T) {
	assert.NoError(t, (&GuestbookEntry{Name: "윤하", Content: "hi"}).Validate())
	assert.ErrorIs(t, (&GuestbookEntry{Name: " ", Content: "hi"}).Validate(), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, (&GuestbookEntry{Name: "a"}).Validate(), apperr.ErrInvalidArgument)
}

func TestContentItem_Validate(t *testing.T) {
	assert.NoError(t, (&ContentItem{Category: CategoryBlog, Content: "post"}).Validate())
	assert.EqualError(t, (&ContentItem{Content: "post"}).Validate(), "invalid argument: category is required")
	assert.EqualError(t, (&ContentItem{Category: CategoryMemo}).Validate(), "invalid argument: content is required")
	assert.Error(t, (&ContentItem{Category: CategoryMemo, Content: "x", CommentCount: -1}).Validate())
}

func TestComment_Validate(t *testing.T) {
	assert.NoError(t, (&Comment{PostID: "p1", Name: "n", Content: "c"}).Validate())
	assert.ErrorIs(t, (&Comment{Name: "n", Content: "c"}).Validate(), apperr.ErrInvalidArgument)
}

func TestContentItemPatch(t *testing.T) {
	empty := &ContentItemPatch{}
	assert.ErrorIs(t, empty.Validate(), apperr.ErrInvalidArgument)

	blank := &ContentItemPatch{Content: strPtr("  ")}
	assert.ErrorIs(t, blank.Validate(), apperr.ErrInvalidArgument)

	item := ContentItem{Category: CategoryBlog, Content: "old", Title: strPtr("t")}
	p := &ContentItemPatch{Content: strPtr("new"), ImageURL: strPtr("https://img/1.png")}
	assert.NoError(t, p.Validate())
	p.Apply(&item)

	assert.Equal(t, "new", item.Content)
	assert.Equal(t, "t", *item.Title)
	assert.Equal(t, "https://img/1.png", *item.ImageURL)
	assert.Nil(t, item.Link)
}

func TestContentItemPatch_CopiesValues(t *testing.T) {
	title, link := "title", "https://a"
	item := ContentItem{Category: CategoryBlog, Content: "c"}
	p := &ContentItemPatch{Title: &title, Link: &link}
	p.Apply(&item)

	title, link = "changed", "https://b"
	assert.Equal(t, "title", *item.Title)
	assert.Equal(t, "https://a", *item.Link)

	cp := item.Clone()
	*cp.Title = "other"
	assert.Equal(t, "title", *item.Title)
}
