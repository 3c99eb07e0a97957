package live

import (
	"cmp"

	"github.com/emaihada/yoonha/internal/models"
)

// ContentOrder puts the pinned item first, then newest first.
func ContentOrder(a, b models.ContentItem) int {
	if a.IsPinned != b.IsPinned {
		if a.IsPinned {
			return -1
		}
		return 1
	}
	return cmp.Compare(b.CreatedAt, a.CreatedAt)
}

// CommentOrder is oldest first.
func CommentOrder(a, b models.Comment) int {
	return cmp.Compare(a.CreatedAt, b.CreatedAt)
}

// GuestbookOrder is newest first.
func GuestbookOrder(a, b models.GuestbookEntry) int {
	return cmp.Compare(b.CreatedAt, a.CreatedAt)
}
