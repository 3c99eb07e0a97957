package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"not found", NotFound("comment", "c1"), CodeNotFound},
		{"invalid", Invalid("name is required"), CodeInvalidArgument},
		{"credentials", fmt.Errorf("login: %w", ErrInvalidCredentials), CodeInvalidCredentials},
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"permission", ErrPermissionDenied, CodePermissionDenied},
		{"unavailable", Unavailable("list", errors.New("conn reset")), CodeUnavailable},
		{"other", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("content item", "p1")
	assert.Equal(t, `content item "p1": not found`, err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, FromContext("op", nil))

	err := FromContext("add comment", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	plain := errors.New("boom")
	assert.Same(t, plain, FromContext("op", plain))

	already := Unavailable("op", context.Canceled)
	assert.Same(t, already, FromContext("op", already))
}
