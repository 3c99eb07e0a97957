package session

import (
	"context"
	"testing"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminID  = "admin@yoonha.example"
	password = "correct horse"
)

func testAuthConfig(t *testing.T) config.AuthConfig {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return config.AuthConfig{
		JWTSecret:     "test-secret",
		SessionTTL:    time.Hour,
		Admins:        []config.Admin{{Identifier: adminID, PasswordHash: string(hash)}},
		LoginAttempts: 3,
		LoginWindow:   time.Hour,
	}
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	ctx := context.Background()

	s, err := auth.Authenticate(ctx, adminID, password)
	require.NoError(t, err)
	assert.Equal(t, adminID, s.AdminID)
	assert.NotEmpty(t, s.Token)

	validated, err := auth.Validate(s.Token)
	require.NoError(t, err)
	assert.Equal(t, adminID, validated.AdminID)
	assert.Equal(t, s.ExpiresAt, validated.ExpiresAt)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	ctx := context.Background()

	_, err := auth.Authenticate(ctx, adminID, "wrong")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, "nobody", password)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestAuthenticate_RateLimited(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := auth.Authenticate(ctx, adminID, "wrong")
		require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	}

	_, err := auth.Authenticate(ctx, adminID, password)
	assert.ErrorIs(t, err, apperr.ErrRateLimited, "even the right password is refused")

	_, err = auth.Authenticate(ctx, "other@yoonha.example", "x")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials, "limits are per identifier")
}

func TestValidate_Rejects(t *testing.T) {
	cfg := testAuthConfig(t)
	auth := NewAuthority(cfg)

	_, err := auth.Validate("")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, err = auth.Validate("not-a-jwt")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   adminID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, _ := forged.SignedString([]byte("wrong-key"))
	_, err = auth.Validate(token)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	s, err := auth.Authenticate(context.Background(), adminID, password)
	require.NoError(t, err)
	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = auth.Validate(s.Token)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials, "expired")
}

func TestEndSession(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	s, err := auth.Authenticate(context.Background(), adminID, password)
	require.NoError(t, err)

	require.NoError(t, auth.EndSession(s))
	require.NoError(t, auth.EndSession(s))
	require.NoError(t, auth.EndSession(nil))

	_, err = auth.Validate(s.Token)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	// ending by token alone also works
	s2, err := auth.Authenticate(context.Background(), adminID, password)
	require.NoError(t, err)
	require.NoError(t, auth.EndSession(&Session{Token: s2.Token}))
	_, err = auth.Validate(s2.Token)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func next(t *testing.T, ch <-chan *Session) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no session transition")
		return nil
	}
}

func TestObserver(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	obs := NewObserver(auth)
	ctx := context.Background()

	ch, cancel := obs.Observe()
	defer cancel()
	assert.Nil(t, next(t, ch), "anonymous on subscribe")

	_, err := obs.Login(ctx, adminID, "wrong")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	select {
	case s := <-ch:
		t.Fatalf("failed login must not emit, got %v", s)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Nil(t, obs.Current())

	s, err := obs.Login(ctx, adminID, password)
	require.NoError(t, err)
	assert.Equal(t, s, next(t, ch))
	assert.Equal(t, s, obs.Current())

	require.NoError(t, obs.Logout())
	assert.Nil(t, next(t, ch))
	assert.Nil(t, obs.Current())

	require.NoError(t, obs.Logout(), "logout while anonymous is a no-op")

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestObserver_AdoptAndExpiry(t *testing.T) {
	auth := NewAuthority(testAuthConfig(t))
	issued, err := auth.Authenticate(context.Background(), adminID, password)
	require.NoError(t, err)

	obs := NewObserver(auth)
	_, err = obs.Adopt("garbage")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	s, err := obs.Adopt(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, adminID, s.AdminID)

	ch, cancel := obs.Observe()
	defer cancel()
	assert.Equal(t, s, next(t, ch))

	// ended elsewhere: the observer falls back to anonymous
	require.NoError(t, auth.EndSession(issued))
	assert.Nil(t, obs.Current())
	assert.Nil(t, next(t, ch))
}
