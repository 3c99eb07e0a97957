// Package session is the single-role identity service: admins provisioned in
// config log in with a password and receive a signed session token.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Session is an authenticated admin. A nil *Session means anonymous.
type Session struct {
	AdminID   string    `json:"adminId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`

	tokenID string
}

type Claims struct {
	jwt.RegisteredClaims
}

// dummyHash keeps the cost of a login for an unknown identifier equal to
// that of a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type Authority struct {
	admins  map[string][]byte
	secret  []byte
	ttl     time.Duration
	limiter *loginLimiter
	now     func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewAuthority(cfg config.AuthConfig) *Authority {
	admins := make(map[string][]byte, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a.Identifier] = []byte(a.PasswordHash)
	}
	return &Authority{
		admins:  admins,
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.SessionTTL,
		limiter: newLoginLimiter(cfg.LoginAttempts, cfg.LoginWindow),
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// Authenticate checks identifier and secret and issues a session. Failures
// are ErrInvalidCredentials, or ErrRateLimited once the identifier has used
// up its failed attempts for the window.
func (a *Authority) Authenticate(ctx context.Context, identifier, secret string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext("authenticate", err)
	}
	if !a.limiter.allowed(identifier) {
		return nil, apperr.ErrRateLimited
	}

	hash, known := a.admins[identifier]
	if !known {
		hash = dummyHash
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil || !known {
		a.limiter.fail(identifier)
		return nil, apperr.ErrInvalidCredentials
	}
	a.limiter.reset(identifier)

	return a.issue(identifier)
}

func (a *Authority) issue(adminID string) (*Session, error) {
	now := a.now()
	s := &Session{
		AdminID:   adminID,
		ExpiresAt: now.Add(a.ttl).Truncate(time.Second),
		tokenID:   uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			ID:        s.tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	s.Token = signed
	return s, nil
}

// Validate parses token and returns its session. Expired, revoked, forged
// and unknown-admin tokens are ErrInvalidCredentials.
func (a *Authority) Validate(token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", apperr.ErrInvalidCredentials)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrInvalidCredentials)
	}
	if _, ok := a.admins[claims.Subject]; !ok {
		return nil, fmt.Errorf("%w: unknown admin", apperr.ErrInvalidCredentials)
	}

	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: session ended", apperr.ErrInvalidCredentials)
	}

	s := &Session{AdminID: claims.Subject, Token: token, tokenID: claims.ID}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// EndSession revokes s until it would have expired anyway. Ending a nil or
// already ended session is a no-op.
func (a *Authority) EndSession(s *Session) error {
	if s == nil {
		return nil
	}
	id := s.tokenID
	expires := s.ExpiresAt
	if id == "" {
		parsed, err := a.Validate(s.Token)
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidCredentials) {
				return nil
			}
			return err
		}
		id, expires = parsed.tokenID, parsed.ExpiresAt
	}

	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, exp := range a.revoked {
		if exp.Before(now) {
			delete(a.revoked, k)
		}
	}
	a.revoked[id] = expires
	return nil
}
