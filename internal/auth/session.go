// Package auth holds the signed-in user's bearer token. Signature checks are
// the server's job; the client only reads the subject and expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSignedOut      = errors.New("not signed in")
	ErrSessionExpired = errors.New("session expired, sign in again")
	ErrMissingUserID  = errors.New("token missing user id")
)

// Result is the outcome of a sign-in handed over by the auth screens.
type Result struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (r Result) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ParseToken reads the claims of a bearer token without verifying its signature.
func ParseToken(raw string) (Result, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Result{}, ErrSignedOut
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Result{}, fmt.Errorf("parse token: %w", err)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	if userID == "" {
		return Result{}, ErrMissingUserID
	}

	result := Result{Token: raw, UserID: userID}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return Result{}, fmt.Errorf("parse token expiry: %w", err)
	}
	if expiresAt != nil {
		result.ExpiresAt = expiresAt.Time
	}
	return result, nil
}

// Session implements ports.TokenSource for the current user.
type Session struct {
	mu      sync.RWMutex
	current Result
	now     func() time.Time
}

func NewSession(now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{now: now}
}

// SignIn replaces the current token.
func (s *Session) SignIn(raw string) (Result, error) {
	result, err := ParseToken(raw)
	if err != nil {
		return Result{}, err
	}
	if result.Expired(s.now()) {
		return Result{}, ErrSessionExpired
	}
	s.mu.Lock()
	s.current = result
	s.mu.Unlock()
	return result, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.current = Result{}
	s.mu.Unlock()
}

// Current returns the signed-in result, if any.
func (s *Session) Current() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Token != ""
}

func (s *Session) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.Token == "" {
		return "", ErrSignedOut
	}
	if s.current.Expired(s.now()) {
		return "", ErrSessionExpired
	}
	return s.current.Token, nil
}
