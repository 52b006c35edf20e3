package thingsboard

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/tbdash/internal/credstore"
)

// Session holds the active credential pair. The pair is always read and
// replaced as a whole under the lock.
type Session struct {
	mu   sync.RWMutex
	pair credstore.Pair
}

// Pair returns a copy of the current pair.
func (s *Session) Pair() credstore.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Access returns the current access token, or "".
func (s *Session) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access
}

// HasRefresh reports whether a refresh token is held.
func (s *Session) HasRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh != ""
}

// Set replaces the pair.
func (s *Session) Set(p credstore.Pair) {
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
}

// Clear drops the pair.
func (s *Session) Clear() {
	s.Set(credstore.Pair{})
}

// Claims is what tbdash reads from a ThingsBoard access JWT.
type Claims struct {
	Subject    string    `json:"sub"`
	UserID     string    `json:"userId"`
	TenantID   string    `json:"tenantId"`
	CustomerID string    `json:"customerId"`
	Scopes     []string  `json:"scopes"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type tbClaims struct {
	jwt.RegisteredClaims
	UserID     string   `json:"userId"`
	TenantID   string   `json:"tenantId"`
	CustomerID string   `json:"customerId"`
	Scopes     []string `json:"scopes"`
}

// ParseClaims decodes the access token payload without verifying the
// signature. The backend is the only party that can verify it; the result
// is for display and expiry hints only.
func ParseClaims(token string) (*Claims, error) {
	var c tbClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, &ValidationError{Field: "token", Message: err.Error()}
	}
	out := &Claims{
		Subject:    c.Subject,
		UserID:     c.UserID,
		TenantID:   c.TenantID,
		CustomerID: c.CustomerID,
		Scopes:     c.Scopes,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
