package credstore

import (
	"context"
	"errors"
)

// Names under which the two tokens are persisted.
const (
	KeyAccess  = "token"
	KeyRefresh = "refreshToken"
)

// ErrNotFound is returned by Load when no complete pair is stored.
var ErrNotFound = errors.New("credentials not found")

// Pair is the access/refresh token pair issued by the backend.
type Pair struct {
	Access  string `json:"token"`
	Refresh string `json:"refreshToken"`
}

// Complete reports whether both members are set.
func (p Pair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// Store persists a single Pair.
type Store interface {
	Save(ctx context.Context, p Pair) error
	Load(ctx context.Context) (Pair, error)
	Clear(ctx context.Context) error
}

// fromValues builds a Pair from two possibly missing values, failing closed
// on a partial pair.
func fromValues(access, refresh string) (Pair, error) {
	p := Pair{Access: access, Refresh: refresh}
	if !p.Complete() {
		return Pair{}, ErrNotFound
	}
	return p, nil
}
