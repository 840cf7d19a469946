// Package identity resolves the authenticated user behind a connection.
package identity

import (
	"context"
	"strings"

	"github.com/park285/cheese-arena/internal/clock"
)

// DefaultRating is used when a user has no rating in a category.
const DefaultRating = 1200

var ErrUnauthenticated = errf("unauthenticated")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

type User struct {
	ID      string         `json:"id"`
	Name    string         `json:"name,omitempty"`
	Ratings map[string]int `json:"ratings,omitempty"`
}

func (u User) Authenticated() bool { return strings.TrimSpace(u.ID) != "" }

// RatingFor returns the rating for tc's category (bullet, blitz, rapid).
func (u User) RatingFor(tc clock.TimeControl) int {
	if r, ok := u.Ratings[tc.Category()]; ok && r > 0 {
		return r
	}
	return DefaultRating
}

// Provider turns a bearer token into a user or ErrUnauthenticated.
type Provider interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

// Static resolves tokens from a fixed table. With no table the token itself
// is the user id, which is only meant for local development.
type Static struct {
	users map[string]User
}

func NewStatic(users map[string]User) *Static { return &Static{users: users} }

func (s *Static) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrUnauthenticated
	}
	if s == nil || s.users == nil {
		return User{ID: token, Name: token}, nil
	}
	u, ok := s.users[token]
	if !ok || !u.Authenticated() {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}
