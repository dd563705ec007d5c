// Package auth supplies the current authenticated user identity. The real
// identity platform is an external collaborator; this package defines the
// contract the sync core consumes and two small implementations.
package auth

import (
	"context"
	"errors"
)

// ErrNotAuthenticated indicates no signed-in user. Check-in treats this as a
// hard precondition failure, never a queueable condition.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// Provider yields the current authenticated user.
type Provider interface {
	// CurrentUser returns the signed-in user's stable identifier, or
	// ErrNotAuthenticated.
	CurrentUser(ctx context.Context) (string, error)
}

// Static is a fixed-identity provider for tests and single-user CLI use.
// An empty ID means signed out.
type Static struct {
	ID string
}

func (s Static) CurrentUser(ctx context.Context) (string, error) {
	if s.ID == "" {
		return "", ErrNotAuthenticated
	}
	return s.ID, nil
}
