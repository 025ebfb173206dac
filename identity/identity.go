// Package identity carries the authenticated caller through a request.
// Credentials are verified elsewhere; this package only transports the result.
package identity

import (
	"context"
	"errors"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// ErrMissing signals that no actor was attached to the context.
var ErrMissing = errors.New("identity: no actor in context")

// Actor is an already-authenticated requester or provider.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsRequester() bool { return a.ID != "" && a.Role == RoleRequester }

func (a Actor) IsProvider() bool { return a.ID != "" && a.Role == RoleProvider }

// Valid reports whether the role is one the core understands.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleProvider:
		return true
	default:
		return false
	}
}

type ctxKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// FromContext extracts the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, ErrMissing
	}
	return actor, nil
}
