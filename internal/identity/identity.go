// Package identity resolves who is calling. Repositories receive a Provider
// instead of reading a process-wide current user.
package identity

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("no caller identity")

type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Anonymous   bool   `json:"anonymous"`
}

type Provider interface {
	Current(ctx context.Context) (Identity, error)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// ContextProvider returns the identity bound to the request context.
type ContextProvider struct{}

func (ContextProvider) Current(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// Static always returns the same identity.
type Static Identity

func (s Static) Current(context.Context) (Identity, error) {
	if s.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity(s), nil
}
