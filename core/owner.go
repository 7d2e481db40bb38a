package core

import (
	"context"

	"go.uber.org/atomic"
)

// OwnerToken identifies the single execution context allowed to consume a
// mailbox. It is carried in a context.Context instead of relying on a native
// thread handle.
type OwnerToken uint64

// NoOwner is never handed out by NewOwnerToken.
const NoOwner OwnerToken = 0

var lastOwnerToken atomic.Uint64

// NewOwnerToken allocates a fresh, process-unique owner token.
func NewOwnerToken() OwnerToken {
	return OwnerToken(lastOwnerToken.Inc())
}

type ownerKeyType struct{}

var ownerKey ownerKeyType

// WithOwner returns a context that identifies its holder as token.
func WithOwner(ctx context.Context, token OwnerToken) context.Context {
	return context.WithValue(ctx, ownerKey, token)
}

// OwnerFromContext returns the owner token stamped into ctx, or NoOwner.
func OwnerFromContext(ctx context.Context) OwnerToken {
	if ctx == nil {
		return NoOwner
	}
	if v, ok := ctx.Value(ownerKey).(OwnerToken); ok {
		return v
	}
	return NoOwner
}
