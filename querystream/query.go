package querystream

import (
	"context"
)

// ListenerToken is a type alias for string, an opaque handle identifying one listener registration.
type ListenerToken = string

// ChangeListener receives one QueryChange per change notification.
//
// A collaborator must invoke the callbacks of a single registration
// sequentially, in notification order. Different registrations are
// independent and carry no ordering guarantee relative to each other.
type ChangeListener func(change QueryChange)

// Query is the collaborator port for a live query: an external query engine
// that executes on demand and pushes fresh results to registered listeners.
//
// It is built on scalars and small interfaces to be completely agnostic of
// the engine implementation. Both engines in this module implement it, and
// client code can supply its own implementation to bridge any other
// callback-based query API.
type Query interface {
	// Execute starts or refreshes the query. Listeners registered at the
	// time of the call receive the resulting change notification.
	Execute(ctx context.Context) error

	// AddChangeListener registers a callback for change notifications and
	// returns a token for later removal.
	AddChangeListener(listener ChangeListener) (ListenerToken, error)

	// RemoveChangeListener deregisters the listener identified by token.
	// Removing an unknown token is a no-op.
	RemoveChangeListener(token ListenerToken) error
}
