package querystream

import "context"

// ConsistencyLevel defines the consistency requirements for live query executions.
type ConsistencyLevel int

const (
	// StrongConsistency requires reads from the primary database so a fresh
	// change reflects every committed write. This is the default for live
	// queries, a change notification that lags the write it was triggered by
	// is confusing to consumers.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency allows reads from replica databases, trading
	// consistency for performance. Suitable for dashboards and feeds that
	// can tolerate slightly stale rows in exchange for a reduced load on
	// the primary database.
	EventualConsistency
)

// contextKey is a private type to prevent context key collisions.
type contextKey string

// ConsistencyLevelKey is the context key used to store consistency level preferences.
const ConsistencyLevelKey contextKey = "querystream.consistency_level"

// WithStrongConsistency returns a context that signals live query executions
// should use the primary database for strong consistency guarantees.
//
// The level is captured when the query is executed and applies to every
// re-execution the engine performs for that subscription.
//
// Example usage:
//
//	ctx = querystream.WithStrongConsistency(ctx)
//	stream, err := querystream.ObserveResults(ctx, engine.LiveQuery(definition))
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, StrongConsistency)
}

// WithEventualConsistency returns a context that signals live query
// executions may use replica databases, trading consistency for performance.
//
// Example usage:
//
//	ctx = querystream.WithEventualConsistency(ctx)
//	stream, err := querystream.ObserveResults(ctx, engine.LiveQuery(definition))
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, EventualConsistency)
}

// GetConsistencyLevel extracts the consistency level from the context.
// If no consistency level is set, it returns StrongConsistency as the safe
// default for change notifications.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(ConsistencyLevelKey).(ConsistencyLevel); ok {
		return level
	}

	return StrongConsistency
}

// String provides a string representation of ConsistencyLevel for logging and debugging.
func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
