package adapters

import "context"

// DBAdapter defines the interface for database operations needed by the live query engine.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}

// Notification carries a single change notification received from the database.
// An empty Payload marks a refresh of all watched tables, used after a listener
// reconnect when notifications may have been missed.
type Notification struct {
	Channel string
	Payload string
}

// NotificationListener surfaces database change notifications as a channel.
// The returned channel is closed when the listener shuts down.
type NotificationListener interface {
	Listen(ctx context.Context, channel string) (<-chan Notification, error)
	Close() error
}
