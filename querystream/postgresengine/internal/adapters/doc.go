// Package adapters provides database adapter implementations for the PostgreSQL live query engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, allowing the engine to work seamlessly with any
// supported database connection type.
//
// The package also provides NotificationListener implementations which surface
// PostgreSQL NOTIFY payloads as a channel of notifications, built on either a
// dedicated pgx pool connection or a lib/pq listener.
package adapters
