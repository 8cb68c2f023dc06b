// Package postgresengine provides a PostgreSQL implementation of the querystream Query interface.
//
// This package implements live queries on top of PostgreSQL LISTEN/NOTIFY,
// supporting multiple database adapters (pgx, sql.DB, sqlx). A statement-level
// trigger sends a notification whenever a watched table changes, and the engine
// re-executes the registered query definitions and pushes fresh results to
// their change listeners.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Change detection through LISTEN/NOTIFY with trigger installation helper
//   - Query definitions compiled to SQL with selection, predicates, ordering and limit
//   - Read routing to an optional replica pool for eventually consistent queries
//   - Configurable notify channel and dual-logger support
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	engine, _ := postgresengine.NewEngineFromPGXPool(db)
//	_ = engine.Start(context.Background())
//	defer engine.Close()
//
//	// With a custom notify channel and operational logging
//	engine, _ := postgresengine.NewEngineFromPGXPool(
//		db,
//		postgresengine.WithNotifyChannel("app_changes"),
//		postgresengine.WithLogger(logger),
//	)
//
//	_ = engine.InstallNotifyTrigger(ctx, "sensor_readings")
//
//	definition := querystream.BuildQueryDefinition().
//		From("sensor_readings").
//		Selecting("sensor_id", "value").
//		OrderedBy("sensor_id", querystream.Ascending).
//		Finalize()
//
//	query := engine.LiveQuery(definition)
//	stream, _ := querystream.ObserveResults(ctx, query)
package postgresengine
