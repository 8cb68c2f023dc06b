// Package sqliteengine provides a SQLite implementation of the querystream Query interface.
//
// This package implements live queries on top of SQLite by polling
// PRAGMA data_version on a dedicated connection. The pragma value changes
// whenever another connection writes to the database file, which gives a
// cheap change signal without triggers or schema changes. It carries no
// table information, so every registered live query refreshes when any
// change is detected.
//
// Key features:
//   - Works with any database/sql SQLite driver, e.g. modernc.org/sqlite
//   - Change detection through PRAGMA data_version polling, no schema changes
//   - Query definitions compiled to SQL with selection, predicates, ordering and limit
//   - Configurable poll interval and dual-logger support
//
// Usage examples:
//
//	// Basic usage with a file-backed database
//	db, _ := sql.Open("sqlite", "/var/lib/app/telemetry.db")
//	engine, _ := sqliteengine.NewEngine(db)
//	_ = engine.Start(context.Background())
//	defer engine.Close()
//
//	// With a faster poll interval and operational logging
//	engine, _ := sqliteengine.NewEngine(
//		db,
//		sqliteengine.WithPollInterval(50*time.Millisecond),
//		sqliteengine.WithLogger(logger),
//	)
//
//	definition := querystream.BuildQueryDefinition().
//		From("sensor_readings").
//		Selecting("sensor_id", "value").
//		OrderedBy("sensor_id", querystream.Ascending).
//		Finalize()
//
//	query := engine.LiveQuery(definition)
//	stream, _ := querystream.ObserveResults(ctx, query)
package sqliteengine
