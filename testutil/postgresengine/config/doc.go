// Package config provides PostgreSQL database configuration for engine integration testing.
//
// This package contains factory functions for creating database connections
// using the supported PostgreSQL adapters (pgx.Pool, sql.DB, sqlx.DB)
// with pre-configured test database DSNs.
//
// The configurations support both single-node and primary/replica setups
// for exercising the PostgreSQL change stream engine under different
// database topologies and adapter types.
package config
