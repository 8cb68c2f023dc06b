// Command seeder writes a continuous stream of random sensor readings into a
// PostgreSQL table, driving the livetail example with inserts, updates, and
// deletes at a configurable rate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querystream/query-change-streams-go/testutil/postgresengine/config"
)

const (
	defaultWriteRate   = 10
	defaultSensorCount = 10
	shutdownTimeout    = 10 * time.Second
)

type Config struct {
	DSN         string
	Table       string
	Rate        int
	Sensors     int
	CreateTable bool
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pool, err := openPool(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create pgx pool: %v", err)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		log.Fatalf("Failed to connect to database: %v", pingErr)
	}

	if cfg.CreateTable {
		if createErr := createReadingsTable(ctx, pool, cfg.Table); createErr != nil {
			log.Fatalf("Failed to create table %q: %v", cfg.Table, createErr)
		}
		log.Printf("Table %q is ready", cfg.Table)
	}

	seeder := NewSeeder(pool, cfg)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, stopping seeder...", sig)
		cancel()
	}()

	if startErr := seeder.Start(ctx); startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("Seeder failed: %v", startErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if stopErr := seeder.Stop(shutdownCtx); stopErr != nil {
		log.Fatalf("Seeder shutdown failed: %v", stopErr)
	}

	log.Printf("Seeder stopped")
}

func parseFlags() Config {
	var (
		dsn         = flag.String("dsn", "", "PostgreSQL DSN (defaults to the local test database)")
		table       = flag.String("table", "sensor_readings", "Table to write readings into")
		rate        = flag.Int("rate", defaultWriteRate, "Writes per second")
		sensors     = flag.Int("sensors", defaultSensorCount, "Number of distinct sensors to write for")
		createTable = flag.Bool("create-table", false, "Create the readings table if it does not exist")
	)

	flag.Parse()

	if *rate <= 0 {
		log.Fatalf("Flag -rate must be positive, got %d", *rate)
	}

	if *sensors <= 0 {
		log.Fatalf("Flag -sensors must be positive, got %d", *sensors)
	}

	return Config{
		DSN:         *dsn,
		Table:       *table,
		Rate:        *rate,
		Sensors:     *sensors,
		CreateTable: *createTable,
	}
}

func openPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return pgxpool.NewWithConfig(ctx, config.PostgresPGXPoolSingleConfig())
	}

	return pgxpool.New(ctx, cfg.DSN)
}

func createReadingsTable(ctx context.Context, pool *pgxpool.Pool, table string) error {
	statement := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			reading_id  UUID PRIMARY KEY,
			sensor_id   TEXT NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)

	_, err := pool.Exec(ctx, statement)

	return err
}
