// Command livetail follows a live query on a PostgreSQL table and prints every
// result batch to stdout as one JSON line.
//
// It connects through a pgx pool, optionally installs the notify trigger for
// the watched table, and then streams refreshed results until SIGINT/SIGTERM.
// With -observability-enabled it wires the OpenTelemetry adapters; spans and
// metrics are exported through the global OpenTelemetry providers, which the
// surrounding environment is expected to configure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"

	"github.com/querystream/query-change-streams-go/querystream"
	"github.com/querystream/query-change-streams-go/querystream/oteladapters"
	"github.com/querystream/query-change-streams-go/querystream/postgresengine"
	"github.com/querystream/query-change-streams-go/testutil/postgresengine/config"
)

const defaultBufferSize = 64

type Config struct {
	DSN                  string
	Table                string
	Columns              []string
	Filters              []filterTerm
	MatchAll             bool
	Orderings            []orderingTerm
	Limit                uint
	NotifyChannel        string
	InstallTrigger       bool
	BufferSize           int
	DropNewest           bool
	ObservabilityEnabled bool
}

type filterTerm struct {
	Column string
	Value  string
}

type orderingTerm struct {
	Column    string
	Direction querystream.SortDirection
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

	engineOptions, streamOptions := buildOptions(cfg)

	engine, err := postgresengine.NewEngineFromPGXPool(pool, engineOptions...)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	if startErr := engine.Start(ctx); startErr != nil {
		log.Fatalf("Failed to start engine: %v", startErr)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			log.Printf("Error closing engine: %v", closeErr)
		}
	}()

	if cfg.InstallTrigger {
		if installErr := engine.InstallNotifyTrigger(ctx, cfg.Table); installErr != nil {
			log.Fatalf("Failed to install notify trigger: %v", installErr)
		}
		log.Printf("Notify trigger installed on table %q", cfg.Table)
	}

	liveQuery := engine.LiveQuery(buildDefinition(cfg))

	keepRow := func(row querystream.Row) (querystream.Row, bool) {
		return row, true
	}

	stream, err := querystream.ObserveObjects(ctx, liveQuery, keepRow, streamOptions...)
	if err != nil {
		log.Fatalf("Failed to observe live query: %v", err)
	}

	log.Printf("Tailing table %q, press Ctrl+C to stop...", cfg.Table)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, stopping live tail...", sig)
		cancel()
	}()

	for batch := range stream.Events() {
		line, marshalErr := jsoniter.ConfigFastest.Marshal(batch)
		if marshalErr != nil {
			log.Printf("Failed to marshal batch: %v", marshalErr)
			continue
		}

		fmt.Println(string(line))
	}

	if streamErr := stream.Err(); streamErr != nil {
		log.Fatalf("Live tail terminated: %v", streamErr)
	}

	log.Printf("Live tail stopped")
}

func parseFlags() Config {
	var (
		dsn            = flag.String("dsn", "", "PostgreSQL DSN (defaults to the local test database)")
		table          = flag.String("table", "", "Table to tail (required)")
		columns        = flag.String("columns", "", "Comma-separated columns to project (empty = all)")
		where          = flag.String("where", "", "Comma-separated column=value equality filters")
		matchAll       = flag.Bool("match-all", false, "Require all filters to match instead of any")
		orderBy        = flag.String("order-by", "", "Comma-separated ordering terms, column[:asc|desc]")
		limit          = flag.Uint("limit", 0, "Row limit, 0 = unlimited")
		channel        = flag.String("channel", "", "LISTEN/NOTIFY channel (empty = engine default)")
		installTrigger = flag.Bool("install-trigger", false, "Install the notify trigger for the table before tailing")
		bufferSize     = flag.Int("buffer", defaultBufferSize, "Change buffer size of the subscription")
		dropNewest     = flag.Bool("drop-newest", false, "Drop changes instead of blocking when the buffer is full")
		observability  = flag.Bool("observability-enabled", false, "Enable OpenTelemetry observability")
	)

	flag.Parse()

	if *table == "" {
		log.Fatal("Flag -table is required")
	}

	filters, err := parseFilters(*where)
	if err != nil {
		log.Fatalf("Invalid -where value %q: %v", *where, err)
	}

	orderings, err := parseOrderings(*orderBy)
	if err != nil {
		log.Fatalf("Invalid -order-by value %q: %v", *orderBy, err)
	}

	return Config{
		DSN:                  *dsn,
		Table:                *table,
		Columns:              splitAndTrim(*columns),
		Filters:              filters,
		MatchAll:             *matchAll,
		Orderings:            orderings,
		Limit:                *limit,
		NotifyChannel:        *channel,
		InstallTrigger:       *installTrigger,
		BufferSize:           *bufferSize,
		DropNewest:           *dropNewest,
		ObservabilityEnabled: *observability,
	}
}

func openPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return pgxpool.NewWithConfig(ctx, config.PostgresPGXPoolSingleConfig())
	}

	return pgxpool.New(ctx, cfg.DSN)
}

func buildOptions(cfg Config) ([]postgresengine.Option, []querystream.Option) {
	var engineOptions []postgresengine.Option

	streamOptions := []querystream.Option{querystream.WithBufferSize(cfg.BufferSize)}
	if cfg.DropNewest {
		streamOptions = append(streamOptions, querystream.WithDeliveryMode(querystream.DeliverDropNewest))
	}

	if cfg.NotifyChannel != "" {
		engineOptions = append(engineOptions, postgresengine.WithNotifyChannel(cfg.NotifyChannel))
	}

	if cfg.ObservabilityEnabled {
		tracer := otel.Tracer("querystream-livetail")
		meter := otel.Meter("querystream-livetail")

		metricsCollector := oteladapters.NewMetricsCollector(meter)
		tracingCollector := oteladapters.NewTracingCollector(tracer)
		contextualLogger := oteladapters.NewSlogBridgeLogger("querystream-livetail")

		engineOptions = append(engineOptions,
			postgresengine.WithMetrics(metricsCollector),
			postgresengine.WithTracing(tracingCollector),
			postgresengine.WithContextualLogger(contextualLogger))

		streamOptions = append(streamOptions,
			querystream.WithMetrics(metricsCollector),
			querystream.WithTracing(tracingCollector),
			querystream.WithContextualLogger(contextualLogger))

		log.Printf("Observability enabled, exporting through the global OpenTelemetry providers")
	}

	return engineOptions, streamOptions
}

func buildDefinition(cfg Config) querystream.Definition {
	selection := querystream.BuildQueryDefinition().From(cfg.Table)

	var constraints querystream.ConstraintBuilder
	if len(cfg.Columns) > 0 {
		constraints = selection.Selecting(cfg.Columns[0], cfg.Columns[1:]...)
	} else {
		constraints = selection.SelectingAll()
	}

	var completed querystream.CompletedDefinitionBuilder = constraints
	if len(cfg.Filters) > 0 {
		predicates := make([]querystream.DefinitionPredicate, 0, len(cfg.Filters))
		for _, filter := range cfg.Filters {
			predicates = append(predicates, querystream.P(filter.Column, filter.Value))
		}

		if cfg.MatchAll {
			completed = constraints.WhereAllOf(predicates[0], predicates[1:]...)
		} else {
			completed = constraints.WhereAnyOf(predicates[0], predicates[1:]...)
		}
	}

	for _, ordering := range cfg.Orderings {
		completed = completed.OrderedBy(ordering.Column, ordering.Direction)
	}

	if cfg.Limit > 0 {
		completed = completed.LimitedTo(cfg.Limit)
	}

	return completed.Finalize()
}

func parseFilters(raw string) ([]filterTerm, error) {
	var filters []filterTerm

	for _, part := range splitAndTrim(raw) {
		column, value, found := strings.Cut(part, "=")
		if !found || column == "" || value == "" {
			return nil, fmt.Errorf("expected column=value, got %q", part)
		}

		filters = append(filters, filterTerm{Column: column, Value: value})
	}

	return filters, nil
}

func parseOrderings(raw string) ([]orderingTerm, error) {
	var orderings []orderingTerm

	for _, part := range splitAndTrim(raw) {
		column, direction, found := strings.Cut(part, ":")
		if !found {
			orderings = append(orderings, orderingTerm{Column: part, Direction: querystream.Ascending})
			continue
		}

		switch strings.ToLower(direction) {
		case "asc":
			orderings = append(orderings, orderingTerm{Column: column, Direction: querystream.Ascending})
		case "desc":
			orderings = append(orderings, orderingTerm{Column: column, Direction: querystream.Descending})
		default:
			return nil, fmt.Errorf("expected column[:asc|desc], got %q", part)
		}
	}

	return orderings, nil
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return parts
}
