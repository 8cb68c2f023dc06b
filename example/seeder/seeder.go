package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scenario weights out of 100; the remainder deletes the oldest reading of a
// random sensor so the tailed result set shrinks as well as grows.
const (
	scenarioWeightInsert = 80
	scenarioWeightUpdate = 15
)

const scenarioTimeout = 5 * time.Second

// Seeder writes a continuous stream of sensor readings against the watched
// table with a configurable write rate.
type Seeder struct {
	pool   *pgxpool.Pool
	config Config

	// Rate limiting
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Metrics and state
	writeCount int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewSeeder creates a new Seeder instance writing through the provided pool.
func NewSeeder(pool *pgxpool.Pool, config Config) *Seeder {
	return &Seeder{
		pool:     pool,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Start begins writing with the configured rate.
// It runs until the context is cancelled or Stop() is called.
func (s *Seeder) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startTime = time.Now()
	s.writeCount = 0
	s.errorCount = 0
	s.mu.Unlock()

	interval := time.Second / time.Duration(s.config.Rate)
	s.ticker = time.NewTicker(interval)
	defer s.ticker.Stop()

	log.Printf("Seeder starting with %d writes/second (interval: %v) against table %q", s.config.Rate, interval, s.config.Table)

	s.wg.Add(1)
	go s.statsReporter(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Seeder stopping due to context cancellation")
			return ctx.Err()

		case <-s.stopChan:
			log.Printf("Seeder stopping due to stop signal")
			return nil

		case <-s.ticker.C:
			s.wg.Add(1)
			go s.executeScenario(ctx)
		}
	}
}

// Stop gracefully shuts down the seeder.
func (s *Seeder) Stop(ctx context.Context) error {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logFinalStats()
		return nil
	case <-ctx.Done():
		s.logFinalStats()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// executeScenario runs a single write scenario based on the configured weights.
func (s *Seeder) executeScenario(ctx context.Context) {
	defer s.wg.Done()

	opCtx, cancel := context.WithTimeout(ctx, scenarioTimeout)
	defer cancel()

	scenarioType := s.selectScenario()

	var err error
	switch scenarioType {
	case "insert":
		err = s.insertReading(opCtx)
	case "update":
		err = s.updateSensorReadings(opCtx)
	default:
		err = s.deleteOldestReading(opCtx)
	}

	s.mu.Lock()
	s.writeCount++
	if err != nil {
		s.errorCount++
		log.Printf("Scenario error (%s): %v", scenarioType, err)
	}
	s.mu.Unlock()
}

// selectScenario chooses a scenario type based on the weight constants.
func (s *Seeder) selectScenario() string {
	r := rand.Intn(100) //nolint:gosec // demo code - weak random is acceptable

	if r < scenarioWeightInsert {
		return "insert"
	}

	if r < scenarioWeightInsert+scenarioWeightUpdate {
		return "update"
	}

	return "delete"
}

// insertReading adds one new reading for a random sensor.
func (s *Seeder) insertReading(ctx context.Context) error {
	statement := fmt.Sprintf(
		`INSERT INTO %s (reading_id, sensor_id, value, recorded_at) VALUES ($1, $2, $3, now())`,
		s.config.Table)

	_, err := s.pool.Exec(ctx, statement, uuid.New(), s.randomSensorID(), s.randomValue())

	return err
}

// updateSensorReadings refreshes the value of every reading of a random sensor.
func (s *Seeder) updateSensorReadings(ctx context.Context) error {
	statement := fmt.Sprintf(
		`UPDATE %s SET value = $1, recorded_at = now() WHERE sensor_id = $2`,
		s.config.Table)

	_, err := s.pool.Exec(ctx, statement, s.randomValue(), s.randomSensorID())

	return err
}

// deleteOldestReading removes the oldest reading of a random sensor, if any.
func (s *Seeder) deleteOldestReading(ctx context.Context) error {
	statement := fmt.Sprintf(
		`DELETE FROM %s WHERE reading_id = (SELECT reading_id FROM %s WHERE sensor_id = $1 ORDER BY recorded_at LIMIT 1)`,
		s.config.Table, s.config.Table)

	_, err := s.pool.Exec(ctx, statement, s.randomSensorID())

	return err
}

// randomSensorID picks one of the configured sensors.
func (s *Seeder) randomSensorID() string {
	sensorNum := rand.Int63n(int64(s.config.Sensors)) + 1 //nolint:gosec // demo code - weak random is acceptable

	return fmt.Sprintf("s-%d", sensorNum)
}

// randomValue produces a reading value in a plausible temperature range.
func (s *Seeder) randomValue() float64 {
	return 15.0 + rand.Float64()*15.0 //nolint:gosec // demo code - weak random is acceptable
}

// statsReporter logs write statistics periodically.
func (s *Seeder) statsReporter(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.logCurrentStats()
		}
	}
}

// logCurrentStats logs current write statistics.
func (s *Seeder) logCurrentStats() {
	s.mu.RLock()
	duration := time.Since(s.startTime)
	writes := s.writeCount
	errors := s.errorCount
	s.mu.RUnlock()

	if duration > 0 && writes > 0 {
		wps := float64(writes) / duration.Seconds()
		errorRate := float64(errors) / float64(writes) * 100
		log.Printf("Stats: %d writes in %v (%.1f writes/s), %d errors (%.1f%%)",
			writes, duration.Truncate(time.Second), wps, errors, errorRate)
	}
}

// logFinalStats logs final write statistics.
func (s *Seeder) logFinalStats() {
	s.mu.RLock()
	duration := time.Since(s.startTime)
	writes := s.writeCount
	errors := s.errorCount
	s.mu.RUnlock()

	if duration > 0 && writes > 0 {
		wps := float64(writes) / duration.Seconds()
		errorRate := float64(errors) / float64(writes) * 100
		log.Printf("Final Stats: %d writes in %v (%.1f writes/s), %d errors (%.1f%%)",
			writes, duration.Truncate(time.Second), wps, errors, errorRate)
	}
}
