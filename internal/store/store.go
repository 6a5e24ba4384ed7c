package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store persists runs and step checkpoints in Postgres.
type Store struct {
	DB *sql.DB
}

// New builds a Store from DATABASE_URL or the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	return NewWithDSN(ctx, DSNFromEnv())
}

// DSNFromEnv assembles a Postgres DSN from the environment.
func DSNFromEnv() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := os.Getenv("POSTGRES_DB")
	ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

var (
	metricsOnce       sync.Once
	runsCounter       otelmetric.Int64Counter
	checkpointCounter otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("store")
	var err error
	runsCounter, err = meter.Int64Counter("runs_saved_total")
	if err != nil {
		runsCounter = nil
	}
	checkpointCounter, err = meter.Int64Counter("step_checkpoints_total")
	if err != nil {
		checkpointCounter = nil
	}
}

func countRun(ctx context.Context, state string) {
	metricsOnce.Do(initMetrics)
	if runsCounter != nil {
		runsCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("state", state)))
	}
}

func countCheckpoint(ctx context.Context, status string) {
	metricsOnce.Do(initMetrics)
	if checkpointCounter != nil {
		checkpointCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}
