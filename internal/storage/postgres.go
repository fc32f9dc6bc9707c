package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/pressly/goose/v3"

	"github.com/bdougie/plantcam/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DSN builds the connection string
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.User, c.Password, c.Host, c.Port, c.DBName)
}

// PostgresStorage writes each flushed burst to PostgreSQL in one transaction, with class
// scores stored as pgvector columns for similarity search
type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	pending []models.Snapshot
}

// NewPostgresStorage creates a new PostgreSQL storage connection
func NewPostgresStorage(ctx context.Context, config PostgresConfig, logger *slog.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema migrations
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func burstID(ctx context.Context, tx pgx.Tx, name string) (int, error) {
	var id int
	err := tx.QueryRow(ctx,
		`INSERT INTO bursts (name, created_at) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		name, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create burst entry: %w", err)
	}
	return id, nil
}

// AddSnapshot buffers a snapshot until the next Flush
func (s *PostgresStorage) AddSnapshot(ctx context.Context, snap models.Snapshot) error {
	if snap.Burst == "" {
		return errors.New("snapshot has no burst name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, snap)
	return nil
}

// Flush inserts everything pending in one transaction, so a burst is either stored whole
// or not at all. Pending snapshots are dropped either way.
func (s *PostgresStorage) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bursts := make(map[string]int)
	for _, snap := range pending {
		id, ok := bursts[snap.Burst]
		if !ok {
			if id, err = burstID(ctx, tx, snap.Burst); err != nil {
				return err
			}
			bursts[snap.Burst] = id
		}

		var scores *pgvector.Vector
		if len(snap.Scores) > 0 {
			v := pgvector.NewVector(snap.Scores)
			scores = &v
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO snapshots
			(id, burst_id, idx, captured_at, length_px, length_cm, roll, pitch, yaw,
			 latitude, longitude, label, confidence, scores, image, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING`,
			snap.ID, id, snap.Index, snap.Captured, snap.LengthInPixel, snap.LengthInCentiMeter,
			snap.Roll, snap.Pitch, snap.Yaw, snap.Latitude, snap.Longitude,
			snap.Label, snap.Confidence, scores, snap.JPEG, time.Now())
		if err != nil {
			return fmt.Errorf("failed to store snapshot %s/%d: %w", snap.Burst, snap.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit burst: %w", err)
	}
	s.logger.Info("stored burst in postgres", "snapshots", len(pending), "bursts", len(bursts))
	return nil
}

// SearchSimilar finds stored snapshots whose class scores are closest to scores
func (s *PostgresStorage) SearchSimilar(ctx context.Context, scores []float32, limit int) ([]models.SimilarSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, b.name, s.idx, s.label, s.scores <-> $1 AS distance,
		s.latitude, s.longitude, s.length_cm
		FROM snapshots s
		JOIN bursts b ON s.burst_id = b.id
		WHERE s.scores IS NOT NULL AND vector_dims(s.scores) = vector_dims($1)
		ORDER BY s.scores <-> $1
		LIMIT $2`,
		pgvector.NewVector(scores), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar snapshots: %w", err)
	}
	defer rows.Close()

	var results []models.SimilarSnapshot
	for rows.Next() {
		var r models.SimilarSnapshot
		if err := rows.Scan(&r.ID, &r.Burst, &r.Index, &r.Label, &r.Distance,
			&r.Latitude, &r.Longitude, &r.CentiMeter); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
