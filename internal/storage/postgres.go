package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/observability"
)

// flush retry policy for transactional batch inserts
const flushMaxAttempts = 3

var flushRetryDelay = 200 * time.Millisecond

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema. dim fixes the descriptor column width and must
// match the dimensionality the vision capability emits.
func (s *PostgresStore) Migrate(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id   UUID PRIMARY KEY,
			code       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS photos (
			id           UUID PRIMARY KEY,
			link         TEXT NOT NULL,
			event_id     UUID NOT NULL REFERENCES events(event_id),
			uploader_id  UUID,
			descriptor   vector(%d),
			processed_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_photos_link ON photos(link)`,
		`CREATE INDEX IF NOT EXISTS idx_photos_event ON photos(event_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, code, name string) (*models.Event, error) {
	ev := &models.Event{
		ID:   uuid.New(),
		Code: strings.ToUpper(code),
		Name: name,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (event_id, code, name) VALUES ($1, $2, $3) RETURNING created_at`,
		ev.ID, ev.Code, ev.Name,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, code, name, created_at FROM events WHERE event_id = $1`, id,
	).Scan(&ev.ID, &ev.Code, &ev.Name, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ResolveEvent accepts either an event UUID or a human share code.
// Codes are matched case-insensitively. Returns nil when nothing matches.
func (s *PostgresStore) ResolveEvent(ctx context.Context, ref string) (*models.Event, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.GetEvent(ctx, id)
	}

	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, code, name, created_at FROM events WHERE code = $1`,
		strings.ToUpper(ref),
	).Scan(&ev.ID, &ev.Code, &ev.Name, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve event by code: %w", err)
	}
	return ev, nil
}

// --- Photos ---

// CreatePhoto records an upload without a descriptor. The extraction
// pipeline fills the descriptor in later.
func (s *PostgresStore) CreatePhoto(ctx context.Context, link string, eventID uuid.UUID, uploaderID *uuid.UUID) (*models.Photo, error) {
	p := &models.Photo{
		ID:         uuid.New(),
		Link:       link,
		EventID:    eventID,
		UploaderID: uploaderID,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, link, event_id, uploader_id) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.Link, p.EventID, p.UploaderID,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return p, nil
}

// HasDescriptor reports whether any descriptor row exists for the link.
// The on-demand processor uses this to short-circuit re-processing.
func (s *PostgresStore) HasDescriptor(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM photos WHERE link = $1 AND descriptor IS NOT NULL)`, link,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check descriptor: %w", err)
	}
	return exists, nil
}

// MarkPhotoProcessed stamps the link's rows so a zero-face photo is
// distinguishable from one the pipeline has not reached yet.
func (s *PostgresStore) MarkPhotoProcessed(ctx context.Context, link string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE photos SET processed_at = now() WHERE link = $1 AND processed_at IS NULL`, link)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// UpsertSingleFaceDescriptor attaches a descriptor to an existing
// descriptor-less row for the link, or inserts a new row when none exists.
// The row lock makes the check-then-act atomic under concurrent workers.
func (s *PostgresStore) UpsertSingleFaceDescriptor(ctx context.Context, link string, vec []float32, eventID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var photoID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM photos WHERE link = $1 AND event_id = $2 AND descriptor IS NULL LIMIT 1 FOR UPDATE`,
		link, eventID,
	).Scan(&photoID)

	v := pgvector.NewVector(vec)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx,
			`UPDATE photos SET descriptor = $1, processed_at = now() WHERE id = $2`, v, photoID); err != nil {
			return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
		}
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO photos (id, link, event_id, descriptor, processed_at) VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), link, eventID, v); err != nil {
			return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
		}
	default:
		return fmt.Errorf("lock photo row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
	}
	observability.DescriptorsInserted.Inc()
	return nil
}

// InsertFaceDescriptors inserts one row per detected face for a multi-face
// photo inside a single transaction, retrying transient failures with a
// growing backoff. Constraint violations fail immediately.
func (s *PostgresStore) InsertFaceDescriptors(ctx context.Context, link string, vecs [][]float32, eventID uuid.UUID) error {
	start := time.Now()
	err := flushWithRetry(ctx, func() error {
		return s.insertFaceDescriptorsOnce(ctx, link, vecs, eventID)
	})
	observability.BatchFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	observability.DescriptorsInserted.Add(float64(len(vecs)))
	return nil
}

// flushWithRetry runs fn up to flushMaxAttempts times with a growing delay
// between attempts. Non-retriable persistence errors stop immediately; a
// cancelled context aborts the backoff wait.
func flushWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= flushMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var pe *PersistError
		if errors.As(lastErr, &pe) && !pe.Retriable {
			return lastErr
		}
		if attempt < flushMaxAttempts {
			observability.BatchFlushRetries.Inc()
			select {
			case <-time.After(time.Duration(attempt) * flushRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (s *PostgresStore) insertFaceDescriptorsOnce(ctx context.Context, link string, vecs [][]float32, eventID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
	}
	defer tx.Rollback(ctx)

	for _, vec := range vecs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO photos (id, link, event_id, descriptor, processed_at) VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), link, eventID, pgvector.NewVector(vec)); err != nil {
			return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
		}
	}

	// The upload path may have left a descriptor-less placeholder row for
	// this link; stamp it so it drops out of the pending set.
	if _, err := tx.Exec(ctx,
		`UPDATE photos SET processed_at = now() WHERE link = $1 AND processed_at IS NULL`, link); err != nil {
		return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistError{Links: []string{link}, Retriable: isRetriable(err), Err: err}
	}
	return nil
}

// ListEventDescriptors returns every descriptor row for the event, the
// matcher's candidate set.
func (s *PostgresStore) ListEventDescriptors(ctx context.Context, eventID uuid.UUID) ([]models.StoredDescriptor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, link, descriptor FROM photos WHERE event_id = $1 AND descriptor IS NOT NULL`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event descriptors: %w", err)
	}
	defer rows.Close()

	var out []models.StoredDescriptor
	for rows.Next() {
		var sd models.StoredDescriptor
		var vec pgvector.Vector
		if err := rows.Scan(&sd.PhotoID, &sd.Link, &vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		sd.Descriptor = vec.Slice()
		out = append(out, sd)
	}
	return out, rows.Err()
}

// ListPendingLinks returns distinct links the pipeline has not processed yet.
func (s *PostgresStore) ListPendingLinks(ctx context.Context, eventID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT link FROM photos
		 WHERE event_id = $1 AND descriptor IS NULL AND processed_at IS NULL
		 ORDER BY link`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list pending links: %w", err)
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// CountRowsForLink reports how many photo rows share a link (one per face).
func (s *PostgresStore) CountRowsForLink(ctx context.Context, link string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM photos WHERE link = $1`, link).Scan(&count)
	return count, err
}
