package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jupark12/segment-transcriber/models"
)

// Archiver records completed jobs somewhere outside the process.
type Archiver interface {
	Save(ctx context.Context, job *models.Job) error
	Close()
}

// Loader reads back a job that an Archiver saved.
type Loader interface {
	Load(ctx context.Context, jobID string) (*models.Job, error)
}

// Nop discards every job. It is used when no database is configured.
type Nop struct{}

func (Nop) Save(context.Context, *models.Job) error { return nil }
func (Nop) Close()                                   {}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	job_id             TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	total_segments     INTEGER NOT NULL,
	completed_segments INTEGER NOT NULL,
	failed_segments    INTEGER NOT NULL,
	combined_text      TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ
)`

const upsert = `
INSERT INTO transcripts (job_id, filename, total_segments, completed_segments, failed_segments, combined_text, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO UPDATE SET
	completed_segments = EXCLUDED.completed_segments,
	failed_segments    = EXCLUDED.failed_segments,
	combined_text      = EXCLUDED.combined_text,
	completed_at       = EXCLUDED.completed_at`

// Postgres writes completed jobs to the transcripts table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL, checks the connection and makes sure
// the transcripts table exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Println("Connected to transcript archive")
	return p, nil
}

// EnsureSchema creates the transcripts table if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}
	return nil
}

// Save upserts the job by id.
func (p *Postgres) Save(ctx context.Context, job *models.Job) error {
	_, err := p.pool.Exec(ctx, upsert,
		job.ID,
		job.Filename,
		job.TotalSegments,
		job.CompletedSegments,
		job.FailedSegments,
		job.CombinedText,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	return nil
}

// Load reads back one archived job. Segment detail is not archived, so the
// returned job carries counts and the combined text only.
func (p *Postgres) Load(ctx context.Context, jobID string) (*models.Job, error) {
	job := &models.Job{
		ID:             jobID,
		Status:         models.StatusCompleted,
		Segments:       []models.Segment{},
		Transcriptions: []models.TranscriptionResult{},
	}
	err := p.pool.QueryRow(ctx,
		`SELECT filename, total_segments, completed_segments, failed_segments, combined_text, created_at, completed_at
		 FROM transcripts WHERE job_id = $1`, jobID,
	).Scan(&job.Filename, &job.TotalSegments, &job.CompletedSegments, &job.FailedSegments, &job.CombinedText, &job.CreatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load archived job %s: %w", jobID, err)
	}
	return job, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
