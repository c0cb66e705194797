package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS slideshows (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	status TEXT NOT NULL,
	images JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	output_filename TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	output_size BIGINT NOT NULL DEFAULT 0,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS slideshows_album_id_idx ON slideshows (album_id, created_at DESC);
`

// PostgresJobStore persists render jobs and doubles as the AlbumDirectory,
// reading the albums/images tables owned by the album-management side.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure slideshows schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.RenderJob) error {
	imagesJSON, err := json.Marshal(job.Images)
	if err != nil {
		return fmt.Errorf("marshal job images: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO slideshows (id, album_id, status, images, webhook_url, output_filename, output_path, output_size, duration_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.AlbumID,
		job.Status,
		imagesJSON,
		job.WebhookURL,
		job.Artifact.Filename,
		job.Artifact.Path,
		job.Artifact.Size,
		job.Artifact.DurationSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.RenderJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, album_id, status, images, webhook_url, output_filename, output_path, output_size, duration_seconds, created_at, updated_at
		 FROM slideshows
		 WHERE id = $1`,
		id,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.RenderJob{}, false, nil
	}
	if err != nil {
		return domain.RenderJob{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) ListByAlbum(ctx context.Context, albumID string) ([]domain.RenderJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, album_id, status, images, webhook_url, output_filename, output_path, output_size, duration_seconds, created_at, updated_at
		 FROM slideshows
		 WHERE album_id = $1
		 ORDER BY created_at DESC`,
		albumID,
	)
	if err != nil {
		return nil, fmt.Errorf("query album jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.RenderJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate album jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id string, artifact domain.Artifact) (domain.RenderJob, error) {
	return s.finish(ctx, id, domain.JobStatusCompleted, artifact)
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, id string) (domain.RenderJob, error) {
	return s.finish(ctx, id, domain.JobStatusFailed, domain.Artifact{})
}

// finish performs the single terminal write. The status guard in the WHERE
// clause makes the transition atomic: a job that already left processing is
// untouched and the caller gets ErrJobTerminal.
func (s *PostgresJobStore) finish(ctx context.Context, id, status string, artifact domain.Artifact) (domain.RenderJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE slideshows
		 SET status = $1, output_filename = $2, output_path = $3, output_size = $4, duration_seconds = $5, updated_at = $6
		 WHERE id = $7 AND status = $8`,
		status,
		artifact.Filename,
		artifact.Path,
		artifact.Size,
		artifact.DurationSeconds,
		time.Now().UTC(),
		id,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("finish job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("finish job rows affected: %w", err)
	}
	if affected == 0 {
		job, ok, err := s.Get(ctx, id)
		if err != nil {
			return domain.RenderJob{}, err
		}
		if !ok {
			return domain.RenderJob{}, ErrJobNotFound
		}
		if job.Terminal() {
			return domain.RenderJob{}, ErrJobTerminal
		}
		return domain.RenderJob{}, fmt.Errorf("finish job %s: no row updated", id)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.RenderJob{}, err
	}
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresJobStore) AlbumOwned(ctx context.Context, albumID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM albums WHERE id = $1 AND user_id = $2`,
		albumID,
		userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check album ownership: %w", err)
	}
	return true, nil
}

func (s *PostgresJobStore) ListAlbumImages(ctx context.Context, albumID string) ([]domain.SourceImage, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT file_path, display_order, rotation
		 FROM images
		 WHERE album_id = $1
		 ORDER BY display_order ASC, created_at ASC`,
		albumID,
	)
	if err != nil {
		return nil, fmt.Errorf("query album images: %w", err)
	}
	defer rows.Close()

	var images []domain.SourceImage
	for rows.Next() {
		var img domain.SourceImage
		if err := rows.Scan(&img.StorageKey, &img.DisplayOrder, &img.Rotation); err != nil {
			return nil, fmt.Errorf("scan album image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate album images: %w", err)
	}
	return images, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.RenderJob, error) {
	var (
		job        domain.RenderJob
		imagesJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.AlbumID,
		&job.Status,
		&imagesJSON,
		&job.WebhookURL,
		&job.Artifact.Filename,
		&job.Artifact.Path,
		&job.Artifact.Size,
		&job.Artifact.DurationSeconds,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.RenderJob{}, err
		}
		return domain.RenderJob{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(imagesJSON, &job.Images); err != nil {
		return domain.RenderJob{}, fmt.Errorf("unmarshal job images: %w", err)
	}
	return job, nil
}
