// Package postgres persists room files in Postgres. It is the durable file
// store behind the relay; the in-memory variant covers single-node and test
// deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	room_id    TEXT NOT NULL,
	file_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, file_id)
);
CREATE INDEX IF NOT EXISTS files_room_idx ON files (room_id);
`

type PostgresFileRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFileRepository(ctx context.Context, url string, logger *zap.SugaredLogger) (*PostgresFileRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Postgres")
	}
	return &PostgresFileRepository{pool: pool}, nil
}

func (r *PostgresFileRepository) Close() {
	r.pool.Close()
}

var _ ports.FileRepository = (*PostgresFileRepository)(nil)

func (r *PostgresFileRepository) Load(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) (*domain.File, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT name, language, content, saved_at FROM files WHERE room_id = $1 AND file_id = $2`,
		string(roomID), string(fileID))

	file := &domain.File{ID: fileID, RoomID: roomID}
	if err := row.Scan(&file.Name, &file.Language, &file.Content, &file.SavedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return file, nil
}

func (r *PostgresFileRepository) Save(ctx context.Context, file *domain.File) error {
	savedAt := file.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (room_id, file_id, name, language, content, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, file_id) DO UPDATE SET
			name     = CASE WHEN EXCLUDED.name = '' THEN files.name ELSE EXCLUDED.name END,
			language = CASE WHEN EXCLUDED.language = '' THEN files.language ELSE EXCLUDED.language END,
			content  = EXCLUDED.content,
			saved_at = EXCLUDED.saved_at`,
		string(file.RoomID), string(file.ID), file.Name, file.Language, file.Content, savedAt)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func (r *PostgresFileRepository) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.File, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT file_id, name, language, content, saved_at FROM files WHERE room_id = $1 ORDER BY name`,
		string(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*domain.File
	for rows.Next() {
		file := &domain.File{RoomID: roomID}
		var fileID string
		if err := rows.Scan(&fileID, &file.Name, &file.Language, &file.Content, &file.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		file.ID = domain.FileID(fileID)
		out = append(out, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file rows: %w", err)
	}
	return out, nil
}

func (r *PostgresFileRepository) Delete(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM files WHERE room_id = $1 AND file_id = $2`,
		string(roomID), string(fileID))
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}
