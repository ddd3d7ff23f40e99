// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/streamjuke/streamjuke/internal/log"
)

const schemaVersion = 1

// SQLiteConfig defines operational parameters for the embedded store.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns WAL-friendly pool settings.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the queue database, applying mandatory PRAGMAs via the
// DSN so they hold for every connection in the pool, then migrates.
func OpenSQLite(dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue store: migration failed: %w", err)
	}

	logger := log.WithComponent("queue")
	logger.Info().Str(log.FieldPath, dbPath).Msg("queue database opened")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		file_path TEXT,
		title TEXT NOT NULL DEFAULT 'Unknown',
		duration_seconds REAL,
		submitted_by TEXT NOT NULL,
		submitted_at_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		promo_link TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status_position ON queue(status, position);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const itemColumns = `id, url, file_path, title, duration_seconds, submitted_by, submitted_at_ms, status, error_message, promo_link, position`

func (s *SQLiteStore) Enqueue(ctx context.Context, item *Item) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var position int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), 0) + 1 FROM queue WHERE status = ?",
		StatusPending,
	).Scan(&position)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID.String(), item.URL, toNullString(item.FilePath), item.Title,
		toNullFloat(item.DurationSeconds), item.SubmittedBy, item.SubmittedAt.UnixMilli(),
		StatusPending, toNullString(item.ErrorMessage), toNullString(item.PromoLink), position,
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	item.Status = StatusPending
	item.Position = position
	return position, nil
}

func (s *SQLiteStore) Dequeue(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM queue
		WHERE status = ?
		ORDER BY position ASC
		LIMIT 1`, StatusPending)
	return scanItem(row)
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM queue WHERE id = ?", id.String())
	item, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, errorMessage string) error {
	if !status.Valid() {
		return fmt.Errorf("queue: unknown status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM queue WHERE id = ?", id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := ValidateTransition(current, status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE queue SET status = ?, error_message = ? WHERE id = ?",
		status, toNullString(errorMessage), id.String())
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, id uuid.UUID, filePath, title string, durationSeconds float64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE queue SET file_path = ?, title = ?, duration_seconds = ? WHERE id = ?",
		toNullString(filePath), title, toNullFloat(durationSeconds), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Queue(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM queue
		WHERE status = ?
		ORDER BY position ASC
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) NowPlaying(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM queue WHERE status = ? LIMIT 1", StatusPlaying)
	return scanItem(row)
}

func (s *SQLiteStore) PositionOf(ctx context.Context, id uuid.UUID) (int, error) {
	var rank int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue
		WHERE status = ? AND position <= (
			SELECT position FROM queue WHERE id = ? AND status = ?
		)`, StatusPending, id.String(), StatusPending).Scan(&rank)
	if err != nil {
		return 0, err
	}
	if rank == 0 {
		return 0, ErrNotFound
	}
	return rank, nil
}

func (s *SQLiteStore) ClearPending(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM queue WHERE status = ?", StatusPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) RepairInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE queue SET status = ?, error_message = ? WHERE status IN (?, ?)",
		StatusFailed, InterruptedReason, StatusDownloading, StatusPlaying)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger := log.WithComponent("queue")
		logger.Warn().Int64("repaired", n).Msg("marked interrupted items failed")
	}
	return int(n), nil
}

func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue WHERE status = ?", StatusPending).Scan(&n)
	return n, err
}

func scanItem(scanner interface {
	Scan(dest ...interface{}) error
}) (*Item, error) {
	var item Item
	var idStr string
	var filePath, errorMessage, promoLink sql.NullString
	var duration sql.NullFloat64
	var submittedAtMs int64

	err := scanner.Scan(
		&idStr, &item.URL, &filePath, &item.Title, &duration,
		&item.SubmittedBy, &submittedAtMs, &item.Status,
		&errorMessage, &promoLink, &item.Position,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("queue: corrupt id %q: %w", idStr, err)
	}
	item.ID = id
	item.FilePath = filePath.String
	item.ErrorMessage = errorMessage.String
	item.PromoLink = promoLink.String
	item.DurationSeconds = duration.Float64
	item.SubmittedAt = time.UnixMilli(submittedAtMs).UTC()
	return &item, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
