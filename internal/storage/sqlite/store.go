// Package sqlite provides a SQLite-backed replay archive implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/mfeld/thornvale/internal/platform/storage/sqlitemigrate"
	"github.com/mfeld/thornvale/internal/storage"
	"github.com/mfeld/thornvale/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// defaultListLimit bounds ListReplays when the caller passes no limit.
const defaultListLimit = 50

// Store persists sealed replays and telemetry events in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite replay archive and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveReplay upserts one sealed replay blob with its archive metadata.
func (s *Store) SaveReplay(ctx context.Context, record storage.ArchiveRecord, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(record.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if len(blob) == 0 {
		return fmt.Errorf("replay blob is required")
	}
	archivedAt := record.ArchivedAt.UTC()
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}
	sizeBytes := record.SizeBytes
	if sizeBytes == 0 {
		sizeBytes = int64(len(blob))
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO replays (
		   session_id,
		   game_seed,
		   frame_count,
		   event_count,
		   generation_call_count,
		   checkpoint_count,
		   size_bytes,
		   blob,
		   created_at,
		   archived_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		record.GameSeed,
		record.FrameCount,
		record.EventCount,
		record.GenerationCallCount,
		record.CheckpointCount,
		sizeBytes,
		blob,
		toMillis(record.CreatedAt),
		toMillis(archivedAt),
	)
	if err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	return nil
}

// GetReplay returns one archived replay and its blob by session ID.
func (s *Store) GetReplay(ctx context.Context, sessionID string) (storage.ArchiveRecord, []byte, error) {
	if err := ctx.Err(); err != nil {
		return storage.ArchiveRecord{}, nil, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ArchiveRecord{}, nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.ArchiveRecord{}, nil, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT session_id, game_seed, frame_count, event_count,
		        generation_call_count, checkpoint_count, size_bytes, blob,
		        created_at, archived_at
		   FROM replays
		  WHERE session_id = ?`,
		sessionID,
	)

	var record storage.ArchiveRecord
	var blob []byte
	var createdAt int64
	var archivedAt int64
	err := row.Scan(
		&record.SessionID,
		&record.GameSeed,
		&record.FrameCount,
		&record.EventCount,
		&record.GenerationCallCount,
		&record.CheckpointCount,
		&record.SizeBytes,
		&blob,
		&createdAt,
		&archivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ArchiveRecord{}, nil, storage.ErrNotFound
		}
		return storage.ArchiveRecord{}, nil, fmt.Errorf("get replay: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.ArchivedAt = fromMillis(archivedAt)
	return record, blob, nil
}

// ListReplays returns archive metadata ordered by archive time, newest first.
// Blobs are not loaded.
func (s *Store) ListReplays(ctx context.Context, limit int) ([]storage.ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT session_id, game_seed, frame_count, event_count,
		        generation_call_count, checkpoint_count, size_bytes,
		        created_at, archived_at
		   FROM replays
		  ORDER BY archived_at DESC, session_id ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list replays: %w", err)
	}
	defer rows.Close()

	records := make([]storage.ArchiveRecord, 0, limit)
	for rows.Next() {
		var record storage.ArchiveRecord
		var createdAt int64
		var archivedAt int64
		if err := rows.Scan(
			&record.SessionID,
			&record.GameSeed,
			&record.FrameCount,
			&record.EventCount,
			&record.GenerationCallCount,
			&record.CheckpointCount,
			&record.SizeBytes,
			&createdAt,
			&archivedAt,
		); err != nil {
			return nil, fmt.Errorf("list replays: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		record.ArchivedAt = fromMillis(archivedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replays: %w", err)
	}
	return records, nil
}

// AppendTelemetryEvent inserts one telemetry event. Metadata is stored as JSON.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.Message) == "" {
		return fmt.Errorf("message is required")
	}
	timestamp := evt.Timestamp.UTC()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	metadata := "{}"
	if len(evt.Metadata) > 0 {
		encoded, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(encoded)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO telemetry_events (timestamp, severity, source, message, session_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(timestamp),
		evt.Severity,
		evt.Source,
		evt.Message,
		evt.SessionID,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

var _ storage.ArchiveStore = (*Store)(nil)
var _ storage.TelemetryStore = (*Store)(nil)
