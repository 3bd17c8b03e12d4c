package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ArchiveRecord describes a sealed replay stored in the archive.
type ArchiveRecord struct {
	SessionID           string
	GameSeed            int64
	FrameCount          int64
	EventCount          int
	GenerationCallCount int
	CheckpointCount     int
	SizeBytes           int64
	CreatedAt           time.Time
	ArchivedAt          time.Time
}

// ArchiveStore persists sealed replay blobs keyed by session ID.
type ArchiveStore interface {
	SaveReplay(ctx context.Context, record ArchiveRecord, blob []byte) error
	GetReplay(ctx context.Context, sessionID string) (ArchiveRecord, []byte, error)
	ListReplays(ctx context.Context, limit int) ([]ArchiveRecord, error)
}

// TelemetryEvent records one operational occurrence worth keeping, such as
// a generation result arriving after its session was sealed.
type TelemetryEvent struct {
	Timestamp time.Time
	Severity  string
	Source    string
	Message   string
	SessionID string
	Metadata  map[string]string
}

// TelemetryStore persists operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}
