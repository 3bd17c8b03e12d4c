package session

import (
	"context"

	"github.com/mfeld/thornvale/internal/platform/errors"
)

// DefaultCheckpointInterval is the checkpoint cadence in frames, roughly one
// minute at 60 ticks per second.
const DefaultCheckpointInterval int64 = 3600

// Scheduler decides when a live session captures a checkpoint. The frame-0
// checkpoint is taken by NewRecorder before the scheduler ever runs; from
// there the scheduler snapshots whenever the interval has elapsed, or when a
// caller forces a capture before sealing.
type Scheduler struct {
	recorder *Recorder
	interval int64
}

// NewScheduler creates a scheduler for recorder. A non-positive interval
// falls back to DefaultCheckpointInterval.
func NewScheduler(recorder *Recorder, interval int64) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Scheduler{recorder: recorder, interval: interval}
}

// MaybeCheckpoint captures a snapshot from provider when frame is at least
// the configured interval past the last checkpoint. Calling it repeatedly
// for the same frame stores at most one checkpoint.
func (s *Scheduler) MaybeCheckpoint(ctx context.Context, frame int64, provider StateProvider) error {
	if frame-s.recorder.LastCheckpointFrame() < s.interval {
		return nil
	}
	return s.capture(ctx, frame, provider)
}

// ForceCheckpoint captures a snapshot regardless of the interval, e.g. right
// before sealing. It stays idempotent per frame: forcing twice for one frame
// stores a single checkpoint.
func (s *Scheduler) ForceCheckpoint(ctx context.Context, frame int64, provider StateProvider) error {
	if frame == s.recorder.LastCheckpointFrame() {
		return nil
	}
	return s.capture(ctx, frame, provider)
}

func (s *Scheduler) capture(ctx context.Context, frame int64, provider StateProvider) error {
	if provider == nil {
		return errors.New(errors.CodeSnapshotFailed, "state provider is required")
	}
	snapshot, err := provider.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeSnapshotFailed, "capture snapshot", err)
	}
	return s.recorder.appendCheckpoint(frame, snapshot)
}
