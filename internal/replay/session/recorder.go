package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mfeld/thornvale/internal/platform/errors"
	"github.com/mfeld/thornvale/internal/platform/id"
)

// Recorder accumulates events, generation calls, and checkpoints for one
// live session. A session has exactly one Recorder; appends are in-memory
// only and safe to call on every game tick. File I/O happens elsewhere, at
// an explicit save point.
//
// Appends are internally locked because generation calls are logged from
// completion goroutines while the game loop keeps logging events.
type Recorder struct {
	mu                  sync.Mutex
	header              Header
	events              []Event
	calls               []GenerationCall
	checkpoints         []Checkpoint
	nextSequence        uint64
	lastEventFrame      int64
	lastCheckpointFrame int64
	maxFrame            int64
	sealed              bool
	clock               func() time.Time
}

// RecorderOption configures recorder construction.
type RecorderOption func(*Recorder)

// WithClock overrides the clock used for the session creation timestamp.
func WithClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSessionID sets an explicit session identifier instead of generating one.
func WithSessionID(sessionID string) RecorderOption {
	return func(r *Recorder) {
		r.header.SessionID = sessionID
	}
}

// NewRecorder starts a live session rooted in gameSeed. It captures the
// frame-0 checkpoint from provider synchronously, so the checkpoint exists
// before any event can be accepted and the session can always be sought
// into.
func NewRecorder(ctx context.Context, gameSeed int64, provider StateProvider, opts ...RecorderOption) (*Recorder, error) {
	if provider == nil {
		return nil, fmt.Errorf("state provider is required")
	}

	r := &Recorder{
		clock:               time.Now,
		lastCheckpointFrame: -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.header.SessionID == "" {
		sessionID, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		r.header.SessionID = sessionID
	}
	r.header.FormatVersion = FormatVersion
	r.header.GameSeed = gameSeed
	r.header.CreatedAt = r.clock().UTC().Truncate(time.Millisecond)

	snapshot, err := provider.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSnapshotFailed, "capture initial snapshot", err)
	}
	if err := r.appendCheckpoint(0, snapshot); err != nil {
		return nil, err
	}
	return r, nil
}

// LogEvent appends a game event with the next sequence number. Frames must
// be non-decreasing across events; equal frames are accepted and ordered by
// sequence. A rejected append leaves the buffers untouched.
func (r *Recorder) LogEvent(frame int64, kind, entityID string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New(errors.CodeRecorderSealed, "event logged after finalize")
	}
	if len(r.checkpoints) == 0 {
		return errors.New(errors.CodeCheckpointMissing, "session has no frame-0 checkpoint")
	}
	if frame < r.lastEventFrame {
		return errors.WithMetadata(errors.CodeOrderingViolation,
			fmt.Sprintf("frame %d precedes last accepted event frame %d", frame, r.lastEventFrame),
			map[string]string{"frame": fmt.Sprint(frame), "lastFrame": fmt.Sprint(r.lastEventFrame)})
	}

	compacted, err := compactJSON(payload)
	if err != nil {
		return errors.Wrap(errors.CodePayloadInvalid, "event payload is not valid JSON", err)
	}

	r.events = append(r.events, Event{
		Frame:    frame,
		Kind:     kind,
		EntityID: entityID,
		Payload:  compacted,
		Sequence: r.nextSequence,
	})
	r.nextSequence++
	r.lastEventFrame = frame
	r.noteFrame(frame)
	r.header.EventCount++
	return nil
}

// LogGenerationCall appends a resolved generation call. CallIndex and Seed
// must have been reserved from the seed deriver when the call was issued;
// the recorder stamps only the insertion sequence. Completion order is not
// checked against event order here, because network responses legitimately
// arrive after later frames were recorded; Finalize orders calls by their
// issue-time frame before the session is serialized.
func (r *Recorder) LogGenerationCall(call GenerationCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New(errors.CodeRecorderSealed, "generation call logged after finalize")
	}
	if len(r.checkpoints) == 0 {
		return errors.New(errors.CodeCheckpointMissing, "session has no frame-0 checkpoint")
	}
	if call.Frame < 0 {
		return errors.New(errors.CodeOrderingViolation,
			fmt.Sprintf("generation call frame %d is negative", call.Frame))
	}

	call.Sequence = r.nextSequence
	r.nextSequence++
	r.calls = append(r.calls, call)
	r.noteFrame(call.Frame)
	r.header.GenerationCallCount++
	return nil
}

// appendCheckpoint stores a snapshot at frame. Checkpoint frames are
// strictly increasing; the scheduler guarantees at most one capture per
// frame before calling in.
func (r *Recorder) appendCheckpoint(frame int64, snapshot json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New(errors.CodeRecorderSealed, "checkpoint captured after finalize")
	}
	if frame <= r.lastCheckpointFrame {
		return errors.WithMetadata(errors.CodeOrderingViolation,
			fmt.Sprintf("checkpoint frame %d does not advance past frame %d", frame, r.lastCheckpointFrame),
			map[string]string{"frame": fmt.Sprint(frame), "lastCheckpointFrame": fmt.Sprint(r.lastCheckpointFrame)})
	}

	compacted, err := compactJSON(snapshot)
	if err != nil {
		return errors.Wrap(errors.CodeSnapshotFailed, "snapshot is not valid JSON", err)
	}

	r.checkpoints = append(r.checkpoints, Checkpoint{
		Frame:    frame,
		Snapshot: compacted,
		Sequence: r.nextSequence,
	})
	r.nextSequence++
	r.lastCheckpointFrame = frame
	r.noteFrame(frame)
	r.header.CheckpointCount++
	return nil
}

// Finalize seals the recorder and returns the completed session. Sealing
// sorts generation calls by their issue-time frame, keeping the insertion
// sequence as the tie-break within a frame, so completion jitter never
// reaches the serialized form. Any append after Finalize fails with
// RECORDER_SEALED and mutates nothing.
func (r *Recorder) Finalize() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return Session{}, errors.New(errors.CodeRecorderSealed, "recorder already finalized")
	}
	r.sealed = true

	sort.SliceStable(r.calls, func(i, j int) bool {
		if r.calls[i].Frame != r.calls[j].Frame {
			return r.calls[i].Frame < r.calls[j].Frame
		}
		return r.calls[i].Sequence < r.calls[j].Sequence
	})

	s := Session{
		Header:          r.header,
		Events:          slices.Clone(r.events),
		GenerationCalls: slices.Clone(r.calls),
		Checkpoints:     slices.Clone(r.checkpoints),
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Stats summarizes recorder buffer sizes.
type Stats struct {
	EventCount          int
	GenerationCallCount int
	CheckpointCount     int
}

// Stats returns the current buffer counts.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		EventCount:          len(r.events),
		GenerationCallCount: len(r.calls),
		CheckpointCount:     len(r.checkpoints),
	}
}

// Header returns a copy of the live header.
func (r *Recorder) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// Sealed reports whether Finalize has been called.
func (r *Recorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// SessionID returns the identifier assigned at construction.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.SessionID
}

// GameSeed returns the root seed the session is recorded under.
func (r *Recorder) GameSeed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.GameSeed
}

// LastCheckpointFrame returns the frame of the most recent checkpoint.
func (r *Recorder) LastCheckpointFrame() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCheckpointFrame
}

// noteFrame tracks the highest frame observed; FrameCount is the number of
// frames the recording spans, not an array length. Callers hold r.mu.
func (r *Recorder) noteFrame(frame int64) {
	if frame > r.maxFrame {
		r.maxFrame = frame
	}
	r.header.FrameCount = r.maxFrame + 1
}

// compactJSON canonicalizes opaque payloads at the append boundary so a
// session survives encode/decode byte-identical.
func compactJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.Clone(buf.Bytes())), nil
}
