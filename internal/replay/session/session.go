package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfeld/thornvale/internal/platform/errors"
)

// FormatVersion is the replay file format generation this build writes and
// accepts on load.
const FormatVersion = 1

// Header summarizes a recorded session. The counts are redundant summaries
// of the array lengths; they are kept in lockstep on append and re-checked
// on load rather than trusted.
type Header struct {
	FormatVersion       int       `json:"formatVersion"`
	SessionID           string    `json:"sessionId"`
	GameSeed            int64     `json:"gameSeed"`
	FrameCount          int64     `json:"frameCount"`
	EventCount          int       `json:"eventCount"`
	GenerationCallCount int       `json:"generationCallCount"`
	CheckpointCount     int       `json:"checkpointCount"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Event is one recorded game event. Payload is opaque to the replay core
// and interpreted only by the StateProvider that produced it.
type Event struct {
	Frame    int64           `json:"frame"`
	Kind     string          `json:"kind"`
	EntityID string          `json:"entityId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Sequence uint64          `json:"sequence"`
}

// GenerationCall records one resolved text-generation request. ResponseText
// is stored in full: it is the authoritative replay source, since the
// backend is not guaranteed to regenerate bit-identical text from the seed.
type GenerationCall struct {
	Frame         int64  `json:"frame"`
	EntityID      string `json:"entityId"`
	CallKind      string `json:"callKind"`
	CallIndex     int    `json:"callIndex"`
	Seed          uint32 `json:"seed"`
	PromptExcerpt string `json:"promptExcerpt,omitempty"`
	ResponseText  string `json:"responseText"`
	TokensUsed    int    `json:"tokensUsed"`
	Sequence      uint64 `json:"sequence"`
}

// Checkpoint is a full state snapshot at a frame. Snapshot bytes are owned
// and interpreted only by the external StateProvider.
type Checkpoint struct {
	Frame    int64           `json:"frame"`
	Snapshot json.RawMessage `json:"snapshot"`
	Sequence uint64          `json:"sequence"`
}

// Session is the complete record of one playthrough. A live session is
// owned exclusively by its Recorder; once sealed it is an immutable value
// that can be encoded to disk and loaded read-only any number of times.
type Session struct {
	Header          Header           `json:"header"`
	Events          []Event          `json:"events"`
	GenerationCalls []GenerationCall `json:"generationCalls"`
	Checkpoints     []Checkpoint     `json:"checkpoints"`
}

// LastFrame returns the highest frame carried by any recorded entry.
func (s Session) LastFrame() int64 {
	var last int64
	for _, evt := range s.Events {
		if evt.Frame > last {
			last = evt.Frame
		}
	}
	for _, call := range s.GenerationCalls {
		if call.Frame > last {
			last = call.Frame
		}
	}
	for _, cp := range s.Checkpoints {
		if cp.Frame > last {
			last = cp.Frame
		}
	}
	return last
}

// Validate checks the structural invariants every well-formed session holds:
// header counts equal to array lengths, non-decreasing (frame, sequence)
// order in events and generation calls, strictly increasing checkpoint
// frames, and the mandatory frame-0 checkpoint.
func (s Session) Validate() error {
	if s.Header.EventCount != len(s.Events) {
		return errors.WithMetadata(errors.CodeHeaderMismatch,
			fmt.Sprintf("header declares %d events, found %d", s.Header.EventCount, len(s.Events)),
			map[string]string{"field": "eventCount"})
	}
	if s.Header.GenerationCallCount != len(s.GenerationCalls) {
		return errors.WithMetadata(errors.CodeHeaderMismatch,
			fmt.Sprintf("header declares %d generation calls, found %d", s.Header.GenerationCallCount, len(s.GenerationCalls)),
			map[string]string{"field": "generationCallCount"})
	}
	if s.Header.CheckpointCount != len(s.Checkpoints) {
		return errors.WithMetadata(errors.CodeHeaderMismatch,
			fmt.Sprintf("header declares %d checkpoints, found %d", s.Header.CheckpointCount, len(s.Checkpoints)),
			map[string]string{"field": "checkpointCount"})
	}

	for i := 1; i < len(s.Events); i++ {
		prev, cur := s.Events[i-1], s.Events[i]
		if cur.Frame < prev.Frame || (cur.Frame == prev.Frame && cur.Sequence < prev.Sequence) {
			return errors.New(errors.CodeOrderingViolation,
				fmt.Sprintf("event %d at frame %d precedes event %d at frame %d", i, cur.Frame, i-1, prev.Frame))
		}
	}
	for i := 1; i < len(s.GenerationCalls); i++ {
		prev, cur := s.GenerationCalls[i-1], s.GenerationCalls[i]
		if cur.Frame < prev.Frame || (cur.Frame == prev.Frame && cur.Sequence < prev.Sequence) {
			return errors.New(errors.CodeOrderingViolation,
				fmt.Sprintf("generation call %d at frame %d precedes call %d at frame %d", i, cur.Frame, i-1, prev.Frame))
		}
	}
	for i := 1; i < len(s.Checkpoints); i++ {
		if s.Checkpoints[i].Frame <= s.Checkpoints[i-1].Frame {
			return errors.New(errors.CodeOrderingViolation,
				fmt.Sprintf("checkpoint %d at frame %d does not advance past frame %d", i, s.Checkpoints[i].Frame, s.Checkpoints[i-1].Frame))
		}
	}

	if len(s.Checkpoints) == 0 || s.Checkpoints[0].Frame != 0 {
		return errors.New(errors.CodeCheckpointMissing, "session has no frame-0 checkpoint")
	}

	return nil
}
