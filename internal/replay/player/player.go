// Package player replays sealed sessions by driving an external
// StateProvider to any recorded frame.
package player

import (
	"fmt"
	"sort"

	"github.com/mfeld/thornvale/internal/platform/errors"
	"github.com/mfeld/thornvale/internal/replay/session"
)

// maxSequence bounds a frame so applyRange excludes every entry on it.
const maxSequence = ^uint64(0)

// Player is a single-threaded playback cursor over one immutable session.
// It owns no timers and no interpretable game state, only the position
// pointer; callers drive pacing by invoking Seek and Step at whatever
// cadence they want, and pausing is simply not calling Step.
type Player struct {
	provider session.StateProvider
	session  session.Session
	loaded   bool
	current  int64
}

// New creates a player that delivers replayed entries to provider.
func New(provider session.StateProvider) *Player {
	return &Player{provider: provider}
}

// Load installs a sealed session and positions playback at frame 0 by
// restoring the initial checkpoint. It fails closed on structurally invalid
// sessions; a player never holds a session it could not seek into.
func (p *Player) Load(s session.Session) error {
	if p.provider == nil {
		return fmt.Errorf("state provider is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	p.session = s
	p.loaded = true
	if err := p.Seek(0); err != nil {
		p.session = session.Session{}
		p.loaded = false
		return err
	}
	return nil
}

// Loaded reports whether a session is installed.
func (p *Player) Loaded() bool {
	return p.loaded
}

// CurrentFrame returns the playback position. Zero until a session is
// loaded.
func (p *Player) CurrentFrame() int64 {
	return p.current
}

// Session returns the loaded session value.
func (p *Player) Session() session.Session {
	return p.session
}

// Seek repositions playback at targetFrame: restore the nearest checkpoint
// at or before the target, then apply every event and generation call
// recorded after that checkpoint up to and including the target, merged in
// (frame, sequence) order. Targets past the end of the recording clamp to
// the last recorded frame; that is playback catching up, not an error.
func (p *Player) Seek(targetFrame int64) error {
	if !p.loaded {
		return errors.New(errors.CodePlayerNotLoaded, "no session loaded")
	}
	if targetFrame < 0 {
		targetFrame = 0
	}
	if last := p.session.LastFrame(); targetFrame > last {
		targetFrame = last
	}

	cp, err := p.checkpointAtOrBefore(targetFrame)
	if err != nil {
		return err
	}
	if err := p.provider.Restore(cp.Snapshot); err != nil {
		return errors.WrapWithMetadata(errors.CodeSnapshotFailed,
			fmt.Sprintf("restore checkpoint at frame %d", cp.Frame),
			map[string]string{"frame": fmt.Sprint(cp.Frame)}, err)
	}
	if err := p.applyRange(cp.Frame, cp.Sequence, targetFrame); err != nil {
		return err
	}
	p.current = targetFrame
	return nil
}

// Step advances playback by n frames, applying only the entries strictly
// after the current frame instead of re-running from the last checkpoint.
// The resulting state is identical to an equivalent Seek. Steps past the
// end of the recording clamp like Seek does.
func (p *Player) Step(n int64) error {
	if !p.loaded {
		return errors.New(errors.CodePlayerNotLoaded, "no session loaded")
	}
	if n <= 0 {
		return nil
	}
	target := p.current + n
	if last := p.session.LastFrame(); target > last {
		target = last
	}
	if target <= p.current {
		return nil
	}
	// Entries at the current frame are already applied; the max sequence
	// bound excludes the whole frame.
	if err := p.applyRange(p.current, maxSequence, target); err != nil {
		return err
	}
	p.current = target
	return nil
}

// checkpointAtOrBefore returns the checkpoint with the greatest frame not
// exceeding target. Sessions always carry a frame-0 checkpoint, so a miss
// is a data-integrity bug and is reported as such, naming the frame.
func (p *Player) checkpointAtOrBefore(target int64) (session.Checkpoint, error) {
	cps := p.session.Checkpoints
	idx := sort.Search(len(cps), func(i int) bool { return cps[i].Frame > target })
	if idx == 0 {
		return session.Checkpoint{}, errors.WithMetadata(errors.CodeCheckpointMissing,
			fmt.Sprintf("no checkpoint at or before frame %d", target),
			map[string]string{"frame": fmt.Sprint(target)})
	}
	return cps[idx-1], nil
}

// applyRange delivers entries with (frame, sequence) after the checkpoint
// stamp and frame at most target. Entries of the checkpoint's own frame
// that were logged before the snapshot are already inside it and are
// skipped by the sequence bound.
func (p *Player) applyRange(fromFrame int64, fromSequence uint64, target int64) error {
	events := p.session.Events
	calls := p.session.GenerationCalls

	after := func(frame int64, sequence uint64) bool {
		return frame > fromFrame || (frame == fromFrame && sequence > fromSequence)
	}
	ei := sort.Search(len(events), func(i int) bool { return after(events[i].Frame, events[i].Sequence) })
	ci := sort.Search(len(calls), func(i int) bool { return after(calls[i].Frame, calls[i].Sequence) })

	for ei < len(events) || ci < len(calls) {
		pickEvent := false
		switch {
		case ei >= len(events):
			pickEvent = false
		case ci >= len(calls):
			pickEvent = true
		case events[ei].Frame != calls[ci].Frame:
			pickEvent = events[ei].Frame < calls[ci].Frame
		default:
			pickEvent = events[ei].Sequence < calls[ci].Sequence
		}

		if pickEvent {
			evt := events[ei]
			if evt.Frame > target {
				return nil
			}
			if err := p.provider.Apply(evt); err != nil {
				return fmt.Errorf("apply event at frame %d sequence %d: %w", evt.Frame, evt.Sequence, err)
			}
			ei++
			continue
		}

		call := calls[ci]
		if call.Frame > target {
			return nil
		}
		if err := p.provider.ApplyGenerationCall(call); err != nil {
			return fmt.Errorf("apply generation call at frame %d sequence %d: %w", call.Frame, call.Sequence, err)
		}
		ci++
	}
	return nil
}
