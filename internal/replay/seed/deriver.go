package seed

// callKey identifies repeated generation calls within a single frame.
type callKey struct {
	entityID string
	callKind string
}

// Deriver hands out seeds for generation calls, disambiguating repeated
// calls for the same (entity, kind) within one frame via a per-frame call
// index.
//
// The index table only covers the current frame: the frame itself is a hash
// input to Derive, so calls on different frames need no shared history.
// Advancing to a new frame resets the table.
//
// A Deriver is not safe for concurrent use. Seeds must be reserved on the
// game-loop goroutine at the moment a generation call is issued, never when
// it completes; completion order is network-dependent and must not influence
// which index a call received.
type Deriver struct {
	gameSeed int64
	frame    int64
	counts   map[callKey]int
}

// NewDeriver creates a Deriver rooted in the session's game seed.
func NewDeriver(gameSeed int64) *Deriver {
	return &Deriver{
		gameSeed: gameSeed,
		counts:   make(map[callKey]int),
	}
}

// NextSeed reserves the next call index for (entityID, callKind) on frame
// and derives the corresponding seed. The first call for a key on a given
// frame gets index 0; repeated calls get 1, 2, and so on.
func (d *Deriver) NextSeed(entityID, callKind string, frame int64) (uint32, int) {
	if frame != d.frame {
		d.frame = frame
		clear(d.counts)
	}
	key := callKey{entityID: entityID, callKind: callKind}
	index := d.counts[key]
	d.counts[key] = index + 1
	return Derive(d.gameSeed, entityID, callKind, frame, index), index
}

// GameSeed returns the root seed the deriver was created with.
func (d *Deriver) GameSeed() int64 {
	return d.gameSeed
}
