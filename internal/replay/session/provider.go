package session

import (
	"context"
	"encoding/json"
)

// StateProvider is the external collaborator that owns interpretable game
// state. The replay core transports snapshots and payloads but never
// inspects their contents.
//
// Snapshot serializes the provider's current state. Restore replaces the
// provider's state with a previously captured snapshot. Apply and
// ApplyGenerationCall advance state by one recorded entry; during playback
// they are invoked in exact (frame, sequence) order.
type StateProvider interface {
	Snapshot(ctx context.Context) (json.RawMessage, error)
	Restore(snapshot json.RawMessage) error
	Apply(evt Event) error
	ApplyGenerationCall(call GenerationCall) error
}
