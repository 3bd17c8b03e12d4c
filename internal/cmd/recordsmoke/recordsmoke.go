// Package recordsmoke records a synthetic session end to end: scripted
// events and generation calls go through the real recorder, the sealed
// session round-trips through the codec and optionally the archive, and
// playback re-derives the final state. It exists to exercise the whole
// recording path against a live build without a game attached.
package recordsmoke

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"

	entrypoint "github.com/mfeld/thornvale/internal/platform/cmd"
	"github.com/mfeld/thornvale/internal/random"
	"github.com/mfeld/thornvale/internal/replay/codec"
	"github.com/mfeld/thornvale/internal/replay/generation"
	"github.com/mfeld/thornvale/internal/replay/player"
	"github.com/mfeld/thornvale/internal/replay/seed"
	"github.com/mfeld/thornvale/internal/replay/session"
	"github.com/mfeld/thornvale/internal/storage"
	"github.com/mfeld/thornvale/internal/storage/sqlite"
	"github.com/mfeld/thornvale/internal/telemetry"
)

// Config holds record-smoke command configuration.
type Config struct {
	DBPath             string `env:"THORNVALE_DB_PATH"`
	CheckpointInterval int64  `env:"THORNVALE_CHECKPOINT_INTERVAL" envDefault:"120"`

	Seed     int64
	Frames   int64
	OutPath  string
	EventGap int64
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.Int64Var(&cfg.Seed, "seed", 0, "game seed (0 = random)")
	fs.Int64Var(&cfg.Frames, "frames", 600, "frames to simulate")
	fs.Int64Var(&cfg.EventGap, "event-gap", 10, "frames between scripted events")
	fs.StringVar(&cfg.OutPath, "out", "", "write the sealed replay to this file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "archive the sealed replay into this database")
	fs.Int64Var(&cfg.CheckpointInterval, "checkpoint-interval", cfg.CheckpointInterval, "checkpoint cadence in frames")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// smokeWorld is the scripted game: a position counter plus the dialogue
// heard so far. Identical event streams produce identical worlds, which is
// what the final playback comparison leans on.
type smokeWorld struct {
	Position int64    `json:"position"`
	Dialogue []string `json:"dialogue"`
}

func (w *smokeWorld) Snapshot(ctx context.Context) (json.RawMessage, error) {
	return json.Marshal(w)
}

func (w *smokeWorld) Restore(snapshot json.RawMessage) error {
	var decoded smokeWorld
	if err := json.Unmarshal(snapshot, &decoded); err != nil {
		return err
	}
	*w = decoded
	return nil
}

func (w *smokeWorld) Apply(evt session.Event) error {
	var move struct {
		Dx int64 `json:"dx"`
	}
	if err := json.Unmarshal(evt.Payload, &move); err != nil {
		return err
	}
	w.Position += move.Dx
	return nil
}

func (w *smokeWorld) ApplyGenerationCall(call session.GenerationCall) error {
	w.Dialogue = append(w.Dialogue, call.ResponseText)
	return nil
}

// scriptedBackend fabricates deterministic responses from the call seed,
// standing in for the real text-generation service. It remembers the last
// response so the scripted game loop can apply it to its world the way a
// real game applies arrived dialogue.
type scriptedBackend struct {
	lastText string
}

func (b *scriptedBackend) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	text := fmt.Sprintf("%s/%s utterance %08x", req.EntityID, req.CallKind, req.Seed)
	b.lastText = text
	return generation.Response{Text: text, TokensUsed: len(text)}, nil
}

// Run records, seals, persists, and verifies one synthetic session.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRecordSmoke, func(ctx context.Context) error {
		gameSeed := cfg.Seed
		if gameSeed == 0 {
			var err error
			gameSeed, err = random.NewSeed()
			if err != nil {
				return err
			}
		}
		if cfg.Frames <= 0 {
			return fmt.Errorf("frames must be positive")
		}
		eventGap := cfg.EventGap
		if eventGap <= 0 {
			eventGap = 10
		}

		sealed, world, err := record(ctx, cfg, gameSeed, eventGap)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "recorded session %s: seed=%d frames=%d events=%d calls=%d checkpoints=%d\n",
			sealed.Header.SessionID, gameSeed, sealed.Header.FrameCount,
			sealed.Header.EventCount, sealed.Header.GenerationCallCount, sealed.Header.CheckpointCount)

		blob, err := codec.Encode(sealed)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "encoded %d bytes\n", len(blob))

		if strings.TrimSpace(cfg.OutPath) != "" {
			if err := codec.WriteFile(cfg.OutPath, sealed); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", cfg.OutPath)
		}
		if strings.TrimSpace(cfg.DBPath) != "" {
			if err := archive(ctx, cfg.DBPath, sealed, blob); err != nil {
				return err
			}
			fmt.Fprintf(out, "archived to %s\n", cfg.DBPath)
		}

		decoded, err := codec.Decode(blob)
		if err != nil {
			return err
		}
		if err := verifyPlayback(decoded, world); err != nil {
			return err
		}
		fmt.Fprintf(out, "playback verified: position=%d dialogue=%d lines\n", world.Position, len(world.Dialogue))
		return nil
	})
}

// record drives the scripted game: a move event every eventGap frames, a
// dialogue call on every third event, checkpoints on the configured
// cadence, and a forced checkpoint on the final frame.
func record(ctx context.Context, cfg Config, gameSeed, eventGap int64) (session.Session, *smokeWorld, error) {
	world := &smokeWorld{}
	rec, err := session.NewRecorder(ctx, gameSeed, world)
	if err != nil {
		return session.Session{}, nil, err
	}
	sched := session.NewScheduler(rec, cfg.CheckpointInterval)

	var emitter *telemetry.Emitter
	if strings.TrimSpace(cfg.DBPath) != "" {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return session.Session{}, nil, err
		}
		defer store.Close()
		emitter = telemetry.NewEmitter(store)
	}

	backend := &scriptedBackend{}
	caller, err := generation.NewCaller(seed.NewDeriver(gameSeed), rec, backend, emitter)
	if err != nil {
		return session.Session{}, nil, err
	}

	eventCount := 0
	for frame := eventGap; frame < cfg.Frames; frame += eventGap {
		payload := json.RawMessage(fmt.Sprintf(`{"dx":%d}`, frame%7+1))
		if err := rec.LogEvent(frame, "move", "player", payload); err != nil {
			return session.Session{}, nil, err
		}
		if err := world.Apply(session.Event{Frame: frame, Kind: "move", Payload: payload}); err != nil {
			return session.Session{}, nil, err
		}
		eventCount++

		if eventCount%3 == 0 {
			caller.Issue(ctx, frame, "npc-wanderer", "dialogue",
				fmt.Sprintf("the wanderer reacts at frame %d", frame))
			// The scripted backend resolves instantly; wait for the result
			// and apply it before any later entry or checkpoint, the way a
			// game applies dialogue the moment it arrives.
			if err := caller.Flush(); err != nil {
				return session.Session{}, nil, err
			}
			world.Dialogue = append(world.Dialogue, backend.lastText)
		}
		if err := sched.MaybeCheckpoint(ctx, frame, world); err != nil {
			return session.Session{}, nil, err
		}
	}

	sealed, err := rec.Finalize()
	if err != nil {
		return session.Session{}, nil, err
	}
	return sealed, world, nil
}

func archive(ctx context.Context, dbPath string, s session.Session, blob []byte) error {
	ctx, span := otel.Tracer("thornvale/record-smoke").Start(ctx, "smoke.archive")
	defer span.End()

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveReplay(ctx, storage.ArchiveRecord{
		SessionID:           s.Header.SessionID,
		GameSeed:            s.Header.GameSeed,
		FrameCount:          s.Header.FrameCount,
		EventCount:          s.Header.EventCount,
		GenerationCallCount: s.Header.GenerationCallCount,
		CheckpointCount:     s.Header.CheckpointCount,
		SizeBytes:           int64(len(blob)),
		CreatedAt:           s.Header.CreatedAt,
	}, blob)
}

// verifyPlayback replays the decoded session into a fresh world and
// compares it against the state the recording side ended with.
func verifyPlayback(s session.Session, recorded *smokeWorld) error {
	replayed := &smokeWorld{}
	p := player.New(replayed)
	if err := p.Load(s); err != nil {
		return err
	}
	if err := p.Step(s.LastFrame()); err != nil {
		return err
	}
	if replayed.Position != recorded.Position {
		return fmt.Errorf("replayed position %d, recorded %d", replayed.Position, recorded.Position)
	}
	if len(replayed.Dialogue) != len(recorded.Dialogue) {
		return fmt.Errorf("replayed %d dialogue lines, recorded %d", len(replayed.Dialogue), len(recorded.Dialogue))
	}
	for i := range replayed.Dialogue {
		if replayed.Dialogue[i] != recorded.Dialogue[i] {
			return fmt.Errorf("dialogue line %d diverged: %q vs %q", i, replayed.Dialogue[i], recorded.Dialogue[i])
		}
	}
	return nil
}
