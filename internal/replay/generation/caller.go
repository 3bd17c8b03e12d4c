// Package generation binds seeds to text-generation calls at issue time.
//
// Generation requests are asynchronous network operations; several can be
// in flight for different entities within the same frame, and nothing about
// their completion order is guaranteed. The Caller reserves the call index
// and seed synchronously, before a request leaves the process, so two runs
// of the same session derive the same seeds no matter how the network
// interleaves the responses.
package generation

import (
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/mfeld/thornvale/internal/platform/errors"
	"github.com/mfeld/thornvale/internal/replay/seed"
	"github.com/mfeld/thornvale/internal/replay/session"
	"github.com/mfeld/thornvale/internal/telemetry"
)

// promptExcerptLimit caps how much of the prompt is kept on the call
// record. The full response text is always kept; the prompt is only a
// debugging aid.
const promptExcerptLimit = 160

// Request carries everything the backend needs for one generation call.
// Seed is the reproducibility handle; backends should use it to request
// deterministic sampling where they support it.
type Request struct {
	EntityID string
	CallKind string
	Frame    int64
	Seed     uint32
	Prompt   string
}

// Response is the backend's resolved output.
type Response struct {
	Text       string
	TokensUsed int
}

// Backend performs a text-generation request against the external service.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Caller issues generation calls with issue-time seed binding and records
// the results. Issue must be called from the game-loop goroutine; the
// deriver's per-frame counters are not locked.
type Caller struct {
	deriver  *seed.Deriver
	recorder *session.Recorder
	backend  Backend
	emitter  *telemetry.Emitter
	group    errgroup.Group
}

// NewCaller wires the seed deriver, the session recorder, and the backend
// together. The emitter may be nil; dropped-result warnings are then lost.
func NewCaller(deriver *seed.Deriver, recorder *session.Recorder, backend Backend, emitter *telemetry.Emitter) (*Caller, error) {
	if deriver == nil {
		return nil, fmt.Errorf("seed deriver is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	return &Caller{
		deriver:  deriver,
		recorder: recorder,
		backend:  backend,
		emitter:  emitter,
	}, nil
}

// Issue reserves the next (callIndex, seed) for the call synchronously and
// dispatches the backend request on its own goroutine. The reservation
// happens before the request leaves, so completion order can never
// influence which seed a call used. Backend failures are recoverable
// recording-side conditions: they are emitted as warnings and the call is
// simply absent from the log.
func (c *Caller) Issue(ctx context.Context, frame int64, entityID, callKind, prompt string) (uint32, int) {
	callSeed, callIndex := c.deriver.NextSeed(entityID, callKind, frame)

	req := Request{
		EntityID: entityID,
		CallKind: callKind,
		Frame:    frame,
		Seed:     callSeed,
		Prompt:   prompt,
	}
	excerpt := excerptPrompt(prompt)

	c.group.Go(func() error {
		resp, err := c.backend.Generate(ctx, req)
		if err != nil {
			return c.warn(ctx, "generation call failed", frame, entityID, callKind, err)
		}

		logErr := c.recorder.LogGenerationCall(session.GenerationCall{
			Frame:         frame,
			EntityID:      entityID,
			CallKind:      callKind,
			CallIndex:     callIndex,
			Seed:          callSeed,
			PromptExcerpt: excerpt,
			ResponseText:  resp.Text,
			TokensUsed:    resp.TokensUsed,
		})
		if logErr != nil {
			if errors.IsCode(logErr, errors.CodeRecorderSealed) {
				// The session sealed while the request was in flight. The
				// result cannot be inserted into a checkpoint-consistent
				// frame range anymore, so it is dropped.
				return c.warn(ctx, "late generation result dropped after seal", frame, entityID, callKind, logErr)
			}
			return c.warn(ctx, "generation call not recorded", frame, entityID, callKind, logErr)
		}
		return nil
	})

	return callSeed, callIndex
}

// Flush waits for every in-flight generation call. Call it before sealing
// the recorder so pending completions are recorded rather than dropped.
// The returned error reports telemetry-store failures, not backend ones.
func (c *Caller) Flush() error {
	return c.group.Wait()
}

func (c *Caller) warn(ctx context.Context, message string, frame int64, entityID, callKind string, cause error) error {
	return c.emitter.Warn(ctx, "generation", c.recorder.SessionID(), message, map[string]string{
		"frame":    fmt.Sprint(frame),
		"entityId": entityID,
		"callKind": callKind,
		"error":    cause.Error(),
	})
}

// excerptPrompt truncates on a rune boundary.
func excerptPrompt(prompt string) string {
	if len(prompt) <= promptExcerptLimit {
		return prompt
	}
	cut := promptExcerptLimit
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}
