package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mfeld/thornvale/internal/replay/seed"
	"github.com/mfeld/thornvale/internal/replay/session"
	"github.com/mfeld/thornvale/internal/storage"
	"github.com/mfeld/thornvale/internal/telemetry"
)

type stubProvider struct{}

func (stubProvider) Snapshot(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"state":"ok"}`), nil
}

func (stubProvider) Restore(snapshot json.RawMessage) error { return nil }

func (stubProvider) Apply(evt session.Event) error { return nil }

func (stubProvider) ApplyGenerationCall(session.GenerationCall) error { return nil }

// gateBackend holds every request until released, so tests control the
// completion order of concurrent calls.
type gateBackend struct {
	mu       sync.Mutex
	release  map[string]chan struct{}
	requests []Request
}

func newGateBackend() *gateBackend {
	return &gateBackend{release: make(map[string]chan struct{})}
}

func (b *gateBackend) gate(entityID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.release[entityID]
	if !ok {
		ch = make(chan struct{})
		b.release[entityID] = ch
	}
	return ch
}

func (b *gateBackend) Generate(ctx context.Context, req Request) (Response, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	select {
	case <-b.gate(req.EntityID):
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	return Response{Text: "reply for " + req.EntityID, TokensUsed: 7}, nil
}

type memoryTelemetryStore struct {
	mu     sync.Mutex
	events []storage.TelemetryEvent
}

func (s *memoryTelemetryStore) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memoryTelemetryStore) snapshot() []storage.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.TelemetryEvent(nil), s.events...)
}

func newTestRecorder(t *testing.T) *session.Recorder {
	t.Helper()
	rec, err := session.NewRecorder(context.Background(), 424242, stubProvider{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rec
}

func TestIssueBindsSeedBeforeCompletion(t *testing.T) {
	rec := newTestRecorder(t)
	deriver := seed.NewDeriver(rec.GameSeed())
	backend := newGateBackend()

	caller, err := NewCaller(deriver, rec, backend, nil)
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}

	ctx := context.Background()
	seedA, indexA := caller.Issue(ctx, 12, "npc-blacksmith", "dialogue", "greet the player")
	seedB, indexB := caller.Issue(ctx, 12, "npc-innkeeper", "dialogue", "offer a room")
	seedA2, indexA2 := caller.Issue(ctx, 12, "npc-blacksmith", "dialogue", "haggle")

	if indexA != 0 || indexB != 0 {
		t.Fatalf("first call per (entity, kind) should get index 0, got %d and %d", indexA, indexB)
	}
	if indexA2 != 1 {
		t.Fatalf("second blacksmith call should get index 1, got %d", indexA2)
	}

	wantA := seed.Derive(rec.GameSeed(), "npc-blacksmith", "dialogue", 12, 0)
	wantB := seed.Derive(rec.GameSeed(), "npc-innkeeper", "dialogue", 12, 0)
	wantA2 := seed.Derive(rec.GameSeed(), "npc-blacksmith", "dialogue", 12, 1)
	if seedA != wantA || seedB != wantB || seedA2 != wantA2 {
		t.Fatalf("issue-time seeds diverged from Derive: got (%d, %d, %d), want (%d, %d, %d)",
			seedA, seedB, seedA2, wantA, wantB, wantA2)
	}

	// Complete in the reverse of issue order.
	close(backend.gate("npc-innkeeper"))
	close(backend.gate("npc-blacksmith"))
	if err := caller.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(s.GenerationCalls) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", len(s.GenerationCalls))
	}
	for _, call := range s.GenerationCalls {
		want := seed.Derive(rec.GameSeed(), call.EntityID, call.CallKind, call.Frame, call.CallIndex)
		if call.Seed != want {
			t.Errorf("recorded seed for %s[%d] = %d, want %d", call.EntityID, call.CallIndex, call.Seed, want)
		}
	}
}

func TestIssueRecordsResponseAndExcerpt(t *testing.T) {
	rec := newTestRecorder(t)
	backend := newGateBackend()
	caller, err := NewCaller(seed.NewDeriver(rec.GameSeed()), rec, backend, nil)
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}

	longPrompt := strings.Repeat("дca", 120)
	caller.Issue(context.Background(), 3, "npc-guard", "bark", longPrompt)
	close(backend.gate("npc-guard"))
	if err := caller.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(s.GenerationCalls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(s.GenerationCalls))
	}
	call := s.GenerationCalls[0]
	if call.ResponseText != "reply for npc-guard" {
		t.Errorf("response text = %q", call.ResponseText)
	}
	if call.TokensUsed != 7 {
		t.Errorf("tokens used = %d, want 7", call.TokensUsed)
	}
	if len(call.PromptExcerpt) > promptExcerptLimit {
		t.Errorf("excerpt is %d bytes, limit is %d", len(call.PromptExcerpt), promptExcerptLimit)
	}
	if !strings.HasPrefix(longPrompt, call.PromptExcerpt) {
		t.Errorf("excerpt is not a prefix of the prompt")
	}
	if !strings.HasPrefix(call.PromptExcerpt, "дca") {
		t.Errorf("excerpt mangled leading runes: %q", call.PromptExcerpt[:12])
	}
}

func TestLateResultAfterSealIsDropped(t *testing.T) {
	rec := newTestRecorder(t)
	store := &memoryTelemetryStore{}
	backend := newGateBackend()
	caller, err := NewCaller(seed.NewDeriver(rec.GameSeed()), rec, backend, telemetry.NewEmitter(store))
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}

	caller.Issue(context.Background(), 5, "npc-merchant", "dialogue", "price the sword")

	// Seal while the call is still in flight.
	sealed, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(sealed.GenerationCalls) != 0 {
		t.Fatalf("sealed session should have no calls, got %d", len(sealed.GenerationCalls))
	}

	close(backend.gate("npc-merchant"))
	if err := caller.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 telemetry warning, got %d", len(events))
	}
	evt := events[0]
	if evt.Severity != string(telemetry.SeverityWarn) {
		t.Errorf("severity = %q, want WARN", evt.Severity)
	}
	if evt.Source != "generation" {
		t.Errorf("source = %q", evt.Source)
	}
	if evt.Metadata["entityId"] != "npc-merchant" {
		t.Errorf("metadata entityId = %q", evt.Metadata["entityId"])
	}
}

func TestBackendFailureIsWarnedNotRecorded(t *testing.T) {
	rec := newTestRecorder(t)
	store := &memoryTelemetryStore{}
	failing := backendFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{}, fmt.Errorf("upstream unavailable")
	})
	caller, err := NewCaller(seed.NewDeriver(rec.GameSeed()), rec, failing, telemetry.NewEmitter(store))
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}

	caller.Issue(context.Background(), 1, "npc-guard", "bark", "halt")
	if err := caller.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(s.GenerationCalls) != 0 {
		t.Fatalf("failed calls must not be recorded, got %d", len(s.GenerationCalls))
	}
	if len(store.snapshot()) != 1 {
		t.Fatalf("expected 1 telemetry warning, got %d", len(store.snapshot()))
	}
}

type backendFunc func(ctx context.Context, req Request) (Response, error)

func (f backendFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
