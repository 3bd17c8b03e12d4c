package codec

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mfeld/thornvale/internal/platform/errors"
	"github.com/mfeld/thornvale/internal/replay/session"
)

type stubProvider struct{}

func (stubProvider) Snapshot(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"world":"initial"}`), nil
}

func (stubProvider) Restore(snapshot json.RawMessage) error { return nil }

func (stubProvider) Apply(evt session.Event) error { return nil }

func (stubProvider) ApplyGenerationCall(session.GenerationCall) error { return nil }

// recordedSession builds a sealed session through a real recorder so it
// carries the same shapes a live game would produce.
func recordedSession(t *testing.T) session.Session {
	t.Helper()

	clock := func() time.Time {
		return time.Date(2026, time.August, 29, 16, 0, 0, 0, time.UTC)
	}
	rec, err := session.NewRecorder(context.Background(), 99999, stubProvider{},
		session.WithClock(clock), session.WithSessionID("sess-codec"))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	events := []struct {
		frame   int64
		kind    string
		payload string
	}{
		{10, "move", `{ "x": 4, "y": 2 }`},
		{10, "move", `{"x":5,"y":2}`},
		{42, "talk", `{"target":"npc-blacksmith"}`},
	}
	for _, evt := range events {
		if err := rec.LogEvent(evt.frame, evt.kind, "player", json.RawMessage(evt.payload)); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	if err := rec.LogGenerationCall(session.GenerationCall{
		Frame:         42,
		EntityID:      "npc-blacksmith",
		CallKind:      "dialogue",
		CallIndex:     0,
		Seed:          0xC0FFEE,
		PromptExcerpt: "the blacksmith greets",
		ResponseText:  "Well met, traveler.",
		TokensUsed:    9,
	}); err != nil {
		t.Fatalf("LogGenerationCall: %v", err)
	}

	s, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return s
}

// rawEncode compresses an arbitrary session without Encode's validation,
// for crafting malformed inputs.
func rawEncode(t *testing.T, s session.Session) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		t.Fatalf("raw encode: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("raw encode close: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := recordedSession(t)

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Fatalf("round trip diverged:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestEncodeRejectsInvalidSession(t *testing.T) {
	s := recordedSession(t)
	s.Header.EventCount++
	if _, err := Encode(s); !errors.IsCode(err, errors.CodeHeaderMismatch) {
		t.Fatalf("Encode error = %v, want HEADER_MISMATCH", err)
	}
}

func TestDecodeRejectsNonGzipData(t *testing.T) {
	_, err := Decode([]byte("this is not a replay file"))
	if !errors.IsCode(err, errors.CodeFileCorrupt) {
		t.Fatalf("error = %v, want FILE_CORRUPT", err)
	}
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	data, err := Encode(recordedSession(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(data[:len(data)-4])
	if !errors.IsCode(err, errors.CodeFileCorrupt) {
		t.Fatalf("error = %v, want FILE_CORRUPT", err)
	}
}

func TestDecodeRejectsFlippedBytes(t *testing.T) {
	data, err := Encode(recordedSession(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := bytes.Clone(data)
	tampered[len(tampered)/2] ^= 0xFF
	if _, err := Decode(tampered); !errors.IsCode(err, errors.CodeFileCorrupt) {
		t.Fatalf("error = %v, want FILE_CORRUPT", err)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	s := recordedSession(t)
	s.Header.FormatVersion = session.FormatVersion + 1

	_, err := Decode(rawEncode(t, s))
	if !errors.IsCode(err, errors.CodeVersionMismatch) {
		t.Fatalf("error = %v, want VERSION_MISMATCH", err)
	}
}

func TestDecodeRejectsHeaderCountMismatch(t *testing.T) {
	s := recordedSession(t)
	s.Header.CheckpointCount = 7

	_, err := Decode(rawEncode(t, s))
	if !errors.IsCode(err, errors.CodeHeaderMismatch) {
		t.Fatalf("error = %v, want HEADER_MISMATCH", err)
	}
}

func TestDecodeRejectsOutOfOrderEvents(t *testing.T) {
	s := recordedSession(t)
	s.Events[0], s.Events[len(s.Events)-1] = s.Events[len(s.Events)-1], s.Events[0]

	_, err := Decode(rawEncode(t, s))
	if !errors.IsCode(err, errors.CodeOrderingViolation) {
		t.Fatalf("error = %v, want ORDERING_VIOLATION", err)
	}
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	original := recordedSession(t)
	path := filepath.Join(t.TempDir(), "session.replay")

	if err := WriteFile(path, original); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(loaded, original) {
		t.Fatalf("file round trip diverged")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.replay")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
