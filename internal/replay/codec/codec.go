// Package codec persists sealed sessions as gzip-compressed JSON.
//
// The uncompressed document keeps plain top-level header, events,
// generationCalls, and checkpoints keys, so a decompressed replay file can
// be inspected by hand when debugging. Event logs are highly repetitive;
// compressing them is a design goal, not an afterthought, and typically
// shrinks files by 70-80%.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mfeld/thornvale/internal/platform/errors"
	"github.com/mfeld/thornvale/internal/replay/session"
)

// Encode serializes a sealed session. It refuses structurally invalid
// sessions rather than writing a file that could not be loaded back.
func Encode(s session.Session) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed session: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a replay produced by Encode. It fails closed: on any
// problem the caller gets a typed error and no session, never a partially
// populated one. Failure modes are FILE_CORRUPT (decompression or parse),
// VERSION_MISMATCH (unsupported format version), HEADER_MISMATCH (declared
// counts disagree with array lengths), and ORDERING_VIOLATION (invariants
// broken inside the decoded arrays).
func Decode(data []byte) (session.Session, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return session.Session{}, errors.Wrap(errors.CodeFileCorrupt, "decompress replay", err)
	}
	defer zr.Close()

	var s session.Session
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return session.Session{}, errors.Wrap(errors.CodeFileCorrupt, "parse replay document", err)
	}
	// Drain to surface truncated or corrupted gzip trailers.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return session.Session{}, errors.Wrap(errors.CodeFileCorrupt, "read replay trailer", err)
	}

	if s.Header.FormatVersion != session.FormatVersion {
		return session.Session{}, errors.WithMetadata(errors.CodeVersionMismatch,
			fmt.Sprintf("unsupported format version %d, this build reads version %d", s.Header.FormatVersion, session.FormatVersion),
			map[string]string{"formatVersion": fmt.Sprint(s.Header.FormatVersion)})
	}
	if err := s.Validate(); err != nil {
		return session.Session{}, err
	}
	return s, nil
}

// WriteFile encodes s and writes it to path.
func WriteFile(path string, s session.Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write replay file: %w", err)
	}
	return nil
}

// ReadFile loads and decodes the replay at path.
func ReadFile(path string) (session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Session{}, fmt.Errorf("read replay file: %w", err)
	}
	return Decode(data)
}
