// Package errors provides structured error handling with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Recording errors
	CodeOrderingViolation Code = "ORDERING_VIOLATION"
	CodeRecorderSealed    Code = "RECORDER_SEALED"
	CodeSnapshotFailed    Code = "SNAPSHOT_FAILED"
	CodePayloadInvalid    Code = "PAYLOAD_INVALID"

	// Replay file errors
	CodeFileCorrupt     Code = "FILE_CORRUPT"
	CodeVersionMismatch Code = "VERSION_MISMATCH"
	CodeHeaderMismatch  Code = "HEADER_MISMATCH"

	// Playback errors
	CodeCheckpointMissing Code = "CHECKPOINT_MISSING"
	CodePlayerNotLoaded   Code = "PLAYER_NOT_LOADED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
