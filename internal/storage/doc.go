// Package storage defines the persistence interfaces for the replay core.
//
// It abstracts two concerns: the archive of sealed replay files (metadata
// plus the compressed blob itself) and operational telemetry. The SQLite
// implementation lives in the sqlite subpackage.
//
// # Error Types
//
// The package defines common error types used across storage
// implementations:
//   - ErrNotFound: Indicates a requested record is missing.
package storage
