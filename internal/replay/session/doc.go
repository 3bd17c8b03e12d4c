// Package session holds the recorded-session data model and the live
// recording path: the append-only Recorder and the checkpoint Scheduler.
//
// # Ordering model
//
// Every appended entry carries a sequence number from a single counter
// shared by events, generation calls, and checkpoints, so the merged record
// has a total (frame, sequence) order. Events must arrive with
// non-decreasing frames; generation calls may be logged whenever their
// network request completes and are re-ordered by issue-time frame when the
// session is sealed.
//
// # Lifecycle
//
// A session is created with a frame-0 checkpoint, accumulates entries for
// the playthrough's duration, and is sealed exactly once via Finalize.
// Sealed sessions are immutable values; encoding them to disk is the codec
// package's job.
package session
