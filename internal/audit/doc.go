// Package audit buffers security-relevant events and hands them to a sink on
// a background goroutine.
//
// # Components
//
//   - [Sink] receives events (channel, JSON lines, slog, no-op).
//   - [Dispatcher] is the bounded relay between the engine and a sink. When
//     full it either drops and counts, or blocks until the caller's context ends.
//   - [Event] is the record: timestamp, type, subject, client IP, outcome, metadata.
//
// The package does not decide which events to emit; the engine does. It must
// not import the root package or perform I/O beyond what a supplied Sink does.
package audit
