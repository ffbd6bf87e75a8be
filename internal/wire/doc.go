// Package wire implements the framed byte-stream transport shared by
// the specula controller and agent.
//
// # Framing
//
// Every message on the wire is one frame:
//
//	<decimal-length>\n<command>\n<payload-bytes>
//
// where the length covers command + "\n" + payload. The command is an
// ASCII token; the payload is opaque bytes and may embed newlines. A
// malformed header (empty, non-numeric, or longer than 32 bytes) and a
// declared length above the frame cap are both fatal: the connection
// terminates without attempting to resync.
//
// # Conn
//
// Conn wraps an already-connected net.Conn:
//
//	conn := wire.NewConn(wire.ConnParams{ID: id, Stream: stream, Logger: logger})
//	conn.On("PING", func(c *wire.Conn, payload []byte) { c.Send("PONG", nil) })
//	conn.Start()
//
// Start spawns two goroutines: a reader that accumulates bytes and
// extracts whole frames, and a dispatcher that runs handlers one at a
// time in wire arrival order. The split keeps a slow handler from
// stalling the reader while preserving per-connection ordering of
// handler starts. Handler panics are contained by the dispatcher.
//
// Sends are atomic at frame granularity: a mutex serializes concurrent
// senders so frames never interleave on the wire.
//
// Stop closes the stream, which unblocks the reader; the running flag
// flips false exactly once. Stop is idempotent and safe to call from
// inside a handler.
package wire
