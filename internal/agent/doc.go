// Package agent implements the specula endpoint that runs on managed
// hosts.
//
// An Agent keeps one connection to the controller alive: it dials with
// exponential backoff (1 s doubling to 30 s), sends AUTH immediately
// after connecting, and re-attaches its handler set on every
// reconnect. A connection lost without a BYE pauses 2 s and retries;
// BYE ends the process cleanly.
//
// Handlers:
//
//   - PING: reply PONG
//   - STATUS: gather CPU/memory/disk telemetry and reply
//   - EXEC: run the command under /bin/sh, optionally streaming stdout
//     back in EXEC_OUT frames, then report the exit code in EXEC_DONE
//   - BYE: acknowledge and shut down
//
// Telemetry comes from /proc/stat (two samples 100 ms apart),
// /proc/meminfo (used = total − available), and statfs on a
// configurable path. Sizes travel as kilobytes.
package agent
