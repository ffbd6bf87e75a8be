// Package console is the controller's interactive front end: a small
// REPL over injected reader/writer streams offering status tables
// (one-shot and watch mode), connection listing, and remote command
// execution with live output following.
//
// The exec path is the consumer side of the command repository: it
// allocates a correlation id, records the execution, unicasts or
// fans out EXEC frames through the server, then polls the record —
// printing newly appended tail bytes for monitored runs — until the
// record reaches Done or the wait timeout expires.
package console
