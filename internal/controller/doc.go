// Package controller implements the server side of the specula fabric.
//
// # Server
//
// Server accepts agent connections, assigns each a strictly-increasing
// connection id, attaches the Registry's handlers, and records the
// peer/local endpoint:
//
//	srv := controller.NewServer(controller.ServerParams{Registry: reg, Logger: logger})
//	srv.Start("0.0.0.0:60119")
//
// Key operations:
//
//   - Broadcast(cmd, payload): send to every running connection
//   - Send(cmd, payload, connID): unicast; true iff found and written
//   - ForEachConn(f): traverse running connections
//   - ListEndpoints(): the conn_id → endpoint index
//   - Stop(): close listener, join acceptor, stop all connections
//
// Dead connections are reaped lazily by whichever operation next
// traverses the live set; the OnReap callback lets the owner drop
// per-connection state (telemetry) at that point.
//
// # Registry
//
// Registry binds the controller's handler table onto a connection:
// AUTH compares the shared token and flips the connection's
// authenticated flag; STATUS upserts telemetry; EXEC_OUT and EXEC_DONE
// advance the command repository record matching the correlation id;
// BYE and PING answer politely; everything else gets ERR unknown_cmd.
// STATUS, EXEC_OUT, and EXEC_DONE require prior authentication and
// answer ERR unauthorized (without closing) when it is missing.
package controller
