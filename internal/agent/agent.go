// ABOUTME: The reconnecting agent: dials the controller with exponential
// ABOUTME: backoff, authenticates, and answers PING/STATUS/EXEC/BYE.

package agent

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Pedro-Porto/specula/internal/protocol"
	"github.com/Pedro-Porto/specula/internal/wire"
)

// Reconnect policy: 1 s doubling to 30 s on connect failure, a flat
// 2 s pause after losing an established connection.
const (
	reconnectMin   = 1 * time.Second
	reconnectMax   = 30 * time.Second
	reconnectPause = 2 * time.Second

	pollEvery = 50 * time.Millisecond
)

// Params configures an Agent.
type Params struct {
	Addr           string
	Token          string
	ConnectTimeout time.Duration
	DiskPath       string
	Logger         *slog.Logger
}

// Agent is one fabric endpoint on a managed host. It keeps exactly one
// connection to the controller alive, re-dialing until told BYE or the
// context ends.
type Agent struct {
	addr           string
	token          string
	connectTimeout time.Duration
	diskPath       string
	logger         *slog.Logger
	instanceID     string

	wantClose atomic.Bool
}

// New creates an agent. DiskPath defaults to "/"; ConnectTimeout to
// the wire package's dial default.
func New(p Params) *Agent {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	diskPath := p.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	instanceID := uuid.New().String()
	return &Agent{
		addr:           p.Addr,
		token:          p.Token,
		connectTimeout: p.ConnectTimeout,
		diskPath:       diskPath,
		logger:         logger.With("instance_id", instanceID),
		instanceID:     instanceID,
	}
}

// InstanceID identifies this agent process in logs.
func (a *Agent) InstanceID() string { return a.instanceID }

// Run dials the controller and serves until the controller says BYE or
// ctx is cancelled. Connect failures back off exponentially; a dropped
// connection is re-dialed after a short pause.
func (a *Agent) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stream, err := wire.Dial(a.addr, a.connectTimeout)
		if err != nil {
			a.logger.Warn("connect failed",
				"addr", a.addr,
				"retry_in", backoff,
				"err", err,
			)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}
		backoff = reconnectMin

		a.logger.Info("connected", "addr", a.addr)
		a.serve(ctx, stream)

		if a.wantClose.Load() {
			a.logger.Info("controller said bye, shutting down")
			return nil
		}
		a.logger.Info("disconnected, will retry", "pause", reconnectPause)
		if !sleepCtx(ctx, reconnectPause) {
			return ctx.Err()
		}
	}
}

// serve runs one connection to completion: attach handlers, start the
// reader, authenticate, then idle until the connection dies, the
// controller says BYE, or ctx ends.
func (a *Agent) serve(ctx context.Context, stream net.Conn) {
	conn := wire.NewConn(wire.ConnParams{Stream: stream, Logger: a.logger})
	a.attach(conn)
	conn.Start()
	defer conn.Stop()

	if err := conn.Send(protocol.CmdAuth, []byte(a.token)); err != nil {
		a.logger.Warn("auth send failed", "err", err)
		return
	}

	for conn.Running() && !a.wantClose.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollEvery):
		}
	}
}

// attach mirror-registers the agent-side handler set.
func (a *Agent) attach(c *wire.Conn) {
	c.On(protocol.CmdPing, func(c *wire.Conn, _ []byte) {
		c.Send(protocol.CmdPong, nil)
	})
	c.On(protocol.CmdStatus, a.handleStatus)
	c.On(protocol.CmdExec, a.handleExec)
	c.On(protocol.CmdBye, func(c *wire.Conn, _ []byte) {
		c.Send(protocol.RespOK, []byte(protocol.PayloadOKBye))
		a.wantClose.Store(true)
	})
	c.SetDefaultHandler(func(_ *wire.Conn, payload []byte) {
		a.logger.Debug("unhandled frame from controller", "payload_len", len(payload))
	})
}

// handleStatus gathers host telemetry and replies with a STATUS report.
func (a *Agent) handleStatus(c *wire.Conn, _ []byte) {
	report := gatherStatus(a.diskPath)
	if err := c.Send(protocol.CmdStatus, report.Encode()); err != nil {
		a.logger.Warn("status reply failed", "err", err)
	}
}

// handleExec parses "id=<n> monitor=<0|1>\n<command>\n", runs the
// command under the shell, optionally streaming stdout chunks back as
// EXEC_OUT, and always finishes with EXEC_DONE.
func (a *Agent) handleExec(c *wire.Conn, payload []byte) {
	header, body := protocol.SplitHeader(payload)
	kv := protocol.ParseKV(header)
	id := protocol.KVInt(kv, "id", 0)
	monitor := protocol.KVBool(kv, "monitor", false)
	command := strings.TrimSpace(string(body))

	a.logger.Info("exec requested", "id", id, "monitor", monitor)

	if command == "" {
		c.Send(protocol.CmdExecDone, protocol.ExecDonePayload(id, codeSpawnFailure))
		return
	}

	var onChunk func([]byte)
	if monitor {
		onChunk = func(chunk []byte) {
			c.Send(protocol.CmdExecOut, protocol.ExecOutPayload(id, chunk))
		}
	}
	code := runShell(command, onChunk)
	c.Send(protocol.CmdExecDone, protocol.ExecDonePayload(id, code))
	a.logger.Info("exec finished", "id", id, "code", code)
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
