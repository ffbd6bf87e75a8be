// ABOUTME: Declarative binder that attaches the controller-side handlers
// ABOUTME: (AUTH, PING, STATUS, EXEC_OUT, EXEC_DONE, BYE) to a connection.

package controller

import (
	"log/slog"

	"github.com/Pedro-Porto/specula/internal/cmds"
	"github.com/Pedro-Porto/specula/internal/protocol"
	"github.com/Pedro-Porto/specula/internal/stats"
	"github.com/Pedro-Porto/specula/internal/wire"
)

// RegistryParams configures a Registry.
type RegistryParams struct {
	Stats  *stats.Repo
	Cmds   *cmds.Repo
	Token  string
	Logger *slog.Logger
}

// Registry wires the controller's handler set onto connections. It is
// stateless per connection; repositories are shared across all of them.
type Registry struct {
	stats  *stats.Repo
	cmds   *cmds.Repo
	token  string
	logger *slog.Logger
}

// NewRegistry creates a registry bound to the given repositories and
// shared token.
func NewRegistry(p RegistryParams) *Registry {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stats:  p.Stats,
		cmds:   p.Cmds,
		token:  p.Token,
		logger: logger,
	}
}

// Attach registers every controller handler on c.
func (r *Registry) Attach(c *wire.Conn) {
	c.On(protocol.CmdAuth, r.handleAuth)
	c.On(protocol.CmdPing, r.handlePing)
	c.On(protocol.CmdPong, r.handlePong)
	c.On(protocol.CmdStatus, r.handleStatus)
	c.On(protocol.CmdExecOut, r.handleExecOut)
	c.On(protocol.CmdExecDone, r.handleExecDone)
	c.On(protocol.CmdBye, r.handleBye)
	c.SetDefaultHandler(r.handleUnknown)
}

func (r *Registry) handleAuth(c *wire.Conn, payload []byte) {
	if string(payload) == r.token {
		c.SetAuthenticated(true)
		c.Send(protocol.RespOK, []byte(protocol.PayloadOKAgent))
		r.logger.Info("agent authenticated", "conn_id", c.ID())
		return
	}
	c.SetAuthenticated(false)
	c.Send(protocol.RespErr, []byte(protocol.PayloadUnauthorized))
	r.logger.Warn("auth rejected", "conn_id", c.ID())
}

func (r *Registry) handlePing(c *wire.Conn, _ []byte) {
	c.Send(protocol.CmdPong, nil)
}

// Agent-initiated liveness; nothing to do.
func (r *Registry) handlePong(_ *wire.Conn, _ []byte) {}

func (r *Registry) handleStatus(c *wire.Conn, payload []byte) {
	if !r.requireAuth(c) {
		return
	}
	report := protocol.ParseStatus(string(payload))
	r.stats.Upsert(stats.Stats{
		ConnID:         c.ID(),
		CPUPercent:     report.CPUPercent,
		MemUsedBytes:   report.MemUsedKB * 1024,
		MemTotalBytes:  report.MemTotalKB * 1024,
		DiskUsedBytes:  report.DiskUsedKB * 1024,
		DiskTotalBytes: report.DiskTotalKB * 1024,
	})
}

func (r *Registry) handleExecOut(c *wire.Conn, payload []byte) {
	if !r.requireAuth(c) {
		return
	}
	header, chunk := protocol.SplitHeader(payload)
	id := protocol.KVInt(protocol.ParseKV(header), "id", 0)
	if id <= 0 || len(chunk) == 0 {
		return
	}
	if !r.cmds.AppendOut(id, chunk) {
		c.Send(protocol.RespErr, []byte(protocol.PayloadInvalidID))
	}
}

func (r *Registry) handleExecDone(c *wire.Conn, payload []byte) {
	if !r.requireAuth(c) {
		return
	}
	kv := protocol.ParseKV(string(payload))
	id := protocol.KVInt(kv, "id", 0)
	code := protocol.KVInt(kv, "code", -1)
	if id <= 0 || code < 0 {
		return
	}
	if !r.cmds.Done(id, code) {
		c.Send(protocol.RespErr, []byte(protocol.PayloadInvalidID))
	}
}

func (r *Registry) handleBye(c *wire.Conn, _ []byte) {
	c.Send(protocol.RespOK, []byte(protocol.PayloadOKBye))
}

func (r *Registry) handleUnknown(c *wire.Conn, payload []byte) {
	r.logger.Warn("unknown command",
		"conn_id", c.ID(),
		"payload_len", len(payload),
	)
	c.Send(protocol.RespErr, []byte(protocol.PayloadUnknownCmd))
}

// requireAuth replies ERR unauthorized when the connection has not yet
// authenticated. The connection stays open; the peer may AUTH later.
func (r *Registry) requireAuth(c *wire.Conn) bool {
	if c.Authenticated() {
		return true
	}
	c.Send(protocol.RespErr, []byte(protocol.PayloadUnauthorized))
	return false
}
