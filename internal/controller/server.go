// ABOUTME: Connection manager for the controller: accept loop, live set,
// ABOUTME: endpoint table, and broadcast/unicast send paths.

package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Pedro-Porto/specula/internal/wire"
)

// Attacher binds handlers onto a freshly accepted connection before it
// starts reading.
type Attacher interface {
	Attach(c *wire.Conn)
}

// Endpoint is the resolved address pair of an accepted connection,
// computed once at accept time.
type Endpoint struct {
	PeerIP    string
	PeerPort  int
	LocalIP   string
	LocalPort int
	Family    string // "ipv4" or "ipv6"
}

// EndpointEntry pairs a connection id with its endpoint for listings.
type EndpointEntry struct {
	ConnID   int
	Endpoint Endpoint
}

// ServerParams configures a Server.
type ServerParams struct {
	Registry Attacher
	Logger   *slog.Logger
	MaxFrame int

	// OnReap is invoked with the id of each dead connection removed
	// from the live set, outside any server lock. Optional.
	OnReap func(connID int)
}

// Server owns the accept loop, the set of live connections, and the
// conn_id → endpoint index. Connection ids are strictly increasing and
// stable for the connection's lifetime.
type Server struct {
	registry Attacher
	logger   *slog.Logger
	maxFrame int
	onReap   func(connID int)
	serverID string

	lis        net.Listener
	running    atomic.Bool
	acceptDone chan struct{}

	connMu sync.Mutex
	conns  []*wire.Conn

	epMu      sync.Mutex
	endpoints map[int]Endpoint

	nextConnID atomic.Int64
}

// NewServer creates a server that attaches p.Registry to every
// accepted connection.
func NewServer(p ServerParams) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  p.Registry,
		logger:    logger,
		maxFrame:  p.MaxFrame,
		onReap:    p.OnReap,
		serverID:  uuid.New().String(),
		endpoints: make(map[int]Endpoint),
	}
}

// ServerID identifies this controller process in logs.
func (s *Server) ServerID() string { return s.serverID }

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Start binds the listener and spawns the accept loop.
func (s *Server) Start(addr string) error {
	lis, err := wire.Listen(addr)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	s.lis = lis
	s.acceptDone = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("controller listening",
		"server_id", s.serverID,
		"addr", lis.Addr().String(),
	)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		stream, err := s.lis.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}
		s.handleAccept(stream)
	}
}

func (s *Server) handleAccept(stream net.Conn) {
	id := int(s.nextConnID.Add(1))
	conn := wire.NewConn(wire.ConnParams{
		ID:       id,
		Stream:   stream,
		Logger:   s.logger,
		MaxFrame: s.maxFrame,
	})

	s.registry.Attach(conn)
	conn.Start()

	if ep, ok := resolveEndpoint(stream); ok {
		s.epMu.Lock()
		s.endpoints[id] = ep
		s.epMu.Unlock()
	}

	s.connMu.Lock()
	s.reapLocked()
	s.conns = append(s.conns, conn)
	total := len(s.conns)
	s.connMu.Unlock()

	s.logger.Info("agent connected",
		"conn_id", id,
		"peer", stream.RemoteAddr().String(),
		"total_conns", total,
	)
}

// Stop closes the listener, joins the accept loop, and stops every
// live connection. Idempotent.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	if s.lis != nil {
		s.lis.Close()
		<-s.acceptDone
	}
	s.connMu.Lock()
	conns := slices.Clone(s.conns)
	s.connMu.Unlock()
	for _, c := range conns {
		c.Stop()
	}
}

// Broadcast sends to every running connection; individual send
// failures are swallowed.
func (s *Server) Broadcast(command string, payload []byte) {
	s.ForEachConn(func(c *wire.Conn) {
		if err := c.Send(command, payload); err != nil {
			s.logger.Debug("broadcast send failed",
				"conn_id", c.ID(),
				"command", command,
				"err", err,
			)
		}
	})
}

// Send delivers one frame to the running connection with the given id.
// It returns true iff such a connection was found and the wire write
// succeeded.
func (s *Server) Send(command string, payload []byte, connID int) bool {
	sent := false
	s.ForEachConn(func(c *wire.Conn) {
		if c.ID() == connID {
			sent = c.Send(command, payload) == nil
		}
	})
	return sent
}

// ForEachConn yields each running connection to f. Dead connections
// are reaped from the set before traversal.
func (s *Server) ForEachConn(f func(c *wire.Conn)) {
	s.connMu.Lock()
	s.reapLocked()
	live := slices.Clone(s.conns)
	s.connMu.Unlock()

	for _, c := range live {
		if c.Running() {
			f(c)
		}
	}
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.reapLocked()
	return len(s.conns)
}

// reapLocked drops connections whose reader has exited; caller holds
// connMu. Endpoint entries and the reap callback fire afterwards.
func (s *Server) reapLocked() {
	var dead []int
	s.conns = slices.DeleteFunc(s.conns, func(c *wire.Conn) bool {
		if c.Running() {
			return false
		}
		dead = append(dead, c.ID())
		return true
	})
	if len(dead) == 0 {
		return
	}
	go s.afterReap(dead)
}

func (s *Server) afterReap(dead []int) {
	s.epMu.Lock()
	for _, id := range dead {
		delete(s.endpoints, id)
	}
	s.epMu.Unlock()
	for _, id := range dead {
		s.logger.Info("agent disconnected", "conn_id", id)
		if s.onReap != nil {
			s.onReap(id)
		}
	}
}

// GetEndpoint returns the endpoint recorded at accept time.
func (s *Server) GetEndpoint(connID int) (Endpoint, bool) {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	ep, ok := s.endpoints[connID]
	return ep, ok
}

// ListEndpoints returns every known endpoint ordered by connection id.
func (s *Server) ListEndpoints() []EndpointEntry {
	s.epMu.Lock()
	out := make([]EndpointEntry, 0, len(s.endpoints))
	for id, ep := range s.endpoints {
		out = append(out, EndpointEntry{ConnID: id, Endpoint: ep})
	}
	s.epMu.Unlock()

	slices.SortFunc(out, func(a, b EndpointEntry) int { return a.ConnID - b.ConnID })
	return out
}

// resolveEndpoint extracts peer and local addresses from an accepted
// stream. Non-TCP streams (as in tests over pipes) resolve to nothing.
func resolveEndpoint(stream net.Conn) (Endpoint, bool) {
	peer, ok := stream.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return Endpoint{}, false
	}
	local, ok := stream.LocalAddr().(*net.TCPAddr)
	if !ok {
		return Endpoint{}, false
	}
	family := "ipv6"
	if peer.IP.To4() != nil {
		family = "ipv4"
	}
	return Endpoint{
		PeerIP:    peer.IP.String(),
		PeerPort:  peer.Port,
		LocalIP:   local.IP.String(),
		LocalPort: local.Port,
		Family:    family,
	}, true
}
