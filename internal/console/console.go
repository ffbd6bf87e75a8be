// ABOUTME: Interactive controller console: status tables, exec dispatch,
// ABOUTME: connection listing. Reads commands from an injected stream.

package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Pedro-Porto/specula/internal/cmds"
	"github.com/Pedro-Porto/specula/internal/controller"
	"github.com/Pedro-Porto/specula/internal/protocol"
	"github.com/Pedro-Porto/specula/internal/stats"
)

const (
	// pollEvery paces the exec wait loop.
	pollEvery = 150 * time.Millisecond

	// statusSettle gives agents time to answer a STATUS broadcast
	// before the table renders.
	statusSettle = 150 * time.Millisecond

	// watchStep bounds how long a watch-mode sleep ignores cancellation.
	watchStep = 25 * time.Millisecond

	defaultWatchInterval = 1500 * time.Millisecond

	// DefaultExecWait abandons an exec wait that never completes.
	DefaultExecWait = 60 * time.Second
)

// Params configures a Console.
type Params struct {
	Server   *controller.Server
	Stats    *stats.Repo
	Cmds     *cmds.Repo
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger
	ExecWait time.Duration
}

// Console is the controller's interactive front end.
type Console struct {
	server   *controller.Server
	stats    *stats.Repo
	cmds     *cmds.Repo
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger
	execWait time.Duration
}

// New creates a console over the given streams.
func New(p Params) *Console {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	execWait := p.ExecWait
	if execWait <= 0 {
		execWait = DefaultExecWait
	}
	return &Console{
		server:   p.Server,
		stats:    p.Stats,
		cmds:     p.Cmds,
		in:       p.In,
		out:      p.Out,
		logger:   logger,
		execWait: execWait,
	}
}

// Run reads commands until quit, EOF, or ctx cancellation. Cancellation
// is noticed between commands; a read already waiting for input is not
// interrupted.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Specula console — type 'help' for commands.")
	sc := bufio.NewScanner(c.in)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(c.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "help":
			c.printHelp()
		case "quit", "exit":
			return nil
		case "clear":
			fmt.Fprint(c.out, "\x1b[2J\x1b[H")
		case "ls":
			c.cmdLS()
		case "status":
			c.cmdStatus(ctx, fields[1:])
		case "exec":
			c.cmdExec(line)
		default:
			fmt.Fprintf(c.out, "unknown command %q — try 'help'\n", fields[0])
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  status                           request and print current status from all agents
  status -w [ms]                   watch mode; refresh every [ms] (default 1500)
  exec <conn_id|all> <command...>  execute command on agent(s)
  ls                               list active connections
  clear                            clear the screen
  quit | exit                      leave the console
`)
}

func (c *Console) cmdLS() {
	entries := c.server.ListEndpoints()
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no active connections")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.Itoa(e.ConnID),
			fmt.Sprintf("%s:%d", e.Endpoint.PeerIP, e.Endpoint.PeerPort),
			fmt.Sprintf("%s:%d", e.Endpoint.LocalIP, e.Endpoint.LocalPort),
			e.Endpoint.Family,
		})
	}
	renderTable(c.out, []string{"ID", "PEER", "LOCAL", "FAMILY"}, rows, "Active connections")
}

func (c *Console) cmdStatus(ctx context.Context, args []string) {
	watch := false
	interval := defaultWatchInterval
	if len(args) > 0 && args[0] == "-w" {
		watch = true
		if len(args) > 1 {
			if ms, err := strconv.Atoi(args[1]); err == nil && ms > 0 {
				interval = time.Duration(ms) * time.Millisecond
			}
		}
	}
	c.runStatus(ctx, watch, interval)
}

// runStatus broadcasts a STATUS request, lets replies settle, and
// renders the telemetry table; watch mode repeats until cancelled.
func (c *Console) runStatus(ctx context.Context, watch bool, interval time.Duration) {
	tick := func() {
		c.server.Broadcast(protocol.CmdStatus, nil)
		sleepCtx(ctx, statusSettle)
		c.printStatus()
	}

	if !watch {
		tick()
		return
	}

	for ctx.Err() == nil {
		tick()
		left := interval
		for left > 0 && ctx.Err() == nil {
			step := min(left, watchStep)
			if !sleepCtx(ctx, step) {
				break
			}
			left -= step
		}
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printStatus() {
	rows := [][]string{}
	for _, s := range c.stats.Snapshot() {
		memPct := pct(s.MemUsedBytes, s.MemTotalBytes)
		dskPct := pct(s.DiskUsedBytes, s.DiskTotalBytes)
		rows = append(rows, []string{
			strconv.Itoa(s.ConnID),
			fmt.Sprintf("%.1f", s.CPUPercent),
			humanBytes(s.MemUsedBytes) + "/" + humanBytes(s.MemTotalBytes),
			fmt.Sprintf("%.0f", memPct),
			humanBytes(s.DiskUsedBytes) + "/" + humanBytes(s.DiskTotalBytes),
			fmt.Sprintf("%.0f", dskPct),
		})
	}
	renderTable(c.out,
		[]string{"ID", "CPU%", "MEM (used/total)", "MEM%", "DISK (used/total)", "DSK%"},
		rows,
		"Status — watch (press Ctrl+C to stop)",
	)
}

func (c *Console) cmdExec(line string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "exec"))
	target, command, _ := strings.Cut(rest, " ")
	command = strings.TrimSpace(command)
	if target == "" || command == "" {
		fmt.Fprintln(c.out, "usage: exec <conn_id|all> <cmd>")
		return
	}

	if target == "all" {
		c.RunExec(true, -1, command)
		return
	}
	connID, err := strconv.Atoi(target)
	if err != nil || connID <= 0 {
		fmt.Fprintln(c.out, "exec: invalid target. use a numeric conn_id or 'all'")
		return
	}
	c.RunExec(false, connID, command)
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
