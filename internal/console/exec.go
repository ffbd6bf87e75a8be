// ABOUTME: Exec orchestration: allocate correlation ids, dispatch EXEC
// ABOUTME: frames, and follow records through the command repository.

package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/Pedro-Porto/specula/internal/cmds"
	"github.com/Pedro-Porto/specula/internal/protocol"
	"github.com/Pedro-Porto/specula/internal/wire"
)

// RunExec dispatches a shell command to one agent (monitored, tail
// followed live) or to every agent (fire-and-forget with a final
// summary). It blocks until every launched record completes or the
// exec wait timeout passes.
func (c *Console) RunExec(all bool, connID int, command string) {
	if all {
		c.runExecAll(command)
		return
	}
	if connID <= 0 {
		fmt.Fprintln(c.out, "exec: invalid conn_id")
		return
	}

	id := c.cmds.NextID()
	c.cmds.Add(id, connID, command, true)
	if !c.server.Send(protocol.CmdExec, protocol.ExecPayload(id, true, command), connID) {
		fmt.Fprintf(c.out, "[exec] failed to send to conn_id=%d\n", connID)
		c.cmds.Erase(id)
		return
	}
	c.cmds.Start(id)
	fmt.Fprintf(c.out, "[exec] launched id=%d on conn_id=%d (monitor)\n", id, connID)
	c.waitDone(id, "exec", true)
}

func (c *Console) runExecAll(command string) {
	type launch struct {
		id     int
		connID int
	}
	var launched []launch
	c.server.ForEachConn(func(conn *wire.Conn) {
		id := c.cmds.NextID()
		c.cmds.Add(id, conn.ID(), command, false)
		launched = append(launched, launch{id: id, connID: conn.ID()})
	})

	if len(launched) == 0 {
		fmt.Fprintln(c.out, "no active connections")
		return
	}

	for _, l := range launched {
		if c.server.Send(protocol.CmdExec, protocol.ExecPayload(l.id, false, command), l.connID) {
			c.cmds.Start(l.id)
		} else {
			fmt.Fprintf(c.out, "[exec] failed to send to conn_id=%d\n", l.connID)
			c.cmds.Erase(l.id)
		}
	}

	for _, l := range launched {
		c.waitDone(l.id, "all", false)
	}

	fmt.Fprintln(c.out, "[exec] summary:")
	for _, l := range launched {
		rec, ok := c.cmds.Get(l.id)
		if !ok {
			fmt.Fprintf(c.out, "  id=%d no-result\n", l.id)
			continue
		}
		fmt.Fprintf(c.out, "  id=%d conn=%d code=%d out=%dB chunks=%d\n",
			rec.ID, rec.ConnID, rec.ExitCode, rec.BytesOut, rec.ChunksOut)
	}
}

// waitDone polls the record until Done or the wait timeout. With
// follow set it prints each newly appended tail suffix as it arrives;
// otherwise the accumulated tail prints once at completion.
func (c *Console) waitDone(id int, prefix string, follow bool) {
	deadline := time.Now().Add(c.execWait)
	var lastTail string

	for {
		rec, ok := c.cmds.Get(id)
		if ok {
			if follow && rec.Monitor && rec.Tail != lastTail {
				c.printTailDelta(id, prefix, lastTail, rec.Tail)
				lastTail = rec.Tail
			}
			if rec.State == cmds.StateDone {
				fmt.Fprintf(c.out, "---- [%s id=%d done] exit_code=%d (bytes_out=%d, chunks=%d)\n",
					prefix, id, rec.ExitCode, rec.BytesOut, rec.ChunksOut)
				if !follow && rec.Tail != "" {
					fmt.Fprint(c.out, rec.Tail)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(c.out, "[%s id=%d] timeout waiting result\n", prefix, id)
			return
		}
		time.Sleep(pollEvery)
	}
}

// printTailDelta prints what the tail gained since the last poll. A
// tail whose start was trimmed away no longer extends the previous
// snapshot; print it whole.
func (c *Console) printTailDelta(id int, prefix, last, tail string) {
	fmt.Fprintf(c.out, "---- [%s id=%d stream] ----\n", prefix, id)
	if strings.HasPrefix(tail, last) {
		fmt.Fprint(c.out, tail[len(last):])
		return
	}
	fmt.Fprint(c.out, tail)
}
