// ABOUTME: Host telemetry gathering: CPU from /proc/stat deltas,
// ABOUTME: memory from /proc/meminfo, disk from statfs.

package agent

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Pedro-Porto/specula/internal/protocol"
)

// cpuSampleGap separates the two /proc/stat samples a CPU percentage
// is derived from.
const cpuSampleGap = 100 * time.Millisecond

// gatherStatus collects one full telemetry snapshot. Every probe
// degrades to zero values on failure; a STATUS reply always goes out.
func gatherStatus(diskPath string) protocol.StatusReport {
	var r protocol.StatusReport
	r.CPUPercent = cpuPercent()
	r.MemUsedKB, r.MemTotalKB = memKB()
	r.DiskUsedKB, r.DiskTotalKB = diskKB(diskPath)
	return r
}

// cpuPercent samples /proc/stat twice and reports busy time over the
// interval, clamped to [0, 100].
func cpuPercent() float64 {
	idle1, total1, ok := readProcStat()
	if !ok {
		return 0
	}
	time.Sleep(cpuSampleGap)
	idle2, total2, ok := readProcStat()
	if !ok {
		return 0
	}
	dIdle := idle2 - idle1
	dTotal := total2 - total1
	if dTotal == 0 {
		return 0
	}
	usage := 100 * float64(dTotal-dIdle) / float64(dTotal)
	return max(0, min(100, usage))
}

func readProcStat() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	return parseProcStat(data)
}

// parseProcStat reads the aggregate cpu line. Idle time includes
// iowait, matching the usual accounting.
func parseProcStat(data []byte) (idle, total uint64, ok bool) {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	var ticks []uint64
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		ticks = append(ticks, v)
	}
	for _, v := range ticks {
		total += v
	}
	// fields: user nice system idle iowait irq softirq steal guest gnice
	idle = ticks[3]
	if len(ticks) > 4 {
		idle += ticks[4]
	}
	return idle, total, true
}

func memKB() (usedKB, totalKB uint64) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	return parseMeminfo(data)
}

// parseMeminfo derives used memory as MemTotal − MemAvailable.
func parseMeminfo(data []byte) (usedKB, totalKB uint64) {
	var memTotal, memAvailable uint64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal = v
		case "MemAvailable:":
			memAvailable = v
		}
		if memTotal > 0 && memAvailable > 0 {
			break
		}
	}
	if memAvailable > memTotal {
		return 0, memTotal
	}
	return memTotal - memAvailable, memTotal
}

// diskKB reports filesystem usage for the mount holding path.
func diskKB(path string) (usedKB, totalKB uint64) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0
	}
	total := st.Blocks * uint64(st.Frsize)
	free := st.Bfree * uint64(st.Frsize)
	return (total - free) / 1024, total / 1024
}
