package monitor

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/robertcprice/agent-monitor/internal/storageerr"
)

// ProcessInfo is the subset of live process state the adapters need to
// synthesize process-derived sessions.
type ProcessInfo struct {
	PID     int32
	Name    string
	Cmdline string
	Cwd     string
}

// listProcesses enumerates the live process table via gopsutil, which
// handles the cross-platform differences a raw /proc walk would otherwise
// need per-OS branches for. A failure here is a ProcessInventory-class
// error: the caller should log it and treat the cycle as yielding zero
// process-sessions, never as fatal.
func listProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, storageerr.Wrap(storageerr.ProcessInventory, err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		cwd, _ := p.Cwd()
		out = append(out, ProcessInfo{
			PID:     p.Pid,
			Name:    name,
			Cmdline: cmdline,
			Cwd:     cwd,
		})
	}
	return out, nil
}

// matchesExecutable reports whether a process's name or command line
// contains needle (case-insensitive substring match).
func matchesExecutable(p ProcessInfo, needle string) bool {
	lower := strings.ToLower(needle)
	return strings.Contains(strings.ToLower(p.Name), lower) ||
		strings.Contains(strings.ToLower(p.Cmdline), lower)
}

// cmdlineFlag extracts the value of a "--flag value" or "--flag=value"
// occurrence in a command line string, or "" if absent.
func cmdlineFlag(cmdline, flag string) string {
	fields := strings.Fields(cmdline)
	for i, f := range fields {
		if f == flag && i+1 < len(fields) {
			return fields[i+1]
		}
		if strings.HasPrefix(f, flag+"=") {
			return strings.TrimPrefix(f, flag+"=")
		}
	}
	return ""
}
