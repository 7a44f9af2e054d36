// Package sysadapter wraps the thin, testable abstractions over procfs,
// sysfs, and the external tools (ionice/chrt/taskset/renice, nvidia-smi,
// nvidia-settings, AMD sysfs, pgrep/D-Bus compositor probes, unclutter) the
// rest of the optimizer builds on. The scripts runner, the session's
// relaunch of stopped targets and the daemon's runtime files are the
// exceptions that start processes or write files without going through it.
package sysadapter

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
)

// ProcInfo is the subset of /proc/<pid>/stat and /cmdline the optimizer
// needs for launcher/Steam matching and process existence checks.
type ProcInfo struct {
	PID     int
	PPID    int
	Comm    string
	Cmdline string
}

// Alive reports whether pid currently exists (signal 0 probe), mirroring
// the teacher's syscall.Kill(pid, 0) liveness check.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// ReadProc reads comm/ppid from /proc/<pid>/stat and the full command line
// from /proc/<pid>/cmdline, grounded on witr's process_linux.go parsing of
// the "(comm) state ppid ..." stat format.
func ReadProc(pid int) (ProcInfo, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ProcInfo{}, err
	}

	raw := string(stat)
	open := strings.IndexByte(raw, '(')
	closeIdx := strings.LastIndexByte(raw, ')')
	if open == -1 || closeIdx == -1 || closeIdx < open {
		return ProcInfo{}, fmt.Errorf("invalid stat format for pid %d", pid)
	}
	comm := raw[open+1 : closeIdx]
	fields := strings.Fields(raw[closeIdx+2:])
	if len(fields) < 2 {
		return ProcInfo{}, fmt.Errorf("truncated stat for pid %d", pid)
	}
	ppid, _ := strconv.Atoi(fields[1])

	cmdline := ""
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil {
		cmdline = strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	}

	return ProcInfo{PID: pid, PPID: ppid, Comm: comm, Cmdline: cmdline}, nil
}

// ListPIDs enumerates every numeric entry under /proc, mirroring witr's
// all_processes_linux.go directory scan.
func ListPIDs() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pid, err := strconv.Atoi(e.Name()); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// ChildIndex maps every live PID to its children, built from one /proc scan.
// The watcher uses this to BFS outward from a root PID within its deadline.
func ChildIndex() (map[int][]ProcInfo, error) {
	pids, err := ListPIDs()
	if err != nil {
		return nil, err
	}
	index := make(map[int][]ProcInfo)
	for _, pid := range pids {
		info, err := ReadProc(pid)
		if err != nil {
			continue
		}
		index[info.PPID] = append(index[info.PPID], info)
	}
	return index, nil
}

// OnlineCPUCount reports the number of online logical CPUs, via gopsutil
// rather than hand-parsing /sys/devices/system/cpu/online.
func OnlineCPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
