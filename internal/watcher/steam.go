package watcher

import (
	"strings"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// steamExcludedHelpers names launcher helper processes that happen to sit
// under Steam's reaper but are never the game itself, so matching them
// would misapply optimizations to the wrong process.
var steamExcludedHelpers = map[string]bool{
	"upc.exe":                true, // Ubisoft Connect
	"upcdownloader.exe":      true,
	"uplay_r1_loader.dll":    true,
	"eaconnect_install.tmp":  true,
}

func isSteamExcludedHelper(info sysadapter.ProcInfo) bool {
	name := strings.ToLower(info.Comm)
	if steamExcludedHelpers[name] {
		return true
	}
	cmd := strings.ToLower(info.Cmdline)
	for helper := range steamExcludedHelpers {
		if strings.Contains(cmd, helper) {
			return true
		}
	}
	return false
}

// FindSteamDescendants walks the process tree rooted at the Steam reaper
// PID, returning every descendant except the launcher helpers named in
// steamExcludedHelpers (matched by comm or by a mention in the cmdline).
func FindSteamDescendants(index map[int][]sysadapter.ProcInfo, reaperPID int) []sysadapter.ProcInfo {
	var out []sysadapter.ProcInfo
	queue := []int{reaperPID}
	visited := map[int]bool{reaperPID: true}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range index[pid] {
			if visited[child.PID] {
				continue
			}
			visited[child.PID] = true
			queue = append(queue, child.PID)
			if isSteamExcludedHelper(child) {
				continue
			}
			out = append(out, child)
		}
	}
	return out
}
