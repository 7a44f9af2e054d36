package profile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LauncherFilePaths returns the global launcher-mapping file candidates in
// priority order: the user's own config dir first, then the system-wide
// one, mirroring gen_possible_launchers_file_paths.
func LauncherFilePaths(userName string) []string {
	var out []string
	if userName != "" {
		out = append(out, filepath.Join("/home", userName, ".config", appName, "launchers"))
	}
	out = append(out, filepath.Join("/etc", appName, "launchers"))
	return out
}

// ReadLaunchers loads the global launchers file, one "exe=target" entry per
// line, trying the user path before the system path. It returns nil, nil
// when no file exists anywhere, since the file is entirely optional.
func ReadLaunchers(userName string, log *logrus.Entry) ([]LauncherRule, error) {
	for _, path := range LauncherFilePaths(userName) {
		rules, err := readLauncherFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.WithField("path", path).Debug("launchers file not found")
				continue
			}
			return nil, err
		}
		return rules, nil
	}
	return nil, nil
}

func readLauncherFile(path string) ([]LauncherRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rules []LauncherRule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		exe, target := splitKeyValue(line)
		if exe == "" || target == "" {
			continue
		}
		rules = append(rules, mapLauncherTarget(exe, target))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// MergeLaunchers overlays the per-request launcher rules onto the global
// file's rules; a per-request rule masks any global rule sharing its Exe,
// per spec.md's "per-request launcher= entries mask same-exe entries in
// the global launchers file".
func MergeLaunchers(global, request []LauncherRule) []LauncherRule {
	if len(global) == 0 {
		return request
	}
	overridden := make(map[string]bool, len(request))
	for _, r := range request {
		overridden[strings.ToLower(r.Exe)] = true
	}
	merged := make([]LauncherRule, 0, len(global)+len(request))
	for _, r := range global {
		if !overridden[strings.ToLower(r.Exe)] {
			merged = append(merged, r)
		}
	}
	merged = append(merged, request...)
	return merged
}
