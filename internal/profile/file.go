package profile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const appName = "guapow"

// DefaultProfileName is the name used when a request names no profile and
// none is resolvable, per spec.md §4.1 step 2.
const DefaultProfileName = "default"

// PossiblePaths returns the profile file candidates in priority order:
// the user's own config dir first, then the system-wide one.
func PossiblePaths(name, userName string) []string {
	var out []string
	if userName != "" {
		out = append(out, filepath.Join("/home", userName, ".config", appName, name+".profile"))
	}
	out = append(out, filepath.Join("/etc", appName, name+".profile"))
	return out
}

// Reader reads and parses profile files, optionally caching parsed results
// (profile.cache=true bypasses the disk read on repeat lookups, and once
// cached an entry is never evicted while the daemon runs, per spec.md §5).
type Reader struct {
	cache   bool
	mu      sync.RWMutex
	entries map[string]Raw
}

// NewReader builds a profile Reader; cache enables the read-mostly map.
func NewReader(cache bool) *Reader {
	return &Reader{cache: cache, entries: make(map[string]Raw)}
}

// Read loads the raw key/value set for a profile name, trying user path
// before system path. Returns (nil, "", nil) if no file is found anywhere.
func (r *Reader) Read(name, userName string, log *logrus.Entry) (Raw, string, error) {
	for _, path := range PossiblePaths(name, userName) {
		raw, err := r.readPath(path, log)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		if raw != nil {
			return raw, path, nil
		}
	}
	return nil, "", nil
}

func (r *Reader) readPath(path string, log *logrus.Entry) (Raw, error) {
	if r.cache {
		r.mu.RLock()
		cached, ok := r.entries[path]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := make(Raw)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if stripped := stripComment(line); stripped != "" {
			k, v := splitKeyValue(stripped)
			if k != "" {
				raw[k] = v
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if r.cache {
		r.mu.Lock()
		r.entries[path] = raw
		r.mu.Unlock()
		log.WithField("path", path).Debug("profile cached")
	}

	return raw, nil
}

func stripComment(line string) string {
	out := line
	if idx := strings.IndexByte(out, '#'); idx >= 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}

func splitKeyValue(s string) (string, string) {
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:])
	}
	return strings.TrimSpace(s), ""
}
