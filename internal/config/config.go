// Package config loads the optimizer daemon's settings once at startup.
//
// Settings are immutable for the daemon's lifetime: Load is called exactly
// once by cmd/guapow-optd and the resulting Config is passed down by value.
package config

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const appName = "guapow"

// Config aggregates every opt.conf key from spec.md §6, with defaults applied.
type Config struct {
	Port                         int
	Compositor                   string
	ScriptsAllowRoot             bool
	CheckFinishedInterval        time.Duration
	LauncherMappingTimeout       time.Duration
	LauncherMappingFoundTimeout  time.Duration
	GPUCache                     bool
	GPUIDs                       map[int]struct{}
	GPUOnlyConnected             bool
	GPUVendor                    string
	CPUPerformance               bool
	RequestAllowedUsers          map[string]struct{}
	RequestEncrypted             bool
	RequestEncryptedKeyPath      string // EXPANSION: file an existing key is read from at startup; a generated key is published to the daemon's runtime dir instead.
	ProfileCache                 bool
	ProfilePreCaching            bool
	NiceCheckInterval            time.Duration
	OptimizeChildrenTimeout      time.Duration
	OptimizeChildrenFoundTimeout time.Duration
}

// defaults mirrors the values enumerated in spec.md §6.
func defaults() Config {
	return Config{
		Port:                         5087,
		ScriptsAllowRoot:             false,
		CheckFinishedInterval:        3 * time.Second,
		LauncherMappingTimeout:       60 * time.Second,
		LauncherMappingFoundTimeout:  10 * time.Second,
		GPUCache:                     false,
		GPUOnlyConnected:             true,
		CPUPerformance:               false,
		RequestEncrypted:             true,
		ProfileCache:                 false,
		ProfilePreCaching:            false,
		NiceCheckInterval:            5 * time.Second,
		OptimizeChildrenTimeout:      30 * time.Second,
		OptimizeChildrenFoundTimeout: 10 * time.Second,
	}
}

// RootPath returns /etc/guapow/opt.conf.
func RootPath() string {
	return filepath.Join("/etc", appName, "opt.conf")
}

// UserPath returns ~/.config/guapow/opt.conf for the given user name.
func UserPath(userName string) string {
	return filepath.Join("/home", userName, ".config", appName, "opt.conf")
}

// DefaultPath picks the root config when running as root (uid 0), otherwise
// the current user's config, falling back to root's if the user's is absent.
func DefaultPath() string {
	u, err := user.Current()
	if err != nil {
		return RootPath()
	}
	if u.Uid == "0" {
		return RootPath()
	}
	if p := UserPath(u.Username); fileExists(p) {
		return p
	}
	return RootPath()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads opt.conf from path (if non-empty and present) and overlays it
// onto the documented defaults. Unknown keys produce a warning, never an error.
func Load(path string, log *logrus.Logger) (Config, error) {
	cfg := defaults()

	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Warn("optimizer configuration file not found, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	raw, err := parseKeyValue(f)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := applyRaw(&cfg, raw, log); err != nil {
		return cfg, fmt.Errorf("apply config %s: %w", path, err)
	}

	return cfg, nil
}

// parseKeyValue implements the line format shared by opt.conf, profile and
// launcher files: "key" or "key=value", "#" starts a line comment.
func parseKeyValue(f *os.File) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx >= 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			out[key] = val
		} else {
			out[line] = ""
		}
	}
	return out, scanner.Err()
}

func applyRaw(cfg *Config, raw map[string]string, log *logrus.Logger) error {
	for key, val := range raw {
		var err error
		switch key {
		case "port":
			cfg.Port, err = strconv.Atoi(val)
		case "compositor":
			cfg.Compositor = val
		case "scripts.allow_root":
			cfg.ScriptsAllowRoot, err = parseBool(val)
		case "check.finished.interval":
			cfg.CheckFinishedInterval, err = parseSeconds(val, 500*time.Millisecond)
		case "launcher.mapping.timeout":
			cfg.LauncherMappingTimeout, err = parseSeconds(val, 0)
		case "launcher.mapping.found_timeout":
			cfg.LauncherMappingFoundTimeout, err = parseSeconds(val, 0)
		case "gpu.cache":
			cfg.GPUCache, err = parseBool(val)
		case "gpu.id":
			cfg.GPUIDs, err = parseIntSet(val)
		case "gpu.only_connected":
			cfg.GPUOnlyConnected, err = parseBool(val)
		case "gpu.vendor":
			cfg.GPUVendor = val
		case "cpu.performance":
			cfg.CPUPerformance, err = parseBool(val)
		case "request.allowed_users":
			cfg.RequestAllowedUsers = parseStringSet(val)
		case "request.encrypted":
			cfg.RequestEncrypted, err = parseBool(val)
		case "request.encrypted_key_path":
			cfg.RequestEncryptedKeyPath = val
		case "profile.cache":
			cfg.ProfileCache, err = parseBool(val)
		case "profile.pre_caching":
			cfg.ProfilePreCaching, err = parseBool(val)
		case "nice.check.interval":
			cfg.NiceCheckInterval, err = parseSeconds(val, 0)
		case "optimize_children.timeout":
			cfg.OptimizeChildrenTimeout, err = parseSeconds(val, 0)
		case "optimize_children.found_timeout":
			cfg.OptimizeChildrenFoundTimeout, err = parseSeconds(val, 0)
		default:
			log.WithField("key", key).Warn("unknown optimizer configuration key")
			continue
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", val)
	}
}

func parseSeconds(val string, min time.Duration) (time.Duration, error) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	d := time.Duration(f * float64(time.Second))
	if d < min {
		d = min
	}
	return d, nil
}

func parseIntSet(val string) (map[int]struct{}, error) {
	out := make(map[int]struct{})
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", part)
		}
		out[n] = struct{}{}
	}
	return out, nil
}

func parseStringSet(val string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}
