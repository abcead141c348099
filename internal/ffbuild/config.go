package ffbuild

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultMinMacOS  = "11.0"
	configFileName   = "ffbuild.toml"
	envPrefix        = "FFBUILD_"
	minMacOSVariable = "MACOS_MIN_VERSION"
)

// Config holds every setting of a run. Values keeps the raw layered
// key/value view (defaults < ffbuild.toml < environment), keyed by the
// environment variable name; the typed fields are derived from it.
type Config struct {
	Values map[string]string

	Root       string
	WorkDir    string
	CacheDir   string
	OutputDir  string
	LogDir     string
	MinMacOS   string
	Jobs       int
	Debug      bool
	Verbose    bool
	GitReclone bool
	Mirror     MirrorConfig
}

// MirrorConfig describes an optional S3-compatible source mirror.
type MirrorConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Push            bool
}

// Enabled reports whether enough settings are present to talk to the mirror.
func (m MirrorConfig) Enabled() bool {
	return m.Bucket != "" && m.AccessKeyID != "" && m.SecretAccessKey != ""
}

type fileConfig struct {
	Paths struct {
		Root   string `toml:"root"`
		Work   string `toml:"work"`
		Cache  string `toml:"cache"`
		Output string `toml:"output"`
		Logs   string `toml:"logs"`
	} `toml:"paths"`
	Build struct {
		MinMacOS   string `toml:"min_macos"`
		Jobs       int    `toml:"jobs"`
		Debug      bool   `toml:"debug"`
		Verbose    bool   `toml:"verbose"`
		GitReclone bool   `toml:"git_reclone"`
	} `toml:"build"`
	Versions map[string]string `toml:"versions"`
	Mirror   struct {
		Endpoint        string `toml:"endpoint"`
		Bucket          string `toml:"bucket"`
		Region          string `toml:"region"`
		AccessKeyID     string `toml:"access_key_id"`
		SecretAccessKey string `toml:"secret_access_key"`
		Push            bool   `toml:"push"`
	} `toml:"mirror"`
}

// LoadConfig layers ffbuild.toml and the environment over built-in defaults.
// A missing config file is not an error; a malformed one is.
func LoadConfig() (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	path := os.Getenv("FFBUILD_CONFIG")
	if path == "" {
		root := os.Getenv("FFBUILD_ROOT")
		if root == "" {
			root = "."
		}
		path = filepath.Join(root, configFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := mergeFileConfig(cfg, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		debugf("=> Loaded config file %s\n", path)
	case errors.Is(err, os.ErrNotExist):
		if os.Getenv("FFBUILD_CONFIG") != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	mergeEnvOverrides(cfg)

	if err := initConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFileConfig(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}

	set := func(key, val string) {
		if val != "" {
			cfg.Values[key] = val
		}
	}
	setBool := func(key string, val bool) {
		if val {
			cfg.Values[key] = "1"
		}
	}

	set("FFBUILD_ROOT", fc.Paths.Root)
	set("FFBUILD_WORK_DIR", fc.Paths.Work)
	set("FFBUILD_CACHE_DIR", fc.Paths.Cache)
	set("FFBUILD_OUTPUT_DIR", fc.Paths.Output)
	set("FFBUILD_LOG_DIR", fc.Paths.Logs)
	set(minMacOSVariable, fc.Build.MinMacOS)
	if fc.Build.Jobs > 0 {
		cfg.Values["FFBUILD_JOBS"] = strconv.Itoa(fc.Build.Jobs)
	}
	setBool("FFBUILD_DEBUG", fc.Build.Debug)
	setBool("FFBUILD_VERBOSE", fc.Build.Verbose)
	setBool("FFBUILD_GIT_RECLONE", fc.Build.GitReclone)

	known := make(map[string]bool)
	for _, name := range VersionVariables() {
		known[name] = true
	}
	for k, v := range fc.Versions {
		name := strings.ToUpper(k)
		if !known[name] {
			return fmt.Errorf("versions: unknown key %q", k)
		}
		set(name, v)
	}

	set("FFBUILD_MIRROR_ENDPOINT", fc.Mirror.Endpoint)
	set("FFBUILD_MIRROR_BUCKET", fc.Mirror.Bucket)
	set("FFBUILD_MIRROR_REGION", fc.Mirror.Region)
	set("FFBUILD_MIRROR_ACCESS_KEY_ID", fc.Mirror.AccessKeyID)
	set("FFBUILD_MIRROR_SECRET_ACCESS_KEY", fc.Mirror.SecretAccessKey)
	setBool("FFBUILD_MIRROR_PUSH", fc.Mirror.Push)
	return nil
}

// Merge FFBUILD_* and per-library version env overrides. Values are taken
// verbatim; a malformed version only fails later at fetch or configure.
// An empty variable counts as unset.
func mergeEnvOverrides(cfg *Config) {
	known := make(map[string]bool)
	for _, name := range VersionVariables() {
		known[name] = true
	}
	known[minMacOSVariable] = true

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		if strings.HasPrefix(parts[0], envPrefix) || known[parts[0]] {
			cfg.Values[parts[0]] = parts[1]
		}
	}
}

func initConfig(cfg *Config) error {
	root := cfg.Values["FFBUILD_ROOT"]
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", root, err)
	}
	cfg.Root = abs

	dir := func(key, def string) string {
		v := cfg.Values[key]
		if v == "" {
			return filepath.Join(cfg.Root, def)
		}
		if !filepath.IsAbs(v) {
			return filepath.Join(cfg.Root, v)
		}
		return filepath.Clean(v)
	}
	cfg.WorkDir = dir("FFBUILD_WORK_DIR", "workdir")
	cfg.CacheDir = dir("FFBUILD_CACHE_DIR", "cache")
	cfg.OutputDir = dir("FFBUILD_OUTPUT_DIR", "out")
	cfg.LogDir = dir("FFBUILD_LOG_DIR", "logs")

	cfg.MinMacOS = cfg.Values[minMacOSVariable]
	if cfg.MinMacOS == "" {
		cfg.MinMacOS = defaultMinMacOS
	}

	if jobs := cfg.Values["FFBUILD_JOBS"]; jobs != "" {
		n, err := strconv.Atoi(jobs)
		if err != nil || n < 1 {
			return fmt.Errorf("FFBUILD_JOBS: invalid job count %q", jobs)
		}
		cfg.Jobs = n
	} else {
		cfg.Jobs = logicalCPUs()
	}

	cfg.Debug = truthy(cfg.Values["FFBUILD_DEBUG"])
	cfg.Verbose = truthy(cfg.Values["FFBUILD_VERBOSE"])
	cfg.GitReclone = truthy(cfg.Values["FFBUILD_GIT_RECLONE"])

	cfg.Mirror = MirrorConfig{
		Endpoint:        strings.TrimRight(cfg.Values["FFBUILD_MIRROR_ENDPOINT"], "/"),
		Bucket:          cfg.Values["FFBUILD_MIRROR_BUCKET"],
		Region:          cfg.Values["FFBUILD_MIRROR_REGION"],
		AccessKeyID:     cfg.Values["FFBUILD_MIRROR_ACCESS_KEY_ID"],
		SecretAccessKey: cfg.Values["FFBUILD_MIRROR_SECRET_ACCESS_KEY"],
		Push:            truthy(cfg.Values["FFBUILD_MIRROR_PUSH"]),
	}
	if cfg.Mirror.Region == "" {
		cfg.Mirror.Region = "auto"
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
