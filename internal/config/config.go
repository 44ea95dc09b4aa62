// Package config provides configuration management for geomirror.
// It supports YAML (or TOML) configuration files, environment variables, and sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/geogram-dev/geomirror/internal/util"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete geomirror configuration.
type Config struct {
	// Identity configures who this device is on the mesh
	Identity IdentityConfig `yaml:"identity" toml:"identity"`

	// Storage configures where mirrored data and peer state live
	Storage StorageConfig `yaml:"storage" toml:"storage"`

	// Sync configures the sync engine and the sweep scheduler
	Sync SyncConfig `yaml:"sync" toml:"sync"`

	// Server configures the mirror endpoints served to peers
	Server ServerConfig `yaml:"server" toml:"server"`

	// Output configures display preferences
	Output OutputConfig `yaml:"output" toml:"output"`

	// Cleanup configures removal of stale remote caches
	Cleanup CleanupConfig `yaml:"cleanup" toml:"cleanup"`

	// Backup configures versions kept of files a sync replaced or deleted
	Backup BackupConfig `yaml:"backup" toml:"backup"`
}

// IdentityConfig holds the local profile identity.
type IdentityConfig struct {
	// Callsign is the local profile's callsign; its data directory is never cleaned up
	Callsign string `yaml:"callsign" toml:"callsign"`
	// KeyFile holds the hex ed25519 seed used to sign requests
	KeyFile string `yaml:"key_file" toml:"key_file"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataDir contains one directory per callsign, each with one folder per app
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	// StateDir holds the hash cache and other engine state
	StateDir string `yaml:"state_dir" toml:"state_dir"`
	// Registry selects the peer registry backend
	Registry RegistryConfig `yaml:"registry" toml:"registry"`
}

// RegistryConfig selects and locates the peer store.
type RegistryConfig struct {
	// Backend is json or sqlite
	Backend string `yaml:"backend" toml:"backend"`
	// Path is the store file; empty means a default under the config directory
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// SyncConfig holds synchronization settings.
type SyncConfig struct {
	// Timeout bounds each HTTP request to a peer
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	// ProgressInterval is the minimum gap between byte progress updates
	ProgressInterval Duration `yaml:"progress_interval" toml:"progress_interval"`
	// Interval is how often the watch loop sweeps all peers
	Interval Duration `yaml:"interval" toml:"interval"`
	// ParallelPeers is how many peers a sweep syncs at once
	ParallelPeers int `yaml:"parallel_peers" toml:"parallel_peers"`
	// Watch triggers a sweep when the local data directory changes
	Watch bool `yaml:"watch" toml:"watch"`
	// Debounce coalesces bursts of filesystem events
	Debounce Duration `yaml:"debounce" toml:"debounce"`
}

// ServerConfig holds mirror server settings.
type ServerConfig struct {
	// Listen is the address the mirror server binds to
	Listen string `yaml:"listen" toml:"listen"`
	// SharedApps lists the apps served to peers; empty shares every app
	SharedApps []string `yaml:"shared_apps,omitempty" toml:"shared_apps,omitempty"`
	// RequireAuth rejects requests not signed by a registered peer
	RequireAuth bool `yaml:"require_auth" toml:"require_auth"`
	// CORSOrigins lists allowed browser origins
	CORSOrigins []string `yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`
}

// OutputConfig holds display preferences.
type OutputConfig struct {
	// Format is the default output format (table, json, yaml)
	Format string `yaml:"format" toml:"format"`
	// Color controls color output (auto, always, never)
	Color string `yaml:"color" toml:"color"`
	// Verbose enables verbose output
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// CleanupConfig holds remote cache cleanup settings.
type CleanupConfig struct {
	// RemoteCacheMaxAge removes remote callsign folders untouched for longer; zero disables age checks
	RemoteCacheMaxAge Duration `yaml:"remote_cache_max_age" toml:"remote_cache_max_age"`
}

// BackupConfig holds file version settings.
type BackupConfig struct {
	// Enabled keeps a copy of every local file before a sync replaces or deletes it
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Dir holds the kept versions and their index
	Dir string `yaml:"dir" toml:"dir"`
	// MaxPerFile limits the versions kept per file; zero keeps all
	MaxPerFile int `yaml:"max_per_file" toml:"max_per_file"`
	// MaxAge drops versions older than this, always keeping the newest; zero disables age checks
	MaxAge Duration `yaml:"max_age" toml:"max_age"`
}

// Duration is a time.Duration written as a Go duration string ("20s", "5m").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Default returns the default configuration.
func Default() *Config {
	base := util.GeomirrorConfigPath()
	return &Config{
		Identity: IdentityConfig{
			KeyFile: filepath.Join(base, "identity.key"),
		},
		Storage: StorageConfig{
			DataDir:  filepath.Join(base, "data"),
			StateDir: filepath.Join(base, "state"),
			Registry: RegistryConfig{
				Backend: BackendJSON,
			},
		},
		Sync: SyncConfig{
			Timeout:          Duration(20 * time.Second),
			ProgressInterval: Duration(250 * time.Millisecond),
			Interval:         Duration(5 * time.Minute),
			ParallelPeers:    2,
			Watch:            true,
			Debounce:         Duration(2 * time.Second),
		},
		Server: ServerConfig{
			Listen:      ":3456",
			RequireAuth: true,
		},
		Output: OutputConfig{
			Format: "table",
			Color:  "auto",
		},
		Cleanup: CleanupConfig{
			RemoteCacheMaxAge: Duration(90 * 24 * time.Hour),
		},
		Backup: BackupConfig{
			Enabled:    true,
			Dir:        filepath.Join(base, "backups"),
			MaxPerFile: 5,
			MaxAge:     Duration(30 * 24 * time.Hour),
		},
	}
}

// Registry backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(util.GeomirrorConfigPath(), configFileName)
}

// RegistryPath returns the peer store path for the configured backend.
func (c *Config) RegistryPath() string {
	if c.Storage.Registry.Path != "" {
		return util.ExpandPath(c.Storage.Registry.Path, util.GeomirrorConfigPath())
	}
	if c.Storage.Registry.Backend == BackendSQLite {
		return filepath.Join(util.GeomirrorConfigPath(), "peers.db")
	}
	return filepath.Join(util.GeomirrorConfigPath(), "peers.json")
}

// Load loads the configuration from file, merging with defaults.
// If the config file doesn't exist, returns default configuration.
func Load() (*Config, error) {
	cfg := Default()

	configPath := FilePath()
	// #nosec G304 - configPath is constructed from trusted config directory
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvironment()
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	cfg.applyEnvironment()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path.
// Files ending in .toml are parsed as TOML, anything else as YAML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 - path is provided by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnvironment()
	return cfg, nil
}

// Save writes the configuration to the config file.
func (c *Config) Save() error {
	return c.SaveToPath(FilePath())
}

// SaveToPath writes the configuration to a specific path.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(c)
		data = []byte(b.String())
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}

	// #nosec G306 - config file should be readable by user
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Storage.Registry.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("%w: storage.registry.backend %q (want json or sqlite)", ErrInvalid, c.Storage.Registry.Backend)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is empty", ErrInvalid)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("%w: sync.timeout must be positive", ErrInvalid)
	}
	if c.Sync.ProgressInterval < 0 {
		return fmt.Errorf("%w: sync.progress_interval is negative", ErrInvalid)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("%w: sync.interval must be positive", ErrInvalid)
	}
	if c.Sync.ParallelPeers < 1 {
		return fmt.Errorf("%w: sync.parallel_peers must be at least 1", ErrInvalid)
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("%w: sync.debounce is negative", ErrInvalid)
	}
	if c.Cleanup.RemoteCacheMaxAge < 0 {
		return fmt.Errorf("%w: cleanup.remote_cache_max_age is negative", ErrInvalid)
	}
	if c.Backup.Enabled && c.Backup.Dir == "" {
		return fmt.Errorf("%w: backup.dir is empty", ErrInvalid)
	}
	if c.Backup.MaxPerFile < 0 {
		return fmt.Errorf("%w: backup.max_per_file is negative", ErrInvalid)
	}
	if c.Backup.MaxAge < 0 {
		return fmt.Errorf("%w: backup.max_age is negative", ErrInvalid)
	}
	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: output.color %q (want auto, always or never)", ErrInvalid, c.Output.Color)
	}
	if strings.ContainsAny(c.Identity.Callsign, `/\`) || c.Identity.Callsign == "." || c.Identity.Callsign == ".." {
		return fmt.Errorf("%w: identity.callsign %q", ErrInvalid, c.Identity.Callsign)
	}
	return nil
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern GEOMIRROR_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	// Identity
	if v := os.Getenv("GEOMIRROR_IDENTITY_CALLSIGN"); v != "" {
		c.Identity.Callsign = v
	}
	if v := os.Getenv("GEOMIRROR_IDENTITY_KEY_FILE"); v != "" {
		c.Identity.KeyFile = v
	}

	// Storage
	if v := os.Getenv("GEOMIRROR_STORAGE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("GEOMIRROR_STORAGE_STATE_DIR"); v != "" {
		c.Storage.StateDir = v
	}
	if v := os.Getenv("GEOMIRROR_STORAGE_REGISTRY_BACKEND"); v != "" {
		c.Storage.Registry.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("GEOMIRROR_STORAGE_REGISTRY_PATH"); v != "" {
		c.Storage.Registry.Path = v
	}

	// Sync
	envDuration("GEOMIRROR_SYNC_TIMEOUT", &c.Sync.Timeout)
	envDuration("GEOMIRROR_SYNC_PROGRESS_INTERVAL", &c.Sync.ProgressInterval)
	envDuration("GEOMIRROR_SYNC_INTERVAL", &c.Sync.Interval)
	envDuration("GEOMIRROR_SYNC_DEBOUNCE", &c.Sync.Debounce)
	if v := os.Getenv("GEOMIRROR_SYNC_PARALLEL_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.ParallelPeers = n
		}
	}
	if v := os.Getenv("GEOMIRROR_SYNC_WATCH"); v != "" {
		c.Sync.Watch = parseBool(v)
	}

	// Server
	if v := os.Getenv("GEOMIRROR_SERVER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("GEOMIRROR_SERVER_SHARED_APPS"); v != "" {
		c.Server.SharedApps = splitList(v)
	}
	if v := os.Getenv("GEOMIRROR_SERVER_REQUIRE_AUTH"); v != "" {
		c.Server.RequireAuth = parseBool(v)
	}
	if v := os.Getenv("GEOMIRROR_SERVER_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	// Output
	if v := os.Getenv("GEOMIRROR_OUTPUT_FORMAT"); v != "" {
		c.Output.Format = v
	}
	if v := os.Getenv("GEOMIRROR_OUTPUT_COLOR"); v != "" {
		c.Output.Color = v
	}
	if v := os.Getenv("GEOMIRROR_OUTPUT_VERBOSE"); v != "" {
		c.Output.Verbose = parseBool(v)
	}

	// Cleanup
	envDuration("GEOMIRROR_CLEANUP_REMOTE_CACHE_MAX_AGE", &c.Cleanup.RemoteCacheMaxAge)

	// Backup
	if v := os.Getenv("GEOMIRROR_BACKUP_ENABLED"); v != "" {
		c.Backup.Enabled = parseBool(v)
	}
	if v := os.Getenv("GEOMIRROR_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("GEOMIRROR_BACKUP_MAX_PER_FILE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Backup.MaxPerFile = n
		}
	}
	envDuration("GEOMIRROR_BACKUP_MAX_AGE", &c.Backup.MaxAge)
}

func envDuration(key string, dst *Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = Duration(d)
	}
}

// parseBool parses a boolean from common string representations.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitList splits a comma-separated string into trimmed, non-empty items.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Exists returns true if a config file exists.
func Exists() bool {
	_, err := os.Stat(FilePath())
	return err == nil
}
