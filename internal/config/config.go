// internal/config/config.go
//
// This package handles run configuration and the on-disk layout of a batch
// root. Every root gets logs/ and stages/ folders plus an automega.yaml with
// commented defaults the first time a batch runs there.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up inside the batch root.
	FileName = "automega.yaml"

	// EnvPrefix prefixes environment overrides (AUTOMEGA_DOWNLOAD_TIMEOUT=3m).
	EnvPrefix = "AUTOMEGA"

	defaultStage = "blastp"
)

// Session policies decide whether a browser session survives across queries.
const (
	SessionPerQuery = "per-query"
	SessionReuse    = "reuse"
)

// Conflict policies decide what happens when a canonical artifact already exists.
const (
	ConflictRecord = "record"
	ConflictAbort  = "abort"
	ConflictForce  = "force"
)

const defaultConfigYAML = `# automega batch configuration
# Every key can also be set through AUTOMEGA_<SECTION>_<KEY> or -set section.key=value.

stage: blastp
organism_file: organism.txt
query_file: query.txt
log_level: INFO

input:
  encodings: [utf-8, shift-jis, cp932]
  extensions: [.txt]

surface:
  presence_timeout: 20s
  results_timeout: 5m
  settle: 1s

download:
  interval: 1s
  timeout: 2m
  require_stable: false

batch:
  session_policy: per-query   # per-query | reuse
  renavigate: true           # false only for single-page stages; stages that start by awaiting an entry page element refuse it
  skip_existing: true
  recycle_on_unknown: true
  on_conflict: record         # record | abort | force

browser:
  headless: false
  exec_path: ""
`

// InputConfig controls the list loader.
type InputConfig struct {
	Encodings  []string `mapstructure:"encodings"`
	Extensions []string `mapstructure:"extensions"`
}

// SurfaceConfig holds the remote-surface timing knobs.
type SurfaceConfig struct {
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
	ResultsTimeout  time.Duration `mapstructure:"results_timeout"`
	// Settle is the pause taken before submitting or picking a suggestion so the
	// page's own debounce has finished narrowing its lists.
	Settle time.Duration `mapstructure:"settle"`
}

// DownloadConfig controls how downloaded files are awaited.
type DownloadConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RequireStable bool          `mapstructure:"require_stable"`
}

// BatchConfig captures orchestrator policy.
type BatchConfig struct {
	SessionPolicy    string `mapstructure:"session_policy"`
	Renavigate       bool   `mapstructure:"renavigate"`
	SkipExisting     bool   `mapstructure:"skip_existing"`
	RecycleOnUnknown bool   `mapstructure:"recycle_on_unknown"`
	OnConflict       string `mapstructure:"on_conflict"`
}

// BrowserConfig is handed to the browser driver.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless"`
	ExecPath string `mapstructure:"exec_path"`
}

// Config holds the runtime configuration for a batch.
type Config struct {
	// Root is the directory every relative path and every output is placed under.
	Root string `mapstructure:"-"`

	Stage        string         `mapstructure:"stage"`
	OrganismFile string         `mapstructure:"organism_file"`
	QueryFile    string         `mapstructure:"query_file"`
	LogLevel     string         `mapstructure:"log_level"`
	Input        InputConfig    `mapstructure:"input"`
	Surface      SurfaceConfig  `mapstructure:"surface"`
	Download     DownloadConfig `mapstructure:"download"`
	Batch        BatchConfig    `mapstructure:"batch"`
	Browser      BrowserConfig  `mapstructure:"browser"`
}

// InitDir creates the directory structure a batch root needs.
//
// Structure created:
// <root>/
// ├── automega.yaml  <- written once with defaults
// ├── logs/          <- run log
// └── stages/        <- user stage definitions overriding the builtins
func InitDir(root string) error {
	for _, dir := range []string{root, filepath.Join(root, "logs"), filepath.Join(root, "stages")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	return ensureConfigFile(filepath.Join(root, FileName))
}

// Load resolves configuration for root. Precedence, lowest first: defaults,
// the config file (configFile, or <root>/automega.yaml when present),
// AUTOMEGA_* environment variables, then overrides.
func Load(root, configFile string, overrides map[string]string) (*Config, error) {
	absRoot, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := strings.TrimSpace(configFile)
	if path == "" {
		candidate := filepath.Join(absRoot, FileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			path = candidate
		}
	} else {
		path = resolvePath(absRoot, path)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	for key, value := range overrides {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Root = absRoot
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stage", defaultStage)
	v.SetDefault("organism_file", "organism.txt")
	v.SetDefault("query_file", "query.txt")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("input.encodings", []string{"utf-8", "shift-jis", "cp932"})
	v.SetDefault("input.extensions", []string{".txt"})
	v.SetDefault("surface.presence_timeout", 20*time.Second)
	v.SetDefault("surface.results_timeout", 300*time.Second)
	v.SetDefault("surface.settle", time.Second)
	v.SetDefault("download.interval", time.Second)
	v.SetDefault("download.timeout", 120*time.Second)
	v.SetDefault("download.require_stable", false)
	v.SetDefault("batch.session_policy", SessionPerQuery)
	v.SetDefault("batch.renavigate", true)
	v.SetDefault("batch.skip_existing", true)
	v.SetDefault("batch.recycle_on_unknown", true)
	v.SetDefault("batch.on_conflict", ConflictRecord)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.exec_path", "")
}

func (c *Config) normalize() {
	c.Stage = strings.TrimSpace(c.Stage)
	c.OrganismFile = resolvePath(c.Root, c.OrganismFile)
	c.QueryFile = resolvePath(c.Root, c.QueryFile)
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	c.Input.Encodings = trimAll(c.Input.Encodings)
	c.Input.Extensions = trimAll(c.Input.Extensions)
	for i, ext := range c.Input.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Input.Extensions[i] = "." + ext
		}
	}
	c.Batch.SessionPolicy = strings.ToLower(strings.TrimSpace(c.Batch.SessionPolicy))
	c.Batch.OnConflict = strings.ToLower(strings.TrimSpace(c.Batch.OnConflict))
	c.Browser.ExecPath = strings.TrimSpace(c.Browser.ExecPath)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Stage == "" {
		return fmt.Errorf("config: stage is required")
	}
	if len(c.Input.Encodings) == 0 {
		return fmt.Errorf("config: input.encodings must list at least one encoding")
	}
	if len(c.Input.Extensions) == 0 {
		return fmt.Errorf("config: input.extensions must list at least one extension")
	}
	if c.Surface.PresenceTimeout <= 0 || c.Surface.ResultsTimeout <= 0 {
		return fmt.Errorf("config: surface timeouts must be positive")
	}
	if c.Surface.Settle < 0 {
		return fmt.Errorf("config: surface.settle must be >= 0")
	}
	if c.Download.Interval <= 0 || c.Download.Timeout <= 0 {
		return fmt.Errorf("config: download interval and timeout must be positive")
	}
	switch c.Batch.SessionPolicy {
	case SessionPerQuery, SessionReuse:
	default:
		return fmt.Errorf("config: unknown batch.session_policy %q", c.Batch.SessionPolicy)
	}
	switch c.Batch.OnConflict {
	case ConflictRecord, ConflictAbort, ConflictForce:
	default:
		return fmt.Errorf("config: unknown batch.on_conflict %q", c.Batch.OnConflict)
	}
	return nil
}

// LogsDir returns the directory holding the run log.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Root, "logs")
}

// StagesDir returns the directory scanned for user stage definitions.
func (c *Config) StagesDir() string {
	return filepath.Join(c.Root, "stages")
}

// Layout returns the output layout rooted at Root.
func (c *Config) Layout() Layout {
	return Layout{Root: c.Root}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
