package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level composerkeys config.
	WorkspaceDirName = ".composerkeys"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the composerkeys server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	MCP       MCPConfig       `yaml:"mcp"`
	Mangle    MangleConfig    `yaml:"mangle"`
	Shortcuts ShortcutsConfig `yaml:"shortcuts"`
	Timing    TimingConfig    `yaml:"timing"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: false, the user drives the tab).
	Headless *bool `yaml:"headless"`
	// Glob patterns a tab URL must match to be driven.
	TargetURLs []string `yaml:"target_urls"`
	// Opened when no existing tab matches target_urls.
	StartURL string `yaml:"start_url"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Default navigation timeout for start_url (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Optional Chrome profile directory so logins persist between runs.
	UserDataDir string `yaml:"user_data_dir"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded interaction journal.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// Optional schema file; the built-in schema is used when empty.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// ShortcutsConfig locates the key-value settings store holding chord bindings.
type ShortcutsConfig struct {
	SettingsFile string `yaml:"settings_file"`
	// auto | mac | other. auto asks the page, then falls back to the host OS.
	Platform string `yaml:"platform"`
}

// TimingConfig overrides the interaction engine's waits. Empty values keep
// the defaults the host UI was tuned against.
type TimingConfig struct {
	PollOpen         string `yaml:"poll_open"`
	PollStep         string `yaml:"poll_step"`
	MutationWatch    string `yaml:"mutation_watch"`
	PressHold        string `yaml:"press_hold"`
	HoverSettle      string `yaml:"hover_settle"`
	CheckWait        string `yaml:"check_wait"`
	ClickWait        string `yaml:"click_wait"`
	EscapeWait       string `yaml:"escape_wait"`
	CloseWait        string `yaml:"close_wait"`
	KeyGap           string `yaml:"key_gap"`
	TeardownAttempts int    `yaml:"teardown_attempts"`
}

// RecorderConfig controls the rotating JSONL trace of toggle runs.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// debug | info | warn | error
	Level string `yaml:"level"`
	// In stdio mode logs must not reach stdout; they go here instead.
	File string `yaml:"file"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "composerkeys-mcp",
			Version: "0.1.0",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			TargetURLs:               []string{"https://chatgpt.com/*"},
			StartURL:                 "https://chatgpt.com/",
			DefaultAttachTimeout:     "10s",
			DefaultNavigationTimeout: "30s",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Shortcuts: ShortcutsConfig{
			SettingsFile: "settings.yaml",
			Platform:     "auto",
		},
		Timing: TimingConfig{
			TeardownAttempts: 2,
		},
		Recorder: RecorderConfig{
			Enable: true,
			Dir:    "data/traces",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "composerkeys.log",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .composerkeys/config.yaml file.
// Returns the workspace root directory (parent of .composerkeys/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .composerkeys/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .composerkeys/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# composerkeys project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   debugger_url: "ws://127.0.0.1:9222"
#   target_urls:
#     - "https://chatgpt.com/*"

# shortcuts:
#   settings_file: "settings.yaml"
#   platform: auto

# logging:
#   level: debug
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Logging.File = resolve(cfg.Logging.File)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Shortcuts.SettingsFile = resolve(cfg.Shortcuts.SettingsFile)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	cfg.Browser.UserDataDir = resolve(cfg.Browser.UserDataDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if len(c.Browser.TargetURLs) == 0 {
		return errors.New("browser.target_urls must list at least one pattern")
	}
	switch strings.ToLower(c.Shortcuts.Platform) {
	case "", "auto", "mac", "other":
	default:
		return fmt.Errorf("shortcuts.platform must be auto, mac or other, got %q", c.Shortcuts.Platform)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Timing.TeardownAttempts < 0 {
		return errors.New("timing.teardown_attempts must not be negative")
	}
	return nil
}

func parseOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseOr(b.DefaultAttachTimeout, 10*time.Second)
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseOr(b.DefaultNavigationTimeout, 30*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

func (t TimingConfig) PollOpenDuration() time.Duration {
	return parseOr(t.PollOpen, 240*time.Millisecond)
}

func (t TimingConfig) PollStepDuration() time.Duration {
	return parseOr(t.PollStep, 20*time.Millisecond)
}

func (t TimingConfig) MutationWatchDuration() time.Duration {
	return parseOr(t.MutationWatch, 300*time.Millisecond)
}

func (t TimingConfig) PressHoldDuration() time.Duration {
	return parseOr(t.PressHold, 18*time.Millisecond)
}

func (t TimingConfig) HoverSettleDuration() time.Duration {
	return parseOr(t.HoverSettle, 60*time.Millisecond)
}

func (t TimingConfig) CheckWaitDuration() time.Duration {
	return parseOr(t.CheckWait, 140*time.Millisecond)
}

func (t TimingConfig) ClickWaitDuration() time.Duration {
	return parseOr(t.ClickWait, 60*time.Millisecond)
}

func (t TimingConfig) EscapeWaitDuration() time.Duration {
	return parseOr(t.EscapeWait, 100*time.Millisecond)
}

func (t TimingConfig) CloseWaitDuration() time.Duration {
	return parseOr(t.CloseWait, 120*time.Millisecond)
}

func (t TimingConfig) KeyGapDuration() time.Duration {
	return parseOr(t.KeyGap, 30*time.Millisecond)
}

// Attempts returns the teardown round limit, defaulting to 2.
func (t TimingConfig) Attempts() int {
	if t.TeardownAttempts <= 0 {
		return 2
	}
	return t.TeardownAttempts
}
