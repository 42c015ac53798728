package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeWorkspace(t *testing.T, root, content string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write workspace config: %v", err)
	}
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dirs: %v", err)
	}

	result, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestDiscoverWorkspace_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	parts := make([]string, MaxSearchDepth+2)
	parts[0] = tmpDir
	for i := 1; i <= MaxSearchDepth+1; i++ {
		parts[i] = "d"
	}
	deepPath := filepath.Join(parts...)
	if err := os.MkdirAll(deepPath, 0755); err != nil {
		t.Fatalf("failed to create deep path: %v", err)
	}

	result, err := DiscoverWorkspace(deepPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string (beyond max depth), got %q", result)
	}
}

// wsConfigAutoStartOff disables auto_start to avoid validation errors
// requiring debugger_url/launch.
const wsConfigAutoStartOff = `
browser:
  auto_start: false
`

func TestLoadWithWorkspace_DefaultsOnly(t *testing.T) {
	tmpDir := t.TempDir()
	explicitPath := filepath.Join(tmpDir, "minimal.yaml")
	if err := os.WriteFile(explicitPath, []byte(wsConfigAutoStartOff), 0644); err != nil {
		t.Fatalf("failed to write minimal config: %v", err)
	}

	cfg, wsDir, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected empty workspace dir, got %q", wsDir)
	}
	if cfg.Server.Name != "composerkeys-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
	if cfg.Shortcuts.Platform != "auto" {
		t.Errorf("expected default platform, got %q", cfg.Shortcuts.Platform)
	}
}

func TestLoadWithWorkspace_WorkspaceOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
browser:
  auto_start: false

shortcuts:
  platform: other
  settings_file: keys.yaml
`)

	cfg, resultDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != tmpDir {
		t.Errorf("expected workspace dir %q, got %q", tmpDir, resultDir)
	}
	if cfg.Shortcuts.Platform != "other" {
		t.Errorf("expected platform from workspace, got %q", cfg.Shortcuts.Platform)
	}
	if want := filepath.Join(tmpDir, "keys.yaml"); cfg.Shortcuts.SettingsFile != want {
		t.Errorf("expected settings file resolved to %q, got %q", want, cfg.Shortcuts.SettingsFile)
	}
	if cfg.Server.Name != "composerkeys-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
}

func TestLoadWithWorkspace_ExplicitOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
browser:
  auto_start: false
  target_urls:
    - "https://workspace.example/*"
`)

	explicitPath := filepath.Join(tmpDir, "explicit.yaml")
	explicitConfig := `
browser:
  target_urls:
    - "https://explicit.example/*"
    - "https://chatgpt.com/*"
`
	if err := os.WriteFile(explicitPath, []byte(explicitConfig), 0644); err != nil {
		t.Fatalf("failed to write explicit config: %v", err)
	}

	cfg, _, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Browser.TargetURLs) != 2 || cfg.Browser.TargetURLs[0] != "https://explicit.example/*" {
		t.Errorf("expected explicit target urls to override workspace, got %v", cfg.Browser.TargetURLs)
	}
}

func TestLoadWithWorkspace_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
shortcuts:
  platform: mac
`)

	explicitPath := filepath.Join(tmpDir, "minimal.yaml")
	if err := os.WriteFile(explicitPath, []byte(wsConfigAutoStartOff), 0644); err != nil {
		t.Fatalf("failed to write minimal config: %v", err)
	}

	cfg, resultDir, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultDir != "" {
		t.Errorf("expected empty workspace dir with Disable, got %q", resultDir)
	}
	if cfg.Shortcuts.Platform != "auto" {
		t.Errorf("expected platform to stay at default when workspace disabled, got %q", cfg.Shortcuts.Platform)
	}
}

func TestResolveWorkspacePaths_Relative(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		Logging:   LoggingConfig{File: "composerkeys.log"},
		Shortcuts: ShortcutsConfig{SettingsFile: "settings.yaml"},
		Mangle:    MangleConfig{SchemaPath: filepath.Join("schemas", "composer.mg")},
		Recorder:  RecorderConfig{Dir: filepath.Join("data", "traces")},
	}

	resolved := resolveWorkspacePaths(cfg, tmpDir)

	if want := filepath.Join(tmpDir, "composerkeys.log"); resolved.Logging.File != want {
		t.Errorf("expected log file %q, got %q", want, resolved.Logging.File)
	}
	if want := filepath.Join(tmpDir, "settings.yaml"); resolved.Shortcuts.SettingsFile != want {
		t.Errorf("expected settings file %q, got %q", want, resolved.Shortcuts.SettingsFile)
	}
	if want := filepath.Join(tmpDir, "schemas", "composer.mg"); resolved.Mangle.SchemaPath != want {
		t.Errorf("expected schema path %q, got %q", want, resolved.Mangle.SchemaPath)
	}
	if want := filepath.Join(tmpDir, "data", "traces"); resolved.Recorder.Dir != want {
		t.Errorf("expected recorder dir %q, got %q", want, resolved.Recorder.Dir)
	}
	if resolved.Browser.UserDataDir != "" {
		t.Errorf("expected empty user data dir to stay empty, got %q", resolved.Browser.UserDataDir)
	}
}

func TestResolveWorkspacePaths_AbsoluteUntouched(t *testing.T) {
	wsDir := t.TempDir()

	var absLog, absSettings string
	if runtime.GOOS == "windows" {
		absLog = `C:\var\log\composerkeys.log`
		absSettings = `C:\etc\composerkeys\settings.yaml`
	} else {
		absLog = "/var/log/composerkeys.log"
		absSettings = "/etc/composerkeys/settings.yaml"
	}

	cfg := Config{
		Logging:   LoggingConfig{File: absLog},
		Shortcuts: ShortcutsConfig{SettingsFile: absSettings},
	}

	resolved := resolveWorkspacePaths(cfg, wsDir)

	if resolved.Logging.File != absLog {
		t.Errorf("expected absolute log file untouched %q, got %q", absLog, resolved.Logging.File)
	}
	if resolved.Shortcuts.SettingsFile != absSettings {
		t.Errorf("expected absolute settings file untouched %q, got %q", absSettings, resolved.Shortcuts.SettingsFile)
	}
}

func TestInitWorkspace_Creates(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wsDir := filepath.Join(tmpDir, WorkspaceDirName)
	for _, dir := range []string{wsDir, filepath.Join(wsDir, "data")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("expected directory %q to exist: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %q to be a directory", dir)
		}
	}

	data, err := os.ReadFile(filepath.Join(wsDir, WorkspaceConfigFile))
	if err != nil {
		t.Fatalf("failed to read config template: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty config template")
	}

	data, err = os.ReadFile(filepath.Join(wsDir, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty .gitignore")
	}
}

func TestInitWorkspace_AlreadyExists(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := InitWorkspace(tmpDir); err == nil {
		t.Error("expected error when workspace already exists")
	}
}
