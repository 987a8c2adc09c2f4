package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBase != DefaultConfig().APIBase {
		t.Fatalf("APIBase = %q, want %q", cfg.APIBase, DefaultConfig().APIBase)
	}
	if cfg.Port != 8080 {
		t.Fatalf("Port = %d, want 8080", cfg.Port)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"api_base": "https://notes.example.test", "port": 9000}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBase != "https://notes.example.test" {
		t.Fatalf("APIBase = %q", cfg.APIBase)
	}
	if cfg.Port != 9000 {
		t.Fatalf("Port = %d, want 9000", cfg.Port)
	}
	// Untouched scalars keep defaults
	if cfg.SummaryModel != "gemini-2.0-flash" {
		t.Fatalf("SummaryModel = %q", cfg.SummaryModel)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["notes_export", "history_delete"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "notes_export" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "notes_export")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"api_base": "https://global.example.test", "allowed_paths": ["/a"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, DirName)
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"api_base": "https://repo.example.test", "allowed_paths": ["/b", "/a"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "notes", "week1")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.APIBase != "https://repo.example.test" {
		t.Errorf("APIBase = %q, want repo override", cfg.APIBase)
	}
	if len(cfg.AllowedPaths) != 2 {
		t.Errorf("AllowedPaths = %v, want merged [/a /b]", cfg.AllowedPaths)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.APIBase != DefaultConfig().APIBase {
		t.Errorf("APIBase = %q, want default", cfg.APIBase)
	}
}

func TestMerge_Booleans(t *testing.T) {
	base := &Config{DevLogin: true}
	overlay := &Config{AllowUnsafePaths: true}

	got := Merge(base, overlay)
	if !got.DevLogin || !got.AllowUnsafePaths {
		t.Errorf("Merge booleans = %+v, want both true", got)
	}
}

func TestMergeStringSlice_Dedup(t *testing.T) {
	got := mergeStringSlice([]string{" a ", "b"}, []string{"b", "", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("mergeStringSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if mergeStringSlice(nil, []string{" "}) != nil {
		t.Error("all-blank input should merge to nil")
	}
}

func TestResolvedLoginURL(t *testing.T) {
	cfg := &Config{APIBase: "https://api.example.test/"}
	if got := cfg.ResolvedLoginURL(); got != "https://api.example.test/login" {
		t.Errorf("ResolvedLoginURL() = %q", got)
	}

	cfg.LoginURL = "https://idp.example.test/authorize"
	if got := cfg.ResolvedLoginURL(); got != "https://idp.example.test/authorize" {
		t.Errorf("ResolvedLoginURL() = %q", got)
	}
}

func TestResolvedDownloadDir(t *testing.T) {
	cfg := &Config{}
	if got := cfg.ResolvedDownloadDir("/home/u/.studybuddy"); got != filepath.Join("/home/u/.studybuddy", "downloads") {
		t.Errorf("ResolvedDownloadDir() = %q", got)
	}
	cfg.DownloadDir = "/tmp/dl"
	if got := cfg.ResolvedDownloadDir("/home/u/.studybuddy"); got != "/tmp/dl" {
		t.Errorf("ResolvedDownloadDir() = %q", got)
	}
}

func TestLoadSecrets_FromEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "STUDYBUDDY_API_BASE=https://env.example.test\nSTUDYBUDDY_SESSION_TOKEN=tok123\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("STUDYBUDDY_API_BASE", "")
	os.Unsetenv("STUDYBUDDY_API_BASE")
	t.Setenv("STUDYBUDDY_SESSION_TOKEN", "")
	os.Unsetenv("STUDYBUDDY_SESSION_TOKEN")

	secrets, err := LoadSecrets(envPath)
	if err != nil {
		t.Fatalf("LoadSecrets() error = %v", err)
	}
	if secrets.APIBase != "https://env.example.test" {
		t.Errorf("APIBase = %q", secrets.APIBase)
	}

	cfg := DefaultConfig()
	cfg.ApplySecrets(secrets)
	if cfg.APIBase != "https://env.example.test" {
		t.Errorf("cfg.APIBase = %q after ApplySecrets", cfg.APIBase)
	}
	if cfg.SessionToken != "tok123" {
		t.Errorf("cfg.SessionToken = %q after ApplySecrets", cfg.SessionToken)
	}
}

func TestLoadSecrets_MissingEnvFile(t *testing.T) {
	if _, err := LoadSecrets(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadSecrets() error = %v, want nil for missing file", err)
	}
}
