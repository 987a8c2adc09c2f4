package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DirName is the name of the per-user and per-repo config directory.
const DirName = ".studybuddy"

// Config holds application configuration.
type Config struct {
	// APIBase is the base address of the remote collaborators (extract, summarize,
	// history, download, export, identity).
	APIBase string `json:"api_base"`

	// LoginURL is where anonymous users are sent to sign in.
	// Defaults to APIBase + "/login".
	LoginURL string `json:"login_url,omitempty"`

	// SessionToken is the session cookie value presented to the backend.
	// Usually supplied via STUDYBUDDY_SESSION_TOKEN rather than the file.
	SessionToken string `json:"session_token,omitempty"`

	// DownloadDir is where downloaded artifacts are written.
	// Defaults to ~/.studybuddy/downloads.
	DownloadDir string `json:"download_dir,omitempty"`

	// AllowedPaths is an allowlist of additional directories for downloads.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for downloads.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// Bind and Port are the listen address of `studybuddy serve`.
	Bind string `json:"bind,omitempty"`
	Port int    `json:"port,omitempty"`

	// DBMaxOpenConns limits the backend's open database connections. 0 = sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the backend's idle database connections. 0 = sql.DB default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DevLogin enables GET /login?email=... on the backend, issuing a session
	// cookie without an external identity provider. Never enable in production.
	DevLogin bool `json:"dev_login,omitempty"`

	// CookieSecure marks the backend session cookie Secure.
	CookieSecure bool `json:"cookie_secure,omitempty"`

	// VisionEndpoint is the OCR annotate endpoint used by the backend.
	VisionEndpoint string `json:"vision_endpoint,omitempty"`

	// SummaryBaseURL is the OpenAI-compatible endpoint used by the backend summarizer.
	SummaryBaseURL string `json:"summary_base_url,omitempty"`

	// SummaryModel is the model name passed to the summarizer.
	SummaryModel string `json:"summary_model,omitempty"`
}

// Secrets holds values that must never be written to config.json.
type Secrets struct {
	GoogleAPIKey  string
	GeminiAPIKey  string
	SessionSecret string
	SessionToken  string
	APIBase       string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBase:        "http://localhost:8080",
		LogLevel:       "info",
		Bind:           "127.0.0.1",
		Port:           8080,
		VisionEndpoint: "https://vision.googleapis.com/v1/images:annotate",
		SummaryBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		SummaryModel:   "gemini-2.0-flash",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.studybuddy.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.studybuddy) and repo (.studybuddy) directories.
// Repo config is found by walking upward from startDir to find the nearest .studybuddy/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .studybuddy/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadSecrets loads envFile (if present) into the process environment without
// overriding variables that are already set, then reads the known secrets.
func LoadSecrets(envFile string) (*Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return &Secrets{
		GoogleAPIKey:  os.Getenv("GOOGLE_API_KEY"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		SessionSecret: os.Getenv("STUDYBUDDY_SESSION_SECRET"),
		SessionToken:  os.Getenv("STUDYBUDDY_SESSION_TOKEN"),
		APIBase:       os.Getenv("STUDYBUDDY_API_BASE"),
	}, nil
}

// ApplySecrets overlays environment-provided values onto cfg.
func (c *Config) ApplySecrets(s *Secrets) {
	if s == nil {
		return
	}
	if s.APIBase != "" {
		c.APIBase = s.APIBase
	}
	if s.SessionToken != "" {
		c.SessionToken = s.SessionToken
	}
}

// ResolvedLoginURL returns LoginURL, defaulting to APIBase + "/login".
func (c *Config) ResolvedLoginURL() string {
	if c.LoginURL != "" {
		return c.LoginURL
	}
	return strings.TrimSuffix(c.APIBase, "/") + "/login"
}

// ResolvedDownloadDir returns DownloadDir, defaulting to baseDir/downloads.
func (c *Config) ResolvedDownloadDir(baseDir string) string {
	if c.DownloadDir != "" {
		return c.DownloadDir
	}
	return filepath.Join(baseDir, "downloads")
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.APIBase = pickString(base.APIBase, overlay.APIBase)
	result.LoginURL = pickString(base.LoginURL, overlay.LoginURL)
	result.SessionToken = pickString(base.SessionToken, overlay.SessionToken)
	result.DownloadDir = pickString(base.DownloadDir, overlay.DownloadDir)
	result.LogLevel = pickString(base.LogLevel, overlay.LogLevel)
	result.Bind = pickString(base.Bind, overlay.Bind)
	result.VisionEndpoint = pickString(base.VisionEndpoint, overlay.VisionEndpoint)
	result.SummaryBaseURL = pickString(base.SummaryBaseURL, overlay.SummaryBaseURL)
	result.SummaryModel = pickString(base.SummaryModel, overlay.SummaryModel)

	result.Port = pickInt(base.Port, overlay.Port)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.DevLogin = base.DevLogin || overlay.DevLogin
	result.CookieSecure = base.CookieSecure || overlay.CookieSecure

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(base, overlay string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
