// Package config handles TOML-based configuration loading and validation.
// Values are layered: defaults, then the config file, then WASMKEY_*
// environment variables. Command flags are applied last by cmd.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. WASMKEY_BASE_URL.
const EnvPrefix = "WASMKEY"

// Config holds all application configuration.
type Config struct {
	BaseURL      string `toml:"base_url" envconfig:"BASE_URL"`
	EmbedReferer string `toml:"embed_referer" envconfig:"EMBED_REFERER"`
	UserAgent    string `toml:"user_agent" envconfig:"USER_AGENT"`

	ModulePath     string  `toml:"module_path" envconfig:"MODULE_PATH"`
	ModuleVersion  string  `toml:"module_version" envconfig:"MODULE_VERSION"`
	ImagePath      string  `toml:"image_path" envconfig:"IMAGE_PATH"`
	ImageVersion   string  `toml:"image_version" envconfig:"IMAGE_VERSION"`
	BrowserVersion float64 `toml:"browser_version" envconfig:"BROWSER_VERSION"`
	PixelsFile     string  `toml:"pixels_file" envconfig:"PIXELS_FILE"`

	Entrypoint     string `toml:"entrypoint" envconfig:"ENTRYPOINT"`
	InstallExport  string `toml:"install_export" envconfig:"INSTALL_EXPORT"`
	NavigateExport string `toml:"navigate_export" envconfig:"NAVIGATE_EXPORT"`
	StrictEval     bool   `toml:"strict_eval" envconfig:"STRICT_EVAL"`
	CompileCache   string `toml:"compile_cache" envconfig:"COMPILE_CACHE"`

	Timeout      time.Duration `toml:"timeout" envconfig:"TIMEOUT"`
	Quality      string        `toml:"quality" envconfig:"QUALITY"`
	SubsLanguage string        `toml:"subs_language" envconfig:"SUBS_LANGUAGE"`
	Player       string        `toml:"player" envconfig:"PLAYER"`
	SkipIntro    bool          `toml:"skip_intro" envconfig:"SKIP_INTRO"`

	History   bool   `toml:"history" envconfig:"HISTORY"`
	HistoryDB string `toml:"history_db" envconfig:"HISTORY_DB"`

	Listen           string   `toml:"listen" envconfig:"LISTEN"`
	RateLimitRPS     float64  `toml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `toml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	RateLimitEnabled bool     `toml:"rate_limit_enabled" envconfig:"RATE_LIMIT_ENABLED"`
	CORSOrigins      []string `toml:"cors_origins" envconfig:"CORS_ORIGINS"`
	AllowedPrefixes  []string `toml:"allowed_prefixes" envconfig:"ALLOWED_PREFIXES"`

	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL"`
	Debug    bool   `toml:"debug" envconfig:"DEBUG"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:      "https://megacloud.tv",
		EmbedReferer: "https://hianime.to/",
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",

		ModulePath:     "/images/loading.png",
		ModuleVersion:  "0.0.9",
		ImagePath:      "/images/image.png",
		ImageVersion:   "0.1.0",
		BrowserVersion: 1878522368,

		Entrypoint:     "groot",
		InstallExport:  "jwt_plugin",
		NavigateExport: "navigate",
		StrictEval:     true,

		Timeout:      30 * time.Second,
		Quality:      "auto",
		SubsLanguage: "english",
		Player:       "mpv",

		History: true,

		Listen:           "127.0.0.1:8000",
		RateLimitRPS:     5,
		RateLimitBurst:   10,
		RateLimitEnabled: true,
		CORSOrigins:      []string{"*"},
		AllowedPrefixes: []string{
			"https://megacloud.tv/embed-2/",
			"https://megacloud.blog/embed-2/",
		},

		LogLevel: "info",
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wasmkey"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "wasmkey"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the default config file, applies environment overrides and
// validates the result. A missing config file is not an error.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		path = ""
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// envconfig also reads the unprefixed name when WASMKEY_X is unset.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("base_url must be an https URL, got %q", c.BaseURL)
	}

	if !strings.HasPrefix(c.ModulePath, "/") || !strings.HasPrefix(c.ImagePath, "/") {
		return fmt.Errorf("module_path and image_path must be absolute paths")
	}

	for name, v := range map[string]string{
		"entrypoint":      c.Entrypoint,
		"install_export":  c.InstallExport,
		"navigate_export": c.NavigateExport,
	} {
		if v == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}

	if c.BrowserVersion <= 0 {
		return fmt.Errorf("browser_version must be positive")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}

	validQualities := map[string]bool{
		"auto": true, "360": true, "480": true, "720": true, "1080": true,
	}
	if !validQualities[c.Quality] {
		return fmt.Errorf("unsupported quality %q (valid: auto, 360, 480, 720, 1080)", c.Quality)
	}

	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[c.Player] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1) {
		return fmt.Errorf("rate limit needs rate_limit_rps > 0 and rate_limit_burst >= 1")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("unsupported log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// ModuleURL is the absolute URL of the guest module.
func (c *Config) ModuleURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.ModulePath
}

// ImageURL is the decoy image URL the guest reads from img.src.
func (c *Config) ImageURL() string {
	return fmt.Sprintf("%s%s?v=%s", strings.TrimRight(c.BaseURL, "/"), c.ImagePath, c.ImageVersion)
}

// HistoryPath returns the history database path, defaulting to the XDG
// data directory.
func (c *Config) HistoryPath() (string, error) {
	if c.HistoryDB != "" {
		return expandHome(c.HistoryDB)
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "wasmkey", "history.db"), nil
}

// CompileCacheDir resolves ~ in the compilation cache directory. It is
// empty when caching is off.
func (c *Config) CompileCacheDir() (string, error) {
	if c.CompileCache == "" {
		return "", nil
	}
	return expandHome(c.CompileCache)
}

func expandHome(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}
