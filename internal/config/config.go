// Package config loads client settings from a TOML file with AURA_*
// environment overrides. Precedence is env over file over defaults; CLI
// flags layer on top in cmd/aura.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/striglia/auraframes/internal/rest"
)

// Config carries everything the CLI wires at startup. Email and password are
// consumed only at login; every other command runs off the stored session.
type Config struct {
	Email         string
	Password      string
	BaseURL       string
	SessionPath   string
	CacheDir      string
	ExportDir     string
	LogLevel      string
	LogFormat     string
	UploadWorkers int
	PageDelay     time.Duration
	PollTimeout   time.Duration
}

const (
	defaultConfigPath    = "~/.config/auraframes/config.toml"
	defaultSessionPath   = "~/.config/auraframes/session.json"
	defaultCacheDir      = "~/.cache/auraframes"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultUploadWorkers = 2
	defaultPageDelay     = 500 * time.Millisecond
	defaultPollTimeout   = 90 * time.Second
)

// Load locates and parses the config file, falling back to defaults when it
// is missing, then applies AURA_* environment overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL:       rest.DefaultBaseURL,
		SessionPath:   defaultSessionPath,
		CacheDir:      defaultCacheDir,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		UploadWorkers: defaultUploadWorkers,
		PageDelay:     defaultPageDelay,
		PollTimeout:   defaultPollTimeout,
	}

	file, err := os.Open(resolved)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
	} else {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyFile(data); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.SessionPath = mustExpand(cfg.SessionPath)
	cfg.CacheDir = mustExpand(cfg.CacheDir)
	if cfg.ExportDir != "" {
		cfg.ExportDir = mustExpand(cfg.ExportDir)
	}
	if cfg.UploadWorkers < 1 {
		cfg.UploadWorkers = 1
	}
	return cfg, nil
}

func (c *Config) applyFile(data []byte) error {
	var raw struct {
		Email         string `toml:"email"`
		Password      string `toml:"password"`
		BaseURL       string `toml:"base_url"`
		SessionPath   string `toml:"session_path"`
		CacheDir      string `toml:"cache_dir"`
		ExportDir     string `toml:"export_dir"`
		LogLevel      string `toml:"log_level"`
		LogFormat     string `toml:"log_format"`
		UploadWorkers int    `toml:"upload_workers"`
		PageDelay     string `toml:"page_delay"`
		PollTimeout   string `toml:"poll_timeout"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.Email, raw.Email)
	setString(&c.Password, raw.Password)
	setString(&c.BaseURL, raw.BaseURL)
	setString(&c.SessionPath, raw.SessionPath)
	setString(&c.CacheDir, raw.CacheDir)
	setString(&c.ExportDir, raw.ExportDir)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.LogFormat, raw.LogFormat)
	if raw.UploadWorkers > 0 {
		c.UploadWorkers = raw.UploadWorkers
	}
	if err := setDuration(&c.PageDelay, raw.PageDelay, "page_delay"); err != nil {
		return err
	}
	if err := setDuration(&c.PollTimeout, raw.PollTimeout, "poll_timeout"); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Email, os.Getenv("AURA_EMAIL"))
	setString(&c.Password, os.Getenv("AURA_PASSWORD"))
	setString(&c.BaseURL, os.Getenv("AURA_BASE_URL"))
	setString(&c.SessionPath, os.Getenv("AURA_SESSION_PATH"))
	setString(&c.CacheDir, os.Getenv("AURA_CACHE_DIR"))
	setString(&c.ExportDir, os.Getenv("AURA_EXPORT_DIR"))
	setString(&c.LogLevel, os.Getenv("AURA_LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("AURA_LOG_FORMAT"))

	if raw := strings.TrimSpace(os.Getenv("AURA_UPLOAD_WORKERS")); raw != "" {
		workers, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse AURA_UPLOAD_WORKERS: %w", err)
		}
		c.UploadWorkers = workers
	}
	if err := setDuration(&c.PageDelay, os.Getenv("AURA_PAGE_DELAY"), "AURA_PAGE_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.PollTimeout, os.Getenv("AURA_POLL_TIMEOUT"), "AURA_POLL_TIMEOUT"); err != nil {
		return err
	}
	return nil
}

func setString(dest *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dest = trimmed
	}
}

func setDuration(dest *time.Duration, value, name string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dest = parsed
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
