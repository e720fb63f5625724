// Package config loads the toolloop CLI configuration from a TOML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tgsearchbot/toolloop"
)

const (
	DefaultPath    = "toolloop.toml"
	DefaultGateway = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Backend selects the model gateway.
type Backend struct {
	Provider   string `toml:"provider"`
	Name       string `toml:"name"`
	Gateway    string `toml:"gateway"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	EmbedModel string `toml:"embed_model"`
}

// Tools configures the tool loop and the bundled tools.
type Tools struct {
	MaxInvocations int      `toml:"max_invocations"`
	Marker         string   `toml:"marker"`
	ReportUnknown  bool     `toml:"report_unknown"`
	TimeoutSecs    int      `toml:"timeout_secs"`
	MaxConcurrency int      `toml:"max_concurrency"`
	TodoDB         string   `toml:"todo_db"`
	Disabled       []string `toml:"disabled"`
	Web            bool     `toml:"web"`
}

// Logging selects the slog handler.
type Logging struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// Config is the full CLI configuration.
type Config struct {
	SystemPrompt string  `toml:"system_prompt"`
	Backend      Backend `toml:"backend"`
	Tools        Tools   `toml:"tools"`
	Logging      Logging `toml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		SystemPrompt: "You are a helpful assistant.",
		Backend: Backend{
			Provider: "openai",
			Gateway:  DefaultGateway,
			Model:    DefaultModel,
		},
		Tools: Tools{
			MaxInvocations: toolloop.DefaultMaxToolInvocations,
			Marker:         toolloop.DefaultToolMarker,
			TimeoutSecs:    30,
			TodoDB:         "toolloop-todo.sqlite",
			Web:            true,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads .env files (missing ones are ignored), then the TOML file at path over the
// defaults, then environment overrides. A missing file is an error only when it was named
// explicitly, that is when path differs from DefaultPath.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnv(envFiles); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || path != DefaultPath {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv lets TOOLLOOP_* (and OPENAI_API_KEY) variables override file values.
func (c *Config) applyEnv() {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.Backend.APIKey, "TOOLLOOP_API_KEY", "OPENAI_API_KEY")
	set(&c.Backend.Gateway, "TOOLLOOP_GATEWAY", "OPENAI_BASE_URL")
	set(&c.Backend.Model, "TOOLLOOP_MODEL")
	set(&c.Logging.Level, "TOOLLOOP_LOG_LEVEL")
	set(&c.Logging.Format, "TOOLLOOP_LOG_FORMAT")
}

// Validate reports every missing or malformed field at once.
func (c Config) Validate() error {
	var missing []string
	if c.Backend.Gateway == "" {
		missing = append(missing, "backend.gateway")
	}
	if c.Backend.Model == "" {
		missing = append(missing, "backend.model")
	}
	if c.Backend.APIKey == "" {
		missing = append(missing, "backend.api_key")
	}
	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration fields: %s", strings.Join(missing, ", ")))
	}
	if c.Backend.Gateway != "" && !strings.HasPrefix(c.Backend.Gateway, "http://") && !strings.HasPrefix(c.Backend.Gateway, "https://") {
		errs = append(errs, fmt.Errorf("backend.gateway must be an http(s) URL, got %q", c.Backend.Gateway))
	}
	if c.Tools.MaxInvocations < 1 {
		errs = append(errs, fmt.Errorf("tools.max_invocations must be at least 1, got %d", c.Tools.MaxInvocations))
	}
	if c.Tools.TimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout_secs must not be negative"))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(strings.TrimSpace(c.Logging.Format)); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown logging.format: %s", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// BackendConfig converts the backend section for requests.
func (c Config) BackendConfig() toolloop.BackendConfig {
	return toolloop.BackendConfig{
		Provider: c.Backend.Provider,
		Name:     c.Backend.Name,
		Gateway:  c.Backend.Gateway,
		APIKey:   c.Backend.APIKey,
	}
}

// ToolEnabled reports whether name is not listed in tools.disabled.
func (c Config) ToolEnabled(name string) bool {
	for _, d := range c.Tools.Disabled {
		if strings.EqualFold(d, name) {
			return false
		}
	}
	return true
}

// Logger builds the slog logger described by the logging section, writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: c.Logging.AddSource}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown logging.format: %s", c.Logging.Format)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown logging.level: %s", s)
}
