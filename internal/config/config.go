// Package config loads docket settings from a YAML file and DOCKET_*
// environment variables.
//
// Precedence, lowest first: built-in defaults, the YAML file, the
// environment. The file is checked against an embedded CUE schema before
// it is decoded, so typos and wrong types are reported with their path.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docket/internal/reconcile"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every docket setting.
type Config struct {
	// Station names this install; it prefixes the actor id.
	Station string       `yaml:"station"`
	Server  ServerConfig `yaml:"server"`
	Remote  RemoteConfig `yaml:"remote"`
	Sync    SyncConfig   `yaml:"sync"`
	Log     LogConfig    `yaml:"log"`
}

// ServerConfig configures `docket serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	DB              string        `yaml:"db"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RemoteConfig points stations at a server.
type RemoteConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// SyncConfig tunes the reconcile engine.
type SyncConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	ConflictPolicy string        `yaml:"conflict_policy"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Station: "station",
		Server: ServerConfig{
			Addr:            ":8080",
			DB:              "docket.db",
			ShutdownTimeout: 10 * time.Second,
		},
		Remote: RemoteConfig{
			URL:            "http://localhost:8080",
			Timeout:        5 * time.Second,
			ReconnectDelay: 2 * time.Second,
		},
		Sync: SyncConfig{
			Debounce:       reconcile.DefaultDelay,
			ConflictPolicy: reconcile.PolicyLastWriterWins.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective config. An empty path skips the file; a
// non-empty path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode checks data against the schema, then decodes it over cfg.
func decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// validateSchema unifies the raw document with #Config.
func validateSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		details := strings.TrimSpace(cueerrors.Details(err, nil))
		return fmt.Errorf("%w: %s", ErrInvalidConfig, details)
	}
	return nil
}

// Validate checks the effective config, including environment overrides.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Station) == "" {
		problems = append(problems, "station is required")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.DB == "" {
		problems = append(problems, "server.db is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}
	if !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
		problems = append(problems, fmt.Sprintf("remote.url %q must be an http(s) URL", c.Remote.URL))
	}
	if c.Remote.Timeout <= 0 {
		problems = append(problems, "remote.timeout must be positive")
	}
	if c.Remote.ReconnectDelay <= 0 {
		problems = append(problems, "remote.reconnect_delay must be positive")
	}
	if c.Sync.Debounce <= 0 {
		problems = append(problems, "sync.debounce must be positive")
	}
	if _, err := reconcile.ParseConflictPolicy(c.Sync.ConflictPolicy); err != nil {
		problems = append(problems, "sync.conflict_policy: "+err.Error())
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level: "+err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Policy returns the parsed conflict policy. Call after Validate.
func (c Config) Policy() reconcile.ConflictPolicy {
	p, _ := reconcile.ParseConflictPolicy(c.Sync.ConflictPolicy)
	return p
}

// SlogLevel returns the parsed log level. Call after Validate.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
