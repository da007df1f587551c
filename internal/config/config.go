// Package config loads the enrolsync configuration.
//
// A configuration file is written in CUE and unified with an embedded
// #Config schema that supplies defaults. Environment variables then
// override individual fields (secrets and deployment paths), and the
// result is checked with struct-tag validation.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

//go:embed schema.cue
var schemaCUE string

var validate = validator.New()

// Config is the complete run configuration, passed by value into the
// engine and every source factory.
type Config struct {
	LMSDB            string `json:"lms_db" env:"ENROLSYNC_LMS_DB" validate:"required"`
	Component        string `json:"component" validate:"required"`
	LogPath          string `json:"log_path" env:"ENROLSYNC_LOG_PATH"`
	MetricsFile      string `json:"metrics_file" env:"ENROLSYNC_METRICS_FILE"`
	UnenrolThreshold int    `json:"unenrol_threshold" validate:"min=0"`
	SharedRole       string `json:"shared_role" validate:"required"`
	ErrorEmail       string `json:"error_email" env:"ENROLSYNC_ERROR_EMAIL" validate:"omitempty,email"`
	SyncNotification string `json:"sync_notification" env:"ENROLSYNC_SYNC_NOTIFICATION"`

	SMTP    SMTP     `json:"smtp" envPrefix:"ENROLSYNC_SMTP_"`
	Sources []Source `json:"sources" validate:"dive"`
	Groups  Groups   `json:"groups"`

	// SISDSN replaces the dsn setting of every students source when set.
	SISDSN string `json:"-" env:"ENROLSYNC_SIS_DSN"`
}

// SMTP configures the outbound mail relay.
type SMTP struct {
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT" validate:"min=1,max=65535"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password" env:"PASSWORD"`
	From     string `json:"from" env:"FROM" validate:"required"`
}

// Source configures one adapter instance.
type Source struct {
	Name           string            `json:"name" validate:"required"`
	Type           string            `json:"type" validate:"required,oneof=students approvers instructors feed"`
	DisableUnenrol bool              `json:"disable_unenrol"`
	ClassifyGroups bool              `json:"classify_groups"`
	Settings       map[string]string `json:"settings"`
}

// Setting returns the named setting, or def when it is absent or empty.
func (s Source) Setting(key, def string) string {
	if v, ok := s.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Groups holds the group classification tables.
type Groups struct {
	DefaultKey string            `json:"default_key" validate:"required"`
	Roles      map[string]string `json:"roles"`
	Schools    map[string]string `json:"schools"`
}

// RoleKeys returns the role-id to group-key table with parsed ids.
func (g Groups) RoleKeys() (map[int64]string, error) {
	out := make(map[int64]string, len(g.Roles))
	for k, v := range g.Roles {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("groups.roles: role id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

// Load reads the CUE file at path, applies schema defaults and
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse is Load for an in-memory file. filename is used in error positions.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	file := ctx.CompileBytes(data, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("config does not match schema: %w", err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays ENROLSYNC_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if cfg.SISDSN != "" {
		for i := range cfg.Sources {
			if cfg.Sources[i].Type != "students" {
				continue
			}
			if cfg.Sources[i].Settings == nil {
				cfg.Sources[i].Settings = map[string]string{}
			}
			cfg.Sources[i].Settings["dsn"] = cfg.SISDSN
		}
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Name] {
			return fmt.Errorf("invalid config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}

	if _, err := c.Groups.RoleKeys(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SourceNames returns the configured source names in configuration order.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}
