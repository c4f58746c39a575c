// Package config loads rxvault's settings.
//
// Sources, lowest precedence first: schema defaults, the YAML file,
// RXVAULT_* environment variables (a .env file may supply them). The
// merged document is validated against an embedded CUE schema before it is
// decoded, so range and enum errors name the offending key.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rxvault/internal/dispense"
	"github.com/roach88/rxvault/internal/engine"
	"github.com/roach88/rxvault/internal/policy"
)

//go:embed schema.cue
var schemaCUE string

// DefaultPath is the config file looked for when none is named.
const DefaultPath = "rxvault.yaml"

type Config struct {
	Database  string
	Inventory policy.Thresholds
	Dispense  Dispense
	Sync      Sync
	Mirror    Mirror
	Log       Log
}

type Dispense struct {
	QuantityRule dispense.QuantityRule
}

type Sync struct {
	Enabled        bool
	RemoteURL      string
	RequestTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	ListenWait     time.Duration
}

type Mirror struct {
	Addr                string
	Secret              string
	AllowAnonymousReads bool
	DatabaseURL         string
	TokenTTL            time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Engine returns the sync engine settings.
func (s Sync) Engine() engine.Config {
	return engine.Config{
		RequestTimeout: s.RequestTimeout,
		BaseBackoff:    s.BaseBackoff,
		MaxBackoff:     s.MaxBackoff,
		PollInterval:   s.PollInterval,
	}
}

// document mirrors the schema's field names for decoding.
type document struct {
	Database  string `json:"database"`
	Inventory struct {
		MinimumStock int `json:"minimum_stock_threshold"`
		ExpiryMonths int `json:"expiry_months_threshold"`
	} `json:"inventory"`
	Dispense struct {
		QuantityRule string `json:"quantity_rule"`
	} `json:"dispense"`
	Sync struct {
		Enabled        bool   `json:"enabled"`
		RemoteURL      string `json:"remote_url"`
		RequestTimeout string `json:"request_timeout"`
		BaseBackoff    string `json:"base_backoff"`
		MaxBackoff     string `json:"max_backoff"`
		PollInterval   string `json:"poll_interval"`
		ListenWait     string `json:"listen_wait"`
	} `json:"sync"`
	Mirror struct {
		Addr                string `json:"addr"`
		Secret              string `json:"secret"`
		AllowAnonymousReads bool   `json:"allow_anonymous_reads"`
		DatabaseURL         string `json:"database_url"`
		TokenTTL            string `json:"token_ttl"`
	} `json:"mirror"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// LoadDotEnv loads variables from path into the process environment
// without replacing ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides from
// lookup (os.LookupEnv in production) and validates the result.
//
// An empty path, or DefaultPath when it does not exist, yields the
// defaults. Any other missing file is an error.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path == "" {
		path = DefaultPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if raw, err = parseYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if lookup != nil {
		if err := applyEnv(raw, lookup); err != nil {
			return Config{}, err
		}
	}
	return resolve(raw)
}

// Parse validates a YAML document without consulting the environment.
func Parse(data []byte) (Config, error) {
	raw, err := parseYAML(data)
	if err != nil {
		return Config{}, err
	}
	return resolve(raw)
}

func parseYAML(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func resolve(raw map[string]any) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, &Error{Details: cueerrors.Details(err, nil)}
	}

	var doc document
	if err := v.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return doc.config()
}

func (d document) config() (Config, error) {
	rule, err := dispense.ParseQuantityRule(d.Dispense.QuantityRule)
	if err != nil {
		return Config{}, &Error{Details: err.Error()}
	}

	cfg := Config{
		Database: d.Database,
		Inventory: policy.Thresholds{
			MinimumStock: d.Inventory.MinimumStock,
			ExpiryMonths: d.Inventory.ExpiryMonths,
		},
		Dispense: Dispense{QuantityRule: rule},
		Sync: Sync{
			Enabled:   d.Sync.Enabled,
			RemoteURL: d.Sync.RemoteURL,
		},
		Mirror: Mirror{
			Addr:                d.Mirror.Addr,
			Secret:              d.Mirror.Secret,
			AllowAnonymousReads: d.Mirror.AllowAnonymousReads,
			DatabaseURL:         d.Mirror.DatabaseURL,
		},
		Log: Log{Level: d.Log.Level, Format: d.Log.Format},
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sync.request_timeout", d.Sync.RequestTimeout, &cfg.Sync.RequestTimeout},
		{"sync.base_backoff", d.Sync.BaseBackoff, &cfg.Sync.BaseBackoff},
		{"sync.max_backoff", d.Sync.MaxBackoff, &cfg.Sync.MaxBackoff},
		{"sync.poll_interval", d.Sync.PollInterval, &cfg.Sync.PollInterval},
		{"sync.listen_wait", d.Sync.ListenWait, &cfg.Sync.ListenWait},
		{"mirror.token_ttl", d.Mirror.TokenTTL, &cfg.Mirror.TokenTTL},
	}
	for _, dur := range durations {
		v, err := time.ParseDuration(dur.raw)
		if err != nil || v <= 0 {
			return Config{}, &Error{Details: fmt.Sprintf("%s: invalid duration %q", dur.key, dur.raw)}
		}
		*dur.dst = v
	}
	if cfg.Sync.MaxBackoff < cfg.Sync.BaseBackoff {
		return Config{}, &Error{Details: "sync.max_backoff: must not be shorter than sync.base_backoff"}
	}
	return cfg, nil
}

// Error is a config validation failure.
type Error struct {
	Details string
}

func (e *Error) Error() string {
	return "invalid config: " + strings.TrimSpace(e.Details)
}

type envKind int

const (
	envString envKind = iota
	envInt
	envBool
)

// envOverrides maps RXVAULT_* variables onto config keys.
var envOverrides = []struct {
	name string
	path []string
	kind envKind
}{
	{"RXVAULT_DATABASE", []string{"database"}, envString},
	{"RXVAULT_MINIMUM_STOCK_THRESHOLD", []string{"inventory", "minimum_stock_threshold"}, envInt},
	{"RXVAULT_EXPIRY_MONTHS_THRESHOLD", []string{"inventory", "expiry_months_threshold"}, envInt},
	{"RXVAULT_QUANTITY_RULE", []string{"dispense", "quantity_rule"}, envString},
	{"RXVAULT_SYNC_ENABLED", []string{"sync", "enabled"}, envBool},
	{"RXVAULT_REMOTE_URL", []string{"sync", "remote_url"}, envString},
	{"RXVAULT_SYNC_REQUEST_TIMEOUT", []string{"sync", "request_timeout"}, envString},
	{"RXVAULT_MIRROR_ADDR", []string{"mirror", "addr"}, envString},
	{"RXVAULT_MIRROR_SECRET", []string{"mirror", "secret"}, envString},
	{"RXVAULT_MIRROR_DATABASE_URL", []string{"mirror", "database_url"}, envString},
	{"RXVAULT_MIRROR_ALLOW_ANONYMOUS_READS", []string{"mirror", "allow_anonymous_reads"}, envBool},
	{"RXVAULT_LOG_LEVEL", []string{"log", "level"}, envString},
	{"RXVAULT_LOG_FORMAT", []string{"log", "format"}, envString},
}

// EnvNames lists the environment variables Load consults.
func EnvNames() []string {
	out := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		out[i] = o.name
	}
	return out
}

func applyEnv(raw map[string]any, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		s, ok := lookup(o.name)
		if !ok {
			continue
		}
		var v any = s
		switch o.kind {
		case envInt:
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return &Error{Details: fmt.Sprintf("%s: %q is not an integer", o.name, s)}
			}
			v = n
		case envBool:
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return &Error{Details: fmt.Sprintf("%s: %q is not a boolean", o.name, s)}
			}
			v = b
		}
		if err := setPath(raw, o.path, v); err != nil {
			return &Error{Details: fmt.Sprintf("%s: %v", o.name, err)}
		}
	}
	return nil
}

func setPath(m map[string]any, path []string, v any) error {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key]
		if !ok || next == nil {
			child := map[string]any{}
			m[key] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a mapping", key)
		}
		m = child
	}
	m[path[len(path)-1]] = v
	return nil
}
