// Package config resolves process configuration from a YAML file, OBJIDX_*
// environment variables and command-line flags, and validates the result
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/roach88/objidx/internal/secret"
)

//go:embed schema.cue
var schemaCUE string

// Config keys, shared by the config file, the environment and flag bindings.
const (
	KeyDatabase            = "database"
	KeyLogLevel            = "log_level"
	KeyMetricsAddr         = "metrics_addr"
	KeySnapshotLag         = "snapshot.lag"
	KeySnapshotSleep       = "snapshot.sleep_duration"
	KeyCommitterMaxRetries = "committer.max_retries"
	KeyCommitterBackoff    = "committer.retry_backoff"
	KeyQueryDefaultLimit   = "query.default_limit"
	KeyQueryMaxLimit       = "query.max_limit"
)

const envPrefix = "OBJIDX"

// ErrNoDatabase is returned when no DSN was configured.
var ErrNoDatabase = errors.New("database not specified")

// Config is the resolved configuration.
type Config struct {
	Database    *secret.String
	LogLevel    string
	MetricsAddr string
	Snapshot    SnapshotConfig
	Committer   CommitterConfig
	Query       QueryConfig
}

// SnapshotConfig controls how far the object snapshot trails the committed
// frontier and how often the processor polls.
type SnapshotConfig struct {
	Lag           uint64
	SleepDuration time.Duration
}

// CommitterConfig bounds retries of transient commit failures.
type CommitterConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// QueryConfig bounds page sizes of object queries.
type QueryConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeySnapshotLag, 300)
	v.SetDefault(KeySnapshotSleep, 5*time.Second)
	v.SetDefault(KeyCommitterMaxRetries, 5)
	v.SetDefault(KeyCommitterBackoff, 200*time.Millisecond)
	v.SetDefault(KeyQueryDefaultLimit, 50)
	v.SetDefault(KeyQueryMaxLimit, 1000)
}

// Load reads configuration into a Config. file may be empty, in which case
// only defaults, environment and bound flags apply.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		Database:    secret.New(v.GetString(KeyDatabase)),
		LogLevel:    strings.ToLower(v.GetString(KeyLogLevel)),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		Snapshot: SnapshotConfig{
			Lag:           v.GetUint64(KeySnapshotLag),
			SleepDuration: v.GetDuration(KeySnapshotSleep),
		},
		Committer: CommitterConfig{
			MaxRetries:   v.GetInt(KeyCommitterMaxRetries),
			RetryBackoff: v.GetDuration(KeyCommitterBackoff),
		},
		Query: QueryConfig{
			DefaultLimit: v.GetInt(KeyQueryDefaultLimit),
			MaxLimit:     v.GetInt(KeyQueryMaxLimit),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// document is the CUE-facing view of Config. The DSN is left out so it never
// appears in validation errors.
type document struct {
	LogLevel    string `json:"log_level"`
	MetricsAddr string `json:"metrics_addr"`
	Snapshot    struct {
		Lag     uint64 `json:"lag"`
		SleepMs int64  `json:"sleep_ms"`
	} `json:"snapshot"`
	Committer struct {
		MaxRetries     int   `json:"max_retries"`
		RetryBackoffMs int64 `json:"retry_backoff_ms"`
	} `json:"committer"`
	Query struct {
		DefaultLimit int `json:"default_limit"`
		MaxLimit     int `json:"max_limit"`
	} `json:"query"`
}

// Validate checks cfg against the embedded schema.
func (c Config) Validate() error {
	if c.Database.Empty() {
		return ErrNoDatabase
	}

	var doc document
	doc.LogLevel = c.LogLevel
	doc.MetricsAddr = c.MetricsAddr
	doc.Snapshot.Lag = c.Snapshot.Lag
	doc.Snapshot.SleepMs = c.Snapshot.SleepDuration.Milliseconds()
	doc.Committer.MaxRetries = c.Committer.MaxRetries
	doc.Committer.RetryBackoffMs = c.Committer.RetryBackoff.Milliseconds()
	doc.Query.DefaultLimit = c.Query.DefaultLimit
	doc.Query.MaxLimit = c.Query.MaxLimit

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
