// Package config loads and validates pipeline configuration via Viper.
//
// Every knob is reachable three ways, later wins: built-in default, an
// optional `estado.yaml` file, environment variable. Env names are the
// upper-cased key path with dots replaced by underscores (db.url → DB_URL,
// minio.bucket → MINIO_BUCKET).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Entity display-name policies applied when a later artifact carries a
// different name for an existing natural key.
const (
	NamePolicyFirstSeen = "first_seen"
	NamePolicyLatest    = "latest"
)

// Blob store backends.
const (
	StoreFS     = "fs"
	StoreMinio  = "minio"
	StoreMemory = "memory"
)

// Config captures all pipeline configuration knobs.
type Config struct {
	DB    DBConfig    `mapstructure:"db"`
	Raw   RawConfig   `mapstructure:"raw"`
	Minio MinioConfig `mapstructure:"minio"`
	API   APIConfig   `mapstructure:"api"`
	Log   LogConfig   `mapstructure:"log"`

	RateLimitMS      int    `mapstructure:"rate_limit_ms"`
	FetchTimeoutS    int    `mapstructure:"fetch_timeout_s"`
	QueryTimeoutS    int    `mapstructure:"query_timeout_s"`
	PresignTTLMin    int    `mapstructure:"presign_ttl_min"`
	HeadlineMetric   string `mapstructure:"headline_metric"`
	EntityNamePolicy string `mapstructure:"entity_name_policy"`
	UserAgent        string `mapstructure:"user_agent"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
}

// DBConfig controls access to the canonical Postgres store.
type DBConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RawConfig selects and roots the blob store backend.
type RawConfig struct {
	Store  string `mapstructure:"store"`
	FSRoot string `mapstructure:"fs_root"`
}

// MinioConfig holds S3-compatible object store credentials.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// APIConfig controls the query service listener.
type APIConfig struct {
	Bind string `mapstructure:"bind"`
}

// LogConfig toggles zap behavior.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

// Load builds a Config from defaults, an optional config file, and the
// environment. An empty path searches the working directory and
// /etc/estado-transparente for estado.yaml; a missing file is fine.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, eris.Wrap(err, "config: read file")
		}
	} else {
		v.SetConfigName("estado")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/estado-transparente")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !eris.As(err, &notFound) {
				return Config{}, eris.Wrap(err, "config: read file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Viper only surfaces keys it has seen; a default per key keeps every
// env-only value visible to Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)

	v.SetDefault("raw.store", StoreFS)
	v.SetDefault("raw.fs_root", "data")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("api.bind", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)

	v.SetDefault("rate_limit_ms", 1000)
	v.SetDefault("fetch_timeout_s", 60)
	v.SetDefault("query_timeout_s", 30)
	v.SetDefault("presign_ttl_min", 15)
	v.SetDefault("headline_metric", "presupuesto_ley")
	v.SetDefault("entity_name_policy", NamePolicyFirstSeen)
	v.SetDefault("user_agent", "EstadoTransparente/1.0 (portal ciudadano independiente)")
	v.SetDefault("respect_robots", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.URL == "" {
		return eris.New("config: db.url (DB_URL) is required")
	}
	switch c.Raw.Store {
	case StoreFS:
		if c.Raw.FSRoot == "" {
			return eris.New("config: raw.fs_root (RAW_FS_ROOT) is required for the fs store")
		}
	case StoreMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return eris.New("config: minio.endpoint and minio.bucket are required for the minio store")
		}
		if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
			return eris.New("config: minio.access_key and minio.secret_key are required for the minio store")
		}
	case StoreMemory:
	default:
		return eris.Errorf("config: unknown raw.store %q (want fs, minio or memory)", c.Raw.Store)
	}
	if c.API.Bind == "" {
		return eris.New("config: api.bind must not be empty")
	}
	if c.RateLimitMS < 0 {
		return eris.New("config: rate_limit_ms must be >= 0")
	}
	if c.FetchTimeoutS <= 0 {
		return eris.New("config: fetch_timeout_s must be > 0")
	}
	if c.QueryTimeoutS <= 0 {
		return eris.New("config: query_timeout_s must be > 0")
	}
	if c.PresignTTLMin < 15 {
		return eris.New("config: presign_ttl_min must be >= 15")
	}
	if c.HeadlineMetric == "" {
		return eris.New("config: headline_metric must not be empty")
	}
	switch c.EntityNamePolicy {
	case NamePolicyFirstSeen, NamePolicyLatest:
	default:
		return eris.Errorf("config: unknown entity_name_policy %q (want first_seen or latest)", c.EntityNamePolicy)
	}
	return nil
}

// RateLimit is the minimum inter-request delay per source.
func (c Config) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMS) * time.Millisecond
}

// FetchTimeout bounds one artifact fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutS) * time.Second
}

// QueryTimeout is the per-request deadline on the query service.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutS) * time.Second
}

// PresignTTL is the validity window for evidence download URLs.
func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLMin) * time.Minute
}

// String renders the config for startup logging with secrets elided.
func (c Config) String() string {
	return fmt.Sprintf("store=%s bind=%s rate_limit=%s headline=%s name_policy=%s",
		c.Raw.Store, c.API.Bind, c.RateLimit(), c.HeadlineMetric, c.EntityNamePolicy)
}
