// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Notion    NotionConfig    `mapstructure:"notion"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	PublicOrigin          string `mapstructure:"public_origin"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// NotionConfig configures the remote content API client.
type NotionConfig struct {
	Token             string `mapstructure:"token"`
	Version           string `mapstructure:"version"`
	BaseURL           string `mapstructure:"base_url"`
	CategoriesDBID    string `mapstructure:"categories_db_id"`
	ArticlesDBID      string `mapstructure:"articles_db_id"`
	PageSize          int    `mapstructure:"page_size"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	BackoffStepMs     int    `mapstructure:"backoff_step_ms"`
	BlockFetchPauseMs int    `mapstructure:"block_fetch_pause_ms"`
}

// CacheConfig controls the in-process payload cache and its disk copy.
type CacheConfig struct {
	TTLMs       int    `mapstructure:"ttl_ms"`
	DiskEnabled bool   `mapstructure:"disk_enabled"`
	Dir         string `mapstructure:"dir"`
	File        string `mapstructure:"file"`
}

// SnapshotConfig selects where draft and published snapshots are kept.
type SnapshotConfig struct {
	LocalFile string         `mapstructure:"local_file"`
	Backend   string         `mapstructure:"backend"`
	KeyPrefix string         `mapstructure:"key_prefix"`
	Redis     RedisConfig    `mapstructure:"redis"`
	GCS       GCSConfig      `mapstructure:"gcs"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig locates the Redis-compatible snapshot backend.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// GCSConfig locates the object storage snapshot backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig locates the relational snapshot backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// AdminConfig holds the admin credential and session cookie settings.
type AdminConfig struct {
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	PasswordHash  string `mapstructure:"password_hash"`
	SessionSecret string `mapstructure:"session_secret"`
	CookieName    string `mapstructure:"cookie_name"`
	SessionHours  int    `mapstructure:"session_hours"`
	SecureCookie  bool   `mapstructure:"secure_cookie"`
}

// RateLimitConfig bounds public content requests per client.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// PubSubConfig holds metadata for publish notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Snapshot backends.
const (
	BackendNone     = "none"
	BackendRedis    = "redis"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// envAliases maps config keys to the unprefixed environment names deployments already use.
var envAliases = map[string][]string{
	"server.port":             {"PORT"},
	"server.public_origin":    {"PUBLIC_ORIGIN"},
	"notion.token":            {"NOTION_TOKEN"},
	"notion.version":          {"NOTION_VERSION"},
	"notion.categories_db_id": {"NOTION_CATEGORIES_DB_ID"},
	"notion.articles_db_id":   {"NOTION_ARTICLES_DB_ID"},
	"cache.ttl_ms":            {"CACHE_TTL_MS"},
	"snapshot.redis.url":      {"KV_URL", "REDIS_URL"},
	"admin.user":              {"ADMIN_USER"},
	"admin.password":          {"ADMIN_PASSWORD"},
	"admin.password_hash":     {"ADMIN_PASSWORD_HASH"},
	"admin.session_secret":    {"ADMIN_SESSION_SECRET"},
	"pubsub.project_id":       {"GOOGLE_CLOUD_PROJECT"},
}

const envPrefix = "MIRROR"

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Snapshot.Backend = strings.ToLower(strings.TrimSpace(cfg.Snapshot.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindAliases binds each key to its prefixed name first, then the bare aliases.
func bindAliases(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	for key, names := range envAliases {
		prefixed := envPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.public_origin", "*")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.page_size", 100)
	v.SetDefault("notion.timeout_seconds", 20)
	v.SetDefault("notion.max_retries", 3)
	v.SetDefault("notion.backoff_step_ms", 1000)
	v.SetDefault("notion.block_fetch_pause_ms", 100)
	v.SetDefault("cache.ttl_ms", 30000)
	v.SetDefault("cache.disk_enabled", true)
	v.SetDefault("cache.dir", ".")
	v.SetDefault("cache.file", ".notion-cache.json")
	v.SetDefault("snapshot.local_file", ".snapshot-store.json")
	v.SetDefault("snapshot.backend", BackendNone)
	v.SetDefault("snapshot.key_prefix", "inblog")
	v.SetDefault("snapshot.gcs.prefix", "snapshots")
	v.SetDefault("snapshot.postgres.table", "content_snapshots")
	v.SetDefault("snapshot.postgres.max_conns", 4)
	v.SetDefault("admin.cookie_name", "devtrend_admin_session")
	v.SetDefault("admin.session_hours", 12)
	v.SetDefault("admin.secure_cookie", true)
	v.SetDefault("ratelimit.requests_per_minute", 120)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Missing remote
// credentials are not an error here; see MissingNotion.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Notion.PageSize <= 0 || c.Notion.PageSize > 100 {
		return fmt.Errorf("notion.page_size must be between 1 and 100")
	}
	if c.Notion.TimeoutSeconds <= 0 {
		return fmt.Errorf("notion.timeout_seconds must be > 0")
	}
	if c.Notion.MaxRetries < 0 {
		return fmt.Errorf("notion.max_retries must be >= 0")
	}
	if c.Cache.TTLMs <= 0 {
		return fmt.Errorf("cache.ttl_ms must be > 0")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must be > 0")
	}
	if c.Admin.SessionHours <= 0 {
		return fmt.Errorf("admin.session_hours must be > 0")
	}
	switch c.Snapshot.Backend {
	case "", BackendNone:
	case BackendRedis:
		if c.Snapshot.Redis.URL == "" {
			return fmt.Errorf("snapshot.redis.url must be set when snapshot.backend is redis")
		}
	case BackendGCS:
		if c.Snapshot.GCS.Bucket == "" {
			return fmt.Errorf("snapshot.gcs.bucket must be set when snapshot.backend is gcs")
		}
	case BackendPostgres:
		if c.Snapshot.Postgres.DSN == "" {
			return fmt.Errorf("snapshot.postgres.dsn must be set when snapshot.backend is postgres")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not one of none, redis, gcs, postgres", c.Snapshot.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// MissingNotion lists the environment names of absent remote settings.
func (c Config) MissingNotion() []string {
	var missing []string
	if c.Notion.Token == "" {
		missing = append(missing, "NOTION_TOKEN")
	}
	if c.Notion.CategoriesDBID == "" {
		missing = append(missing, "NOTION_CATEGORIES_DB_ID")
	}
	if c.Notion.ArticlesDBID == "" {
		missing = append(missing, "NOTION_ARTICLES_DB_ID")
	}
	return missing
}

// CacheTTL returns the cache freshness window.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}

// NotionTimeout returns the per-request remote API timeout.
func (c Config) NotionTimeout() time.Duration {
	return time.Duration(c.Notion.TimeoutSeconds) * time.Second
}

// BackoffStep returns the linear retry backoff step.
func (c Config) BackoffStep() time.Duration {
	return time.Duration(c.Notion.BackoffStepMs) * time.Millisecond
}

// BlockFetchPause returns the pause between per-page block fetches.
func (c Config) BlockFetchPause() time.Duration {
	return time.Duration(c.Notion.BlockFetchPauseMs) * time.Millisecond
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// SessionTTL returns the admin session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Admin.SessionHours) * time.Hour
}
