// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package config handles application-wide settings for the query gateway.

Configuration is layered:

 1. A YAML file (optional) with `${ENV_VAR:-default}` expansion applied to
    the raw bytes before parsing.
 2. Environment variables with prefix `PG_MCP_` and `__` as the nesting
    separator, mapped by 'caarlos0/env' and overriding the file values.

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components via constructors.
  - Zero Hidden State: No global variables are used to store config.
  - Secrets: passwords and API keys are [secret.Secret] values and mask
    themselves in every serialization.

Database entries can only come from the YAML file; the scalar server,
model, and rate-limit settings accept environment overrides.
*/
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/querygate/querygate/internal/platform/secret"
	"github.com/querygate/querygate/pkg/pointer"
)

// envPrefix is the prefix shared by every environment override.
const envPrefix = "PG_MCP_"

// nameRe restricts database names to short opaque identifiers.
var nameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// patternRe restricts column deny patterns to name characters and globs.
var patternRe = regexp.MustCompile(`^[A-Za-z0-9_.\-*]+$`)

// # Configuration Schema

// Config holds all runtime configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"     envPrefix:"SERVER__"`
	OpenAI    OpenAIConfig    `yaml:"openai"     envPrefix:"OPENAI__"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT__"`
	Audit     AuditConfig     `yaml:"audit"      envPrefix:"AUDIT__"`

	// Databases lists the connection descriptors. File-only: there is no
	// sane environment encoding for a list of records.
	Databases []DatabaseConfig `yaml:"databases"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// ServerConfig groups the request-pipeline settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`
	MCPPath    string `yaml:"mcp_path"    env:"MCP_PATH"    envDefault:"/mcp"`

	// AuthBearer, when set, requires a matching bearer token on the MCP endpoint.
	AuthBearer secret.Secret `yaml:"auth_bearer" env:"AUTH_BEARER"`

	// CacheRefreshInterval is the schema snapshot staleness bound, in seconds.
	CacheRefreshInterval int `yaml:"cache_refresh_interval" env:"CACHE_REFRESH_INTERVAL" envDefault:"300"`

	// MaxResultRows caps returned rows and is the injected default LIMIT.
	MaxResultRows int `yaml:"max_result_rows" env:"MAX_RESULT_ROWS" envDefault:"1000"`

	// QueryTimeout, in seconds, becomes the per-statement statement_timeout.
	QueryTimeout int `yaml:"query_timeout" env:"QUERY_TIMEOUT" envDefault:"30"`

	// MaxSQLRetry bounds the model re-ask loop on syntax errors (0..5).
	MaxSQLRetry int `yaml:"max_sql_retry" env:"MAX_SQL_RETRY" envDefault:"2"`

	// UseReadonlyTransactions wraps execution in BEGIN READ ONLY. On by default.
	UseReadonlyTransactions *bool `yaml:"use_readonly_transactions" env:"USE_READONLY_TRANSACTIONS"`
}

// OpenAIConfig groups the language-model vendor settings.
type OpenAIConfig struct {
	APIKey     secret.Secret `yaml:"api_key"     env:"API_KEY"`
	Model      string        `yaml:"model"       env:"MODEL"       envDefault:"gpt-4o-mini"`
	BaseURL    string        `yaml:"base_url"    env:"BASE_URL"`
	Timeout    int           `yaml:"timeout"     env:"TIMEOUT"     envDefault:"30"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES" envDefault:"3"`
}

// RateLimitConfig groups the admission-control settings.
type RateLimitConfig struct {
	Enabled               bool `yaml:"enabled"                  env:"ENABLED" envDefault:"true"`
	RequestsPerMinute     int  `yaml:"requests_per_minute"      env:"REQUESTS_PER_MINUTE" envDefault:"60"`
	RequestsPerHour       int  `yaml:"requests_per_hour"        env:"REQUESTS_PER_HOUR" envDefault:"1000"`
	OpenAITokensPerMinute int  `yaml:"openai_tokens_per_minute" env:"OPENAI_TOKENS_PER_MINUTE" envDefault:"100000"`

	// IdleTimeout, in seconds, is how long a client may be inactive before
	// its buckets are reclaimed.
	IdleTimeout int `yaml:"idle_timeout" env:"IDLE_TIMEOUT" envDefault:"300"`
}

// AuditConfig groups the optional external audit sink settings.
type AuditConfig struct {
	// RedisURL, when set, enables the Redis stream sink.
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	// Stream is the Redis stream key audit events are appended to.
	Stream string `yaml:"stream" env:"STREAM" envDefault:"querygate:audit"`
	// QueueSize bounds the in-process audit queue per sink.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE" envDefault:"1024"`
}

// DatabaseConfig is one connection descriptor plus its access policy.
type DatabaseConfig struct {
	Name string `yaml:"name"`

	// Either URL or the discrete fields describe the connection.
	URL      string        `yaml:"url"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	DBName   string        `yaml:"dbname"`
	User     string        `yaml:"user"`
	Password secret.Secret `yaml:"password"`

	// SSLMode is one of disable, allow, prefer, require.
	SSLMode string `yaml:"ssl_mode"`

	MinPoolSize int `yaml:"min_pool_size"`
	MaxPoolSize int `yaml:"max_pool_size"`

	AccessPolicy AccessPolicyConfig `yaml:"access_policy"`
}

// AccessPolicyConfig mirrors the per-database policy model.
type AccessPolicyConfig struct {
	AllowedSchemas []string `yaml:"allowed_schemas"`

	Tables struct {
		Allowed []string `yaml:"allowed"`
		Denied  []string `yaml:"denied"`
	} `yaml:"tables"`

	Columns struct {
		DeniedPatterns []string `yaml:"denied_patterns"`
	} `yaml:"columns"`

	// SelectStarPolicy is one of allow, expand, deny.
	SelectStarPolicy string `yaml:"select_star_policy"`

	// OnDenied is reject or redact.
	OnDenied string `yaml:"on_denied"`

	ExplainPolicy ExplainPolicyConfig `yaml:"explain_policy"`
}

// ExplainPolicyConfig mirrors the cost-gate settings.
type ExplainPolicyConfig struct {
	Enabled                  *bool   `yaml:"enabled"`
	MaxEstimatedRows         int64   `yaml:"max_estimated_rows"`
	MaxEstimatedCost         float64 `yaml:"max_estimated_cost"`
	DenySeqScanOnLargeTables bool    `yaml:"deny_seq_scan_on_large_tables"`
	LargeTableThreshold      int64   `yaml:"large_table_threshold"`
	CacheTTLSeconds          int     `yaml:"cache_ttl_seconds"`
	CacheMaxSize             int     `yaml:"cache_max_size"`
	TimeoutSeconds           int     `yaml:"timeout_seconds"`
}

// # Configuration Loading

// Load builds the configuration from an optional YAML file and the process
// environment. path may be empty, in which case only the environment and
// defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// 1. YAML layer with ${VAR:-default} expansion
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// 2. Environment layer overrides the file
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envExpr matches ${VAR} and ${VAR:-default}.
var envExpr = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references with values
// from the process environment. Unset variables without a default expand to
// the empty string.
func ExpandEnv(s string) string {
	return envExpr.ReplaceAllStringFunc(s, func(match string) string {
		groups := envExpr.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[3]
	})
}

// applyDefaults fills in the values the env layer cannot default because
// they live inside the databases list or behind pointers.
func (c *Config) applyDefaults() {
	if c.Server.UseReadonlyTransactions == nil {
		c.Server.UseReadonlyTransactions = pointer.To(true)
	}

	for i := range c.Databases {
		db := &c.Databases[i]
		if db.SSLMode == "" {
			db.SSLMode = "prefer"
		}
		if db.Port == 0 {
			db.Port = 5432
		}
		if db.MinPoolSize == 0 {
			db.MinPoolSize = 1
		}
		if db.MaxPoolSize == 0 {
			db.MaxPoolSize = 10
		}
		if len(db.AccessPolicy.AllowedSchemas) == 0 {
			db.AccessPolicy.AllowedSchemas = []string{"public"}
		}
		if db.AccessPolicy.SelectStarPolicy == "" {
			db.AccessPolicy.SelectStarPolicy = "allow"
		}
		if db.AccessPolicy.OnDenied == "" {
			db.AccessPolicy.OnDenied = "reject"
		}

		ep := &db.AccessPolicy.ExplainPolicy
		if ep.Enabled == nil {
			ep.Enabled = pointer.To(true)
		}
		if ep.MaxEstimatedRows == 0 {
			ep.MaxEstimatedRows = 100000
		}
		if ep.MaxEstimatedCost == 0 {
			ep.MaxEstimatedCost = 1e6
		}
		if ep.LargeTableThreshold == 0 {
			ep.LargeTableThreshold = 1000000
		}
		if ep.CacheTTLSeconds == 0 {
			ep.CacheTTLSeconds = 300
		}
		if ep.CacheMaxSize == 0 {
			ep.CacheMaxSize = 512
		}
		if ep.TimeoutSeconds == 0 {
			ep.TimeoutSeconds = 10
		}
	}
}

// # Validation

var validSSLModes = map[string]bool{"disable": true, "allow": true, "prefer": true, "require": true}

// Validate checks the whole configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.MaxResultRows <= 0 {
		errs = append(errs, "server.max_result_rows must be positive")
	}
	if c.Server.QueryTimeout <= 0 {
		errs = append(errs, "server.query_timeout must be positive")
	}
	if c.Server.MaxSQLRetry < 0 || c.Server.MaxSQLRetry > 5 {
		errs = append(errs, "server.max_sql_retry must be in 0..5")
	}
	if c.OpenAI.Timeout <= 0 {
		errs = append(errs, "openai.timeout must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be positive")
		}
		if c.RateLimit.RequestsPerHour <= 0 {
			errs = append(errs, "rate_limit.requests_per_hour must be positive")
		}
		if c.RateLimit.OpenAITokensPerMinute <= 0 {
			errs = append(errs, "rate_limit.openai_tokens_per_minute must be positive")
		}
	}

	seen := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		prefix := fmt.Sprintf("databases[%s]", db.Name)

		if !nameRe.MatchString(db.Name) {
			errs = append(errs, fmt.Sprintf("%s: name must match [a-z0-9_-]+", prefix))
		}
		if seen[db.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate database name", prefix))
		}
		seen[db.Name] = true

		if db.URL == "" && (db.Host == "" || db.DBName == "" || db.User == "") {
			errs = append(errs, fmt.Sprintf("%s: either url or host/dbname/user is required", prefix))
		}
		if !validSSLModes[db.SSLMode] {
			errs = append(errs, fmt.Sprintf("%s: ssl_mode must be disable|allow|prefer|require", prefix))
		}
		if db.MinPoolSize < 1 || db.MinPoolSize > 20 {
			errs = append(errs, fmt.Sprintf("%s: min_pool_size must be in 1..20", prefix))
		}
		if db.MaxPoolSize < 1 || db.MaxPoolSize > 100 {
			errs = append(errs, fmt.Sprintf("%s: max_pool_size must be in 1..100", prefix))
		}
		if db.MinPoolSize > db.MaxPoolSize {
			errs = append(errs, fmt.Sprintf("%s: min_pool_size exceeds max_pool_size", prefix))
		}

		p := db.AccessPolicy
		switch p.SelectStarPolicy {
		case "allow", "expand", "deny":
		default:
			errs = append(errs, fmt.Sprintf("%s: select_star_policy must be allow|expand|deny", prefix))
		}
		switch p.OnDenied {
		case "reject", "redact":
		default:
			errs = append(errs, fmt.Sprintf("%s: on_denied must be reject|redact", prefix))
		}
		for _, pattern := range p.Columns.DeniedPatterns {
			if !patternRe.MatchString(pattern) {
				errs = append(errs, fmt.Sprintf("%s: invalid deny pattern %q", prefix, pattern))
			}
		}

		// A table in both lists is a contradiction; surface it at startup
		// instead of letting deny-wins mask the misconfiguration.
		allowed := make(map[string]bool, len(p.Tables.Allowed))
		for _, table := range p.Tables.Allowed {
			allowed[strings.ToLower(table)] = true
		}
		for _, table := range p.Tables.Denied {
			if allowed[strings.ToLower(table)] {
				errs = append(errs, fmt.Sprintf("%s: table %q is both allowed and denied", prefix, table))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// # Derived Values

// QueryTimeoutDuration returns server.query_timeout as a [time.Duration].
func (c *Config) QueryTimeoutDuration() time.Duration {
	return time.Duration(c.Server.QueryTimeout) * time.Second
}

// CacheRefreshDuration returns server.cache_refresh_interval as a [time.Duration].
func (c *Config) CacheRefreshDuration() time.Duration {
	return time.Duration(c.Server.CacheRefreshInterval) * time.Second
}

// DSN renders the connection descriptor as a libpq key/value string.
// The password is revealed here and nowhere else.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	parts := []string{
		"host=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"dbname=" + d.DBName,
		"user=" + d.User,
		"sslmode=" + d.SSLMode,
	}
	if !d.Password.IsZero() {
		parts = append(parts, "password="+d.Password.Reveal())
	}
	return strings.Join(parts, " ")
}
