package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the security engine and its transports.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`

	JWTSecret       string `yaml:"jwt_secret"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	StoreTimeout time.Duration `yaml:"store_timeout"`

	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Agent     AgentConfig     `yaml:"agent"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Admission AdmissionConfig `yaml:"admission"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Status    StatusConfig    `yaml:"status"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Attempts int    `yaml:"attempts"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Service string `yaml:"service"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RuleConfig is one threshold rule. A count strictly greater than
// Threshold inside the window triggers the block.
type RuleConfig struct {
	Threshold     int      `yaml:"threshold"`
	BlockMinutes  int      `yaml:"block_minutes"`
	Whitelist     []string `yaml:"whitelist"`
	ReactionEvent bool     `yaml:"reaction_event"`
}

type AnalyzerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Window     time.Duration `yaml:"window"`
	BruteForce RuleConfig    `yaml:"brute_force"`
	Scanning   RuleConfig    `yaml:"scanning"`
}

type AgentConfig struct {
	Interval           time.Duration `yaml:"interval"`
	TriggerProbability float64       `yaml:"trigger_probability"`
	AnalyzeDelay       time.Duration `yaml:"analyze_delay"`
	PatchDelay         time.Duration `yaml:"patch_delay"`
	ResolveDelay       time.Duration `yaml:"resolve_delay"`
}

type IngestionConfig struct {
	LargePayloadBytes int64 `yaml:"large_payload_bytes"`
	MaxPayloadSample  int   `yaml:"max_payload_sample"`
}

type AdmissionConfig struct {
	// LockdownAllowPrefixes stay reachable while the emergency lockdown is on.
	LockdownAllowPrefixes []string      `yaml:"lockdown_allow_prefixes"`
	CacheSize             int           `yaml:"cache_size"`
	CacheFreshness        time.Duration `yaml:"cache_freshness"`
	// TrustedProxies are CIDRs or addresses whose forwarding headers are
	// believed. Empty means the socket peer is always the client.
	TrustedProxies        []string      `yaml:"trusted_proxies"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type StatusConfig struct {
	PageSize        int `yaml:"page_size"`
	CriticalPenalty int `yaml:"critical_penalty"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Database: DatabaseConfig{
			Driver:   "postgres",
			DSN:      "host=localhost user=marketguard password=marketguard dbname=marketguard sslmode=disable",
			Attempts: 10,
		},
		NATS:         NATSConfig{Service: "marketguard"},
		Log:          LogConfig{Level: "info", Format: "json"},
		StoreTimeout: 2 * time.Second,
		Analyzer: AnalyzerConfig{
			Interval: 60 * time.Second,
			Window:   5 * time.Minute,
			BruteForce: RuleConfig{
				Threshold:     10,
				BlockMinutes:  60,
				Whitelist:     []string{"127.0.0.1", "::1", "::ffff:127.0.0.1"},
				ReactionEvent: true,
			},
			Scanning: RuleConfig{
				Threshold:    20,
				BlockMinutes: 1440,
			},
		},
		Agent: AgentConfig{
			Interval:           30 * time.Second,
			TriggerProbability: 0.4,
			AnalyzeDelay:       4 * time.Second,
			PatchDelay:         5 * time.Second,
			ResolveDelay:       3 * time.Second,
		},
		Ingestion: IngestionConfig{
			LargePayloadBytes: 1_000_000,
			MaxPayloadSample:  512,
		},
		Admission: AdmissionConfig{
			LockdownAllowPrefixes: []string{"/v1/security", "/healthz", "/metrics"},
			CacheSize:             4096,
			CacheFreshness:        5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 120,
			Window:   time.Minute,
		},
		Status: StatusConfig{
			PageSize:        50,
			CriticalPenalty: 5,
		},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", c.SlackWebhookURL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Agent.TriggerProbability = getEnvFloat("AGENT_TRIGGER_PROBABILITY", c.Agent.TriggerProbability)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.Admission.TrustedProxies = strings.Split(v, ",")
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store_timeout must be positive"))
	}
	if c.Analyzer.Interval <= 0 || c.Analyzer.Window <= 0 {
		errs = append(errs, errors.New("analyzer interval and window must be positive"))
	}
	for name, rule := range map[string]RuleConfig{"brute_force": c.Analyzer.BruteForce, "scanning": c.Analyzer.Scanning} {
		if rule.Threshold < 0 {
			errs = append(errs, fmt.Errorf("analyzer.%s.threshold must not be negative", name))
		}
		if rule.BlockMinutes <= 0 {
			errs = append(errs, fmt.Errorf("analyzer.%s.block_minutes must be positive", name))
		}
	}
	if c.Agent.Interval <= 0 {
		errs = append(errs, errors.New("agent interval must be positive"))
	}
	if c.Agent.TriggerProbability < 0 || c.Agent.TriggerProbability > 1 {
		errs = append(errs, errors.New("agent trigger_probability must be within [0,1]"))
	}
	if c.Agent.AnalyzeDelay < 0 || c.Agent.PatchDelay < 0 || c.Agent.ResolveDelay < 0 {
		errs = append(errs, errors.New("agent delays must not be negative"))
	}
	if c.Ingestion.LargePayloadBytes <= 0 {
		errs = append(errs, errors.New("ingestion.large_payload_bytes must be positive"))
	}
	if c.Status.PageSize <= 0 {
		errs = append(errs, errors.New("status.page_size must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit requests and window must be positive when enabled"))
	}
	for _, p := range c.Admission.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			errs = append(errs, fmt.Errorf("admission.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}
	return errors.Join(errs...)
}

func validProxy(p string) bool {
	if _, _, err := net.ParseCIDR(p); err == nil {
		return true
	}
	return net.ParseIP(p) != nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
