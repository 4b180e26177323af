package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Admin     AdminConfig     `yaml:"admin"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Credits   CreditsConfig   `yaml:"credits"`
	Plans     PlansConfig     `yaml:"plans"`
	Keys      KeysConfig      `yaml:"keys"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// JWTConfig signs dashboard session tokens.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// AdminConfig holds the service-token secret for the admin API and the
// bootstrap administrator account.
type AdminConfig struct {
	TokenSecret string `yaml:"token_secret"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
}

type OpenAIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"` // assigned to newly created keys
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type CreditsConfig struct {
	DefaultFree int `yaml:"default_free"`
}

type PlansConfig struct {
	FreeDomainLimit int `yaml:"free_domain_limit"`
}

// KeysConfig controls whether a plaintext copy of the raw token is kept for
// dashboard display after creation or rotation.
type KeysConfig struct {
	RetainPlaintext bool `yaml:"retain_plaintext"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type JobsConfig struct {
	ReconcileCron         string `yaml:"reconcile_cron"`
	RetentionCron         string `yaml:"retention_cron"`
	ChatLogRetentionDays  int    `yaml:"chat_log_retention_days"`
	AuditLogRetentionDays int    `yaml:"audit_log_retention_days"`
}

// RedisConfig for the optional async chat-log queue and shared rate limits
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "monkbot.db",
		},
		JWT: JWTConfig{
			Secret:     "monkbot-session-secret-change-in-production",
			ExpireHour: 24 * 7,
		},
		Admin: AdminConfig{
			TokenSecret: "monkbot-admin-secret-change-in-production",
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Credits: CreditsConfig{DefaultFree: 50},
		Plans:   PlansConfig{FreeDomainLimit: 1},
		Keys:    KeysConfig{RetainPlaintext: true},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
		Jobs: JobsConfig{
			ReconcileCron:         "*/30 * * * *",
			RetentionCron:         "0 3 * * *",
			ChatLogRetentionDays:  90,
			AuditLogRetentionDays: 30,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	// ADMIN_SECRET is the older name of the same setting
	if secret := os.Getenv("ADMIN_SECRET"); secret != "" {
		c.Admin.TokenSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOKEN_SECRET"); secret != "" {
		c.Admin.TokenSecret = secret
	}
	if email := os.Getenv("ADMIN_EMAIL"); email != "" {
		c.Admin.Email = email
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		c.Admin.Password = password
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if credits := os.Getenv("DEFAULT_FREE_CREDITS"); credits != "" {
		if n, err := strconv.Atoi(credits); err == nil && n >= 0 {
			c.Credits.DefaultFree = n
		}
	}
	if retain := os.Getenv("KEYS_RETAIN_PLAINTEXT"); retain != "" {
		if b, err := strconv.ParseBool(retain); err == nil {
			c.Keys.RetainPlaintext = b
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
