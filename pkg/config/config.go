package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MemoryConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	BadgerPath    string `yaml:"badger_path"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
}

// Config is the process configuration. Values come from defaults, then the
// optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	Port           string         `yaml:"port"`
	AllowedOrigins string         `yaml:"allowed_origins"`
	RateLimitRPS   float64        `yaml:"rate_limit_rps"`
	RateLimitBurst int            `yaml:"rate_limit_burst"`
	Database       DatabaseConfig `yaml:"database"`
	MigrateOnStart bool           `yaml:"migrate_on_start"`
	RabbitMQ       RabbitMQConfig `yaml:"rabbitmq"`
	Log            LogConfig      `yaml:"log"`

	RPCEndpoint    string `yaml:"rpc_endpoint"`
	JupiterBaseURL string `yaml:"jupiter_base_url"`
	JupiterAPIKey  string `yaml:"jupiter_api_key"`
	LLMBaseURL     string `yaml:"llm_base_url"`
	LLMAPIKey      string `yaml:"llm_api_key"`
	LLMModel       string `yaml:"llm_model"`

	SignerBackend    string `yaml:"signer_backend"`
	PrivyAppID       string `yaml:"privy_app_id"`
	PrivyAppSecret   string `yaml:"privy_app_secret"`
	PrivyBaseURL     string `yaml:"privy_api_base_url"`
	KeystoreDir      string `yaml:"keystore_dir"`
	KeystorePassword string `yaml:"keystore_password"`

	Memory    MemoryConfig `yaml:"memory"`
	RunLogDir string       `yaml:"run_log_dir"`

	TickInterval       time.Duration `yaml:"tick_interval"`
	MaxTickRuntime     time.Duration `yaml:"max_tick_runtime"`
	LoopEnabledDefault bool          `yaml:"loop_enabled_default"`
	SweepSpec          string        `yaml:"sweep_spec"`

	Notify NotifyConfig `yaml:"notify"`
}

func Default() Config {
	return Config{
		Port:           "8080",
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		Database:       DatabaseConfig{Host: "localhost", Port: "5432"},
		RabbitMQ:       RabbitMQConfig{Port: "5672"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		RPCEndpoint:    "https://api.mainnet-beta.solana.com",
		SignerBackend:  "privy",
		KeystoreDir:    "keystore",
		Memory:         MemoryConfig{Backend: "redis", RedisAddr: "localhost:6379", BadgerPath: "data/memory"},
		RunLogDir:      "runlogs",
		TickInterval:   60 * time.Second,
		MaxTickRuntime: 120 * time.Second,
		SweepSpec:      "0 * * * * *",
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set)
// and then applies environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("failed to read .env")
	}
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = EnvOrDefault("PORT", cfg.Port)
	cfg.AllowedOrigins = EnvOrDefault("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.RateLimitRPS = FloatFromEnv("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = IntFromEnv("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.Database.Host = EnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.User = EnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = EnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = EnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.Port = EnvOrDefault("DB_PORT", cfg.Database.Port)
	cfg.MigrateOnStart = BoolFromEnv("MIGRATE_ON_START", cfg.MigrateOnStart)

	cfg.RabbitMQ.Host = EnvOrDefault("RABBITMQ_HOST", cfg.RabbitMQ.Host)
	cfg.RabbitMQ.Port = EnvOrDefault("RABBITMQ_PORT", cfg.RabbitMQ.Port)
	cfg.RabbitMQ.User = EnvOrDefault("RABBITMQ_USER", cfg.RabbitMQ.User)
	cfg.RabbitMQ.Password = EnvOrDefault("RABBITMQ_PASSWORD", cfg.RabbitMQ.Password)

	cfg.Log.Level = EnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = EnvOrDefault("LOG_FILE", cfg.Log.File)

	cfg.RPCEndpoint = EnvOrDefault("RPC_ENDPOINT", cfg.RPCEndpoint)
	cfg.JupiterBaseURL = EnvOrDefault("JUPITER_BASE_URL", cfg.JupiterBaseURL)
	cfg.JupiterAPIKey = EnvOrDefault("JUPITER_API_KEY", cfg.JupiterAPIKey)
	cfg.LLMBaseURL = EnvOrDefault("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = EnvOrDefault("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = EnvOrDefault("LLM_MODEL", cfg.LLMModel)

	cfg.SignerBackend = strings.ToLower(EnvOrDefault("SIGNER_BACKEND", cfg.SignerBackend))
	cfg.PrivyAppID = EnvOrDefault("PRIVY_APP_ID", cfg.PrivyAppID)
	cfg.PrivyAppSecret = EnvOrDefault("PRIVY_APP_SECRET", cfg.PrivyAppSecret)
	cfg.PrivyBaseURL = EnvOrDefault("PRIVY_API_BASE_URL", cfg.PrivyBaseURL)
	cfg.KeystoreDir = EnvOrDefault("KEYSTORE_DIR", cfg.KeystoreDir)
	cfg.KeystorePassword = EnvOrDefault("KEYSTORE_PASSWORD", cfg.KeystorePassword)

	cfg.Memory.Backend = strings.ToLower(EnvOrDefault("MEMORY_BACKEND", cfg.Memory.Backend))
	cfg.Memory.RedisAddr = EnvOrDefault("REDIS_ADDR", cfg.Memory.RedisAddr)
	cfg.Memory.RedisPassword = EnvOrDefault("REDIS_PASSWORD", cfg.Memory.RedisPassword)
	cfg.Memory.RedisDB = IntFromEnv("REDIS_DB", cfg.Memory.RedisDB)
	cfg.Memory.BadgerPath = EnvOrDefault("BADGER_PATH", cfg.Memory.BadgerPath)
	cfg.RunLogDir = EnvOrDefault("RUN_LOG_DIR", cfg.RunLogDir)

	cfg.TickInterval = DurationFromEnv("TICK_INTERVAL", cfg.TickInterval)
	cfg.MaxTickRuntime = DurationFromEnv("MAX_TICK_RUNTIME", cfg.MaxTickRuntime)
	cfg.LoopEnabledDefault = BoolFromEnv("LOOP_ENABLED_DEFAULT", cfg.LoopEnabledDefault)
	cfg.SweepSpec = EnvOrDefault("SWEEP_SPEC", cfg.SweepSpec)

	cfg.Notify.TelegramToken = EnvOrDefault("TELEGRAM_TOKEN", cfg.Notify.TelegramToken)
	cfg.Notify.TelegramChatID = int64(IntFromEnv("TELEGRAM_CHAT_ID", int(cfg.Notify.TelegramChatID)))
	cfg.Notify.SlackToken = EnvOrDefault("SLACK_TOKEN", cfg.Notify.SlackToken)
	cfg.Notify.SlackChannel = EnvOrDefault("SLACK_CHANNEL", cfg.Notify.SlackChannel)
}

func EnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// IntFromEnv returns fallback when key is unset or not an integer.
func IntFromEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).Warnf("ignoring non-integer value %q", v)
		return fallback
	}
	return n
}

func FloatFromEnv(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithField("key", key).Warnf("ignoring non-numeric value %q", v)
		return fallback
	}
	return f
}

func BoolFromEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", key).Warnf("ignoring non-boolean value %q", v)
		return fallback
	}
	return b
}

// DurationFromEnv accepts Go durations ("90s") or a bare number of seconds.
func DurationFromEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.WithField("key", key).Warnf("ignoring invalid duration %q", v)
	return fallback
}
