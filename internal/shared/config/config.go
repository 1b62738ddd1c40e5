package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig holds synthesis engine configuration.
type EngineConfig struct {
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// StorageConfig holds file and object storage configuration.
type StorageConfig struct {
	Root            string `mapstructure:"root"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	RemotePath      string `mapstructure:"remote_path"`
}

// TTSConfig holds task and worker configuration.
type TTSConfig struct {
	MaxOnlineTextLength int           `mapstructure:"max_online_text_length"`
	MaxLongTextLength   int           `mapstructure:"max_long_text_length"`
	QueueName           string        `mapstructure:"queue_name"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	PollBackoffMax      time.Duration `mapstructure:"poll_backoff_max"`
	LivenessThreshold   time.Duration `mapstructure:"liveness_threshold"`
	RecoveryInterval    time.Duration `mapstructure:"recovery_interval"`
	CallbackTimeout     time.Duration `mapstructure:"callback_timeout"`
	StatusCacheTTL      time.Duration `mapstructure:"status_cache_ttl"`
	VoiceCacheTTL       time.Duration `mapstructure:"voice_cache_ttl"`
	VoiceFile           string        `mapstructure:"voice_file"`
	RetentionPeriod     time.Duration `mapstructure:"retention_period"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/tts-server")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("TTS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if password := os.Getenv("TTS_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("TTS_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("TTS_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}
	if key := os.Getenv("TTS_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tts")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Engine defaults
	v.SetDefault("engine.url", "http://localhost:9880")
	v.SetDefault("engine.timeout", 5*time.Minute)
	v.SetDefault("engine.failure_threshold", 5)
	v.SetDefault("engine.breaker_timeout", 60*time.Second)

	// Storage defaults
	v.SetDefault("storage.root", "./storage")
	v.SetDefault("storage.remote_path", "tts_files")

	// TTS defaults
	v.SetDefault("tts.max_online_text_length", 300)
	v.SetDefault("tts.max_long_text_length", 50000)
	v.SetDefault("tts.queue_name", "long_text")
	v.SetDefault("tts.poll_interval", time.Second)
	v.SetDefault("tts.poll_backoff_max", 2*time.Second)
	v.SetDefault("tts.liveness_threshold", 30*time.Minute)
	v.SetDefault("tts.recovery_interval", time.Minute)
	v.SetDefault("tts.callback_timeout", 30*time.Second)
	v.SetDefault("tts.status_cache_ttl", 2*time.Hour)
	v.SetDefault("tts.voice_cache_ttl", time.Hour)
	v.SetDefault("tts.voice_file", "./configs/voices.json")
	v.SetDefault("tts.retention_period", 7*24*time.Hour)
	v.SetDefault("tts.cleanup_interval", time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
