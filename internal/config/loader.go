package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedPath string `mapstructure:"seed_path"`
}

type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
	// REST broadcast limit per caller, counted in Redis across instances.
	RateLimit         int `mapstructure:"rate_limit"`
	RateWindowSeconds int `mapstructure:"rate_window_seconds"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	TopicEvents    string   `mapstructure:"topic_events"`
	TopicBroadcast string   `mapstructure:"topic_broadcast"`
	GroupID        string   `mapstructure:"group_id"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	RateLimitPerSec      int   `mapstructure:"rate_limit_per_sec"`
	RateBurst            int   `mapstructure:"rate_burst"`
}

type RealtimeConfig struct {
	HistoryLimit     int      `mapstructure:"history_limit"`
	Palette          []string `mapstructure:"palette"`
	MaxMessageLength int      `mapstructure:"max_message_length"`
	MaxDocumentBytes int      `mapstructure:"max_document_bytes"`
}

type EnrichmentConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	SentimentURL    string   `mapstructure:"sentiment_url"`
	TranslateURL    string   `mapstructure:"translate_url"`
	Languages       []string `mapstructure:"languages"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	MaxRetrySeconds int      `mapstructure:"max_retry_seconds"`
}

type MediaConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Region            string `mapstructure:"region"`
	Bucket            string `mapstructure:"bucket"`
	Endpoint          string `mapstructure:"endpoint"`
	PublicRead        bool   `mapstructure:"public_read"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
	MaxUploadBytes    int64  `mapstructure:"max_upload_bytes"`
}

type DiscoveryConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	ConsulAddr           string   `mapstructure:"consul_addr"`
	ServiceID            string   `mapstructure:"service_id"`
	Address              string   `mapstructure:"address"`
	Tags                 []string `mapstructure:"tags"`
	CheckIntervalSeconds int      `mapstructure:"check_interval_seconds"`
}

type JobsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Mongo      MongoConfig      `mapstructure:"mongodb"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	WS         WSConfig         `mapstructure:"ws"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Media      MediaConfig      `mapstructure:"media"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Jobs       JobsConfig       `mapstructure:"jobs"`

	// derived/timeouts
	PingInterval  time.Duration `mapstructure:"-"`
	WriteDeadline time.Duration `mapstructure:"-"`
	MongoTimeout  time.Duration `mapstructure:"-"`
	PresenceTTL   time.Duration `mapstructure:"-"`
	PresignTTL    time.Duration `mapstructure:"-"`
}

func (c *Config) Development() bool { return c.App.Env == "development" }

// DefaultPalette is the collaborator color set handed out on document join.
var DefaultPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.name", "realtime-service")
	v.SetDefault("app.port", 8086)
	v.SetDefault("log.level", "info")
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("storage.seed_path", "")
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "realtime")
	v.SetDefault("mongodb.timeout_seconds", 5)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "rt")
	v.SetDefault("redis.presence_ttl_seconds", 3600)
	v.SetDefault("redis.rate_limit", 120)
	v.SetDefault("redis.rate_window_seconds", 60)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_events", "realtime.events")
	v.SetDefault("kafka.topic_broadcast", "realtime.broadcast")
	v.SetDefault("kafka.group_id", "realtime-service")
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_limit_per_sec", 20)
	v.SetDefault("ws.rate_burst", 40)
	v.SetDefault("realtime.history_limit", 50)
	v.SetDefault("realtime.palette", DefaultPalette)
	v.SetDefault("realtime.max_message_length", 4000)
	v.SetDefault("realtime.max_document_bytes", 1<<20)
	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.sentiment_url", "")
	v.SetDefault("enrichment.translate_url", "")
	v.SetDefault("enrichment.languages", []string{})
	v.SetDefault("enrichment.timeout_seconds", 5)
	v.SetDefault("enrichment.max_retry_seconds", 15)
	v.SetDefault("media.enabled", false)
	v.SetDefault("media.region", "us-east-1")
	v.SetDefault("media.bucket", "")
	v.SetDefault("media.endpoint", "")
	v.SetDefault("media.public_read", false)
	v.SetDefault("media.presign_ttl_seconds", 86400)
	v.SetDefault("media.max_upload_bytes", 10<<20)
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.consul_addr", "localhost:8500")
	v.SetDefault("discovery.service_id", "")
	v.SetDefault("discovery.address", "localhost")
	v.SetDefault("discovery.tags", []string{"realtime", "ws"})
	v.SetDefault("discovery.check_interval_seconds", 10)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 1024)
}

// Load reads path (optional; a missing file means defaults plus env) and applies
// REALTIME_* environment overrides, e.g. REALTIME_MONGODB_URI.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.MongoTimeout = time.Duration(c.Mongo.TimeoutSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.PresignTTL = time.Duration(c.Media.PresignTTLSeconds) * time.Second
	if len(c.Realtime.Palette) == 0 {
		c.Realtime.Palette = DefaultPalette
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", c.App.Port)
	}
	switch strings.ToUpper(c.JWT.Algorithm) {
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.algorithm (use RS256 or HS256)")
	}
	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongodb.uri and mongodb.database required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage.driver: %q", c.Storage.Driver)
	}
	if c.Redis.Enabled && !strings.Contains(c.Redis.Addr, ":") {
		return fmt.Errorf("invalid redis.addr: %s (must be host:port)", c.Redis.Addr)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	if c.Enrichment.Enabled && c.Enrichment.SentimentURL == "" && c.Enrichment.TranslateURL == "" {
		return errors.New("enrichment enabled without sentiment_url or translate_url")
	}
	if c.Media.Enabled && c.Media.Bucket == "" {
		return errors.New("media.bucket required when media is enabled")
	}
	if c.Discovery.Enabled && c.Discovery.Address == "" {
		return errors.New("discovery.address required when discovery is enabled")
	}
	if c.Realtime.HistoryLimit <= 0 {
		return errors.New("realtime.history_limit must be positive")
	}
	if c.WS.SendBuffer <= 0 || c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 {
		return errors.New("ws.send_buffer, jobs.workers and jobs.queue_size must be positive")
	}
	return nil
}
