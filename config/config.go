package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWT            JWTConfig
	Storage        StorageConfig
	Mongo          MongoConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Media          MediaConfig
	Bot            BotConfig
	WS             WSConfig
	HTTP           HTTPConfig
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// StorageConfig selects the persistence backend. "memory" runs without
// Mongo or Redis and is meant for local development.
type StorageConfig struct {
	Driver string
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Channel  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MediaConfig struct {
	Driver         string
	Dir            string
	BaseURL        string
	Bucket         string
	Region         string
	PublicRead     bool
	MaxUploadBytes int64
	MaxImageWidth  int
}

type BotConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	HistoryLimit    int
}

type WSConfig struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
}

type HTTPConfig struct {
	AuthRequestsPerMinute int
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from the environment, an optional file named by
// CONFIG_FILE and a .env file in the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The chatbot key keeps the name the web client deployment already uses.
	_ = v.BindEnv("bot.api_key", "GENERATIVE_API_KEY", "BOT_API_KEY")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			TTL:    v.GetDuration("jwt.ttl"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Media: MediaConfig{
			Driver:         v.GetString("media.driver"),
			Dir:            v.GetString("media.dir"),
			BaseURL:        strings.TrimRight(v.GetString("media.base_url"), "/"),
			Bucket:         v.GetString("media.bucket"),
			Region:         v.GetString("media.region"),
			PublicRead:     v.GetBool("media.public_read"),
			MaxUploadBytes: v.GetInt64("media.max_upload_bytes"),
			MaxImageWidth:  v.GetInt("media.max_image_width"),
		},
		Bot: BotConfig{
			APIKey:          v.GetString("bot.api_key"),
			Model:           v.GetString("bot.model"),
			MaxOutputTokens: v.GetInt("bot.max_output_tokens"),
			HistoryLimit:    v.GetInt("bot.history_limit"),
		},
		WS: WSConfig{
			PingInterval:    v.GetDuration("ws.ping_interval"),
			PongWait:        v.GetDuration("ws.pong_wait"),
			WriteWait:       v.GetDuration("ws.write_wait"),
			MaxMessageBytes: v.GetInt64("ws.max_message_bytes"),
			SendBuffer:      v.GetInt("ws.send_buffer"),
			EventsPerSecond: v.GetFloat64("ws.events_per_second"),
			EventBurst:      v.GetInt("ws.event_burst"),
		},
		HTTP: HTTPConfig{
			AuthRequestsPerMinute: v.GetInt("http.auth_requests_per_minute"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.ttl", "168h")
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "conversa-chatapp")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "conversa:events")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "conversa.chat-events")
	v.SetDefault("media.driver", "local")
	v.SetDefault("media.dir", "./uploads")
	v.SetDefault("media.base_url", "http://localhost:8080/uploads")
	v.SetDefault("media.bucket", "")
	v.SetDefault("media.region", "us-east-1")
	v.SetDefault("media.public_read", true)
	v.SetDefault("media.max_upload_bytes", 10<<20)
	v.SetDefault("media.max_image_width", 1600)
	v.SetDefault("bot.api_key", "")
	v.SetDefault("bot.model", "gemini-1.5-flash")
	v.SetDefault("bot.max_output_tokens", 2000)
	v.SetDefault("bot.history_limit", 20)
	v.SetDefault("ws.ping_interval", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.max_message_bytes", 1<<20)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.events_per_second", 20)
	v.SetDefault("ws.event_burst", 40)
	v.SetDefault("http.auth_requests_per_minute", 30)
}

func (c *Config) validate() error {
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	switch c.Storage.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Media.Driver {
	case "local":
	case "s3":
		if c.Media.Bucket == "" {
			return errors.New("MEDIA_BUCKET is required for the s3 media driver")
		}
	default:
		return fmt.Errorf("unknown media driver %q", c.Media.Driver)
	}
	if c.WS.PingInterval >= c.WS.PongWait {
		return errors.New("ws.ping_interval must be shorter than ws.pong_wait")
	}
	if c.WS.SendBuffer < 1 {
		return fmt.Errorf("ws.send_buffer must be positive, got %d", c.WS.SendBuffer)
	}
	if c.WS.MaxMessageBytes < 1 {
		return fmt.Errorf("ws.max_message_bytes must be positive, got %d", c.WS.MaxMessageBytes)
	}
	if c.WS.EventsPerSecond <= 0 {
		return fmt.Errorf("ws.events_per_second must be positive, got %v", c.WS.EventsPerSecond)
	}
	if c.WS.EventBurst < 1 {
		return fmt.Errorf("ws.event_burst must be at least 1, got %d", c.WS.EventBurst)
	}
	if c.HTTP.AuthRequestsPerMinute < 1 {
		return fmt.Errorf("http.auth_requests_per_minute must be positive, got %d", c.HTTP.AuthRequestsPerMinute)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
