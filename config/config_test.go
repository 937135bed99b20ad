package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, "mongo", cfg.Storage.Driver)
	assert.Equal(t, "conversa-chatapp", cfg.Mongo.Database)
	assert.Equal(t, 54*time.Second, cfg.WS.PingInterval)
	assert.Equal(t, 20, cfg.Bot.HistoryLimit)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GENERATIVE_API_KEY", "secret-key")
	t.Setenv("WS_PING_INTERVAL", "20s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "secret-key", cfg.Bot.APIKey)
	assert.Equal(t, 20*time.Second, cfg.WS.PingInterval)
}

func TestLoadRejectsDefaultSecretInProduction(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("MEDIA_DRIVER", "s3")
	_, err = Load()
	require.Error(t, err, "s3 without a bucket")
}

func TestLoadRejectsBadSocketLimits(t *testing.T) {
	cases := map[string]struct{ key, value string }{
		"negative send buffer": {"WS_SEND_BUFFER", "-1"},
		"empty send buffer":    {"WS_SEND_BUFFER", "0"},
		"zero burst":           {"WS_EVENT_BURST", "0"},
		"zero event rate":      {"WS_EVENTS_PER_SECOND", "0"},
		"negative event rate":  {"WS_EVENTS_PER_SECOND", "-5"},
		"zero message size":    {"WS_MAX_MESSAGE_BYTES", "0"},
		"zero auth rate":       {"HTTP_AUTH_REQUESTS_PER_MINUTE", "0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be")
		})
	}
}
