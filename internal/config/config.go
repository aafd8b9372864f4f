package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	ChannelBase string
	JWTSecret   string
	CORSOrigins string

	JudgeURL     string
	JudgeAPIKey  string
	JudgeTimeout time.Duration

	PollPendingInterval  time.Duration
	PollJudgingInterval  time.Duration
	PollTimeout          time.Duration
	PollTransportRetries int

	WorkerCount        int
	WorkerQueueSize    int
	WorkerRetries      int
	WorkerRetryBackoff time.Duration

	RecapCacheTTL time.Duration
	RecapTimeout  time.Duration
	// PenalizeMissing divides grades by every problem/assignment instead of attempted ones.
	PenalizeMissing bool

	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PRAKTIKUM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Praktikum API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "gema:praktikum")
	v.SetDefault("judge.timeout", "30s")
	v.SetDefault("poll.pending_interval", "1s")
	v.SetDefault("poll.judging_interval", "2s")
	v.SetDefault("poll.timeout", "5m")
	v.SetDefault("poll.transport_retries", 3)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.retries", 2)
	v.SetDefault("worker.retry_backoff", "500ms")
	v.SetDefault("recap.cache_ttl", "5m")
	v.SetDefault("recap.timeout", "10s")
	v.SetDefault("recap.penalize_missing", true)
	v.SetDefault("submit.rate_limit", 10)
	v.SetDefault("submit.rate_window", "1m")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		ChannelBase:          v.GetString("channel.base"),
		JWTSecret:            v.GetString("jwt.secret"),
		CORSOrigins:          v.GetString("cors.origins"),
		JudgeURL:             strings.TrimRight(v.GetString("judge.url"), "/"),
		JudgeAPIKey:          v.GetString("judge.api_key"),
		PollTransportRetries: v.GetInt("poll.transport_retries"),
		WorkerCount:          v.GetInt("worker.count"),
		WorkerQueueSize:      v.GetInt("worker.queue_size"),
		WorkerRetries:        v.GetInt("worker.retries"),
		PenalizeMissing:      v.GetBool("recap.penalize_missing"),
		SubmitRateLimit:      v.GetInt("submit.rate_limit"),
	}
	durations["judge.timeout"] = &cfg.JudgeTimeout
	durations["poll.pending_interval"] = &cfg.PollPendingInterval
	durations["poll.judging_interval"] = &cfg.PollJudgingInterval
	durations["poll.timeout"] = &cfg.PollTimeout
	durations["worker.retry_backoff"] = &cfg.WorkerRetryBackoff
	durations["recap.cache_ttl"] = &cfg.RecapCacheTTL
	durations["recap.timeout"] = &cfg.RecapTimeout
	durations["submit.rate_window"] = &cfg.SubmitRateWindow

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.PollTransportRetries < 0 {
		cfg.PollTransportRetries = 0
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}

	return cfg, nil
}
