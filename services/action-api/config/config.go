package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the action-api service.
type Config struct {
	LogLevel    string
	HTTPPort    string
	MetricsAddr string

	MaxConcurrent    int
	Retention        time.Duration
	CleanupSchedule  string
	RetryPreset      string
	OperationTimeout time.Duration

	RedisAddr  string
	RateLimit  int
	RateWindow time.Duration

	KafkaBrokers string
	EventsTopic  string

	PlaceholderURL string
	FailureRate    float64

	OTelEndpoint string
}

// Brokers splits KafkaBrokers; empty means event publishing is off.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		HTTPPort:         v.GetString("http_port"),
		MetricsAddr:      v.GetString("metrics_addr"),
		MaxConcurrent:    v.GetInt("max_concurrent"),
		Retention:        v.GetDuration("retention"),
		CleanupSchedule:  v.GetString("cleanup_schedule"),
		RetryPreset:      v.GetString("retry_preset"),
		OperationTimeout: v.GetDuration("operation_timeout"),
		RedisAddr:        v.GetString("redis_addr"),
		RateLimit:        v.GetInt("rate_limit"),
		RateWindow:       v.GetDuration("rate_window"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		EventsTopic:      v.GetString("events_topic"),
		PlaceholderURL:   v.GetString("placeholder_url"),
		FailureRate:      v.GetFloat64("failure_rate"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
	}
}
