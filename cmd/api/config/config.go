package config

import "time"

type Config struct {
	SessionIdleTimeout     time.Duration
	SessionCleanupInterval time.Duration
	DispatchTimeout        time.Duration
	MinRevealLatency       time.Duration
	CharDelay              time.Duration
	PunctuationDelay       time.Duration
	ShortResponseWords     int
}

func NewConfig() *Config {
	return &Config{
		SessionIdleTimeout:     30 * time.Minute,
		SessionCleanupInterval: time.Minute,
		DispatchTimeout:        60 * time.Second,
		MinRevealLatency:       2 * time.Second,
		CharDelay:              35 * time.Millisecond,
		PunctuationDelay:       350 * time.Millisecond,
		ShortResponseWords:     50,
	}
}
