package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures both Redis-backed limiters: the per-client
// HTTP token bucket and the key namespace of the admission slots.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip | agent | route | ip_agent | ip_route | agent_route | ip_agent_route
	Prefix         string
	Debug          bool

	AdmissionPrefix string // namespace of admission slot keys
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:         envBool("RATE_LIMIT_ENABLED", true),
		Capacity:        envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:    envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval:  envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:             envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:     envStr("RATE_LIMIT_KEY_STRATEGY", "ip_agent_route"),
		Prefix:          envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:           envBool("RATE_LIMIT_DEBUG", false),
		AdmissionPrefix: envStr("ADMISSION_KEY_PREFIX", "admission:"),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		cfg.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		cfg.RefillTokens = 1
		cfg.RefillInterval = every
	}
	cfg.Capacity = max(cfg.Capacity, 1)
	cfg.RefillTokens = max(cfg.RefillTokens, 1)
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	// a bucket must outlive a few refills or it resets to full capacity
	cfg.TTL = max(cfg.TTL, 5*cfg.RefillInterval)
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
