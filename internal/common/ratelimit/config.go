package ratelimit

import (
	"time"

	"melody-map/internal/common/errors"
)

// Backend selects where request counts live
type Backend string

const (
	BackendLocal       Backend = "local"
	BackendDistributed Backend = "distributed"
)

// Config describes a "Limit requests per Window per key" policy
type Config struct {
	Limit   int
	Window  time.Duration
	Backend Backend

	// KeyPrefix namespaces Redis keys for the distributed backend
	KeyPrefix string

	// MaxKeys and IdleTTL bound the local backend's per-key map
	MaxKeys int
	IdleTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "melody-map:ratelimit:"
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

// Validate checks the policy
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return errors.ConfigError("rate limit must be positive")
	}
	if c.Window <= 0 {
		return errors.ConfigError("rate limit window must be positive")
	}
	switch c.Backend {
	case "", BackendLocal, BackendDistributed:
	default:
		return errors.ConfigError("unknown rate limit backend: " + string(c.Backend))
	}
	return nil
}
