// Package cache stores small JSON-encodable values with a TTL.
//
// Backends:
//   - local: github.com/patrickmn/go-cache, per process
//   - redis: github.com/go-redis/redis/v8, shared across instances
//   - two_tier: local in front of redis, local entries capped at LocalTTLCap
//
// Values are JSON encoded in every backend so a value read back from the
// local tier decodes exactly like one read from Redis.
package cache
