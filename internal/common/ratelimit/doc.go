// Package ratelimit limits API requests per key, either in process
// (golang.org/x/time/rate token buckets) or across instances through the
// Redis sliding window in internal/redis.
//
// # Basic Usage
//
//	limiter, err := ratelimit.New(ratelimit.Config{Limit: 100, Window: time.Minute}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	router.Use(ratelimit.HTTPMiddleware(limiter, ratelimit.UserKey))
//
// Passing a Redis client to New selects the distributed backend unless
// Config.Backend says otherwise.
package ratelimit
