// Package middleware provides per-client rate limiting for the conversion
// endpoint.
//
// RateLimiter is an in-process token bucket. DistributedRateLimiter keeps a
// fixed window counter in Redis so every replica draws from the same budget.
// Both satisfy Limiter and plug into RateLimitMiddleware:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, &middleware.RateLimitConfig{
//		RequestsPerWindow: 30,
//		WindowDuration:    time.Minute,
//	}, "leadflow:ratelimit")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, logger, metrics).Handler)
//
// Rejected requests get 429 with Retry-After. When the limiter itself fails
// the request is let through and a warning is logged.
package middleware
