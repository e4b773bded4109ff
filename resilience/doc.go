// Package resilience provides the retry, rate limiting and circuit breaking
// policies used by transport backends.
//
//	cfg := resilience.DefaultRetryConfig()
//	cfg.RetryIf = transport.IsRetryable
//
//	raw, err := resilience.Retry(ctx, cfg, func(ctx context.Context, attempt int) (*transport.RawResponse, error) {
//	    return send(ctx)
//	})
//
// RateLimiter is a token bucket on golang.org/x/time/rate; Wait blocks until
// a token is available or the context is done. CircuitBreaker fails attempts
// fast after consecutive failures and lets a trial through once its cool-down
// has passed.
package resilience
