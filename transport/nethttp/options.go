package nethttp

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/resilience"
	"github.com/kbukum/sdkrtl/security"
	"github.com/kbukum/sdkrtl/transport"
)

// Option configures a Backend.
type Option func(*options)

type options struct {
	client    *http.Client
	http2     bool
	observers []transport.Observer
	retry     resilience.RetryConfig
	rateLimit *resilience.RateLimiterConfig
	breaker   *resilience.CircuitBreakerConfig
	tls       security.TLSConfig
	tracer    trace.Tracer
	log       *logger.Logger
	init      []transport.InitOption
}

// WithHTTPClient sends requests through c. VerifySSL, WithTLS and WithHTTP2
// are then left to c's transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithHTTP2 configures the backend's own transport for HTTP/2 through
// golang.org/x/net/http2.
func WithHTTP2() Option {
	return func(o *options) { o.http2 = true }
}

// WithTLS sets the CA bundle and client certificate of the backend's own
// transport.
func WithTLS(cfg security.TLSConfig) Option {
	return func(o *options) { o.tls = cfg }
}

// WithObserver adds observers notified after every exchange, in order.
func WithObserver(obs ...transport.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithRetry sets the policy Retry follows. The default is a single attempt.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithRateLimit throttles exchanges through a token bucket shared by all
// calls of the backend.
func WithRateLimit(cfg resilience.RateLimiterConfig) Option {
	return func(o *options) { o.rateLimit = &cfg }
}

// WithCircuitBreaker gates the attempts Retry makes: transport failures and
// retryable statuses count as failures, and while the breaker is open Retry
// fails with resilience.ErrCircuitOpen without sending anything.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = &cfg }
}

// WithTracer sets the tracer for exchange spans (default: global provider).
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSignalPlatform replaces the platform used to compose request signals.
func WithSignalPlatform(platform any) Option {
	return func(o *options) { o.init = append(o.init, transport.WithSignalPlatform(platform)) }
}
