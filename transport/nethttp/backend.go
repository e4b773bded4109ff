package nethttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/observability"
	"github.com/kbukum/sdkrtl/resilience"
	"github.com/kbukum/sdkrtl/security"
	"github.com/kbukum/sdkrtl/transport"
)

// Backend is the net/http transport backend. It is safe for concurrent use.
type Backend struct {
	init     *transport.Initializer
	secure   *http.Client
	insecure *http.Client
	observer transport.Observer
	retry    resilience.RetryConfig
	limiter  *resilience.RateLimiter
	breaker  *resilience.CircuitBreaker
	tracer   trace.Tracer
	log      *logger.Logger
}

var _ transport.Transport = (*Backend)(nil)

// New creates a backend for settings.
func New(settings transport.Settings, opts ...Option) (*Backend, error) {
	o := options{retry: resilience.NoRetry()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.GetGlobalLogger()
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer()
	}

	ini, err := transport.NewInitializer(settings, append(o.init, transport.WithLogger(o.log))...)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		init:     ini,
		observer: transport.Observers(o.observers...),
		retry:    o.retry,
		tracer:   o.tracer,
		log:      o.log.WithComponent("transport.nethttp"),
	}
	if o.rateLimit != nil {
		b.limiter = resilience.NewRateLimiter(*o.rateLimit)
	}
	if o.breaker != nil {
		b.breaker = b.newBreaker(*o.breaker)
	}

	if o.client != nil {
		b.secure, b.insecure = o.client, o.client
		return b, nil
	}
	if b.secure, err = newClient(o.tls, true, o.http2); err != nil {
		return nil, err
	}
	if b.insecure, err = newClient(o.tls, false, o.http2); err != nil {
		return nil, err
	}
	return b, nil
}

// newClient builds a client without a client-level timeout; every exchange
// is bounded by its own context instead.
func newClient(tlsCfg security.TLSConfig, verify, h2 bool) (*http.Client, error) {
	clientTLS, err := tlsCfg.ClientConfig(verify)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       clientTLS,
	}
	if h2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("nethttp: configure http2: %w", err)
		}
	}
	return &http.Client{Transport: tr}, nil
}

// Initializer returns the initializer that builds the backend's descriptors.
func (b *Backend) Initializer() *transport.Initializer {
	return b.init
}

// RawRequest implements transport.Transport. Network errors are returned as
// net/http reports them.
func (b *Backend) RawRequest(ctx context.Context, call transport.Call) (*transport.RawResponse, error) {
	d, err := b.init.Prepare(ctx, call)
	if err != nil {
		return nil, err
	}
	defer d.Release()
	return b.roundTrip(ctx, d, 1)
}

// Request implements transport.Transport.
func (b *Backend) Request(ctx context.Context, call transport.Call, out transport.Outcome) error {
	raw, err := b.RawRequest(ctx, call)
	if err != nil {
		return transport.WrapFailure(err)
	}
	return b.ParseResponse(raw, out)
}

// ParseResponse implements transport.Transport.
func (b *Backend) ParseResponse(raw *transport.RawResponse, out transport.Outcome) error {
	return transport.Classify(raw, out)
}

// Stream implements transport.Transport. fn receives a context that is
// canceled together with the exchange.
func (b *Backend) Stream(ctx context.Context, call transport.Call, fn transport.StreamFunc) (err error) {
	d, err := b.init.Prepare(ctx, call)
	if err != nil {
		return err
	}
	defer d.Release()

	resp, x, err := b.open(ctx, d, 1)
	if err != nil {
		return transport.WrapFailure(err)
	}
	head := newRawResponse(d, resp, nil, x.started)
	defer func() {
		_ = resp.Body.Close()
		x.finish(head, err)
	}()

	b.log.Debug("stream opened",
		logger.ExchangeFields(head.ExchangeID, head.Method, head.URL, head.StatusCode, head.Duration()))
	b.observer.Notify(ctx, head)

	return fn(x.ctx, &transport.StreamResponse{
		StatusCode:    head.StatusCode,
		StatusMessage: head.StatusMessage,
		ContentType:   head.ContentType,
		Headers:       head.Headers,
		Body:          resp.Body,
		Request:       head.Request,
	})
}

// Retry implements transport.Transport. The recorded request is sent again
// under a fresh signal; the authenticator does not run again. Transport
// failures and retryable statuses (429, 5xx) are retried per WithRetry, and
// the last response is returned. With WithCircuitBreaker every attempt
// passes through the breaker first.
func (b *Backend) Retry(ctx context.Context, req *transport.RawRequest) (*transport.RawResponse, error) {
	cfg := b.retry
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = resilience.DefaultRetryIf
	}
	cfg.RetryIf = func(err error) bool {
		return transport.IsRetryable(err) && retryIf(err)
	}
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		b.log.Debug("retrying exchange", logger.MergeWithError(logger.Fields(
			logger.FieldMethod, req.Method,
			logger.FieldURL, req.URL,
			logger.FieldAttempt, attempt,
			"backoff_ms", backoff.Milliseconds(),
		), err))
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}

	raw, err := resilience.Retry(ctx, cfg, func(ctx context.Context, attempt int) (*transport.RawResponse, error) {
		if b.breaker != nil {
			if err := b.breaker.Allow(); err != nil {
				return nil, err
			}
		}
		d := b.init.Reissue(req)
		defer d.Release()
		raw, err := b.roundTrip(ctx, d, attempt)
		switch {
		case err != nil:
			err = transport.NewTransportFailure(err)
		case transport.IsRetryableStatus(raw.StatusCode):
			err = transport.NewHTTPError(raw.StatusCode, raw.Body)
		}
		if b.breaker != nil {
			b.breaker.Record(err == nil)
		}
		return raw, err
	})

	var te *transport.Error
	switch {
	case err == nil:
		return raw, nil
	case raw != nil && errors.As(err, &te) && te.Code == transport.ErrCodeHTTP:
		return raw, nil
	case errors.As(err, &te) && te.Code == transport.ErrCodeTransport:
		return nil, te.Err
	default:
		return nil, err
	}
}

// newBreaker builds the breaker for cfg, logging its transitions.
func (b *Backend) newBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "transport.nethttp"
	}
	notify := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.BreakerState) {
		b.log.Info("circuit breaker state changed", logger.Fields(
			"breaker", name, "from", from.String(), "to", to.String()))
		if notify != nil {
			notify(name, from, to)
		}
	}
	return resilience.NewCircuitBreaker(cfg)
}

// roundTrip performs one buffered exchange.
func (b *Backend) roundTrip(ctx context.Context, d *transport.Descriptor, attempt int) (*transport.RawResponse, error) {
	resp, x, err := b.open(ctx, d, attempt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read response body: %w", x.cause(err))
		b.log.Debug("exchange failed", logger.MergeWithError(logger.Fields(
			logger.FieldMethod, d.Method, logger.FieldURL, d.URL), err))
		x.finish(nil, err)
		return nil, err
	}

	raw := newRawResponse(d, resp, body, x.started)
	x.finish(raw, nil)

	b.log.Debug("exchange completed",
		logger.ExchangeFields(raw.ExchangeID, raw.Method, raw.URL, raw.StatusCode, raw.Duration()))
	b.observer.Notify(ctx, raw)
	return raw, nil
}

// exchange is the lifetime of one request on the wire.
type exchange struct {
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	started time.Time
	method  string
	url     string
}

// cause replaces err with the cancellation cause when the exchange context
// ended, so callers see why the exchange was aborted.
func (x *exchange) cause(err error) error {
	if x.ctx.Err() == nil {
		return err
	}
	cause := context.Cause(x.ctx)
	if errors.Is(err, cause) {
		return err
	}
	return &url.Error{Op: x.method, URL: x.url, Err: cause}
}

func (x *exchange) finish(raw *transport.RawResponse, err error) {
	observability.EndExchangeSpan(x.span, raw, err)
	x.cancel()
}

// open sends the request of d. On success the caller owns resp.Body and must
// call x.finish once done with it.
func (b *Backend) open(ctx context.Context, d *transport.Descriptor, attempt int) (*http.Response, *exchange, error) {
	x := &exchange{started: time.Now(), method: d.Method, url: d.URL}
	if d.Signal != nil {
		x.ctx, x.cancel = transport.SignalContext(ctx, d.Signal)
	} else {
		x.ctx, x.cancel = context.WithTimeout(ctx, d.Settings.TimeoutDuration())
	}

	headers := make(http.Header, len(d.Headers))
	for k, v := range d.Headers {
		headers.Set(k, v)
	}
	x.ctx, x.span = observability.StartExchangeSpan(x.ctx, b.tracer, d.Method, d.URL, headers)
	if attempt > 1 {
		x.span.SetAttributes(attribute.Int(observability.AttrAttempt, attempt))
	}

	fail := func(err error) (*http.Response, *exchange, error) {
		err = x.cause(err)
		b.log.Debug("exchange failed", logger.MergeWithError(logger.Fields(
			logger.FieldMethod, d.Method, logger.FieldURL, d.URL, logger.FieldAttempt, attempt), err))
		x.finish(nil, err)
		return nil, nil, err
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(x.ctx); err != nil {
			return fail(err)
		}
	}

	var body io.Reader
	if d.HasBody() {
		body = strings.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(x.ctx, d.Method, d.URL, body)
	if err != nil {
		return fail(err)
	}
	req.Header = headers

	client := b.secure
	if !d.Settings.ShouldVerifySSL() {
		client = b.insecure
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	return resp, x, nil
}

func newRawResponse(d *transport.Descriptor, resp *http.Response, body []byte, started time.Time) *transport.RawResponse {
	return &transport.RawResponse{
		ExchangeID:        uuid.NewString(),
		Method:            d.Method,
		URL:               d.URL,
		StatusCode:        resp.StatusCode,
		StatusMessage:     statusMessage(resp),
		ContentType:       resp.Header.Get("Content-Type"),
		Headers:           flattenHeaders(resp.Header),
		Body:              body,
		OK:                transport.IsOKStatus(resp.StatusCode),
		RequestStarted:    started,
		ResponseCompleted: time.Now(),
		Request:           d.RawRequest(),
	}
}

// statusMessage extracts the reason phrase from resp.Status ("200 OK").
func statusMessage(resp *http.Response) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}

// flattenHeaders joins multi-value headers with ", ".
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for k, v := range h {
		result[k] = strings.Join(v, ", ")
	}
	return result
}
