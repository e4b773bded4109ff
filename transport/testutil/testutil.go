package testutil

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/transport"
)

// Exchange is a request as the test double received it.
type Exchange struct {
	Method      string
	URL         string
	Body        string
	Headers     map[string]string
	Credentials string
	// Signal is the effective signal the request carried (nil when the
	// platform could not build one).
	Signal   transport.Signal
	Settings transport.Settings
	// Retry is set for exchanges issued through Retry.
	Retry bool
}

// Handler computes the reply for an exchange when no scripted reply is queued.
type Handler func(ex Exchange) Reply

// Option configures a Transport.
type Option func(*options)

type options struct {
	handler  Handler
	observer transport.Observer
	log      *logger.Logger
	init     []transport.InitOption
}

// WithHandler sets the handler used once the scripted replies run out.
func WithHandler(h Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithObserver registers an observer notified after every exchange.
func WithObserver(obs ...transport.Observer) Option {
	return func(o *options) { o.observer = transport.Observers(obs...) }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSignalPlatform replaces the signal platform used to compose request
// signals.
func WithSignalPlatform(platform any) Option {
	return func(o *options) { o.init = append(o.init, transport.WithSignalPlatform(platform)) }
}

// Transport is an in-memory transport.Transport.
type Transport struct {
	init     *transport.Initializer
	handler  Handler
	observer transport.Observer
	log      *logger.Logger

	mu        sync.Mutex
	replies   []Reply
	exchanges []Exchange

	openBodies atomic.Int64
}

var _ transport.Transport = (*Transport)(nil)

// New creates a test double for settings.
func New(settings transport.Settings, opts ...Option) (*Transport, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	ini, err := transport.NewInitializer(settings, append(o.init, transport.WithLogger(o.log))...)
	if err != nil {
		return nil, err
	}
	return &Transport{
		init:     ini,
		handler:  o.handler,
		observer: o.observer,
		log:      o.log.WithComponent("transport.testutil"),
	}, nil
}

// Initializer returns the initializer building the double's descriptors.
func (t *Transport) Initializer() *transport.Initializer {
	return t.init
}

// Enqueue appends scripted replies, consumed in order.
func (t *Transport) Enqueue(replies ...Reply) {
	t.mu.Lock()
	t.replies = append(t.replies, replies...)
	t.mu.Unlock()
}

// Exchanges returns the recorded exchanges in order.
func (t *Transport) Exchanges() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

// LastExchange returns the most recent exchange.
func (t *Transport) LastExchange() (Exchange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.exchanges) == 0 {
		return Exchange{}, false
	}
	return t.exchanges[len(t.exchanges)-1], true
}

// Reset drops queued replies and recorded exchanges.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.replies = nil
	t.exchanges = nil
	t.mu.Unlock()
}

// OpenStreams reports stream bodies handed out and not yet closed.
func (t *Transport) OpenStreams() int {
	return int(t.openBodies.Load())
}

// RawRequest implements transport.Transport.
func (t *Transport) RawRequest(ctx context.Context, call transport.Call) (*transport.RawResponse, error) {
	d, err := t.init.Prepare(ctx, call)
	if err != nil {
		return nil, err
	}
	defer d.Release()
	return t.roundTrip(ctx, d, false)
}

// Request implements transport.Transport.
func (t *Transport) Request(ctx context.Context, call transport.Call, out transport.Outcome) error {
	raw, err := t.RawRequest(ctx, call)
	if err != nil {
		return transport.WrapFailure(err)
	}
	return t.ParseResponse(raw, out)
}

// Stream implements transport.Transport.
func (t *Transport) Stream(ctx context.Context, call transport.Call, fn transport.StreamFunc) error {
	d, err := t.init.Prepare(ctx, call)
	if err != nil {
		return err
	}
	defer d.Release()

	reply, started, err := t.await(ctx, d, false)
	if err != nil {
		return transport.WrapFailure(err)
	}

	body := &trackedBody{Reader: bytes.NewReader(reply.Body), open: &t.openBodies}
	t.openBodies.Add(1)
	defer func() { _ = body.Close() }()

	raw := t.response(d, reply, started)
	raw.Body = nil
	t.observer.Notify(ctx, raw)

	return fn(ctx, &transport.StreamResponse{
		StatusCode:    raw.StatusCode,
		StatusMessage: raw.StatusMessage,
		ContentType:   raw.ContentType,
		Headers:       raw.Headers,
		Body:          body,
		Request:       raw.Request,
	})
}

// Retry implements transport.Transport. It performs exactly one attempt.
func (t *Transport) Retry(ctx context.Context, req *transport.RawRequest) (*transport.RawResponse, error) {
	d := t.init.Reissue(req)
	defer d.Release()
	return t.roundTrip(ctx, d, true)
}

// ParseResponse implements transport.Transport.
func (t *Transport) ParseResponse(raw *transport.RawResponse, out transport.Outcome) error {
	return transport.Classify(raw, out)
}

func (t *Transport) roundTrip(ctx context.Context, d *transport.Descriptor, retry bool) (*transport.RawResponse, error) {
	reply, started, err := t.await(ctx, d, retry)
	if err != nil {
		return nil, err
	}
	raw := t.response(d, reply, started)
	t.log.Debug("exchange completed",
		logger.ExchangeFields(raw.ExchangeID, raw.Method, raw.URL, raw.StatusCode, raw.Duration()))
	t.observer.Notify(ctx, raw)
	return raw, nil
}

// await records the exchange, picks its reply and waits out the reply delay.
func (t *Transport) await(ctx context.Context, d *transport.Descriptor, retry bool) (Reply, time.Time, error) {
	started := time.Now()
	ex := Exchange{
		Method:      d.Method,
		URL:         d.URL,
		Body:        d.Body,
		Headers:     d.RawRequest().Headers,
		Credentials: d.Credentials,
		Signal:      d.Signal,
		Settings:    d.Settings,
		Retry:       retry,
	}
	reply := t.next(ex)

	if err := wait(ctx, d, reply.Delay); err != nil {
		return Reply{}, started, &url.Error{Op: d.Method, URL: d.URL, Err: err}
	}
	if reply.Err != nil {
		return Reply{}, started, &url.Error{Op: d.Method, URL: d.URL, Err: reply.Err}
	}
	return reply, started, nil
}

func (t *Transport) next(ex Exchange) Reply {
	t.mu.Lock()
	t.exchanges = append(t.exchanges, ex)
	if len(t.replies) > 0 {
		reply := t.replies[0]
		t.replies = t.replies[1:]
		t.mu.Unlock()
		return reply
	}
	t.mu.Unlock()

	if t.handler != nil {
		return t.handler(ex)
	}
	return Reply{}
}

func (t *Transport) response(d *transport.Descriptor, reply Reply, started time.Time) *transport.RawResponse {
	headers := make(map[string]string, len(reply.Headers)+1)
	for k, v := range reply.Headers {
		headers[k] = v
	}
	if reply.ContentType != "" {
		headers["Content-Type"] = reply.ContentType
	}
	status := reply.status()
	return &transport.RawResponse{
		ExchangeID:        uuid.NewString(),
		Method:            d.Method,
		URL:               d.URL,
		StatusCode:        status,
		StatusMessage:     reply.statusMessage(),
		ContentType:       reply.ContentType,
		Headers:           headers,
		Body:              append([]byte(nil), reply.Body...),
		OK:                transport.IsOKStatus(status),
		RequestStarted:    started,
		ResponseCompleted: time.Now(),
		Request:           d.RawRequest(),
	}
}

// wait blocks for delay unless the request is canceled first. Without a
// signal, the settings timeout is enforced here.
func wait(ctx context.Context, d *transport.Descriptor, delay time.Duration) error {
	var fired <-chan struct{}
	var deadline <-chan time.Time
	if d.Signal != nil {
		fired = d.Signal.Done()
	} else {
		timer := time.NewTimer(d.Settings.TimeoutDuration())
		defer timer.Stop()
		deadline = timer.C
	}

	var elapsed <-chan time.Time
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		elapsed = timer.C
	} else {
		closed := make(chan time.Time)
		close(closed)
		elapsed = closed
	}

	// A signal that already fired wins over an immediate reply.
	select {
	case <-fired:
		return d.Signal.Err()
	case <-ctx.Done():
		return context.Cause(ctx)
	default:
	}

	select {
	case <-fired:
		return d.Signal.Err()
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-deadline:
		return context.DeadlineExceeded
	case <-elapsed:
		return nil
	}
}

type trackedBody struct {
	io.Reader
	open   *atomic.Int64
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.open.Add(-1)
	}
	return nil
}
