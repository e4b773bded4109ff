package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/kbukum/sdkrtl/logger"
)

// Descriptor is one fully resolved outbound request, ready for a backend.
type Descriptor struct {
	// Method is the HTTP method.
	Method string
	// URL is the request path until the backend resolves it with MakeURL,
	// then the absolute URL including the query string.
	URL string
	// Body is the request body; "" means no body.
	Body string
	// Headers are the request headers.
	Headers map[string]string
	// Credentials is the credentials policy.
	Credentials string
	// Signal is the effective cancellation signal; nil when the platform
	// cannot build one.
	Signal Signal
	// Settings are the merged settings the descriptor was built from.
	Settings Settings

	release     func()
	releaseOnce sync.Once
}

// HasBody reports whether the descriptor carries a body.
func (d *Descriptor) HasBody() bool {
	return d.Body != ""
}

// Release frees the timers behind the descriptor's signal. It is safe to
// call more than once.
func (d *Descriptor) Release() {
	d.releaseOnce.Do(func() {
		if d.release != nil {
			d.release()
		}
	})
}

// Clone returns a copy with its own header map. The copy shares the signal.
func (d *Descriptor) Clone() *Descriptor {
	c := &Descriptor{
		Method:      d.Method,
		URL:         d.URL,
		Body:        d.Body,
		Headers:     mergeMaps(d.Headers, nil),
		Credentials: d.Credentials,
		Signal:      d.Signal,
		Settings:    d.Settings,
		release:     d.release,
	}
	return c
}

// RawRequest snapshots the descriptor for later re-issue.
func (d *Descriptor) RawRequest() *RawRequest {
	return &RawRequest{
		Method:      d.Method,
		URL:         d.URL,
		Body:        d.Body,
		Headers:     mergeMaps(d.Headers, nil),
		Credentials: d.Credentials,
		Settings:    d.Settings,
	}
}

// Authenticator adds authentication material to a descriptor. It runs once
// per request, after headers and body are fixed. It may return d itself or a
// replacement; the method and signal must be preserved.
type Authenticator func(ctx context.Context, d *Descriptor) (*Descriptor, error)

// Call gathers the arguments of one transport operation.
type Call struct {
	// Method is the HTTP method.
	Method string
	// Path is relative to Settings.BaseURL, or absolute.
	Path string
	// Query are URL query parameters.
	Query Values
	// Body is a string, []byte, io.Reader, or any value to JSON encode.
	Body any
	// Authenticator adds credentials to the request (optional).
	Authenticator Authenticator
	// Options override the instance settings for this call (optional).
	Options *Settings
}

// Initializer builds descriptors. It holds no per-call state, so one
// Initializer serves concurrent calls.
type Initializer struct {
	settings Settings
	signals  *SignalComposer
	log      *logger.Logger
}

// InitOption configures an Initializer.
type InitOption func(*initOptions)

type initOptions struct {
	platform any
	log      *logger.Logger
}

// WithSignalPlatform replaces the signal platform (default ContextSignals).
// The platform is probed for TimeoutSignaler and SignalCombiner.
func WithSignalPlatform(platform any) InitOption {
	return func(o *initOptions) { o.platform = platform }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *logger.Logger) InitOption {
	return func(o *initOptions) { o.log = l }
}

// NewInitializer validates settings and returns an Initializer for them.
func NewInitializer(settings Settings, opts ...InitOption) (*Initializer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := initOptions{platform: ContextSignals{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.GetGlobalLogger()
	}
	return &Initializer{
		settings: Merge(settings, nil),
		signals:  NewSignalComposer(o.platform, o.log),
		log:      o.log,
	}, nil
}

// Settings returns a copy of the instance settings.
func (i *Initializer) Settings() Settings {
	return Merge(i.settings, nil)
}

// SignalSupport returns the probed signal support of the platform.
func (i *Initializer) SignalSupport() SignalSupport {
	return i.signals.Support()
}

// InitRequest builds the descriptor for one request. The URL is left as
// path; Prepare resolves it. Body encoding failures return a serialization
// error and authenticator failures an authentication error.
func (i *Initializer) InitRequest(ctx context.Context, method, path string, body any, auth Authenticator, options *Settings) (*Descriptor, error) {
	agentTag := i.settings.AgentTag
	if options != nil && options.AgentTag != "" {
		agentTag = options.AgentTag
	}
	if agentTag == "" {
		agentTag = AgentPrefix
	}
	agent := &Settings{Headers: map[string]string{AgentHeader: agentTag}}
	settings := Merge(Merge(i.settings, agent), options)
	if settings.Headers == nil {
		settings.Headers = map[string]string{}
	}

	encoded, isJSON, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}
	headers := mergeMaps(settings.Headers, nil)
	if isJSON {
		headers["Content-Type"] = "application/json"
	}

	signal, release := i.signals.Compose(settings.Signal, settings.TimeoutDuration())

	d := &Descriptor{
		Method:      method,
		URL:         path,
		Body:        encoded,
		Headers:     headers,
		Credentials: CredentialsSameOrigin,
		Signal:      signal,
		Settings:    settings,
		release:     release,
	}

	if auth == nil {
		return d, nil
	}
	authed, err := auth(ctx, d)
	if err != nil {
		d.Release()
		return nil, NewAuthenticationError(err)
	}
	if authed == nil {
		d.Release()
		return nil, NewAuthenticationError(errors.New("authenticator returned no descriptor"))
	}
	if authed.Method != d.Method {
		d.Release()
		return nil, NewAuthenticationError(fmt.Errorf("authenticator changed method from %s to %s", d.Method, authed.Method))
	}
	if authed != d {
		authed = &Descriptor{
			Method:      authed.Method,
			URL:         authed.URL,
			Body:        authed.Body,
			Headers:     authed.Headers,
			Credentials: authed.Credentials,
			Settings:    d.Settings,
			release:     d.release,
		}
	}
	// the signal is owned by the initializer; an authenticator cannot swap it
	authed.Signal = signal
	authed.Headers = CanonicalHeaders(authed.Headers)
	if authed.Headers == nil {
		authed.Headers = map[string]string{}
	}
	return authed, nil
}

// Prepare runs InitRequest for call and resolves the URL with MakeURL.
func (i *Initializer) Prepare(ctx context.Context, call Call) (*Descriptor, error) {
	d, err := i.InitRequest(ctx, call.Method, call.Path, call.Body, call.Authenticator, call.Options)
	if err != nil {
		return nil, err
	}
	resolved, err := MakeURL(d.URL, d.Settings, call.Query)
	if err != nil {
		d.Release()
		return nil, err
	}
	d.URL = resolved
	return d, nil
}

// Reissue rebuilds a descriptor from a previously dispatched request. The
// method, URL, headers and body are reused verbatim; the signal is composed
// afresh from the recorded settings because the original may have fired.
func (i *Initializer) Reissue(req *RawRequest) *Descriptor {
	signal, release := i.signals.Compose(req.Settings.Signal, req.Settings.TimeoutDuration())
	return &Descriptor{
		Method:      req.Method,
		URL:         req.URL,
		Body:        req.Body,
		Headers:     mergeMaps(req.Headers, nil),
		Credentials: req.Credentials,
		Signal:      signal,
		Settings:    req.Settings,
		release:     release,
	}
}

// normalizeBody converts body to its wire string. Empty values yield "".
// isJSON reports that the body was JSON encoded here.
func normalizeBody(body any) (encoded string, isJSON bool, err error) {
	switch v := body.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, false, nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return *v, false, nil
	case []byte:
		return string(v), false, nil
	case json.RawMessage:
		return string(v), len(v) > 0, nil
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return "", false, NewSerializationError(fmt.Errorf("read body: %w", err))
		}
		return string(data), false, nil
	}
	if isEmptyBody(body) {
		return "", false, nil
	}
	rv := reflect.ValueOf(body)
	if rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.String {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.String {
		return rv.String(), false, nil
	}
	data, err := marshalJSON(body)
	if err != nil {
		return "", false, NewSerializationError(fmt.Errorf("encode body: %w", err))
	}
	return string(data), true, nil
}

// isEmptyBody reports values that count as "no body": nil references, false
// and numeric zero.
func isEmptyBody(body any) bool {
	if isNil(body) {
		return true
	}
	rv := reflect.ValueOf(body)
	switch rv.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return rv.IsZero()
	}
	return false
}
