package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
)

// Transport is the operation set every backend implements.
type Transport interface {
	// RawRequest performs exactly one exchange. It does not retry, interpret
	// the status code, or translate network errors.
	RawRequest(ctx context.Context, call Call) (*RawResponse, error)

	// Request performs one exchange and classifies it into out via ParseResponse.
	Request(ctx context.Context, call Call, out Outcome) error

	// Stream performs one exchange and hands the live response to fn before
	// the body is consumed. The body is closed once fn returns.
	Stream(ctx context.Context, call Call, fn StreamFunc) error

	// Retry re-issues a previously dispatched request.
	Retry(ctx context.Context, req *RawRequest) (*RawResponse, error)

	// ParseResponse classifies raw into out.
	ParseResponse(raw *RawResponse, out Outcome) error
}

// RawRequest is what a backend put on the wire for one exchange.
type RawRequest struct {
	Method      string
	URL         string
	Body        string
	Headers     map[string]string
	Credentials string
	Settings    Settings
}

// RawResponse is the unclassified result of one exchange.
type RawResponse struct {
	// ExchangeID identifies the exchange in logs and observers.
	ExchangeID string
	// Method and URL are the request line that produced this response.
	Method string
	URL    string
	// StatusCode is the HTTP status code.
	StatusCode int
	// StatusMessage is the reason phrase.
	StatusMessage string
	// ContentType is the response content type.
	ContentType string
	// Headers are the response headers.
	Headers map[string]string
	// Body is the raw response body.
	Body []byte
	// OK is the classification of StatusCode (see OK).
	OK bool
	// RequestStarted and ResponseCompleted bracket the exchange.
	RequestStarted    time.Time
	ResponseCompleted time.Time
	// Request is the dispatched request, for Retry.
	Request *RawRequest
}

// Duration returns the elapsed time of the exchange.
func (r *RawResponse) Duration() time.Duration {
	return r.ResponseCompleted.Sub(r.RequestStarted)
}

// Copy returns a deep copy of r.
func (r *RawResponse) Copy() RawResponse {
	c := *r
	c.Headers = mergeMaps(r.Headers, nil)
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	if r.Request != nil {
		req := *r.Request
		req.Headers = mergeMaps(r.Request.Headers, nil)
		c.Request = &req
	}
	return c
}

// Outcome receives the classification of a response. SDKResponse
// implements it.
type Outcome interface {
	// Targets returns where to decode a success and an error body.
	Targets() (value, failure any)
	// Resolve records the raw response and, when it is not ok, the HTTP error.
	Resolve(raw *RawResponse, failure *Error)
}

// SDKResponse is the typed result of Request: either a TSuccess value or a
// TError value decoded from an error response.
type SDKResponse[TSuccess, TError any] struct {
	OK      bool
	Value   TSuccess
	Error   TError
	Failure *Error
	Raw     *RawResponse
}

// Targets implements Outcome.
func (r *SDKResponse[TSuccess, TError]) Targets() (value, failure any) {
	return &r.Value, &r.Error
}

// Resolve implements Outcome.
func (r *SDKResponse[TSuccess, TError]) Resolve(raw *RawResponse, failure *Error) {
	r.Raw = raw
	r.Failure = failure
	r.OK = failure == nil
}

// Request runs t.Request and returns the typed outcome. A response that is
// not ok is not an error: it is reported through the returned SDKResponse.
func Request[TSuccess, TError any](ctx context.Context, t Transport, call Call) (*SDKResponse[TSuccess, TError], error) {
	res := &SDKResponse[TSuccess, TError]{}
	if err := t.Request(ctx, call, res); err != nil {
		return nil, err
	}
	return res, nil
}

// StreamResponse is a response whose body has not been read.
type StreamResponse struct {
	StatusCode    int
	StatusMessage string
	ContentType   string
	Headers       map[string]string
	Body          io.Reader
	Request       *RawRequest
}

// OK reports whether the status code is a success.
func (r *StreamResponse) OK() bool {
	return IsOKStatus(r.StatusCode)
}

// StreamFunc consumes a live response.
type StreamFunc func(ctx context.Context, resp *StreamResponse) error

// Stream runs t.Stream and returns what fn produced.
func Stream[T any](ctx context.Context, t Transport, call Call, fn func(ctx context.Context, resp *StreamResponse) (T, error)) (T, error) {
	var result T
	err := t.Stream(ctx, call, func(ctx context.Context, resp *StreamResponse) error {
		v, err := fn(ctx, resp)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Classify fills out from raw: ok responses decode into the value target,
// others into the failure target and carry an HTTP error. Decoding into the
// failure target is best effort; decoding a success body must succeed.
func Classify(raw *RawResponse, out Outcome) error {
	value, failure := out.Targets()
	if OK(raw) {
		if err := DecodeBody(raw, value); err != nil {
			return err
		}
		out.Resolve(raw, nil)
		return nil
	}
	_ = DecodeBody(raw, failure)
	out.Resolve(raw, NewHTTPError(raw.StatusCode, raw.Body))
	return nil
}

// DecodeBody decodes raw.Body into target. *string and *[]byte receive the
// body as is; other targets are decoded as JSON. An empty body leaves target
// untouched.
func DecodeBody(raw *RawResponse, target any) error {
	if target == nil || len(raw.Body) == 0 {
		return nil
	}
	switch t := target.(type) {
	case *string:
		*t = string(raw.Body)
		return nil
	case *[]byte:
		*t = append([]byte(nil), raw.Body...)
		return nil
	case *any:
		if !IsJSONContentType(raw.ContentType) {
			*t = string(raw.Body)
			return nil
		}
	}
	if err := json.Unmarshal(raw.Body, target); err != nil {
		return NewSerializationError(fmt.Errorf("decode %s response: %w", raw.ContentType, err))
	}
	return nil
}

// IsJSONContentType reports whether contentType is application/json or a
// +json media type.
func IsJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
