package testutil

import (
	"encoding/json"
	"net/http"
	"time"
)

// Reply is one scripted response.
type Reply struct {
	// Status is the status code; zero means 200.
	Status int
	// StatusMessage overrides the reason phrase.
	StatusMessage string
	// ContentType of the body.
	ContentType string
	// Headers are the response headers.
	Headers map[string]string
	// Body is the response body.
	Body []byte
	// Delay holds the response back; the request signal can cut it short.
	Delay time.Duration
	// Err makes the exchange fail at the network level.
	Err error
}

// JSON returns a reply carrying v encoded as JSON. It panics if v cannot be
// encoded.
func JSON(status int, v any) Reply {
	data, err := json.Marshal(v)
	if err != nil {
		panic("testutil: encode reply: " + err.Error())
	}
	return Reply{Status: status, ContentType: "application/json", Body: data}
}

// Text returns a plain text reply.
func Text(status int, body string) Reply {
	return Reply{Status: status, ContentType: "text/plain; charset=utf-8", Body: []byte(body)}
}

// Failure returns a reply that fails with err instead of producing a response.
func Failure(err error) Reply {
	return Reply{Err: err}
}

// After returns a copy of r delayed by d.
func (r Reply) After(d time.Duration) Reply {
	r.Delay = d
	return r
}

func (r Reply) status() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

func (r Reply) statusMessage() string {
	if r.StatusMessage != "" {
		return r.StatusMessage
	}
	return http.StatusText(r.status())
}
