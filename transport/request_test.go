package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/sdkrtl/logger"
)

func newTestInitializer(t *testing.T, s Settings, opts ...InitOption) *Initializer {
	t.Helper()
	opts = append([]InitOption{WithLogger(logger.Nop())}, opts...)
	ri, err := NewInitializer(s, opts...)
	if err != nil {
		t.Fatalf("NewInitializer: %v", err)
	}
	return ri
}

func TestNewInitializer_RejectsInvalidSettings(t *testing.T) {
	if _, err := NewInitializer(Settings{BaseURL: "ftp://x"}); err == nil {
		t.Error("expected validation error for non-http base url")
	}
	if _, err := NewInitializer(Settings{Timeout: -1}); err == nil {
		t.Error("expected validation error for negative timeout")
	}
}

func TestInitRequest_AgentTagPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		instance string
		call     *Settings
		want     string
	}{
		{"default", "", nil, AgentPrefix},
		{"instance", "billing-sdk/1.2", nil, "billing-sdk/1.2"},
		{"call wins", "billing-sdk/1.2", &Settings{AgentTag: "cli/0.1"}, "cli/0.1"},
		{"call without instance", "", &Settings{AgentTag: "cli/0.1"}, "cli/0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ri := newTestInitializer(t, Settings{AgentTag: tt.instance})
			d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, nil, tt.call)
			if err != nil {
				t.Fatal(err)
			}
			defer d.Release()
			if got := d.Headers[AgentHeader]; got != tt.want {
				t.Errorf("expected agent %q, got %q", tt.want, got)
			}
		})
	}
}

func TestInitRequest_HeadersMerge(t *testing.T) {
	ri := newTestInitializer(t, Settings{Headers: map[string]string{"A": "1", "B": "1"}})
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, nil,
		&Settings{Headers: map[string]string{"B": "2", "C": "2"}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	want := map[string]string{"A": "1", "B": "2", "C": "2", AgentHeader: AgentPrefix}
	if len(d.Headers) != len(want) {
		t.Fatalf("expected headers %v, got %v", want, d.Headers)
	}
	for k, v := range want {
		if d.Headers[k] != v {
			t.Errorf("header %s: expected %q, got %q", k, v, d.Headers[k])
		}
	}
	if d.Credentials != CredentialsSameOrigin {
		t.Errorf("expected credentials %q, got %q", CredentialsSameOrigin, d.Credentials)
	}
	if d.URL != "/x" {
		t.Errorf("InitRequest must leave the path unresolved, got %q", d.URL)
	}
}

func TestInitRequest_DoesNotMutateInstanceSettings(t *testing.T) {
	ri := newTestInitializer(t, Settings{Headers: map[string]string{"A": "1"}})
	d, err := ri.InitRequest(context.Background(), "POST", "/x", map[string]int{"n": 1}, nil,
		&Settings{Headers: map[string]string{"B": "2"}})
	if err != nil {
		t.Fatal(err)
	}
	d.Headers["C"] = "3"
	d.Release()

	s := ri.Settings()
	if len(s.Headers) != 1 || s.Headers["A"] != "1" {
		t.Errorf("instance headers changed: %v", s.Headers)
	}
}

func TestInitRequest_BodyNormalization(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		Note string `json:"note,omitempty"`
	}
	var nilMap map[string]any
	var nilPtr *payload
	var nilString *string
	text := "raw=pointer"

	tests := []struct {
		name     string
		body     any
		wantBody string
		wantJSON bool
	}{
		{"nil", nil, "", false},
		{"empty string", "", "", false},
		{"false", false, "", false},
		{"zero int", 0, "", false},
		{"zero float", 0.0, "", false},
		{"nil map", nilMap, "", false},
		{"nil pointer", nilPtr, "", false},
		{"string passthrough", "raw=text", "raw=text", false},
		{"string pointer passthrough", &text, "raw=pointer", false},
		{"nil string pointer", nilString, "", false},
		{"bytes passthrough", []byte("bytes"), "bytes", false},
		{"reader passthrough", strings.NewReader("stream"), "stream", false},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`, true},
		{"struct", payload{Name: "<a&b>"}, `{"name":"<a&b>"}`, true},
		{"map", map[string]any{"k": []int{1, 2}}, `{"k":[1,2]}`, true},
		{"true", true, "true", true},
		{"number", 42, "42", true},
		{"empty struct", struct{}{}, "{}", true},
	}
	ri := newTestInitializer(t, Settings{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ri.InitRequest(context.Background(), "POST", "/x", tt.body, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer d.Release()
			if d.Body != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, d.Body)
			}
			if d.HasBody() != (tt.wantBody != "") {
				t.Errorf("HasBody mismatch for %q", d.Body)
			}
			_, hasCT := d.Headers["Content-Type"]
			if hasCT != tt.wantJSON {
				t.Errorf("expected Content-Type set=%v, got headers %v", tt.wantJSON, d.Headers)
			}
		})
	}
}

func TestInitRequest_ExplicitContentTypeKeptForStrings(t *testing.T) {
	ri := newTestInitializer(t, Settings{Headers: map[string]string{"Content-Type": "text/plain"}})
	d, err := ri.InitRequest(context.Background(), "PUT", "/x", "hello", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()
	if d.Headers["Content-Type"] != "text/plain" {
		t.Errorf("expected text/plain, got %q", d.Headers["Content-Type"])
	}
}

func TestInitRequest_UnserializableBody(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	_, err := ri.InitRequest(context.Background(), "POST", "/x", map[string]any{"c": make(chan int)}, nil, nil)
	if !IsSerialization(err) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestInitRequest_SignalFromTimeout(t *testing.T) {
	ri := newTestInitializer(t, Settings{Timeout: 1})
	start := time.Now()
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	if d.Signal == nil {
		t.Fatal("expected a signal on the default platform")
	}
	if !fired(d.Signal, 3*time.Second) {
		t.Fatal("timeout signal never fired")
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("signal fired after %v, expected about 1s", elapsed)
	}
}

func TestInitRequest_CallerSignalCancels(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	caller, cancel := context.WithCancel(context.Background())
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, nil, &Settings{Signal: caller})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	cancel()
	if !fired(d.Signal, time.Second) {
		t.Fatal("caller cancellation did not reach the descriptor signal")
	}
}

func TestInitRequest_UnsupportedPlatformHasNoSignal(t *testing.T) {
	ri := newTestInitializer(t, Settings{}, WithSignalPlatform(struct{}{}))
	if ri.SignalSupport() != SignalUnsupported {
		t.Fatalf("expected unsupported, got %s", ri.SignalSupport())
	}
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()
	if d.Signal != nil {
		t.Error("expected no signal")
	}
}

func TestInitRequest_AuthenticatorRunsLast(t *testing.T) {
	ri := newTestInitializer(t, Settings{Headers: map[string]string{"A": "1"}})

	var seen *Descriptor
	auth := func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		seen = d.Clone()
		d.Headers["Authorization"] = "Bearer t"
		return d, nil
	}
	d, err := ri.InitRequest(context.Background(), "POST", "/x", map[string]int{"n": 1}, auth, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	if seen.Body != `{"n":1}` || seen.Headers["Content-Type"] != "application/json" {
		t.Errorf("authenticator must see the final body and headers, got %q %v", seen.Body, seen.Headers)
	}
	if seen.Headers[AgentHeader] != AgentPrefix || seen.Headers["A"] != "1" {
		t.Errorf("authenticator must see merged headers, got %v", seen.Headers)
	}
	if d.Headers["Authorization"] != "Bearer t" {
		t.Errorf("expected authorization header, got %v", d.Headers)
	}
}

func TestInitRequest_AuthenticatorReplacementKeepsSignal(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	caller, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		return &Descriptor{Method: d.Method, URL: d.URL + "?sig=abc", Headers: nil}, nil
	}
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, auth, &Settings{Signal: caller})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	if d.URL != "/x?sig=abc" {
		t.Errorf("expected replacement url, got %q", d.URL)
	}
	if d.Headers == nil {
		t.Error("headers must never be nil")
	}
	if d.Signal == nil {
		t.Fatal("replacement must keep the composed signal")
	}
	cancel()
	if !fired(d.Signal, time.Second) {
		t.Error("replacement signal does not follow the caller")
	}
}

func TestInitRequest_AuthenticatorCannotSwapSignal(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	caller, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		d.Signal = context.Background()
		return d, nil
	}
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, auth, &Settings{Signal: caller})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	cancel()
	if !fired(d.Signal, time.Second) {
		t.Error("descriptor signal must stay the composed one")
	}
}

func TestInitRequest_HeaderNamesIgnoreCase(t *testing.T) {
	ri := newTestInitializer(t, Settings{Headers: map[string]string{
		"content-type": "text/plain",
		"x-sdk-appid":  "instance-header",
		"x-tenant":     "acme",
	}})
	auth := func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		d.Headers["authorization"] = "Bearer t"
		return d, nil
	}
	d, err := ri.InitRequest(context.Background(), "POST", "/x", map[string]int{"n": 1}, auth,
		&Settings{AgentTag: "call-tag", Headers: map[string]string{"X-TENANT": "globex"}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	want := map[string]string{
		"Content-Type":  "application/json",
		AgentHeader:     "call-tag",
		"X-Tenant":      "globex",
		"Authorization": "Bearer t",
	}
	if len(d.Headers) != len(want) {
		t.Fatalf("expected headers %v, got %v", want, d.Headers)
	}
	for k, v := range want {
		if d.Headers[k] != v {
			t.Errorf("header %s: expected %q, got %q", k, v, d.Headers[k])
		}
	}
}

func TestInitRequest_AuthenticatorErrors(t *testing.T) {
	boom := errors.New("token expired")
	tests := []struct {
		name string
		auth Authenticator
	}{
		{"error", func(context.Context, *Descriptor) (*Descriptor, error) { return nil, boom }},
		{"nil descriptor", func(context.Context, *Descriptor) (*Descriptor, error) { return nil, nil }},
		{"method changed", func(_ context.Context, d *Descriptor) (*Descriptor, error) {
			c := d.Clone()
			c.Method = "DELETE"
			return c, nil
		}},
	}
	ri := newTestInitializer(t, Settings{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ri.InitRequest(context.Background(), "GET", "/x", nil, tt.auth, nil)
			if !IsAuthentication(err) {
				t.Fatalf("expected authentication error, got %v", err)
			}
		})
	}

	_, err := ri.InitRequest(context.Background(), "GET", "/x", nil, tests[0].auth, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestInitRequest_ConcurrentCallsAreIndependent(t *testing.T) {
	ri := newTestInitializer(t, Settings{BaseURL: "https://api.example.com"})
	done := make(chan *Descriptor, 2)
	for _, tag := range []string{"one", "two"} {
		go func(tag string) {
			d, err := ri.InitRequest(context.Background(), "GET", "/"+tag, nil, nil, &Settings{AgentTag: tag})
			if err != nil {
				t.Error(err)
				done <- nil
				return
			}
			done <- d
		}(tag)
	}
	for i := 0; i < 2; i++ {
		d := <-done
		if d == nil {
			continue
		}
		if d.Headers[AgentHeader] != strings.TrimPrefix(d.URL, "/") {
			t.Errorf("descriptor %s has agent %q", d.URL, d.Headers[AgentHeader])
		}
		d.Release()
	}
}

func TestPrepare(t *testing.T) {
	ri := newTestInitializer(t, Settings{BaseURL: "https://api.example.com/v1"})
	d, err := ri.Prepare(context.Background(), Call{
		Method: "GET",
		Path:   "/items",
		Query:  Values{"q": "a b", "page": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()
	if want := "https://api.example.com/v1/items?page=2&q=a%20b"; d.URL != want {
		t.Errorf("expected %q, got %q", want, d.URL)
	}
}

func TestPrepare_BadQuery(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	_, err := ri.Prepare(context.Background(), Call{Method: "GET", Path: "/x", Query: Values{"c": []chan int{nil}}})
	if !IsSerialization(err) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestReissue(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	d, err := ri.Prepare(context.Background(), Call{Method: "POST", Path: "https://h/x", Body: "payload",
		Options: &Settings{Timeout: 5, Headers: map[string]string{"X": "1"}}})
	if err != nil {
		t.Fatal(err)
	}
	raw := d.RawRequest()
	d.Release()

	again := ri.Reissue(raw)
	defer again.Release()

	if again.Method != "POST" || again.URL != "https://h/x" || again.Body != "payload" {
		t.Errorf("reissue changed the request line or body: %+v", again)
	}
	if again.Headers["X"] != "1" {
		t.Errorf("reissue lost headers: %v", again.Headers)
	}
	if again.Signal == nil || again.Signal.Err() != nil {
		t.Error("reissue must carry a fresh live signal")
	}
	again.Headers["X"] = "2"
	if raw.Headers["X"] != "1" {
		t.Error("reissue must not share header maps with the recorded request")
	}
}

func TestDescriptor_ReleaseIsIdempotent(t *testing.T) {
	calls := 0
	d := &Descriptor{release: func() { calls++ }}
	d.Release()
	d.Release()
	if calls != 1 {
		t.Errorf("expected one release, got %d", calls)
	}
	(&Descriptor{}).Release()
}

func TestStaticHeadersAndChain(t *testing.T) {
	ri := newTestInitializer(t, Settings{})
	auth := ChainAuthenticators(
		StaticHeaders(map[string]string{"Authorization": "Basic a"}),
		nil,
		StaticHeaders(map[string]string{"Authorization": "Bearer b", "X-Tenant": "t"}),
	)
	d, err := ri.InitRequest(context.Background(), "GET", "/x", nil, auth, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release()
	if d.Headers["Authorization"] != "Bearer b" || d.Headers["X-Tenant"] != "t" {
		t.Errorf("unexpected headers %v", d.Headers)
	}
}
