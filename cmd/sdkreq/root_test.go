package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kbukum/sdkrtl/security/tlstest"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Seen-Tenant", r.Header.Get("X-Tenant"))
		w.Header().Set("X-Seen-Agent", r.Header.Get("x-sdk-appid"))
		w.Header().Set("X-Seen-Type", r.Header.Get("Content-Type"))
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"gone"}`))
			return
		}
		_, _ = w.Write([]byte(r.Method + " " + r.URL.RequestURI() + " " + string(body)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Get(t *testing.T) {
	srv := echoServer(t)
	out, _, err := execute(t, "get", "/invoices", "--base-url", srv.URL, "-q", "status=open", "-q", "page=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "HTTP 200 OK\nGET /invoices?page=2&status=open \n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestRun_PostJSONWithHeaders(t *testing.T) {
	srv := echoServer(t)
	out, _, err := execute(t, "POST", srv.URL+"/invoices", "--json", "-d", `{"amount":12.5}`,
		"-H", "x-tenant: acme", "-i")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"HTTP 200 OK\n",
		"X-Seen-Tenant: acme\n",
		"X-Seen-Type: application/json\n",
		"X-Seen-Agent: sdkreq/",
		`POST /invoices {"amount":12.5}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestRun_BodyFromFile(t *testing.T) {
	srv := echoServer(t)
	path := filepath.Join(t.TempDir(), "body.txt")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := execute(t, "PUT", "/doc", "--base-url", srv.URL, "-d", "@"+path, "-i")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "PUT /doc from file") || strings.Contains(out, "application/json") {
		t.Errorf("string bodies must pass through without a content type, got %q", out)
	}
}

func TestRun_NotOK(t *testing.T) {
	srv := echoServer(t)
	out, _, err := execute(t, "GET", "/missing", "--base-url", srv.URL)
	if !errors.Is(err, errNotOK) {
		t.Fatalf("expected errNotOK, got %v", err)
	}
	if out != "HTTP 404 Not Found\n{\"message\":\"gone\"}\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRun_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, line := range []string{"one\n", "two\n"} {
			_, _ = w.Write([]byte(line))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	out, _, err := execute(t, "GET", "/events", "--base-url", srv.URL, "--stream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "HTTP 200 OK\none\ntwo\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRun_Retry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}))
	defer srv.Close()

	out, _, err := execute(t, "GET", "/", "--base-url", srv.URL, "--retry", "3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "HTTP 200 OK\nready\n" || hits.Load() != 3 {
		t.Errorf("unexpected output %q after %d attempts", out, hits.Load())
	}
}

func TestRun_Metrics(t *testing.T) {
	srv := echoServer(t)
	_, errOut, err := execute(t, "GET", "/", "--base-url", srv.URL, "--metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, `sdkreq_exchanges_total{method="GET",outcome="ok",status="200"} 1`) {
		t.Errorf("expected exchange counter in %q", errOut)
	}
}

func TestRun_ConfigFile(t *testing.T) {
	srv := echoServer(t)
	path := filepath.Join(t.TempDir(), "sdkreq.yml")
	content := "sdk:\n  base_url: " + srv.URL + "/v2\n  headers:\n    x-tenant: from-config\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "GET", "/items", "--config", path, "-i")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "GET /v2/items") || !strings.Contains(out, "X-Seen-Tenant: from-config") {
		t.Errorf("unexpected output %q", out)
	}

	out, _, err = execute(t, "GET", "/items", "--config", path, "-i", "-H", "X-Tenant: from-flag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "X-Seen-Tenant: from-flag") {
		t.Errorf("flags must override the config file, got %q", out)
	}
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"missing path", []string{"GET"}, "accepts 2 arg(s)"},
		{"bad header", []string{"GET", "/", "-H", "no-colon"}, "invalid header"},
		{"bad query", []string{"GET", "/", "-q", "novalue"}, "invalid query parameter"},
		{"bad json", []string{"POST", "/", "--json", "-d", "{"}, "not valid JSON"},
		{"missing body file", []string{"POST", "/", "-d", "@/nonexistent/body"}, "read body"},
		{"missing config", []string{"GET", "/", "--config", "/nonexistent/sdkreq.yml"}, "does not exist"},
		{"bad log level", []string{"GET", "/", "--log-level", "loud"}, "logging.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := execute(t, append(tc.args, "--base-url", "http://127.0.0.1:1")...)
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestRun_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, _, err := execute(t, "GET", "/", "--base-url", base)
	if err == nil || errors.Is(err, errNotOK) {
		t.Errorf("expected a network error, got %v", err)
	}
}

func TestVersionFlag(t *testing.T) {
	out, _, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "sdkreq version") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestRun_CustomCA(t *testing.T) {
	ca := tlstest.NewCA(t)
	srv := ca.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}), false)

	if _, _, err := execute(t, "GET", "/", "--base-url", srv.URL); err == nil {
		t.Error("expected an untrusted certificate to fail")
	}
	out, _, err := execute(t, "GET", "/", "--base-url", srv.URL, "--cacert", ca.File)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "HTTP 200 OK\nsecure\n" {
		t.Errorf("unexpected output %q", out)
	}
	if _, _, err := execute(t, "GET", "/", "--base-url", srv.URL, "-k"); err != nil {
		t.Errorf("--insecure should skip verification, got %v", err)
	}
}
