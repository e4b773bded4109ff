package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/kbukum/sdkrtl/config"
	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/observability"
	"github.com/kbukum/sdkrtl/resilience"
	"github.com/kbukum/sdkrtl/transport"
	"github.com/kbukum/sdkrtl/transport/nethttp"
	"github.com/kbukum/sdkrtl/version"
)

const appName = "sdkreq"

// errNotOK reports a response outside the success range; the response has
// already been printed.
var errNotOK = errors.New("response status is not ok")

func run(cmd *cobra.Command, o *options, method, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(&cfg.Logging, appName, stderr)

	opts := []nethttp.Option{
		nethttp.WithLogger(log),
		nethttp.WithRetry(cfg.Retry),
		nethttp.WithTLS(cfg.TLS),
	}
	if cfg.HTTP2 {
		opts = append(opts, nethttp.WithHTTP2())
	}
	if cfg.RateLimit != nil {
		opts = append(opts, nethttp.WithRateLimit(*cfg.RateLimit))
	}
	if cfg.CircuitBreaker != nil {
		opts = append(opts, nethttp.WithCircuitBreaker(*cfg.CircuitBreaker))
	}
	if o.metrics {
		reg := prometheus.NewRegistry()
		opts = append(opts, nethttp.WithObserver(observability.NewPrometheusMetrics(reg, appName).Observer()))
		defer func() {
			if err := writeMetrics(stderr, reg); err != nil {
				log.Warn("failed to write metrics", logger.MergeWithError(nil, err))
			}
		}()
	}
	if o.otlpEndpoint != "" {
		observer, shutdown, err := initOTLP(ctx, o.otlpEndpoint)
		if err != nil {
			return err
		}
		defer shutdown()
		opts = append(opts, nethttp.WithObserver(observer))
	}

	backend, err := nethttp.New(cfg.Settings, opts...)
	if err != nil {
		return err
	}

	call, err := o.call(strings.ToUpper(method), path)
	if err != nil {
		return err
	}
	// interrupting the command cancels the exchange
	call.Options = &transport.Settings{Signal: ctx}

	if o.stream {
		return stream(ctx, backend, call, stdout, o.include)
	}

	raw, err := send(ctx, backend, call, cfg.Retry)
	if err != nil {
		return err
	}
	writeHead(stdout, raw.StatusCode, raw.StatusMessage, raw.Headers, o.include)
	if _, err := stdout.Write(raw.Body); err != nil {
		return err
	}
	if len(raw.Body) > 0 && raw.Body[len(raw.Body)-1] != '\n' {
		fmt.Fprintln(stdout)
	}
	if !transport.OK(raw) {
		return errNotOK
	}
	return nil
}

// send dispatches call once, or through Retry when more than one attempt is
// configured.
func send(ctx context.Context, backend *nethttp.Backend, call transport.Call, retry resilience.RetryConfig) (*transport.RawResponse, error) {
	if retry.MaxAttempts <= 1 {
		return backend.RawRequest(ctx, call)
	}
	d, err := backend.Initializer().Prepare(ctx, call)
	if err != nil {
		return nil, err
	}
	req := d.RawRequest()
	d.Release()
	return backend.Retry(ctx, req)
}

func stream(ctx context.Context, backend *nethttp.Backend, call transport.Call, w io.Writer, include bool) error {
	ok, err := transport.Stream(ctx, backend, call, func(_ context.Context, resp *transport.StreamResponse) (bool, error) {
		writeHead(w, resp.StatusCode, resp.StatusMessage, resp.Headers, include)
		if _, err := io.Copy(w, resp.Body); err != nil {
			return false, fmt.Errorf("read stream: %w", err)
		}
		return resp.OK(), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return errNotOK
	}
	return nil
}

func writeHead(w io.Writer, status int, message string, headers map[string]string, include bool) {
	fmt.Fprintf(w, "HTTP %d %s\n", status, message)
	if !include {
		return
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, headers[k])
	}
	fmt.Fprintln(w)
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func initOTLP(ctx context.Context, endpoint string) (transport.Observer, func(), error) {
	tracerCfg := observability.DefaultTracerConfig(appName)
	tracerCfg.Endpoint = endpoint
	tracerCfg.ServiceVersion = version.Version
	tp, err := observability.InitTracer(ctx, tracerCfg)
	if err != nil {
		return nil, nil, err
	}

	meterCfg := observability.DefaultMeterConfig(appName)
	meterCfg.Endpoint = endpoint
	meterCfg.ServiceVersion = version.Version
	mp, err := observability.InitMeter(ctx, &meterCfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}

	metrics, err := observability.NewMetrics(observability.Meter())
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
		_ = mp.Shutdown(sctx)
	}
	return metrics.Observer(), shutdown, nil
}

// loadConfig reads the config sources and applies the flags on top.
func loadConfig(o *options) (*config.ClientConfig, error) {
	var opts []config.LoaderOption
	if o.configFile != "" {
		opts = append(opts, config.WithConfigFile(o.configFile))
	}
	cfg, err := config.Load(appName, opts...)
	if err != nil {
		return nil, err
	}

	if o.baseURL != "" {
		cfg.Settings.BaseURL = o.baseURL
	}
	if o.timeout > 0 {
		cfg.Settings.Timeout = o.timeout
	}
	if len(o.headers) > 0 && cfg.Settings.Headers == nil {
		cfg.Settings.Headers = map[string]string{}
	}
	for _, h := range o.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", h)
		}
		cfg.Settings.Headers[http.CanonicalHeaderKey(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if o.insecure {
		verify := false
		cfg.Settings.VerifySSL = &verify
	}
	if o.caFile != "" {
		cfg.TLS.CAFile = o.caFile
	}
	if o.certFile != "" {
		cfg.TLS.CertFile = o.certFile
	}
	if o.keyFile != "" {
		cfg.TLS.KeyFile = o.keyFile
	}
	if o.http2 {
		cfg.HTTP2 = true
	}
	if o.retries > 0 {
		cfg.Retry.MaxAttempts = o.retries
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if cfg.Settings.AgentTag == "" {
		cfg.Settings.AgentTag = version.AgentTag(appName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// call builds the transport call from the request flags.
func (o *options) call(method, path string) (transport.Call, error) {
	call := transport.Call{Method: method, Path: path}

	if len(o.query) > 0 {
		call.Query = transport.Values{}
		for _, q := range o.query {
			k, v, ok := strings.Cut(q, "=")
			if !ok || k == "" {
				return call, fmt.Errorf("invalid query parameter %q, want key=value", q)
			}
			call.Query[k] = v
		}
	}

	data := o.data
	if file, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(file)
		if err != nil {
			return call, fmt.Errorf("read body: %w", err)
		}
		data = string(b)
	}
	switch {
	case data == "":
	case o.json:
		if !json.Valid([]byte(data)) {
			return call, errors.New("--json body is not valid JSON")
		}
		call.Body = json.RawMessage(data)
	default:
		call.Body = data
	}
	return call, nil
}
