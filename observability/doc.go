// Package observability instruments transport exchanges with OpenTelemetry
// and Prometheus.
//
// Tracing (spans are started by the nethttp backend):
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("billing-cli"))
//	defer tp.Shutdown(ctx)
//
// Metrics are fed through transport observers:
//
//	otelMetrics, err := observability.NewMetrics(observability.Meter())
//	promMetrics := observability.NewPrometheusMetrics(registry, "billing")
//
//	backend, err := nethttp.New(settings,
//	    nethttp.WithObserver(otelMetrics.Observer(), promMetrics.Observer()))
package observability
