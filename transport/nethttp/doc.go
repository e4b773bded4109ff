// Package nethttp implements transport.Transport on top of net/http.
//
//	backend, err := nethttp.New(transport.Settings{
//	    BaseURL:  "https://api.example.com/v1",
//	    AgentTag: "billing-sdk/1.4.0",
//	}, nethttp.WithRetry(resilience.DefaultRetryConfig()))
//	if err != nil {
//	    return err
//	}
//	res, err := transport.Request[Invoice, APIError](ctx, backend, transport.Call{
//	    Method: http.MethodGet,
//	    Path:   "/invoices/42",
//	})
//
// Each exchange runs under a context derived from the request's effective
// signal, so caller cancellation and the timeout abort the connection. When
// the signal platform cannot build a signal, the backend applies the timeout
// itself. Every exchange is traced with OpenTelemetry and reported to the
// configured observers.
package nethttp
