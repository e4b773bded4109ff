// Package transport is the backend-independent core of the SDK runtime.
//
// It turns a call (method, path, query, body, authenticator, per-call
// settings) into a fully resolved Descriptor that a backend can put on the
// wire, and defines the Transport contract every backend implements.
//
// The request pipeline is:
//
//  1. Merge instance settings, the agent tag header and per-call overrides.
//  2. Normalize the body: empty bodies are dropped, non-string bodies are
//     JSON encoded and marked with a JSON content type.
//  3. Compose one effective cancellation Signal from the caller's signal and
//     the settings timeout, degrading when the platform lacks a primitive.
//  4. Run the Authenticator, if any, on the assembled descriptor.
//  5. Resolve the URL against the base URL and append query parameters.
//
// # Usage
//
//	init, err := transport.NewInitializer(transport.Settings{
//	    BaseURL: "https://api.example.com/api/4.0",
//	    Timeout: 30,
//	})
//	d, err := init.Prepare(ctx, transport.Call{
//	    Method: http.MethodGet,
//	    Path:   "/users/1",
//	    Query:  transport.Values{"fields": "id,name"},
//	})
//	defer d.Release()
//
// Backends live in subpackages: nethttp puts descriptors on a net/http
// client, testutil records them for tests.
package transport
