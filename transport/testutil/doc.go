// Package testutil provides a test-double transport backend.
//
// Transport implements transport.Transport without touching the network.
// Responses are scripted with Enqueue or computed by a Handler, every
// exchange is recorded, and scripted delays honor the request's effective
// cancellation signal the way a real backend would:
//
//	tr, err := testutil.New(transport.Settings{BaseURL: "https://api.test"})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	tr.Enqueue(testutil.JSON(200, map[string]any{"id": 1}))
//
//	res, err := transport.Request[Item, APIError](ctx, tr, transport.Call{Method: "GET", Path: "/items/1"})
//	ex, _ := tr.LastExchange()
//
// When the signal platform cannot build signals, the timeout from the
// request settings is enforced with a timer instead.
package testutil
