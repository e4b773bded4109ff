// Package security builds TLS client configuration for transport backends.
//
//	cfg := security.TLSConfig{
//	    CAFile:   "/etc/billing/ca.pem",
//	    CertFile: "/etc/billing/client.pem",
//	    KeyFile:  "/etc/billing/client-key.pem",
//	}
//	backend, err := nethttp.New(settings, nethttp.WithTLS(cfg))
package security
