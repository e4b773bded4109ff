package transport

import (
	"cmp"
	"net/http"
	"slices"
	"time"

	"github.com/kbukum/sdkrtl/validation"
)

const (
	// DefaultTimeout is the request timeout in seconds when none is configured.
	DefaultTimeout = 120

	// AgentHeader carries the agent tag on every request, in canonical form
	// (x-sdk-appid on the wire is the same header).
	AgentHeader = "X-Sdk-Appid"

	// AgentPrefix is the agent tag used when neither the call nor the instance sets one.
	AgentPrefix = "go-sdk"

	// CredentialsSameOrigin is the credentials policy of every descriptor.
	CredentialsSameOrigin = "same-origin"
)

// Settings configures a transport instance; the same type carries per-call
// overrides, where zero-valued fields mean "not overridden".
type Settings struct {
	// BaseURL is prepended to relative request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,http_url"`

	// Timeout is the request timeout in whole seconds. Zero means DefaultTimeout.
	Timeout int `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// AgentTag identifies the calling SDK in the AgentHeader.
	AgentTag string `yaml:"agent_tag" mapstructure:"agent_tag"`

	// VerifySSL disables certificate verification when explicitly false.
	VerifySSL *bool `yaml:"verify_ssl" mapstructure:"verify_ssl"`

	// Signal cancels a request from the caller side.
	Signal Signal `yaml:"-" mapstructure:"-" validate:"-"`

	// Extras holds unrecognized options for backend-specific use.
	Extras map[string]any `yaml:",inline" mapstructure:",remain" validate:"-"`
}

// Validate checks that the settings are usable.
func (s Settings) Validate() error {
	return validation.Validate(s)
}

// TimeoutDuration converts the timeout to a time.Duration, applying DefaultTimeout.
func (s Settings) TimeoutDuration() time.Duration {
	seconds := s.Timeout
	if seconds <= 0 {
		seconds = DefaultTimeout
	}
	return time.Duration(seconds) * time.Second
}

// ShouldVerifySSL reports whether TLS certificates must be verified.
func (s Settings) ShouldVerifySSL() bool {
	return s.VerifySSL == nil || *s.VerifySSL
}

// Merge returns a new Settings where each field set in override replaces the
// one in base. Headers and Extras merge key by key, override winning per key.
// Header names are compared case-insensitively and returned in canonical
// form. Neither input is modified.
func Merge(base Settings, override *Settings) Settings {
	merged := base
	merged.Headers = CanonicalHeaders(base.Headers)
	merged.Extras = mergeMaps(base.Extras, nil)
	if override == nil {
		return merged
	}

	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	if override.Timeout > 0 {
		merged.Timeout = override.Timeout
	}
	if override.AgentTag != "" {
		merged.AgentTag = override.AgentTag
	}
	if override.VerifySSL != nil {
		v := *override.VerifySSL
		merged.VerifySSL = &v
	}
	if override.Signal != nil {
		merged.Signal = override.Signal
	}
	merged.Headers = mergeMaps(merged.Headers, CanonicalHeaders(override.Headers))
	merged.Extras = mergeMaps(base.Extras, override.Extras)
	return merged
}

// CanonicalHeaders returns a copy of h keyed by http.CanonicalHeaderKey. When
// names in h differ only in case, the one already in canonical form wins,
// then the lexically greatest.
func CanonicalHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ca, cb := a == http.CanonicalHeaderKey(a), b == http.CanonicalHeaderKey(b)
		switch {
		case ca == cb:
			return cmp.Compare(a, b)
		case ca:
			return 1
		default:
			return -1
		}
	})
	out := make(map[string]string, len(h))
	for _, k := range keys {
		out[http.CanonicalHeaderKey(k)] = h[k]
	}
	return out
}

func mergeMaps[V any](base, override map[string]V) map[string]V {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]V, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
