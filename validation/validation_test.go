package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,http_url"`
	Timeout  int    `mapstructure:"timeout" validate:"gte=0"`
	Protocol string `validate:"omitempty,oneof=http1 http2"`
}

func TestValidate_Valid(t *testing.T) {
	tests := []sample{
		{},
		{BaseURL: "https://api.example.com/api/4.0", Timeout: 30},
		{Protocol: "http2"},
	}
	for _, s := range tests {
		if err := Validate(s); err != nil {
			t.Errorf("Validate(%+v) unexpected error: %v", s, err)
		}
	}
}

func TestValidate_ReportsConfigKeys(t *testing.T) {
	err := Validate(sample{BaseURL: "not a url", Timeout: -1, Protocol: "gopher"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(verr.Fields), verr.Fields)
	}

	msg := err.Error()
	for _, want := range []string{
		"base_url: must be a valid http or https URL",
		"timeout: must be greater than or equal to 0",
		"protocol: must be one of: http1 http2",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"BaseURL":  "base_u_r_l",
		"Timeout":  "timeout",
		"AgentTag": "agent_tag",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
