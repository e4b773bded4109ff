package transport

import "net/http"

// OK reports whether raw carries a success status, 200 (OK) through 226 (IM Used).
// Redirects, informational and error codes are not ok.
func OK(raw *RawResponse) bool {
	return raw != nil && IsOKStatus(raw.StatusCode)
}

// IsOKStatus reports whether code is within 200..226 inclusive.
func IsOKStatus(code int) bool {
	return code >= http.StatusOK && code <= http.StatusIMUsed
}
