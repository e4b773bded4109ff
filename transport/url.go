package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Values are query parameters. A nil value omits the parameter.
type Values map[string]any

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

// IsAbsoluteURL reports whether path already carries an http or https scheme.
func IsAbsoluteURL(path string) bool {
	return absoluteURL.MatchString(path)
}

// MakeURL resolves path against settings.BaseURL unless it is already
// absolute, then appends query.
func MakeURL(path string, settings Settings, query Values) (string, error) {
	if !IsAbsoluteURL(path) {
		path = settings.BaseURL + path
	}
	return AddQueryParams(path, query)
}

// AddQueryParams appends query to path, keeping any query string already in
// path. Keys are emitted in sorted order.
func AddQueryParams(path string, query Values) (string, error) {
	encoded, err := EncodeParams(query)
	if err != nil {
		return "", err
	}
	if encoded == "" {
		return path, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + encoded, nil
}

// EncodeParams serializes query as name=value pairs joined by '&'.
func EncodeParams(query Values) (string, error) {
	if len(query) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok, err := encodeParam(query[k])
		if err != nil {
			return "", NewSerializationError(fmt.Errorf("query parameter %q: %w", k, err))
		}
		if !ok {
			continue
		}
		pairs = append(pairs, escapeComponent(k)+"="+escapeComponent(v))
	}
	return strings.Join(pairs, "&"), nil
}

// encodeParam renders one parameter value. ok is false for absent values.
func encodeParam(value any) (string, bool, error) {
	if isNil(value) {
		return "", false, nil
	}
	switch v := value.(type) {
	case string:
		return v, true, nil
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000Z07:00"), true, nil
	case *time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000Z07:00"), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case fmt.Stringer:
		return v.String(), true, nil
	}

	rv := reflect.Indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	}

	data, err := marshalJSON(value)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// escapeComponent percent-encodes s the way URI components are encoded,
// spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// marshalJSON encodes v without HTML escaping and without a trailing newline.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
