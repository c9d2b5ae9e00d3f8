package zapclient

import "strconv"

// Result is a decoded control API response. The scanner returns loosely typed
// JSON objects whose field names and value types vary across versions, so
// accessors stringify scalars rather than asserting a concrete type.
type Result map[string]any

// Str returns the value under key rendered as a string, or "" when absent.
func (r Result) Str(key string) string {
	return stringify(r[key])
}

// First returns the first non-empty value among the given keys. It is the
// compatibility shim for the scanner's inconsistent field naming (the same
// handle is returned as "scan", "scanid" or "scanId" depending on endpoint
// and version).
func (r Result) First(keys ...string) string {
	for _, k := range keys {
		if v := r.Str(k); v != "" {
			return v
		}
	}
	return ""
}

// Int returns the value under key parsed as an integer. Unparseable or
// missing values yield the fallback.
func (r Result) Int(key string, fallback int) int {
	s := r.Str(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// List returns the value under key as a slice of objects, or nil when the
// field is absent or shaped differently.
func (r Result) List(key string) []Result {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Result, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Result(m))
		}
	}
	return out
}

// Map returns the value under key as a nested object, or nil.
func (r Result) Map(key string) Result {
	if m, ok := r[key].(map[string]any); ok {
		return Result(m)
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; the control API only uses integral
		// values so render without an exponent.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
