// Package target normalizes caller-supplied scan targets before they are
// handed to the scanner.
package target

import (
	"fmt"
	"net/url"
	"strings"
)

// Sanitize normalizes a target URL for scanning: the fragment is stripped
// (including literal '#' or '%23' left in the path by sloppy callers) and an
// empty path defaults to "/".
func Sanitize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing target %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("target %q must be an absolute URL", raw)
	}

	path := u.Path
	path = strings.ReplaceAll(path, "%23", "")
	path = strings.ReplaceAll(path, "#", "")
	if path == "" || path == "//" {
		path = "/"
	}

	u.Path = path
	u.Fragment = ""
	return u.String(), nil
}

// CanonicalBase reduces a URL to scheme+host+path, dropping query and
// fragment. The scanner's alert views filter by this base form.
func CanonicalBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
