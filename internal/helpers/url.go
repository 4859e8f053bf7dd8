package helpers

import (
	"errors"
	"net/url"
	"strings"
)

// BaseURL trims whitespace and trailing slashes so paths can be appended
// with a leading slash.
func BaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// ResolveURL resolves ref against base the way a browser resolves a form
// action. Absolute refs are returned unchanged. The ref is not entity-decoded.
func ResolveURL(base, ref string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("empty base url")
	}
	b, err := url.Parse(BaseURL(base))
	if err != nil {
		return "", err
	}
	if b.Scheme == "" || b.Host == "" {
		return "", errors.New("base url must be absolute")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
