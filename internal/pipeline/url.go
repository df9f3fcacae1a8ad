package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so that equality works as the dedup key.
// It lowercases the scheme and host, strips default ports and fragments, and
// sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ResolveURL makes rawURL absolute against base and normalizes it. Relative
// links discovered during parsing go through here before they touch a queue.
func ResolveURL(base, rawURL string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return NormalizeURL(b.ResolveReference(u).String())
}

// SameAuthority reports whether rawURL shares base's authority. Download
// admission uses this as the scope check.
func SameAuthority(base, rawURL string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Host, u.Host)
}
