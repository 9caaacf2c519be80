// Package validate holds reusable checks for user-supplied connection
// data.
package validate

import (
	"fmt"
	"net/url"
	"strings"
)

// HTTPURL ensures the URL uses the http or https scheme and has a
// non-empty host.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// HeaderName rejects names that would break or smuggle an HTTP header line.
func HeaderName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("header name is empty")
	}
	if strings.ContainsAny(name, "\r\n:") {
		return fmt.Errorf("header name %q contains invalid characters", name)
	}
	return nil
}

// HeaderValue rejects values containing line breaks.
func HeaderValue(name, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("header %q value contains a line break", name)
	}
	return nil
}
