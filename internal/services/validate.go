package services

import (
	"fmt"
	"net/textproto"
	"sort"
	"strings"

	"github.com/arrdeck/arrdeck/internal/validate"
)

// FieldError reports the first field of a configuration that failed
// validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the structural rules for c. Connection fields are only
// checked when the configuration is enabled.
func (c Configuration) Validate() error {
	desc, ok := registry[c.Type]
	if !ok {
		return &FieldError{Field: "serviceType", Message: fmt.Sprintf("unknown service type %q", c.Type)}
	}

	auth := c.AuthType
	if auth == "" {
		auth = desc.Auth
	}
	if auth != desc.Auth {
		return &FieldError{
			Field:   "authenticationType",
			Message: fmt.Sprintf("%s requires %s, got %q", desc.DisplayName, desc.Auth, c.AuthType),
		}
	}

	if err := validateHeaders(c.Headers); err != nil {
		return err
	}

	if !c.IsEnabled {
		return nil
	}

	if desc.HostRequired {
		if err := validateHost(c.Host); err != nil {
			return err
		}
	}
	return nil
}

// IsValid reports whether Validate passes.
func (c Configuration) IsValid() bool {
	return c.Validate() == nil
}

func validateHost(raw string) error {
	host := strings.TrimSpace(raw)
	if host == "" {
		return &FieldError{Field: "host", Message: "host is required"}
	}
	if err := validate.HTTPURL(host); err != nil {
		return &FieldError{Field: "host", Message: err.Error()}
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	// Sorted so the reported field is deterministic.
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		if err := validate.HeaderName(name); err != nil {
			return &FieldError{Field: "headers", Message: err.Error()}
		}
		if err := validate.HeaderValue(name, headers[name]); err != nil {
			return &FieldError{Field: "headers", Message: err.Error()}
		}
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		if other, dup := seen[canonical]; dup {
			return &FieldError{
				Field:   "headers",
				Message: fmt.Sprintf("%q and %q name the same header", other, name),
			}
		}
		seen[canonical] = name
	}
	return nil
}
