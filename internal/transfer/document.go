// Package transfer converts profiles to and from the portable export
// document. The document never carries credentials.
package transfer

import (
	"net/textproto"
	"time"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/services"
)

// CurrentVersion is the document version written by Export.
const CurrentVersion = 1

// Document is the versioned export container.
type Document struct {
	Version    int       `json:"version" yaml:"version"`
	ExportDate time.Time `json:"exportDate" yaml:"exportDate"`
	Profiles   []Profile `json:"profiles" yaml:"profiles"`
}

// Profile is one exported profile.
type Profile struct {
	ID                    string          `json:"id" yaml:"id"`
	Name                  string          `json:"name" yaml:"name"`
	IsEnabled             bool            `json:"isEnabled" yaml:"isEnabled"`
	CreatedAt             time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt" yaml:"updatedAt"`
	ServiceConfigurations []Configuration `json:"serviceConfigurations" yaml:"serviceConfigurations"`
}

// Configuration is one exported service configuration. There is
// intentionally no field for any secret.
type Configuration struct {
	ID                 string            `json:"id" yaml:"id"`
	ServiceType        string            `json:"serviceType" yaml:"serviceType"`
	IsEnabled          bool              `json:"isEnabled" yaml:"isEnabled"`
	Host               string            `json:"host" yaml:"host"`
	Headers            map[string]string `json:"headers" yaml:"headers"`
	AuthenticationType string            `json:"authenticationType" yaml:"authenticationType"`
}

// credentialHeaders are dropped on export; their values are secrets in
// all but name.
var credentialHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
	"Cookie":              true,
	"X-Plex-Token":        true,
}

// IsCredentialHeader reports whether a header name is stripped on export.
func IsCredentialHeader(name string) bool {
	return credentialHeaders[textproto.CanonicalMIMEHeaderKey(name)]
}

func fromProfile(p store.Profile) Profile {
	out := Profile{
		ID:                    p.ID,
		Name:                  p.Name,
		IsEnabled:             p.IsEnabled,
		CreatedAt:             p.CreatedAt.UTC(),
		UpdatedAt:             p.UpdatedAt.UTC(),
		ServiceConfigurations: make([]Configuration, 0, len(p.Configurations)),
	}
	for _, cfg := range p.Configurations {
		out.ServiceConfigurations = append(out.ServiceConfigurations, fromConfiguration(cfg))
	}
	return out
}

func fromConfiguration(cfg services.Configuration) Configuration {
	headers := make(map[string]string, len(cfg.Headers))
	for name, value := range cfg.Headers {
		if IsCredentialHeader(name) {
			continue
		}
		headers[name] = value
	}
	return Configuration{
		ID:                 cfg.ID,
		ServiceType:        string(cfg.Type),
		IsEnabled:          cfg.IsEnabled,
		Host:               cfg.Host,
		Headers:            headers,
		AuthenticationType: string(cfg.AuthType),
	}
}

func (c Configuration) toConfiguration() services.Configuration {
	headers := make(map[string]string, len(c.Headers))
	for name, value := range c.Headers {
		headers[name] = value
	}
	return services.Configuration{
		Type:      services.Type(c.ServiceType),
		IsEnabled: c.IsEnabled,
		Host:      c.Host,
		AuthType:  services.AuthType(c.AuthenticationType),
		Headers:   headers,
	}
}

func (p Profile) toImported() store.ImportedProfile {
	out := store.ImportedProfile{
		Name:           p.Name,
		CreatedAt:      p.CreatedAt,
		Configurations: make([]services.Configuration, 0, len(p.ServiceConfigurations)),
	}
	for _, cfg := range p.ServiceConfigurations {
		out.Configurations = append(out.Configurations, cfg.toConfiguration())
	}
	return out
}
