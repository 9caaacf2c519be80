package services

import (
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// Type identifies a managed service kind.
type Type string

const (
	TypeRadarr    Type = "radarr"
	TypeSonarr    Type = "sonarr"
	TypeLidarr    Type = "lidarr"
	TypeSABnzbd   Type = "sabnzbd"
	TypeNZBGet    Type = "nzbget"
	TypeTautulli  Type = "tautulli"
	TypeOverseerr Type = "overseerr"
	TypeWakeOnLAN Type = "wakeOnLAN"
)

// AuthType describes which secret a service needs.
type AuthType string

const (
	AuthAPIKey           AuthType = "apiKey"
	AuthUsernamePassword AuthType = "usernamePassword"
	AuthNone             AuthType = "none"
)

// Descriptor holds the fixed rules for one service type.
type Descriptor struct {
	Type         Type
	DisplayName  string
	Auth         AuthType
	HostRequired bool
	DefaultPort  int
}

var registry = map[Type]Descriptor{
	TypeRadarr:    {Type: TypeRadarr, DisplayName: "Radarr", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 7878},
	TypeSonarr:    {Type: TypeSonarr, DisplayName: "Sonarr", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 8989},
	TypeLidarr:    {Type: TypeLidarr, DisplayName: "Lidarr", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 8686},
	TypeSABnzbd:   {Type: TypeSABnzbd, DisplayName: "SABnzbd", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 8080},
	TypeNZBGet:    {Type: TypeNZBGet, DisplayName: "NZBGet", Auth: AuthUsernamePassword, HostRequired: true, DefaultPort: 6789},
	TypeTautulli:  {Type: TypeTautulli, DisplayName: "Tautulli", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 8181},
	TypeOverseerr: {Type: TypeOverseerr, DisplayName: "Overseerr", Auth: AuthAPIKey, HostRequired: true, DefaultPort: 5055},
	TypeWakeOnLAN: {Type: TypeWakeOnLAN, DisplayName: "Wake on LAN", Auth: AuthNone},
}

// Lookup returns the descriptor registered for t.
func Lookup(t Type) (Descriptor, bool) {
	d, ok := registry[t]
	return d, ok
}

// Valid reports whether t is a known service type.
func (t Type) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Valid reports whether a is a known authentication type.
func (a AuthType) Valid() bool {
	switch a {
	case AuthAPIKey, AuthUsernamePassword, AuthNone:
		return true
	}
	return false
}

// Descriptors returns every registered descriptor ordered by type.
func Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Configuration is the non-secret connection metadata for one service
// instance. Credentials never live here; they are kept in the vault keyed
// by ID.
type Configuration struct {
	ID        string
	ProfileID string
	Type      Type
	IsEnabled bool
	Host      string
	AuthType  AuthType
	Headers   map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize fills the authentication type from the registry when unset,
// trims the host and rewrites header names to their canonical form
// (x-api-key becomes X-Api-Key). Names that collide after canonicalisation
// are left untouched so Validate can report them.
func (c Configuration) Normalize() Configuration {
	if c.AuthType == "" {
		if d, ok := registry[c.Type]; ok {
			c.AuthType = d.Auth
		}
	}
	c.Host = strings.TrimSpace(c.Host)
	c.Headers = canonicalHeaders(c.Headers)
	return c
}

func canonicalHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		if _, dup := out[canonical]; dup {
			return headers
		}
		out[canonical] = value
	}
	return out
}

// Clone returns a deep copy of c.
func (c Configuration) Clone() Configuration {
	if c.Headers != nil {
		headers := make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		c.Headers = headers
	}
	return c
}
