package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAuthTypes(t *testing.T) {
	t.Parallel()

	want := map[Type]AuthType{
		TypeRadarr:    AuthAPIKey,
		TypeSonarr:    AuthAPIKey,
		TypeLidarr:    AuthAPIKey,
		TypeSABnzbd:   AuthAPIKey,
		TypeNZBGet:    AuthUsernamePassword,
		TypeTautulli:  AuthAPIKey,
		TypeOverseerr: AuthAPIKey,
		TypeWakeOnLAN: AuthNone,
	}
	require.Len(t, Descriptors(), len(want))
	for typ, auth := range want {
		d, ok := Lookup(typ)
		require.True(t, ok, "missing %s", typ)
		require.Equal(t, auth, d.Auth, typ)
	}
	require.False(t, Type("plex").Valid())
}

func TestValidateEnabledGate(t *testing.T) {
	t.Parallel()

	cfg := Configuration{Type: TypeRadarr, IsEnabled: true}
	require.False(t, cfg.IsValid())

	var fe *FieldError
	require.True(t, errors.As(cfg.Validate(), &fe))
	require.Equal(t, "host", fe.Field)

	cfg.IsEnabled = false
	require.True(t, cfg.IsValid())
	cfg.Host = "::not a url::"
	require.True(t, cfg.IsValid())
}

func TestValidateHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		typ   Type
		host  string
		valid bool
	}{
		{name: "http", typ: TypeSonarr, host: "http://10.0.0.2:8989", valid: true},
		{name: "https with path", typ: TypeOverseerr, host: "https://requests.example.com/base", valid: true},
		{name: "surrounding space", typ: TypeLidarr, host: "  http://nas:8686  ", valid: true},
		{name: "missing scheme", typ: TypeRadarr, host: "nas:7878", valid: false},
		{name: "ftp scheme", typ: TypeSABnzbd, host: "ftp://nas", valid: false},
		{name: "scheme only", typ: TypeTautulli, host: "http://", valid: false},
		{name: "wake on lan needs no host", typ: TypeWakeOnLAN, host: "", valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Configuration{Type: tt.typ, IsEnabled: true, Host: tt.host}
			require.Equal(t, tt.valid, cfg.IsValid(), "validate: %v", cfg.Validate())
		})
	}
}

func TestValidateAuthTypeMismatch(t *testing.T) {
	t.Parallel()

	cfg := Configuration{Type: TypeNZBGet, AuthType: AuthAPIKey}
	var fe *FieldError
	require.True(t, errors.As(cfg.Validate(), &fe))
	require.Equal(t, "authenticationType", fe.Field)

	require.Equal(t, AuthUsernamePassword, Configuration{Type: TypeNZBGet}.Normalize().AuthType)
}

func TestValidateUnknownType(t *testing.T) {
	t.Parallel()

	var fe *FieldError
	require.True(t, errors.As(Configuration{Type: "plex"}.Validate(), &fe))
	require.Equal(t, "serviceType", fe.Field)
}

func TestValidateHeaders(t *testing.T) {
	t.Parallel()

	base := Configuration{Type: TypeRadarr}

	ok := base
	ok.Headers = map[string]string{"X-Forwarded-User": "me"}
	require.NoError(t, ok.Validate())

	for _, headers := range []map[string]string{
		{" ": "v"},
		{"Bad:Name": "v"},
		{"X-Test": "a\r\nInjected: 1"},
	} {
		cfg := base
		cfg.Headers = headers
		var fe *FieldError
		require.True(t, errors.As(cfg.Validate(), &fe), "headers %v", headers)
		require.Equal(t, "headers", fe.Field)
	}
}

func TestHeaderNamesAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	cfg := Configuration{Type: TypeRadarr, Headers: map[string]string{"X-Foo": "1", "x-foo": "2"}}
	var fe *FieldError
	require.True(t, errors.As(cfg.Validate(), &fe))
	require.Equal(t, "headers", fe.Field)
	require.Contains(t, fe.Message, "same header")

	normalized := cfg.Normalize()
	require.Len(t, normalized.Headers, 2, "colliding names are left for Validate to report")
	require.False(t, normalized.IsValid())

	in := map[string]string{"x-forwarded-user": "me", " x-real-ip ": "10.0.0.1"}
	got := Configuration{Type: TypeRadarr, Headers: in}.Normalize()
	require.Equal(t, map[string]string{"X-Forwarded-User": "me", "X-Real-Ip": "10.0.0.1"}, got.Headers)
	require.Contains(t, in, "x-forwarded-user", "input map must not be rewritten")
}

func TestCloneCopiesHeaders(t *testing.T) {
	t.Parallel()

	orig := Configuration{Type: TypeRadarr, Headers: map[string]string{"A": "1"}}
	clone := orig.Clone()
	clone.Headers["A"] = "2"
	require.Equal(t, "1", orig.Headers["A"])
}
