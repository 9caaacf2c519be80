package store

import (
	"time"

	"github.com/arrdeck/arrdeck/internal/services"
)

// DefaultProfileName names the profile created on first use.
const DefaultProfileName = "Default"

// Profile is a named, switchable bundle of service configurations.
type Profile struct {
	ID             string
	Name           string
	IsEnabled      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Configurations []services.Configuration
}

// Secrets carries credentials for a configuration. Only the fields matching
// the configuration's authentication type may be set.
type Secrets struct {
	APIKey           string
	Username         string
	Password         string
	MACAddress       string
	BroadcastAddress string
}

// Credentials is a username/password pair read from the vault.
type Credentials struct {
	Username string
	Password string
}

// WakeOnLANTarget is the MAC/broadcast pair stored for wakeOnLAN.
type WakeOnLANTarget struct {
	MACAddress       string
	BroadcastAddress string
}

// ImportedProfile is a profile entry from an export document, already
// decoded and stripped of document-level identifiers.
type ImportedProfile struct {
	Name           string
	CreatedAt      time.Time
	Configurations []services.Configuration
}
