package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultInstance = "default"

	// HomeEnv overrides the arrdeck home directory.
	HomeEnv = "ARRDECK_HOME"
)

// InstancePaths contains all paths for an arrdeck instance.
type InstancePaths struct {
	Home      string // Instance home directory
	ConfigDB  string // SQLite profile/configuration store
	SecretsDB string // SQLite secret vault (encrypted values only)
	Lock      string // Writer lock file
	Logs      string // Logs directory
	Exports   string // Default directory for export documents
}

// InstancePathsAt returns the instance layout rooted at home.
func InstancePathsAt(home, instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(home, "instances", instanceName)

	return InstancePaths{
		Home:      instanceDir,
		ConfigDB:  filepath.Join(instanceDir, "config.db"),
		SecretsDB: filepath.Join(instanceDir, "secrets.db"),
		Lock:      filepath.Join(instanceDir, "arrdeck.lock"),
		Logs:      filepath.Join(instanceDir, "logs"),
		Exports:   filepath.Join(instanceDir, "exports"),
	}
}

// SettingsPath returns the installation-wide settings file under home.
func SettingsPath(home string) string {
	return filepath.Join(home, "settings.toml")
}

// GetHome returns the arrdeck home directory: $ARRDECK_HOME when set,
// otherwise ~/.arrdeck.
func GetHome() string {
	if env := strings.TrimSpace(os.Getenv(HomeEnv)); env != "" {
		return ExpandPath(env)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".arrdeck")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the instance if it
// does not exist. The instance home is private to the user since it holds
// the vault key.
func EnsureInstanceDirs(paths InstancePaths) error {
	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return err
	}
	for _, dir := range []string{paths.Logs, paths.Exports} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
