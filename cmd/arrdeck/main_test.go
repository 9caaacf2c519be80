package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/config/store"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, home, stdin string, args ...string) cliResult {
	t.Helper()
	t.Setenv(config.SecretBackendEnv, config.SecretBackendFile)
	t.Setenv(config.LogLevelEnv, "")

	a := newApp(strings.NewReader(stdin), &bytes.Buffer{})
	root := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--home", home, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func mustRun(t *testing.T, home, stdin string, args ...string) string {
	t.Helper()
	res := runCLI(t, home, stdin, args...)
	require.NoError(t, res.err, "stderr: %s", res.stderr)
	return res.stdout
}

func listProfiles(t *testing.T, home string) []profileView {
	t.Helper()
	var views []profileView
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "", "profile", "list", "--json")), &views))
	return views
}

func attachRadarr(t *testing.T, home, stdin string, args ...string) configurationView {
	t.Helper()
	cmd := append([]string{"service", "attach", "radarr", "--host", "http://nas.local:7878", "--json"}, args...)
	var payload struct {
		Success       bool              `json:"success"`
		Configuration configurationView `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, stdin, cmd...)), &payload))
	require.True(t, payload.Success)
	return payload.Configuration
}

func TestProfileLifecycle(t *testing.T) {
	home := t.TempDir()

	profiles := listProfiles(t, home)
	require.Len(t, profiles, 1)
	require.Equal(t, store.DefaultProfileName, profiles[0].Name)
	require.True(t, profiles[0].IsEnabled)

	out := mustRun(t, home, "", "profile", "create", "Work")
	require.Contains(t, out, "Created profile Work")

	res := runCLI(t, home, "", "profile", "create", "work")
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))

	mustRun(t, home, "", "profile", "switch", "Work")
	for _, p := range listProfiles(t, home) {
		require.Equal(t, p.Name == "Work", p.IsEnabled, p.Name)
	}

	out = mustRun(t, home, "", "profile", "rename", "Work", "Office")
	require.Contains(t, out, "Renamed profile to Office")

	out = mustRun(t, home, "", "profile", "delete", "Office")
	require.Contains(t, out, "active profile is Default")

	profiles = listProfiles(t, home)
	require.Len(t, profiles, 1)
	require.True(t, profiles[0].IsEnabled)

	res = runCLI(t, home, "", "profile", "delete", store.DefaultProfileName)
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))
	require.Contains(t, res.stderr, "last profile")

	res = runCLI(t, home, "", "profile", "switch", "missing")
	require.Error(t, res.err)
	require.Equal(t, exitNotFound, exitCode(res.err))
}

func TestProfileCreateWithSwitch(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "", "profile", "create", "Travel", "--switch")

	var active []string
	for _, p := range listProfiles(t, home) {
		if p.IsEnabled {
			active = append(active, p.Name)
		}
	}
	require.Equal(t, []string{"Travel"}, active)
}

func TestAttachWithSecretsAndCheck(t *testing.T) {
	home := t.TempDir()
	cfg := attachRadarr(t, home, "key-123\n", "--with-secrets", "--header", "X-Forwarded-Proto=https")
	require.Equal(t, "radarr", cfg.ServiceType)
	require.Equal(t, "apiKey", cfg.AuthenticationType)
	require.Equal(t, map[string]string{"X-Forwarded-Proto": "https"}, cfg.Headers)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "", "secret", "check", "--json")), &results))
	require.Len(t, results, 1)
	require.Equal(t, true, results[0]["valid"])

	exported := mustRun(t, home, "", "export")
	require.Contains(t, exported, "nas.local:7878")
	require.NotContains(t, exported, "key-123")

	mustRun(t, home, "", "secret", "clear", cfg.ID)
	res := runCLI(t, home, "", "secret", "check", cfg.ID)
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))
	require.Contains(t, res.stdout, "no API key stored")
}

func TestSecretCommands(t *testing.T) {
	home := t.TempDir()
	radarr := attachRadarr(t, home, "")

	res := runCLI(t, home, "", "secret", "check")
	require.Error(t, res.err)

	mustRun(t, home, "abc\n", "secret", "set-api-key", radarr.ID)
	mustRun(t, home, "", "secret", "check", radarr.ID)

	res = runCLI(t, home, "alice\nhunter2\n", "secret", "set-credentials", radarr.ID)
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))

	var nzb struct {
		Configuration configurationView `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "",
		"service", "attach", "nzbget", "--host", "http://nas.local:6789", "--json")), &nzb))
	mustRun(t, home, "hunter2\n", "secret", "set-credentials", nzb.Configuration.ID, "--username", "alice")
	mustRun(t, home, "", "secret", "check", nzb.Configuration.ID)

	var wol struct {
		Configuration configurationView `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "",
		"service", "attach", "wakeOnLAN", "--json")), &wol))
	out := mustRun(t, home, "", "secret", "set-wol", wol.Configuration.ID, "--mac", "00-11-22-AA-BB-CC")
	require.Contains(t, out, "00:11:22:aa:bb:cc via "+store.DefaultBroadcastAddress)

	res = runCLI(t, home, "", "secret", "set-api-key", "does-not-exist")
	require.Error(t, res.err)

	res = runCLI(t, home, "", "secret", "clear", "--all")
	require.Error(t, res.err)
	mustRun(t, home, "", "secret", "clear", "--all", "--yes")

	res = runCLI(t, home, "", "secret", "check", radarr.ID)
	require.Error(t, res.err)
}

func TestServiceUpdateAndDetach(t *testing.T) {
	home := t.TempDir()
	cfg := attachRadarr(t, home, "")

	var updated struct {
		Configuration configurationView `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "",
		"service", "update", cfg.ID, "--host", "https://radarr.example.com", "--disable", "--json")), &updated))
	require.Equal(t, "https://radarr.example.com", updated.Configuration.Host)
	require.False(t, updated.Configuration.IsEnabled)
	require.Equal(t, cfg.CreatedAt.Unix(), updated.Configuration.CreatedAt.Unix())

	res := runCLI(t, home, "", "service", "update", cfg.ID, "--enable", "--host", "ftp://radarr")
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))

	mustRun(t, home, "", "service", "detach", cfg.ID)
	res = runCLI(t, home, "", "service", "detach", cfg.ID)
	require.Error(t, res.err)
	require.Equal(t, exitNotFound, exitCode(res.err))

	var views []configurationView
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "", "service", "list", "--json")), &views))
	require.Empty(t, views)
}

func TestServiceAttachRejectsBadInput(t *testing.T) {
	home := t.TempDir()

	res := runCLI(t, home, "", "service", "attach", "plex", "--host", "http://nas.local")
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))

	res = runCLI(t, home, "", "service", "attach", "radarr")
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))

	res = runCLI(t, home, "", "service", "attach", "radarr", "--host", "http://nas.local", "--header", "novalue")
	require.Error(t, res.err)
	require.Equal(t, exitValidation, exitCode(res.err))
}

func TestServiceTypes(t *testing.T) {
	out := mustRun(t, t.TempDir(), "", "service", "types")
	for _, name := range []string{"radarr", "nzbget", "wakeOnLAN", "7878"} {
		require.Contains(t, out, name)
	}
}

func TestExportImportBetweenInstances(t *testing.T) {
	source := t.TempDir()
	mustRun(t, source, "", "profile", "create", "Work")
	attachRadarr(t, source, "secret-key\n", "--profile", "Work", "--with-secrets")

	dir := t.TempDir()
	mustRun(t, source, "", "export", "--format", "yaml", "-o", dir)
	files, err := filepath.Glob(filepath.Join(dir, "arrdeck-all-*.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret-key")

	var report struct {
		ProfileCount int      `json:"profileCount"`
		Conflicts    []string `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, source, "", "import", files[0], "--dry-run", "--json")), &report))
	require.Equal(t, 2, report.ProfileCount)
	require.ElementsMatch(t, []string{"Default", "Work"}, report.Conflicts)

	target := t.TempDir()
	out := mustRun(t, target, "", "import", files[0])
	require.Contains(t, out, "Imported 1 profile(s)")
	require.Contains(t, out, "skipped existing: Default")

	profiles := listProfiles(t, target)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		if p.Name == "Work" {
			require.False(t, p.IsEnabled)
			require.Len(t, p.Configurations, 1)
			res := runCLI(t, target, "", "secret", "check", p.Configurations[0].ID)
			require.Error(t, res.err)
		}
	}
}

func TestImportFromStdinRejectsBadDocument(t *testing.T) {
	home := t.TempDir()
	res := runCLI(t, home, `{"version": 7, "profiles": []}`, "import", "-")
	require.Error(t, res.err)
	require.Equal(t, exitData, exitCode(res.err))
	require.Len(t, listProfiles(t, home), 1)
}

func TestSaveExportUsesInstanceDirectory(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "", "export", "--profile", store.DefaultProfileName, "--save")

	paths := config.InstancePathsAt(home, config.DefaultInstance)
	files, err := filepath.Glob(filepath.Join(paths.Exports, "arrdeck-default-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestInstanceFlagSeparatesStores(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "", "--instance", "lab", "profile", "create", "Lab")

	require.Len(t, listProfiles(t, home), 1)

	var views []profileView
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "", "--instance", "lab", "profile", "list", "--json")), &views))
	require.Len(t, views, 2)

	res := runCLI(t, home, "", "--instance", "../escape", "profile", "list")
	require.Error(t, res.err)
}

func TestErrorOutputIsJSONInJSONMode(t *testing.T) {
	res := runCLI(t, t.TempDir(), "", "profile", "show", "nope", "--json")
	require.Error(t, res.err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stderr), &payload))
	require.Equal(t, false, payload["success"])

	var reported reportedError
	require.True(t, errors.As(res.err, &reported))
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-A=1", " X-B = two=2"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"X-A": "1", "X-B": " two=2"}, headers)

	headers, err = parseHeaders([]string{"x-forwarded-proto=https"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"X-Forwarded-Proto": "https"}, headers)

	_, err = parseHeaders([]string{"=value"})
	require.True(t, store.IsValidation(err))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, exitFailure, exitCode(errors.New("boom")))
	require.Equal(t, exitValidation, exitCode(reportedError{err: store.ValidationError{Field: "name", Message: "x"}}))
	require.Equal(t, exitNotFound, exitCode(store.NotFoundError{Entity: "profile", Key: "x"}))
	require.Equal(t, exitData, exitCode(store.DataError{Op: "decode", Err: errors.New("bad")}))
	require.Equal(t, exitStorage, exitCode(store.StorageError{Op: "open", Err: errors.New("io")}))
}

func TestConfigSetAndShow(t *testing.T) {
	home := t.TempDir()

	res := runCLI(t, home, "", "config", "set")
	require.Error(t, res.err)

	res = runCLI(t, home, "", "config", "set", "--secret-backend", "vault")
	require.Error(t, res.err)

	mustRun(t, home, "", "config", "set", "--default-instance", "lab", "--export-format", "YAML")
	data, err := os.ReadFile(config.SettingsPath(home))
	require.NoError(t, err)
	require.Contains(t, string(data), "lab")
	require.NotContains(t, string(data), config.SecretBackendFile)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "", "config", "show", "--json")), &view))
	require.Equal(t, "lab", view["instance"])
	require.Equal(t, "yaml", view["exportFormat"])
	require.Equal(t, config.SecretBackendFile, view["secretBackend"])

	mustRun(t, home, "", "profile", "create", "Lab")
	paths := config.InstancePathsAt(home, "lab")
	_, err = os.Stat(paths.ConfigDB)
	require.NoError(t, err)
}

func TestReadSecretKeepsSurroundingSpaces(t *testing.T) {
	a := newApp(strings.NewReader("  spaced key  \r\nnext\n"), &bytes.Buffer{})

	value, err := a.readSecret("API key")
	require.NoError(t, err)
	require.Equal(t, "  spaced key  ", value)

	value, err = a.readSecret("API key")
	require.NoError(t, err)
	require.Equal(t, "next", value)

	require.Equal(t, " pw ", trimLineEnding(" pw "))
}

func TestServiceUpdateReplacesHeaderRegardlessOfCase(t *testing.T) {
	home := t.TempDir()
	cfg := attachRadarr(t, home, "", "--header", "X-Forwarded-Proto=http")

	var updated struct {
		Configuration configurationView `json:"configuration"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "",
		"service", "update", cfg.ID, "--header", "x-forwarded-proto=https", "--json")), &updated))
	require.Equal(t, map[string]string{"X-Forwarded-Proto": "https"}, updated.Configuration.Headers)
}
