package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/logging"
)

// app carries global flag values and process streams shared by commands.
type app struct {
	home     string
	instance string
	logLevel string

	in     io.Reader
	reader *bufio.Reader
	prompt io.Writer
}

func newApp(in io.Reader, prompt io.Writer) *app {
	return &app{in: in, prompt: prompt}
}

// environment is the resolved settings and instance layout for one command.
type environment struct {
	home     string
	instance string
	settings config.Settings
	paths    config.InstancePaths
	logger   *zap.Logger
}

// resolve applies flags over the settings file and builds the logger.
func (a *app) resolve(cmd *cobra.Command) (*environment, error) {
	home := config.ExpandPath(strings.TrimSpace(a.home))
	if home == "" {
		home = config.GetHome()
	}

	settings, _, err := config.LoadSettings(config.SettingsPath(home))
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		settings.LogLevel = a.logLevel
	}
	instance := strings.TrimSpace(a.instance)
	if instance == "" {
		instance = settings.Instance
	}
	if strings.ContainsAny(instance, `/\`) {
		return nil, fmt.Errorf("instance %q must not contain path separators", instance)
	}
	paths := config.InstancePathsAt(home, instance)
	if err := config.EnsureInstanceDirs(paths); err != nil {
		return nil, fmt.Errorf("prepare instance %s: %w", instance, err)
	}

	logger, err := logging.New(logging.Options{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: cmd.ErrOrStderr(),
		Dir:    paths.Logs,
	})
	if err != nil {
		return nil, err
	}
	return &environment{home: home, instance: instance, settings: settings, paths: paths, logger: logger}, nil
}

// withStore opens the instance store for the duration of fn. A read-only
// request against an instance that was never initialised opens read-write
// once so the default profile exists.
func (a *app) withStore(cmd *cobra.Command, readOnly bool, fn func(ctx context.Context, env *environment, s *store.Store) error) error {
	env, err := a.resolve(cmd)
	if err != nil {
		return err
	}
	defer env.logger.Sync() //nolint:errcheck

	if readOnly {
		if _, statErr := os.Stat(env.paths.ConfigDB); errors.Is(statErr, fs.ErrNotExist) {
			readOnly = false
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := store.Open(ctx, store.Options{
		Home:          env.home,
		InstanceName:  env.instance,
		ReadOnly:      readOnly,
		SecretBackend: env.settings.SecretBackend,
		Logger:        env.logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, env, s)
}

// readSecret reads one secret value. Terminals get a hidden prompt, pipes
// are read line by line.
func (a *app) readSecret(label string) (string, error) {
	if f, ok := a.in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprintf(a.prompt, "%s: ", label)
		value, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.prompt)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return trimLineEnding(string(value)), nil
	}

	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read %s: no input", label)
		}
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return trimLineEnding(line), nil
}

// trimLineEnding drops the line terminator only. Surrounding spaces are part
// of the secret.
func trimLineEnding(value string) string {
	return strings.TrimRight(value, "\r\n")
}

func (a *app) readAll() ([]byte, error) {
	if a.reader != nil {
		return io.ReadAll(a.reader)
	}
	return io.ReadAll(a.in)
}
