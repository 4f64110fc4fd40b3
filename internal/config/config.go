// Package config resolves the agent-mail connection settings.
//
// Each field is taken from the first source that provides it:
// environment (AGENT_MAIL_*), then the user's config files, then built-in
// defaults. The config files are read-only inputs.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Defaults.
const (
	DefaultURL     = "http://127.0.0.1:8765/mcp/"
	DefaultTimeout = 30
)

// EnvPrefix is prepended to upper-cased setting names to form the
// environment variable names (AGENT_MAIL_URL, AGENT_MAIL_TIMEOUT, ...).
const EnvPrefix = "AGENT_MAIL"

// ErrInvalid is wrapped by every error Load returns.
var ErrInvalid = errors.New("invalid configuration")

// Config is the finalized connection configuration.
type Config struct {
	URL            string
	Token          string // empty means no Authorization header
	TimeoutSeconds int
	Debug          bool
}

// Timeout returns the configured timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Paths locates the config and token files. An empty path is skipped.
type Paths struct {
	ConfigFile string
	TokenFile  string
}

// Dir returns the agent-mail config directory (~/.config/agent-mail).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agent-mail"), nil
}

// DefaultPaths returns the standard file locations. If the home directory
// cannot be determined, both paths are empty and only env and defaults apply.
func DefaultPaths() Paths {
	dir, err := Dir()
	if err != nil {
		return Paths{}
	}
	return Paths{
		ConfigFile: filepath.Join(dir, "config"),
		TokenFile:  filepath.Join(dir, "token"),
	}
}

// Load resolves a Config. It fails only when a value is malformed; missing
// or unreadable files and unknown config keys are not errors.
func Load(paths Paths) (Config, error) {
	fs := flag.NewFlagSet("agent-mail config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		url     = fs.String("url", DefaultURL, "server endpoint")
		timeout = fs.Int("timeout", DefaultTimeout, "request timeout in seconds")
		debug   = fs.Bool("debug", false, "log requests to stderr")
	)

	if err := ff.Parse(fs, nil,
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFile(readable(paths.ConfigFile)),
		ff.WithConfigFileParser(KeyValueParser),
		ff.WithAllowMissingConfigFile(true),
		ff.WithIgnoreUndefined(true),
	); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if *timeout <= 0 {
		return Config{}, fmt.Errorf("%w: timeout must be a positive number of seconds, got %d", ErrInvalid, *timeout)
	}

	token, err := loadToken(paths.TokenFile)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		URL:            *url,
		Token:          token,
		TimeoutSeconds: *timeout,
		Debug:          *debug,
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return cfg, nil
}

// loadToken resolves the bearer token: AGENT_MAIL_TOKEN, then the token file.
func loadToken(tokenFile string) (string, error) {
	fs := flag.NewFlagSet("agent-mail token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "bearer token")

	if err := ff.Parse(fs, nil,
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFile(readable(tokenFile)),
		ff.WithConfigFileParser(TokenFileParser),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return *token, nil
}

// readable returns path if it names a regular file that can be opened, and
// "" otherwise so the file is skipped like a missing one.
func readable(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path) // #nosec G304 - user config location
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
