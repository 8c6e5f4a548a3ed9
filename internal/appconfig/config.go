package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/shellkeep/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int `mapstructure:"config_version" yaml:"config_version"`
	// SessionRestore is the restore buffer budget for new sessions ("0", "5MB", ...).
	SessionRestore   string            `mapstructure:"session_restore" yaml:"session_restore"`
	SocketPath       string            `mapstructure:"socket_path" yaml:"socket_path"`
	Shell            string            `mapstructure:"shell" yaml:"shell"`
	Env              map[string]string `mapstructure:"env" yaml:"env"`
	Aliases          map[string]string `mapstructure:"aliases" yaml:"aliases"`
	KillGraceSeconds int               `mapstructure:"kill_grace_seconds" yaml:"kill_grace_seconds"`
	SSH              SSHConfig         `mapstructure:"ssh" yaml:"ssh"`
	Hooks            HooksConfig       `mapstructure:"hooks" yaml:"hooks"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SSHConfig configures the optional SSH front door.
type SSHConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
}

// HooksConfig configures the lifecycle hook command.
type HooksConfig struct {
	// Command runs for every session event with SHELLKEEP_EVENT and
	// SHELLKEEP_SESSION_NAME in its environment.
	Command        string `mapstructure:"command" yaml:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServiceConfig maps the daemon-facing settings onto the core service config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		RestorePolicy:    c.SessionRestore,
		Shell:            c.Shell,
		Env:              c.Env,
		KillGraceSeconds: c.KillGraceSeconds,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion:    CurrentConfigVersion,
		SessionRestore:   schema.DefaultRestorePolicy,
		SocketPath:       defaultSocketPath(home),
		Shell:            "",
		Env:              map[string]string{},
		Aliases:          map[string]string{},
		KillGraceSeconds: schema.DefaultKillGraceSeconds,
		SSH: SSHConfig{
			Enabled:            false,
			Addr:               "127.0.0.1:27522",
			HostKeyPath:        filepath.Join(home, ".shellkeep", "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(home, ".ssh", "authorized_keys"),
		},
		Hooks: HooksConfig{
			Command:        "",
			TimeoutSeconds: 10,
		},
	}, nil
}

func defaultSocketPath(home string) string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "shellkeep", "shellkeep.sock")
	}
	return filepath.Join(home, ".shellkeep", "shellkeep.sock")
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".shellkeep", "config.yaml"), nil
}
