package schema

import (
	"errors"
	"os"
	"strings"
)

// ServiceConfig defines session defaults for the daemon.
type ServiceConfig struct {
	// RestorePolicy is the session restore budget ("0", "512KB", "5MB", ...).
	RestorePolicy string
	// Shell is the command line started in new sessions.
	Shell string
	// Env is added to the environment of new sessions.
	Env map[string]string
	// KillGraceSeconds is how long Kill waits after SIGHUP before SIGKILL.
	KillGraceSeconds int
}

// DefaultRestorePolicy disables output buffering.
const DefaultRestorePolicy = "0"

// DefaultKillGraceSeconds is the default delay before escalating to SIGKILL.
const DefaultKillGraceSeconds = 3

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if strings.TrimSpace(cfg.RestorePolicy) == "" {
		cfg.RestorePolicy = DefaultRestorePolicy
	}
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = os.Getenv("SHELL")
	}
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.KillGraceSeconds == 0 {
		cfg.KillGraceSeconds = DefaultKillGraceSeconds
	}
	if cfg.KillGraceSeconds < 0 {
		return ServiceConfig{}, errors.New("kill grace must not be negative")
	}
	return cfg, nil
}
