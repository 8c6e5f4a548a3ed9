package appconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/restore"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	path, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	v, cfg, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		return finish(cfg)
	}
	return decode(v, cfg)
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultConfigPath()
}

func newViper(path string) (*viper.Viper, Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, Config{}, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("session_restore", cfg.SessionRestore)
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("shell", cfg.Shell)
	v.SetDefault("env", cfg.Env)
	v.SetDefault("aliases", cfg.Aliases)
	v.SetDefault("kill_grace_seconds", cfg.KillGraceSeconds)
	v.SetDefault("ssh.enabled", cfg.SSH.Enabled)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("hooks.command", cfg.Hooks.Command)
	v.SetDefault("hooks.timeout_seconds", cfg.Hooks.TimeoutSeconds)
	return v, cfg, nil
}

func decode(v *viper.Viper, cfg Config) (Config, error) {
	if !v.IsSet("config_version") {
		return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
	}
	if v.GetInt("config_version") != CurrentConfigVersion {
		return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	env, err := rawEnv(v.ConfigFileUsed())
	if err != nil {
		return Config{}, err
	}
	if env != nil {
		cfg.Env = env
	}
	return finish(cfg)
}

// rawEnv re-reads the env map because viper folds map keys to lower case.
func rawEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Env map[string]string `yaml:"env"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return raw.Env, nil
}

func finish(cfg Config) (Config, error) {
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if _, err := restore.ParseBudget(cfg.SessionRestore); err != nil {
		return fmt.Errorf("session_restore: %w", err)
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return errors.New("socket_path is required")
	}
	if cfg.KillGraceSeconds < 0 {
		return errors.New("kill_grace_seconds must not be negative")
	}
	for alias, target := range cfg.Aliases {
		if alias == "" || strings.IndexFunc(alias, unicode.IsSpace) >= 0 {
			return fmt.Errorf("aliases: invalid alias name %q", alias)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("aliases: alias %q has no target", alias)
		}
	}
	if cfg.SSH.Enabled {
		if strings.TrimSpace(cfg.SSH.Addr) == "" {
			return errors.New("ssh.addr is required when ssh.enabled is true")
		}
		if strings.TrimSpace(cfg.SSH.AuthorizedKeysPath) == "" {
			return errors.New("ssh.authorized_keys_path is required when ssh.enabled is true")
		}
	}
	return nil
}

// Watch reloads the config file whenever it changes and passes every valid
// result to onChange. Invalid edits are logged and skipped. Callbacks stop
// once ctx is done.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	v, _, err := newViper(path)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	log := pslog.Ctx(ctx).With("config", path)
	v.OnConfigChange(func(event fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload rejected", "err", err)
			return
		}
		log.Info("config reloaded", "op", event.Op.String())
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.SocketPath = expandEnv(cfg.SocketPath)
	cfg.Shell = expandEnv(cfg.Shell)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.Hooks.Command = expandEnv(cfg.Hooks.Command)
	for key, value := range cfg.Env {
		cfg.Env[key] = expandEnv(value)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	path, err := resolvePath(path)
	if err != nil {
		return "", err
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
