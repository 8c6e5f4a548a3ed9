package main

import (
	"context"
	"os"
	"strings"

	"pkt.systems/shellkeep/internal/appconfig"
	"pkt.systems/shellkeep/internal/client"
	"pkt.systems/shellkeep/schema"
)

type globalOptions struct {
	configPath string
	socket     string
}

// load reads the config and applies command-line overrides. The returned path
// is the resolved config file location, which may not exist.
func (g *globalOptions) load() (appconfig.Config, string, error) {
	path := strings.TrimSpace(g.configPath)
	if path == "" {
		defaultPath, err := appconfig.DefaultConfigPath()
		if err != nil {
			return appconfig.Config{}, "", err
		}
		path = defaultPath
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		return appconfig.Config{}, "", err
	}
	if socket := strings.TrimSpace(g.socket); socket != "" {
		cfg.SocketPath = socket
	}
	return cfg, path, nil
}

// dial connects a terminal client to the configured daemon.
func (g *globalOptions) dial(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	cfg, _, err := g.load()
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, cfg.SocketPath, opts...)
}

func currentSession() schema.SessionName {
	return schema.SessionName(os.Getenv(schema.SessionEnvVar))
}

func toSessionNames(args []string) []schema.SessionName {
	names := make([]schema.SessionName, 0, len(args))
	for _, arg := range args {
		names = append(names, schema.SessionName(arg))
	}
	return names
}
