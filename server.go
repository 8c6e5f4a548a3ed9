// Package shellkeep composes the session daemon: the local gRPC socket, the
// optional SSH front door, lifecycle hooks, and config hot reload.
package shellkeep

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/internal/appconfig"
	"pkt.systems/shellkeep/internal/eventbus"
	"pkt.systems/shellkeep/internal/hooks"
	"pkt.systems/shellkeep/internal/sessiongrpc"
	"pkt.systems/shellkeep/schema"
	"pkt.systems/shellkeep/sshserver"
)

// Server runs the daemon components.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Service exposes the session service for in-process callers.
	Service() *core.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service    schema.ServiceConfig
	SocketPath string
	SSH        sshserver.Config
	Hooks      hooks.Config
	// ConfigPath is watched for restore policy changes when set.
	ConfigPath string
}

// ConfigFromApp maps the application config onto the compositor config.
func ConfigFromApp(cfg appconfig.Config, path string) ServerConfig {
	return ServerConfig{
		Service:    cfg.ServiceConfig(),
		SocketPath: cfg.SocketPath,
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
		},
		Hooks:      hooks.Config{Command: cfg.Hooks.Command, Timeout: secondsToDuration(cfg.Hooks.TimeoutSeconds)},
		ConfigPath: path,
	}
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableSocket bool
	enableSSH    bool
	watchConfig  bool
}

// WithSocket enables the local gRPC socket.
func WithSocket() ServerOption {
	return func(o *serverOptions) { o.enableSocket = true }
}

// WithSSH enables the SSH server.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithConfigWatch reloads the restore policy when the config file changes.
func WithConfigWatch() ServerOption {
	return func(o *serverOptions) { o.watchConfig = true }
}

// New constructs a composable shellkeep daemon.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableSocket && !options.enableSSH {
		return nil, errors.New("no services enabled")
	}
	if options.enableSocket && cfg.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if options.watchConfig && cfg.ConfigPath == "" {
		return nil, errors.New("config path is required to watch config")
	}

	hookRunner, err := hooks.New(cfg.Hooks)
	if err != nil {
		return nil, err
	}

	serviceDeps := deps.ServiceDeps
	var bus *eventbus.Bus
	if hookRunner != nil {
		bus = eventbus.New(serviceDeps.Logger)
		if serviceDeps.EventSink == nil {
			serviceDeps.EventSink = bus
		} else {
			serviceDeps.EventSink = eventFanout{sinks: []core.EventSink{serviceDeps.EventSink, bus}}
		}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var sshSrv *sshserver.Server
	if options.enableSSH {
		sshSrv = &sshserver.Server{
			Addr:        cfg.SSH.Addr,
			HostKeyPath: cfg.SSH.HostKeyPath,
			Service:     service,
			Keys:        sshserver.AuthorizedKeys{Path: cfg.SSH.AuthorizedKeysPath},
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		sshSrv:  sshSrv,
		bus:     bus,
		hooks:   hookRunner,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service *core.Service
	sshSrv  *sshserver.Server
	bus     *eventbus.Bus
	hooks   *hooks.Runner
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	lock    *core.DaemonLock
	started bool
	workers sync.WaitGroup
}

func (s *compositeServer) Service() *core.Service {
	return s.service
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	log := pslog.Ctx(ctx)

	if s.options.enableSocket {
		lock, err := core.AcquireLock(s.cfg.SocketPath)
		if err != nil {
			log.Error("server start rejected", "err", err)
			return err
		}
		s.lock = lock
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 3)
	s.started = true
	s.logger = log

	log.Info(
		"server start",
		"socket", s.options.enableSocket,
		"ssh", s.options.enableSSH,
		"socket_path", s.cfg.SocketPath,
		"ssh_addr", s.cfg.SSH.Addr,
		"session_restore", s.service.RestorePolicy(),
		"hooks", s.hooks != nil,
	)
	if s.hooks != nil {
		events, unsubscribe := s.bus.Subscribe()
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			defer unsubscribe()
			s.hooks.Run(s.ctx, events)
		}()
	}
	if s.options.enableSocket {
		grpcSrv := sessiongrpc.NewServer(s.service, log)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := grpcSrv.ListenAndServe(s.ctx, s.cfg.SocketPath); err != nil {
				log.Error("session socket failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enableSSH && s.sshSrv != nil {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.watchConfig {
		if err := appconfig.Watch(s.ctx, s.cfg.ConfigPath, s.applyConfig); err != nil {
			log.Warn("config watch disabled", "err", err)
		}
	}
	return nil
}

// applyConfig carries hot-reloadable settings into the running service.
// Other settings apply on the next daemon start.
func (s *compositeServer) applyConfig(cfg appconfig.Config) {
	if err := s.service.SetRestorePolicy(cfg.SessionRestore); err != nil {
		s.logger.Warn("config reload ignored", "field", "session_restore", "err", err)
	}
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info("server stop requested")
	err := s.service.CloseAll(ctx)
	if err != nil {
		log.Warn("session close timed out", "err", err)
	} else {
		log.Info("sessions closed")
	}
	if cancel != nil {
		cancel()
	}
	s.workers.Wait()
	if lock != nil {
		if releaseErr := lock.Release(); releaseErr != nil {
			log.Warn("daemon lock release failed", "err", releaseErr)
		}
	}
	log.Info("server stopped")
	return err
}
