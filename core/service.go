package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/logx"
	"pkt.systems/shellkeep/internal/restore"
	"pkt.systems/shellkeep/schema"
)

// ErrServiceClosed is returned once CloseAll has started.
var ErrServiceClosed = errors.New("session service closed")

// Service hosts named sessions and brokers client attachments.
type Service struct {
	cfg     schema.ServiceConfig
	spawner Spawner
	sink    EventSink
	logger  pslog.Logger
	now     func() time.Time

	mu       sync.Mutex
	policy   string
	sessions map[schema.SessionName]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewService constructs the session service. An invalid restore policy is
// rejected here so a misconfigured daemon never starts.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (*Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if _, err := restore.ParseBudget(cfg.RestorePolicy); err != nil {
		return nil, err
	}
	if deps.Spawner == nil {
		deps.Spawner = PTYSpawner{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      cfg,
		spawner:  deps.Spawner,
		sink:     deps.EventSink,
		logger:   logger,
		now:      now,
		policy:   cfg.RestorePolicy,
		sessions: make(map[schema.SessionName]*session),
	}, nil
}

// RestorePolicy returns the policy applied to sessions created from now on.
func (s *Service) RestorePolicy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetRestorePolicy replaces the restore policy for sessions created later.
// Running sessions keep the spool they were created with.
func (s *Service) SetRestorePolicy(policy string) error {
	budget, err := restore.ParseBudget(policy)
	if err != nil {
		return err
	}
	policy = strings.TrimSpace(policy)
	s.mu.Lock()
	old := s.policy
	s.policy = policy
	s.mu.Unlock()
	if old != policy {
		s.logger.Info("session restore policy changed", "from", old, "to", policy, "budget", humanize.IBytes(uint64(budget)))
	}
	return nil
}

// Attach binds a client to the named session, creating it when missing.
func (s *Service) Attach(ctx context.Context, req schema.AttachRequest) (*Attachment, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if err := schema.ValidateSessionName(req.Name); err != nil {
		return nil, err
	}
	ttl, err := schema.ParseTTL(req.TTL)
	if err != nil {
		return nil, err
	}
	ctx = logx.ContextWithSession(pslog.ContextWithLogger(ctx, logx.WithSession(ctx, req.Name)), req.Name)
	log := pslog.Ctx(ctx)

	var (
		sess     *session
		created  bool
		att      *Attachment
		replaced *Attachment
	)
	for {
		sess, created, err = s.ensureSession(ctx, req)
		if err != nil {
			log.Warn("session attach failed", "err", err)
			return nil, err
		}
		att, replaced, err = sess.attach(newClientID(), req.Force, s.now())
		if errors.Is(err, errSessionGone) {
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, schema.ErrSessionBusy) {
			s.emit(schema.SessionEvent{Type: schema.SessionBusy, Session: req.Name})
			log.Info("session attach refused", "reason", "busy")
		}
		return nil, err
	}
	att.created = created
	log = logx.WithClient(log, att.ID())
	if replaced != nil && replaced.finish(End{Reason: EndReplaced}) {
		log.Info("session client replaced", "previous", replaced.ID())
		s.emit(schema.SessionEvent{Type: schema.SessionDetached, Session: req.Name, Client: replaced.ID()})
	}
	if !created {
		if err := sess.resize(req.Size); err != nil {
			log.Debug("session resize failed", "err", err)
		}
	}
	if ttl > 0 {
		sess.armTTL(ttl, func() { s.expire(sess, ttl) })
	}

	eventType := schema.SessionReattached
	if created {
		eventType = schema.SessionAttached
	}
	s.emit(schema.SessionEvent{Type: eventType, Session: req.Name, Client: att.ID()})
	restoreBytes := att.Restore()
	log.Info("session attached", "created", created, "force", req.Force, "restore", humanize.IBytes(uint64(len(restoreBytes))))
	if len(restoreBytes) > 0 {
		log.Trace("session restore preview", "preview", logx.Preview(restoreBytes))
	}
	return att, nil
}

func (s *Service) ensureSession(ctx context.Context, req schema.AttachRequest) (*session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrServiceClosed
	}
	if sess := s.sessions[req.Name]; sess != nil && !sess.isExited() {
		return sess, false, nil
	}
	spool, err := restore.New(ctx, s.policy, req.Size)
	if err != nil {
		return nil, false, err
	}
	argv, err := s.command(req.Cmd)
	if err != nil {
		return nil, false, err
	}
	proc, err := s.spawner.Spawn(ctx, SpawnSpec{
		Argv: argv,
		Env:  s.environment(req),
		Dir:  homeDir(),
		Size: req.Size,
	})
	if err != nil {
		return nil, false, err
	}
	log := logx.WithSession(ctx, req.Name)
	sess := newSession(req.Name, argv, proc, spool, req.Size, s.now(), log)
	s.sessions[req.Name] = sess
	s.wg.Add(1)
	go s.run(sess)
	log.Info("session created", "cmd", strings.Join(argv, " "), "pid", proc.PID(), "restore_policy", s.policy)
	s.emit(schema.SessionEvent{Type: schema.SessionCreated, Session: req.Name})
	return sess, true, nil
}

func (s *Service) run(sess *session) {
	defer s.wg.Done()
	code, killed := sess.pump()
	s.mu.Lock()
	if s.sessions[sess.name] == sess {
		delete(s.sessions, sess.name)
	}
	s.mu.Unlock()
	eventType := schema.SessionExited
	if killed {
		eventType = schema.SessionKilled
	}
	sess.log.Info("session ended", "exit_code", code, "killed", killed)
	s.emit(schema.SessionEvent{Type: eventType, Session: sess.name, ExitCode: code})
}

func (s *Service) command(override string) ([]string, error) {
	line := strings.TrimSpace(override)
	if line == "" {
		line = s.cfg.Shell
	}
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("%w: parse command %q: %v", schema.ErrInvalidRequest, line, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", schema.ErrInvalidRequest)
	}
	return argv, nil
}

func (s *Service) environment(req schema.AttachRequest) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	maps.Copy(env, s.cfg.Env)
	maps.Copy(env, req.Env)
	if term := strings.TrimSpace(req.Term); term != "" {
		env["TERM"] = term
	}
	env[schema.SessionEnvVar] = string(req.Name)
	out := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		out = append(out, key+"="+env[key])
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// Detach unbinds clients from the named sessions.
func (s *Service) Detach(ctx context.Context, names []schema.SessionName) (schema.DetachResult, error) {
	if len(names) == 0 {
		return schema.DetachResult{}, fmt.Errorf("%w: no session names", schema.ErrInvalidRequest)
	}
	var result schema.DetachResult
	for _, name := range names {
		sess := s.lookup(name)
		if sess == nil {
			result.NotFound = append(result.NotFound, name)
			continue
		}
		att := sess.detachCurrent()
		if att == nil {
			result.NotAttached = append(result.NotAttached, name)
			continue
		}
		logx.WithSessionClient(ctx, name, att.ID()).Info("session detached")
		s.emit(schema.SessionEvent{Type: schema.SessionDetached, Session: name, Client: att.ID()})
	}
	return result, nil
}

// Kill terminates the named sessions and waits for them to exit.
func (s *Service) Kill(ctx context.Context, names []schema.SessionName) (schema.KillResult, error) {
	if len(names) == 0 {
		return schema.KillResult{}, fmt.Errorf("%w: no session names", schema.ErrInvalidRequest)
	}
	var (
		result  schema.KillResult
		targets []*session
	)
	for _, name := range names {
		sess := s.lookup(name)
		if sess == nil {
			result.NotFound = append(result.NotFound, name)
			continue
		}
		targets = append(targets, sess)
	}
	s.killAll(ctx, targets)
	return result, ctx.Err()
}

func (s *Service) killAll(ctx context.Context, targets []*session) {
	grace := time.Duration(s.cfg.KillGraceSeconds) * time.Second
	var wg sync.WaitGroup
	for _, sess := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logx.WithSession(ctx, sess.name).Info("session kill")
			sess.kill(grace, ctx.Done())
		}()
	}
	wg.Wait()
}

func (s *Service) expire(sess *session, ttl time.Duration) {
	sess.log.Info("session ttl expired", "ttl", ttl)
	sess.kill(time.Duration(s.cfg.KillGraceSeconds)*time.Second, nil)
}

// List reports all live sessions sorted by name.
func (s *Service) List(_ context.Context) []schema.SessionInfo {
	s.mu.Lock()
	sessions := slices.Collect(maps.Values(s.sessions))
	s.mu.Unlock()
	out := make([]schema.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		if sess.isExited() {
			continue
		}
		out = append(out, sess.info())
	}
	slices.SortFunc(out, func(a, b schema.SessionInfo) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
	return out
}

// CloseAll kills every session and refuses new attaches.
func (s *Service) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := slices.Collect(maps.Values(s.sessions))
	s.mu.Unlock()
	if len(sessions) > 0 {
		s.logger.Info("session service closing", "sessions", len(sessions))
	}
	s.killAll(ctx, sessions)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(name schema.SessionName) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[name]
	if sess == nil || sess.isExited() {
		return nil
	}
	return sess
}

func (s *Service) emit(event schema.SessionEvent) {
	if s.sink == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	s.sink.OnSessionEvent(event)
}
