// Package sshserver lets plain ssh clients attach to daemon sessions:
// "ssh -p PORT NAME@host" attaches to session NAME.
package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/internal/logx"
	"pkt.systems/shellkeep/schema"
)

// SessionService is the subset of the session service used over SSH.
type SessionService interface {
	Attach(ctx context.Context, req schema.AttachRequest) (*core.Attachment, error)
}

// KeyChecker decides which client keys may log in.
type KeyChecker interface {
	Allowed(key ssh.PublicKey) (bool, error)
}

// Server exposes daemon sessions over SSH.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     SessionService
	Keys        KeyChecker
	logger      pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Service == nil {
		return errors.New("session service is required for SSH")
	}
	if s.Keys == nil {
		return errors.New("key checker is required for SSH")
	}

	hostKey, err := LoadHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	if hostKey.Generated {
		s.logger.Info("ssh host key generated", "path", hostKey.Path, "fingerprint", hostKey.Fingerprint())
	} else {
		s.logger.Debug("ssh host key loaded", "path", hostKey.Path, "fingerprint", hostKey.Fingerprint())
	}

	server := &gliderssh.Server{
		Addr:             s.Addr,
		Handler:          s.handleSession,
		PublicKeyHandler: s.handlePublicKey,
	}
	server.AddHostKey(hostKey.Signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh listening", "addr", s.Addr)

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	ok, err := s.Keys.Allowed(key)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return false
	}
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Debug("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

// sessionTarget picks the session name: the first word of the remote command
// when given, the login name otherwise.
func sessionTarget(sess gliderssh.Session) schema.SessionName {
	if args := sess.Command(); len(args) > 0 {
		return schema.SessionName(strings.TrimSpace(args[0]))
	}
	return schema.SessionName(sess.User())
}

func (s *Server) handleSession(sess gliderssh.Session) {
	name := sessionTarget(sess)
	log := s.logger.With("session", name, "remote", sess.RemoteAddr().String())
	ctx := logx.ContextWithSession(pslog.ContextWithLogger(sess.Context(), log), name)

	ptyReq, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess.Stderr(), "pty required\n")
		_ = sess.Exit(1)
		return
	}

	att, err := s.Service.Attach(ctx, schema.AttachRequest{
		Name: name,
		Size: windowSize(ptyReq.Window),
		Term: ptyReq.Term,
	})
	if err != nil {
		log.Info("ssh attach rejected", "err", err)
		_, _ = fmt.Fprintf(sess.Stderr(), "shellkeep: %v\r\n", err)
		_ = sess.Exit(1)
		return
	}
	defer att.Close()
	log = logx.WithClient(log, att.ID())
	log.Info("ssh session attached", "term", ptyReq.Term, "created", att.Created())

	if restore := att.Restore(); len(restore) > 0 {
		if _, err := sess.Write(restore); err != nil {
			log.Warn("ssh restore write failed", "err", err)
			return
		}
	}

	go func() {
		for win := range winCh {
			if err := att.Resize(windowSize(win)); err != nil {
				return
			}
		}
	}()
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		_, _ = io.Copy(att, sess)
	}()

	code := 0
	for done := false; !done; {
		select {
		case chunk := <-att.Output():
			if _, err := sess.Write(chunk); err != nil {
				log.Debug("ssh output write failed", "err", err)
				return
			}
		case <-att.Done():
			code = s.finish(sess, att)
			done = true
		case <-inputDone:
			log.Info("ssh client left")
			return
		case <-ctx.Done():
			return
		}
	}
	log.Info("ssh session ended", "reason", att.End().Reason)
	_ = sess.Exit(code)
}

func (s *Server) finish(sess gliderssh.Session, att *core.Attachment) int {
	for drained := false; !drained; {
		select {
		case chunk := <-att.Output():
			_, _ = sess.Write(chunk)
		default:
			drained = true
		}
	}
	end := att.End()
	switch end.Reason {
	case core.EndExited:
		_, _ = fmt.Fprintf(sess.Stderr(), "\r\nsession '%s' exited\r\n", att.Session())
		return end.ExitCode
	case core.EndReplaced:
		_, _ = fmt.Fprintf(sess.Stderr(), "\r\nsession '%s' was attached elsewhere\r\n", att.Session())
	default:
		_, _ = fmt.Fprintf(sess.Stderr(), "\r\ndetached from session '%s'\r\n", att.Session())
	}
	return 0
}

// windowSize converts an SSH window to a tty size, clamping each dimension
// into the uint16 range.
func windowSize(win gliderssh.Window) schema.TtySize {
	return schema.TtySize{Rows: clampDim(win.Height), Cols: clampDim(win.Width)}
}

func clampDim(v int) uint16 {
	return uint16(min(max(v, 0), math.MaxUint16))
}
