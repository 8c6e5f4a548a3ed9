// Package sessiongrpc carries the session service over gRPC on a Unix socket.
package sessiongrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/internal/logx"
	"pkt.systems/shellkeep/internal/version"
	"pkt.systems/shellkeep/schema"
)

// SessionService is the daemon-side session API exposed over the socket.
type SessionService interface {
	Attach(ctx context.Context, req schema.AttachRequest) (*core.Attachment, error)
	Detach(ctx context.Context, names []schema.SessionName) (schema.DetachResult, error)
	Kill(ctx context.Context, names []schema.SessionName) (schema.KillResult, error)
	List(ctx context.Context) []schema.SessionInfo
	RestorePolicy() string
}

// Server implements the sessions gRPC service.
type Server struct {
	svc    SessionService
	logger pslog.Logger
}

// NewServer constructs a sessions gRPC server.
func NewServer(svc SessionService, logger pslog.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// ListenAndServe serves on a Unix domain socket until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if socketPath == "" {
		return errors.New("session socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return err
	}
	// The daemon lock guarantees any existing socket file is stale.
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}
	defer func() { _ = os.Remove(socketPath) }()
	s.log(ctx).Info("session grpc listening", "socket", socketPath)
	return s.Serve(ctx, listener)
}

// Serve runs the gRPC server on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	grpcServer := grpc.NewServer()
	RegisterSessionsServer(grpcServer, s)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		// Attach streams only end when their sessions do, so a graceful stop
		// would wait for every attached client.
		grpcServer.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Ping reports daemon identity.
func (s *Server) Ping(ctx context.Context, _ *PingRequest) (*PingResponse, error) {
	s.log(ctx).Trace("session ping")
	return &PingResponse{
		Version:       version.Current(),
		PID:           os.Getpid(),
		RestorePolicy: s.svc.RestorePolicy(),
	}, nil
}

// List returns all sessions.
func (s *Server) List(ctx context.Context, _ *ListRequest) (*schema.ListResponse, error) {
	return &schema.ListResponse{Sessions: s.svc.List(ctx)}, nil
}

// Detach unbinds clients from sessions.
func (s *Server) Detach(ctx context.Context, req *schema.DetachRequest) (*schema.DetachResult, error) {
	result, err := s.svc.Detach(ctx, req.Names)
	if err != nil {
		s.log(ctx).Warn("session detach rejected", "err", err)
		return nil, toStatus(err)
	}
	return &result, nil
}

// Kill terminates sessions.
func (s *Server) Kill(ctx context.Context, req *schema.KillRequest) (*schema.KillResult, error) {
	result, err := s.svc.Kill(ctx, req.Names)
	if err != nil {
		s.log(ctx).Warn("session kill failed", "err", err)
		return nil, toStatus(err)
	}
	return &result, nil
}

// Attach binds the stream to a session until the client leaves, is
// detached, or the session exits.
func (s *Server) Attach(stream grpc.BidiStreamingServer[AttachFrame, ServerFrame]) error {
	ctx := stream.Context()
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Header == nil {
		s.log(ctx).Warn("session attach rejected", "err", "missing header")
		return status.Error(codes.InvalidArgument, "attach header is required")
	}
	req := *first.Header
	ctx = pslog.ContextWithLogger(ctx, s.log(ctx))
	att, err := s.svc.Attach(ctx, req)
	if err != nil {
		return toStatus(err)
	}
	defer att.Close()
	log := logx.WithSessionClient(ctx, req.Name, att.ID())

	for _, frame := range restoreFrames(att.ID(), att.Created(), att.Restore()) {
		if err := stream.Send(&ServerFrame{Restore: frame}); err != nil {
			logGRPCError(log, "session attach restore send failed", err)
			return err
		}
	}

	inputErr := make(chan error, 1)
	go func() {
		inputErr <- forwardInput(stream, att)
	}()

	for {
		select {
		case chunk := <-att.Output():
			if err := stream.Send(&ServerFrame{Output: chunk}); err != nil {
				logGRPCError(log, "session output send failed", err)
				return err
			}
		case <-att.Done():
			return s.finishAttach(stream, att, log)
		case err := <-inputErr:
			if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				log.Info("session client left")
				return nil
			}
			logGRPCError(log, "session input failed", err)
			return err
		case <-ctx.Done():
			log.Info("session client gone", "err", ctx.Err())
			return nil
		}
	}
}

func forwardInput(stream grpc.BidiStreamingServer[AttachFrame, ServerFrame], att *core.Attachment) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}
		if frame.Resize != nil {
			if err := att.Resize(*frame.Resize); err != nil && !errors.Is(err, schema.ErrNotAttached) {
				pslog.Ctx(stream.Context()).Debug("session resize failed", "err", err)
			}
		}
		if len(frame.Input) > 0 {
			if _, err := att.Write(frame.Input); err != nil {
				if errors.Is(err, schema.ErrNotAttached) {
					return nil
				}
				return err
			}
		}
	}
}

// finishAttach flushes output buffered before the attachment ended and
// reports why it ended.
func (s *Server) finishAttach(stream grpc.BidiStreamingServer[AttachFrame, ServerFrame], att *core.Attachment, log pslog.Logger) error {
	for drained := false; !drained; {
		select {
		case chunk := <-att.Output():
			if err := stream.Send(&ServerFrame{Output: chunk}); err != nil {
				return err
			}
		default:
			drained = true
		}
	}
	end := att.End()
	log.Info("session attach ended", "reason", end.Reason, "exit_code", end.ExitCode)
	return stream.Send(&ServerFrame{End: &EndFrame{Reason: string(end.Reason), ExitCode: end.ExitCode}})
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}
