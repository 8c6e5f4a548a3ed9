package sessiongrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/internal/restore"
	"pkt.systems/shellkeep/schema"
)

// toStatus converts service errors into gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, schema.ErrInvalidSessionName),
		errors.Is(err, schema.ErrInvalidTTL),
		errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, restore.ErrInvalidPolicy):
		code = codes.InvalidArgument
	case errors.Is(err, schema.ErrSessionNotFound):
		code = codes.NotFound
	case errors.Is(err, schema.ErrSessionBusy):
		code = codes.Aborted
	case errors.Is(err, schema.ErrNotAttached):
		code = codes.FailedPrecondition
	case errors.Is(err, core.ErrServiceClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// fromStatus maps gRPC status errors back to schema sentinels so callers can
// use errors.Is regardless of transport.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := st.Message()
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = schema.ErrInvalidRequest
		for _, candidate := range []error{schema.ErrInvalidSessionName, schema.ErrInvalidTTL, restore.ErrInvalidPolicy} {
			if strings.Contains(msg, candidate.Error()) {
				sentinel = candidate
				break
			}
		}
	case codes.NotFound:
		sentinel = schema.ErrSessionNotFound
	case codes.Aborted:
		sentinel = schema.ErrSessionBusy
	case codes.FailedPrecondition:
		sentinel = schema.ErrNotAttached
	case codes.Unavailable:
		sentinel = schema.ErrDaemonUnavailable
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%s: %s", op, msg)
	}
	if msg == sentinel.Error() {
		return sentinel
	}
	return &remoteError{sentinel: sentinel, message: msg}
}

// remoteError keeps the daemon's message while matching the local sentinel.
type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.sentinel }

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}
