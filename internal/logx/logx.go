package logx

import (
	"context"

	"github.com/charmbracelet/x/ansi"
	"pkt.systems/pslog"
	"pkt.systems/shellkeep/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	clientKey
)

// previewLimit bounds the printable preview logged for restore buffers.
const previewLimit = 120

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session name if present.
func WithSession(ctx context.Context, name schema.SessionName) pslog.Logger {
	log := pslog.Ctx(ctx)
	if name != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionName); ok && current == name {
			return log
		}
		log = log.With("session", name)
	}
	return log
}

// WithSessionClient annotates the logger with session and client identifiers.
func WithSessionClient(ctx context.Context, name schema.SessionName, client schema.ClientID) pslog.Logger {
	log := WithSession(ctx, name)
	if client != "" {
		if current, ok := ctx.Value(clientKey).(schema.ClientID); ok && current == client {
			return log
		}
		log = log.With("client", client)
	}
	return log
}

// WithClient annotates an existing logger with a client id when available.
func WithClient(log pslog.Logger, client schema.ClientID) pslog.Logger {
	if client != "" {
		log = log.With("client", client)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, name schema.SessionName) context.Context {
	if ctx == nil || name == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, name)
}

// ContextWithClient stores the client marker on the context for log de-duplication.
func ContextWithClient(ctx context.Context, client schema.ClientID) context.Context {
	if ctx == nil || client == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKey, client)
}

// Preview renders terminal output as a short printable string for trace logs.
func Preview(data []byte) string {
	if len(data) > 4*previewLimit {
		data = data[len(data)-4*previewLimit:]
	}
	text := ansi.Strip(string(data))
	runes := []rune(text)
	if len(runes) > previewLimit {
		runes = runes[len(runes)-previewLimit:]
	}
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			out = append(out, ' ')
		case r < 0x20 || r == 0x7f:
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
