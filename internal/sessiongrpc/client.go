package sessiongrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/shellkeep/schema"
)

// Client talks to the daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the daemon socket. The connection is lazy; an
// unreachable daemon surfaces as schema.ErrDaemonUnavailable on first call.
func Dial(ctx context.Context, socketPath string, opts ...grpc.DialOption) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("session socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}
	return NewClient("passthrough:///"+socketPath, append(base, opts...)...)
}

// NewClient creates a client for an arbitrary gRPC target.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the daemon is serving.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var resp PingResponse
	if err := c.conn.Invoke(ctx, pingMethod, &PingRequest{}, &resp); err != nil {
		return PingResponse{}, fromStatus("ping", err)
	}
	return resp, nil
}

// List returns all sessions.
func (c *Client) List(ctx context.Context) ([]schema.SessionInfo, error) {
	var resp schema.ListResponse
	if err := c.conn.Invoke(ctx, listMethod, &ListRequest{}, &resp); err != nil {
		return nil, fromStatus("list", err)
	}
	return resp.Sessions, nil
}

// Detach unbinds clients from the named sessions.
func (c *Client) Detach(ctx context.Context, names []schema.SessionName) (schema.DetachResult, error) {
	var resp schema.DetachResult
	if err := c.conn.Invoke(ctx, detachMethod, &schema.DetachRequest{Names: names}, &resp); err != nil {
		return schema.DetachResult{}, fromStatus("detach", err)
	}
	return resp, nil
}

// Kill terminates the named sessions.
func (c *Client) Kill(ctx context.Context, names []schema.SessionName) (schema.KillResult, error) {
	var resp schema.KillResult
	if err := c.conn.Invoke(ctx, killMethod, &schema.KillRequest{Names: names}, &resp); err != nil {
		return schema.KillResult{}, fromStatus("kill", err)
	}
	return resp, nil
}

// Attach opens an attach stream and collects the restore sequence.
func (c *Client) Attach(ctx context.Context, req schema.AttachRequest) (*AttachStream, error) {
	stream, err := c.conn.NewStream(ctx, &sessionsServiceDesc.Streams[0], attachMethod)
	if err != nil {
		return nil, fromStatus("attach", err)
	}
	attach := &AttachStream{stream: &grpc.GenericClientStream[AttachFrame, ServerFrame]{ClientStream: stream}}
	if err := attach.stream.Send(&AttachFrame{Header: &req}); err != nil {
		// The real error is reported by Recv.
		if !errors.Is(err, io.EOF) {
			return nil, fromStatus("attach", err)
		}
	}
	var data []byte
	for {
		frame, err := attach.stream.Recv()
		if err != nil {
			return nil, fromStatus("attach", err)
		}
		if frame.Restore == nil {
			return nil, fmt.Errorf("attach: %w: expected restore frame", schema.ErrInvalidRequest)
		}
		data = append(data, frame.Restore.Data...)
		if frame.Restore.Final {
			attach.restore = *frame.Restore
			attach.restore.Data = data
			return attach, nil
		}
	}
}

// AttachStream is an open attach session on the client side.
type AttachStream struct {
	stream  grpc.BidiStreamingClient[AttachFrame, ServerFrame]
	restore RestoreFrame
	sendMu  sync.Mutex
}

// Client returns the id the daemon assigned to this attach.
func (a *AttachStream) Client() schema.ClientID { return a.restore.Client }

// Created reports whether the attach started the session.
func (a *AttachStream) Created() bool { return a.restore.Created }

// Restore returns the restore sequence sent before live output.
func (a *AttachStream) Restore() []byte { return a.restore.Data }

// Recv returns the next output chunk. It returns the End frame with io.EOF
// once the daemon closes the attachment.
func (a *AttachStream) Recv() ([]byte, *EndFrame, error) {
	for {
		frame, err := a.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, io.EOF
			}
			return nil, nil, fromStatus("attach", err)
		}
		if frame.End != nil {
			return nil, frame.End, io.EOF
		}
		if len(frame.Output) > 0 {
			return frame.Output, nil, nil
		}
	}
}

// SendInput forwards keyboard input.
func (a *AttachStream) SendInput(data []byte) error {
	return a.send(&AttachFrame{Input: data})
}

// SendResize forwards a terminal size change.
func (a *AttachStream) SendResize(size schema.TtySize) error {
	return a.send(&AttachFrame{Resize: &size})
}

// CloseSend tells the daemon the client is leaving.
func (a *AttachStream) CloseSend() error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.stream.CloseSend()
}

func (a *AttachStream) send(frame *AttachFrame) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.stream.Send(frame)
}
