package sessiongrpc

import "pkt.systems/shellkeep/schema"

// AttachFrame is sent by the client on the attach stream. The first frame
// carries Header; later frames carry Input or Resize.
type AttachFrame struct {
	Header *schema.AttachRequest `json:"header,omitempty"`
	Input  []byte                `json:"input,omitempty"`
	Resize *schema.TtySize       `json:"resize,omitempty"`
}

// ServerFrame is sent by the daemon on the attach stream: one or more Restore
// frames ending with Final set, then Output frames, and finally an End frame.
type ServerFrame struct {
	Restore *RestoreFrame `json:"restore,omitempty"`
	Output  []byte        `json:"output,omitempty"`
	End     *EndFrame     `json:"end,omitempty"`
}

// RestoreFrame carries one chunk of the session's restore sequence. Chunks
// stay under restoreChunkSize so large spools fit gRPC's message limit.
type RestoreFrame struct {
	Client  schema.ClientID `json:"client"`
	Created bool            `json:"created"`
	Data    []byte          `json:"data,omitempty"`
	Final   bool            `json:"final,omitempty"`
}

// restoreChunkSize bounds the raw bytes per restore frame. base64 in the
// JSON codec grows it by a third, well below the 4 MiB receive default.
const restoreChunkSize = 1 << 20

// restoreFrames splits data into restore frames. There is always at least
// one frame, and only the last has Final set.
func restoreFrames(client schema.ClientID, created bool, data []byte) []*RestoreFrame {
	frames := make([]*RestoreFrame, 0, len(data)/restoreChunkSize+1)
	for {
		n := min(len(data), restoreChunkSize)
		frames = append(frames, &RestoreFrame{Client: client, Created: created, Data: data[:n]})
		data = data[n:]
		if len(data) == 0 {
			break
		}
	}
	frames[len(frames)-1].Final = true
	return frames
}

// EndFrame closes an attach stream.
type EndFrame struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// ListRequest asks for all sessions.
type ListRequest struct{}

// PingRequest checks that the daemon is responsive.
type PingRequest struct{}

// PingResponse identifies the daemon process.
type PingResponse struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
	// RestorePolicy is the policy applied to new sessions.
	RestorePolicy string `json:"restore_policy"`
}
