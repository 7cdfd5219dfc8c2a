package http

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/r3labs/sse/v2"
)

// LogsStream is the SSE stream id carrying log lines.
const LogsStream = "logs"

type sseLogEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// SSELogPublisher republishes log lines on the "logs" SSE stream. Lines are
// dropped when the stream is backed up, and new subscribers get no history.
type SSELogPublisher struct {
	server *sse.Server
}

func NewSSELogPublisher(server *sse.Server) *SSELogPublisher {
	if !server.StreamExists(LogsStream) {
		server.CreateStreamWithOpts(LogsStream, sse.StreamOpts{AutoReplay: false})
	}
	return &SSELogPublisher{server: server}
}

func (p *SSELogPublisher) Publish(line logstream.Line) {
	data, err := sonic.Marshal(sseLogEvent{Time: line.Time, Level: line.Level, Message: line.Text})
	if err != nil {
		return
	}
	p.server.TryPublish(LogsStream, &sse.Event{Data: data})
}
