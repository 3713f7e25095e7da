package device

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

// WebSocketSource reads telemetry pushed by the controller over a websocket, one
// message per frame, and redials with exponential backoff when the socket drops.
type WebSocketSource struct {
	url     string
	codec   parser.Parser
	backoff util.Backoff
	dialer  *websocket.Dialer
}

// NewWebSocketSource returns a source for url. Messages are decoded with codec.
func NewWebSocketSource(url string, codec parser.Parser, backoff util.Backoff) *WebSocketSource {
	if backoff.Min <= 0 {
		backoff = util.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second}
	}
	return &WebSocketSource{url: url, codec: codec, backoff: backoff, dialer: websocket.DefaultDialer}
}

// Run streams telemetry into sink until ctx is done.
func (w *WebSocketSource) Run(ctx context.Context, sink Sink) error {
	backoff := w.backoff
	for ctx.Err() == nil {
		conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			sink.Disconnected(err)
			util.Warn("[ws] dial %s: %v", w.url, err)
			if !util.Sleep(ctx, backoff.Next()) {
				break
			}
			continue
		}
		backoff.Reset()
		sink.Connected()
		util.Info("[ws] connected to %s", w.url)

		err = w.read(ctx, conn, sink)
		if ctx.Err() != nil {
			break
		}
		sink.Disconnected(err)
		util.Warn("[ws] connection lost: %v", err)
		if !util.Sleep(ctx, backoff.Next()) {
			break
		}
	}
	return ctx.Err()
}

func (w *WebSocketSource) read(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrConnectionLost, err)
		}
		env, err := w.codec.Decode(string(msg))
		if err != nil {
			util.Warn("[ws] drop message: %v", err)
			continue
		}
		if env.Kind == model.EnvTelemetry {
			sink.Frame(env.Frame)
		}
	}
}
