package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

func TestWebSocketSourceReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		seq := uint64(n) * 10
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"motorId":"A","sequence":`+strconv.FormatUint(seq, 10)+`,"voltage":12,"current":100,"rpm":900}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack","id":1}`))
		if n == 1 {
			return // drop the first connection
		}
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := NewWebSocketSource(url, parser.NewJSONParser(), util.Backoff{Min: time.Millisecond, Max: 10 * time.Millisecond})
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	require.Eventually(t, func() bool {
		frames, _, _ := sink.snapshot()
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	frames, connected, disc := sink.snapshot()
	assert.Equal(t, uint64(10), frames[0].Sequence)
	assert.Equal(t, uint64(20), frames[1].Sequence)
	assert.Equal(t, model.MotorA, frames[1].MotorID)
	assert.Equal(t, 2, connected)
	require.Len(t, disc, 1)
	assert.ErrorIs(t, disc[0], model.ErrConnectionLost)
}

func TestWebSocketSourceDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	src := NewWebSocketSource(url, parser.NewJSONParser(), util.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond})
	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Error(t, src.Run(ctx, sink))
	_, connected, disc := sink.snapshot()
	assert.Zero(t, connected)
	assert.NotEmpty(t, disc)
}
