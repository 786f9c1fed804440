package websocket

import (
	"chatter/wire"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoServer writes a garbage message, then echoes every frame it reads.
func echoServer(t *testing.T, authorization chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		for {
			var frame wire.Frame
			if err := ws.ReadJSON(&frame); err != nil {
				return
			}
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_Send_And_Receive(t *testing.T) {
	req := require.New(t)
	authorization := make(chan string, 1)
	server := echoServer(t, authorization)
	dialer := NewDialer(slog.Default(), wsURL(server), "secret-token", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := dialer.Dial(ctx)
	req.NoError(err)
	defer conn.Close()
	req.Equal("Bearer secret-token", <-authorization)

	frame, err := wire.NewFrame(wire.EventJoin, wire.JoinPayload{Username: "ada", UserID: "7", ChatID: "1"})
	req.NoError(err)
	req.NoError(conn.Send(ctx, frame))

	// Then the garbage message is skipped and the echo is decoded
	echoed, err := conn.Receive()
	req.NoError(err)
	req.Equal(wire.EventJoin, echoed.Event)
	var payload wire.JoinPayload
	req.NoError(echoed.Decode(&payload))
	req.Equal(wire.ID("1"), payload.ChatID)
}

func TestConn_Close_Ends_Receive(t *testing.T) {
	req := require.New(t)
	server := echoServer(t, make(chan string, 1))
	conn, err := NewDialer(slog.Default(), wsURL(server), "", 0).Dial(context.Background())
	req.NoError(err)

	req.NoError(conn.Close())
	req.NoError(conn.Close())

	_, err = conn.Receive()
	req.Error(err)
}

func TestDialer_Unreachable_Server(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewDialer(slog.Default(), wsURL(server), "", 0).Dial(context.Background())

	req.Error(err)
	req.Contains(err.Error(), "404")
}
