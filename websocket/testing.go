package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// NewTestingEnv spins up a server running the given handler and returns a
// connected client.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}
	config.Header.Set(HeaderClientID, uuid.NewString())

	conn, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func sendTestMsg(t *testing.T, conn *websocket.Conn, msgType MsgType, data any) {
	t.Helper()

	if err := SendMsg(conn, msgType, data); err != nil {
		t.Fatalf("error sending message: %s", err)
	}
}

func receiveTestMsg(t *testing.T, conn *websocket.Conn, timeout time.Duration) Msg {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))

	msg, err := ReceiveMsg(conn)
	if err != nil {
		t.Fatalf("error receiving message: %s", err)
	}
	return msg
}

// receiveTestMsgOfType skips messages until one of the wanted type arrives.
func receiveTestMsgOfType(t *testing.T, conn *websocket.Conn, msgType MsgType, timeout time.Duration) Msg {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s message", msgType)
		}

		msg := receiveTestMsg(t, conn, time.Until(deadline))
		if msg.Type == msgType {
			return msg
		}
	}
}
