package websocket

import (
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Dial opens a client connection to a streaming endpoint. The endpoint can
// use either an http or a ws scheme.
func Dial(endpoint, clientID string) (*websocket.Conn, error) {
	endpoint = strings.ReplaceAll(endpoint, "http://", "ws://")
	endpoint = strings.ReplaceAll(endpoint, "https://", "wss://")

	config, err := websocket.NewConfig(endpoint, "http://localhost")
	if err != nil {
		return nil, errors.New("initializing web socket config failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	config.Header.Set(HeaderClientID, clientID)

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, errors.New("dialing web socket failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	return conn, nil
}

// SendMsg encodes and sends a message on a client connection.
func SendMsg(conn *websocket.Conn, msgType MsgType, data any) error {
	msg, err := NewMsg(msgType, data)
	if err != nil {
		return err
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.New("encoding message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}
	return websocket.Message.Send(conn, string(b))
}

// ReceiveMsg receives and decodes the next message on a client connection.
func ReceiveMsg(conn *websocket.Conn) (Msg, error) {
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return Msg{}, err
	}

	var msg Msg
	if err := json.Unmarshal(data, &msg); err != nil {
		return Msg{}, errors.New("decoding message failed").Wrap(err)
	}
	return msg, nil
}
