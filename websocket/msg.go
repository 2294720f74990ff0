package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
)

type MsgType string

const (
	MsgTypeJoinRequest  MsgType = "join_request"
	MsgTypeJoinResponse MsgType = "join_response"
	MsgTypePose         MsgType = "pose"
	MsgTypePingRequest  MsgType = "ping_request"
	MsgTypePingResponse MsgType = "ping_response"
	MsgTypeFrameUpdate  MsgType = "frame_update"
	MsgTypeError        MsgType = "error"
)

// Msg is the envelope every message travels in, both directions.
type Msg struct {
	Type MsgType         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMsg(t MsgType, data any) (Msg, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Msg{}, errors.New("encoding message data failed").
			WithTag("msg_type", t).
			Wrap(err)
	}
	return Msg{Type: t, Data: b}, nil
}

func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// JoinRequest subscribes the client to a terrain instance.
type JoinRequest struct {
	Instance string `json:"instance"`
}

type JoinResponse struct {
	Instance      string `json:"instance"`
	InstanceUUID  string `json:"instance_uuid"`
	ViewerID      uint32 `json:"viewer_id"`
	AtlasCapacity int    `json:"atlas_capacity"`
}

// Pose reports the viewer position on the terrain plane and its view
// distance. Sent by the client as often as it likes; the last one before a
// frame wins.
type Pose struct {
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	ViewDistance float32 `json:"view_distance"`
}

type PingRequest struct {
	RequestID uint32 `json:"request_id"`
}

type PingResponse struct {
	RequestID uint32 `json:"request_id"`
}

// FrameUpdate carries one frame's slot commands to the client's renderer.
type FrameUpdate struct {
	Instance  string        `json:"instance"`
	Frame     uint64        `json:"frame"`
	Commands  []SlotCommand `json:"commands,omitempty"`
	Activated []string      `json:"activated,omitempty"`
}

type SlotCommand struct {
	Slot uint32 `json:"slot"`
	Node string `json:"node,omitempty"`
	Free bool   `json:"free,omitempty"`
}

const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnknownInstance = "unknown_instance"
	ErrCodeAlreadyJoined   = "already_joined"
	ErrCodeNotJoined       = "not_joined"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
