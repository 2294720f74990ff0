package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/jord/streamer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// HeaderClientID carries an optional client-chosen id, for correlating logs
// across reconnects.
const HeaderClientID = "X-Jord-Client-Id"

// StreamHandler serves one renderer client: it joins the client to a terrain
// instance, feeds its pose into the streamer and relays frame updates back.
type StreamHandler struct {
	// The terrain instances clients can join.
	Instances *streamer.Store

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	conn     *websocket.Conn
	clientID string
	instance *streamer.Instance
	viewer   *streamer.Viewer
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(HeaderClientID)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *StreamHandler) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req JoinRequest
	if err := msg.DataTo(&req); err != nil {
		sendError(respond, ErrCodeBadRequest, "malformed join request")
		return nil
	}

	if h.viewer != nil {
		sendError(respond, ErrCodeAlreadyJoined, "already joined an instance")
		return nil
	}

	instance, ok := h.Instances.Get(req.Instance)
	if !ok {
		sendError(respond, ErrCodeUnknownInstance, "unknown terrain instance")
		return nil
	}

	h.instance = instance
	h.viewer = instance.AddViewer(&framePublisher{respond: respond})

	res, err := NewMsg(MsgTypeJoinResponse, JoinResponse{
		Instance:      instance.Name(),
		InstanceUUID:  instance.UUID(),
		ViewerID:      h.viewer.ID(),
		AtlasCapacity: instance.Config().AtlasCapacity,
	})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *StreamHandler) HandlePose(ctx context.Context, msg Msg) error {
	if h.viewer == nil {
		// poses may race the join response, drop them silently
		return nil
	}

	var pose Pose
	if err := msg.DataTo(&pose); err != nil {
		return err
	}

	h.viewer.SetPose(mgl32.Vec2{pose.X, pose.Y}, pose.ViewDistance)
	return nil
}

func (h *StreamHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req PingRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	res, err := NewMsg(MsgTypePingResponse, PingResponse{RequestID: req.RequestID})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *StreamHandler) HandleDisconnect(error) {
	h.leave()
}

func (h *StreamHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").Wrap(err)
		}
		return msg, len(data), nil
	}
}

func (h *StreamHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}
		return len(data), websocket.Message.Send(h.conn, string(data))
	}
}

func (h *StreamHandler) Close() {
	h.leave()
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *StreamHandler) CurrentInstance() *streamer.Instance {
	return h.instance
}

func (h *StreamHandler) CurrentViewer() *streamer.Viewer {
	return h.viewer
}

func (h *StreamHandler) ClientID() string {
	return h.clientID
}

func (h *StreamHandler) leave() {
	if h.viewer == nil {
		return
	}
	h.instance.RemoveViewer(h.viewer)
	h.instance = nil
	h.viewer = nil
}

// framePublisher relays frame updates from the scheduler goroutine into the
// connection's send queue.
type framePublisher struct {
	respond ResponseSender
}

func (p *framePublisher) PublishFrame(update streamer.FrameUpdate) {
	commands := make([]SlotCommand, len(update.Commands))
	for i, cmd := range update.Commands {
		commands[i] = SlotCommand{
			Slot: uint32(cmd.Slot),
			Node: cmd.Node.String(),
			Free: cmd.Free,
		}
	}

	activated := make([]string, len(update.Activated))
	for i, id := range update.Activated {
		activated[i] = id.String()
	}

	msg, err := NewMsg(MsgTypeFrameUpdate, FrameUpdate{
		Instance:  update.Instance,
		Frame:     update.Frame,
		Commands:  commands,
		Activated: activated,
	})
	if err != nil {
		logs.WithTag("instance", update.Instance).
			WithTag("frame", update.Frame).
			Warn(errors.New("encoding frame update failed").Wrap(err))
		return
	}
	p.respond.Send(msg)
}

func sendError(respond ResponseSender, code, message string) {
	msg, err := NewMsg(MsgTypeError, ErrorResponse{Code: code, Message: message})
	if err != nil {
		logs.Warn(errors.New("encoding error response failed").Wrap(err))
		return
	}
	respond.Send(msg)
}
