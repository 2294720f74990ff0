package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/jord/streamer"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
	recvChanSize = 64
)

// Receiver reads the next message from the connection, returning its wire
// size.
type Receiver func() (Msg, int, error)

// Sender writes a message to the connection, returning its wire size.
type Sender func(Msg) (int, error)

// ResponseSender queues outbound messages from handler methods and
// publishers.
type ResponseSender interface {
	Send(Msg)
}

// Handler represents a jord client handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to join a terrain instance.
	HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a viewer pose update.
	HandlePose(ctx context.Context, msg Msg) error

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used by the send pump.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// The currently joined terrain instance.
	CurrentInstance() *streamer.Instance

	// The current viewer.
	CurrentViewer() *streamer.Viewer

	// Get client id.
	ClientID() string
}

// Handle serves the given connection with the given handler until the client
// disconnects or the context ends.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}
	handler.Handle(ctx)
}

type handler struct {
	Conn    *websocket.Conn
	Handler Handler

	sendChan       chan Msg
	recvChan       chan Msg
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.recvChan = make(chan Msg, recvChanSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{sendChan: h.sendChan}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").
				WithTag("duration", idleTimeout))

		case msg := <-h.recvChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so goroutines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	send := h.Handler.Sender()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := send(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	receive := h.Handler.Receiver()

	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := receive()
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			select {
			case h.recvChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypeJoinRequest:
		return h.Handler.HandleJoin(ctx, responder, msg)

	case MsgTypePose:
		return h.Handler.HandlePose(ctx, msg)

	case MsgTypePingRequest:
		return h.Handler.HandlePing(ctx, responder, msg)
	}

	// unknown types are ignored so clients can be newer than the server
	return nil
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	sendChan chan Msg
}

// Send queues the message, dropping it when the client cannot keep up. The
// send pump owns delivery and error handling.
func (r responseSender) Send(msg Msg) {
	select {
	case r.sendChan <- msg:
	default:
		instrumentDroppedMsg(string(msg.Type))
	}
}
