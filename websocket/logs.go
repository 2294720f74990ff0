package websocket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs decorates the given handler with connection lifecycle logs
// and a periodic inbound message summary.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	instanceName string
	viewerID     uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	logs.WithTag("client_id", h.ClientID()).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleJoin(ctx, respond, msg); err != nil {
		return err
	}

	viewer := h.CurrentViewer()
	if viewer == nil {
		var req JoinRequest
		// parsing already succeeded in the wrapped HandleJoin when the
		// request got this far
		msg.DataTo(&req)

		logs.WithTag("client_id", h.ClientID()).
			WithTag("instance", req.Instance).
			Info("client failed to join an instance")
		return nil
	}

	h.instanceName = h.CurrentInstance().Name()
	h.viewerID = viewer.ID()

	logs.WithTag("client_id", h.ClientID()).
		WithTag("instance", h.instanceName).
		WithTag("instance_uuid", h.CurrentInstance().UUID()).
		WithTag("viewer_id", h.viewerID).
		Info("client joined an instance")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	logs.WithTag("client_id", h.ClientID()).
		WithTag("instance", h.instanceName).
		WithTag("viewer_id", h.viewerID).
		Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.ClientID()).
				WithTag("instance", h.instanceName).
				WithTag("viewer_id", h.viewerID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag("client_id", h.ClientID()).
				WithTag("instance", h.instanceName).
				WithTag("viewer_id", h.viewerID).
				WithTag("msg_type", msg.Type).
				Debug("message received")
			h.incCounter(string(msg.Type))
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := send(msg)
		if err != nil && !stderrors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.ClientID()).
				WithTag("instance", h.instanceName).
				WithTag("viewer_id", h.viewerID).
				WithTag("msg_type", msg.Type).
				Error(errors.New("sending message failed").Wrap(err))
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.WithTag("client_id", h.ClientID()).
		WithTag("instance", h.instanceName).
		WithTag("viewer_id", h.viewerID).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
