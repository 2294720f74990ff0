package websocket

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	msgTypeLabel        = "msg_type"
	instanceLabel       = "instance"
	publicEndpointLabel = "public_endpoint"
)

var (
	wsConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	}, []string{publicEndpointLabel})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from WebSocket connections.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_msgs",
		Help: "The number of messages sent over WebSocket connections.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent over WebSocket connections.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	wsDroppedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_msgs",
		Help: "The number of outbound messages dropped because a client could not keep up.",
	}, []string{msgTypeLabel})

	wsConnectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ws_connection_duration_seconds",
		Help:    "The duration of client connections.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{publicEndpointLabel})

	wsJoinedViewers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_joined_viewers_total",
		Help: "The total number of viewers that joined a terrain instance.",
	}, []string{publicEndpointLabel, instanceLabel})
)

func instrumentDroppedMsg(msgType string) {
	wsDroppedMsgs.
		With(prometheus.Labels{msgTypeLabel: msgType}).
		Inc()
}

// HandlerWithMetrics decorates the given handler with connection and message
// metrics labeled by the server's public endpoint.
func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	publicEndpoint string
	connectedAt    time.Time
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)
	h.connectedAt = time.Now()

	wsConnectedClients.
		With(prometheus.Labels{publicEndpointLabel: h.publicEndpoint}).
		Inc()
}

func (h *handlerWithMetrics) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleJoin(ctx, respond, msg); err != nil {
		return err
	}

	if instance := h.CurrentInstance(); instance != nil {
		wsJoinedViewers.
			With(prometheus.Labels{
				publicEndpointLabel: h.publicEndpoint,
				instanceLabel:       instance.Name(),
			}).
			Inc()
	}
	return nil
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	wsConnectedClients.
		With(prometheus.Labels{publicEndpointLabel: h.publicEndpoint}).
		Dec()
	wsConnectionDuration.
		With(prometheus.Labels{publicEndpointLabel: h.publicEndpoint}).
		Observe(time.Since(h.connectedAt).Seconds())
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err == nil {
			labels := prometheus.Labels{
				publicEndpointLabel: h.publicEndpoint,
				msgTypeLabel:        string(msg.Type),
			}
			wsReceivedMsgs.With(labels).Inc()
			wsReceivedBytes.With(labels).Add(float64(n))
		}
		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := send(msg)
		if err == nil {
			labels := prometheus.Labels{
				publicEndpointLabel: h.publicEndpoint,
				msgTypeLabel:        string(msg.Type),
			}
			wsSentMsgs.With(labels).Inc()
			wsSentBytes.With(labels).Add(float64(n))
		}
		return n, err
	}
}
