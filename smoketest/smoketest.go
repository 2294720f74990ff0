// Package smoketest probes a running server through its public streaming
// endpoint, exercising the same path a real client takes: join an instance,
// report a pose and wait for the first frame update.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	jordws "github.com/aukilabs/jord/websocket"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const defaultTimeout = time.Second * 10

type Options struct {
	// Endpoint is the public streaming endpoint of this server.
	Endpoint string

	// SendResult is called with the outcome of each smoke test. Optional.
	SendResult func(context.Context, Results) error
}

// Request is the body of a smoke test trigger.
type Request struct {
	Instance       string `json:"instance"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Results reports how far a smoke test got and how long each step took.
type Results struct {
	Endpoint          string        `json:"endpoint"`
	Instance          string        `json:"instance"`
	ViewerID          uint32        `json:"viewer_id,omitempty"`
	JoinLatency       time.Duration `json:"join_latency,omitempty"`
	FirstFrameLatency time.Duration `json:"first_frame_latency,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// HandleSmokeTest triggers a smoke test against the given endpoint. The test
// runs in the background and the outcome goes to opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading smoke test request failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			timeout := defaultTimeout
			if req.TimeoutSeconds > 0 {
				timeout = time.Duration(req.TimeoutSeconds) * time.Second
			}

			res, err := Run(ctx, RunOptions{
				Endpoint: opts.Endpoint,
				Instance: req.Instance,
				Timeout:  timeout,
			})
			if err != nil {
				logs.WithTag("endpoint", opts.Endpoint).
					WithTag("instance", req.Instance).
					Warn(errors.New("smoke test failed").Wrap(err))
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("endpoint", opts.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunOptions struct {
	Endpoint string
	Instance string
	Timeout  time.Duration
}

// Run joins the given instance as a throwaway viewer and waits for the first
// frame update. The returned results are populated up to the step that
// failed.
func Run(ctx context.Context, opts RunOptions) (Results, error) {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	res := Results{
		Endpoint: opts.Endpoint,
		Instance: opts.Instance,
	}

	fail := func(err error) (Results, error) {
		res.Error = err.Error()
		return res, err
	}

	conn, err := jordws.Dial(opts.Endpoint, uuid.NewString())
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(opts.Timeout)
	conn.SetDeadline(deadline)

	start := time.Now()
	if err := jordws.SendMsg(conn, jordws.MsgTypeJoinRequest, jordws.JoinRequest{
		Instance: opts.Instance,
	}); err != nil {
		return fail(errors.New("sending join request failed").Wrap(err))
	}

	var join jordws.JoinResponse
	if err := awaitMsg(conn, jordws.MsgTypeJoinResponse, &join); err != nil {
		return fail(errors.New("joining instance failed").Wrap(err))
	}
	res.ViewerID = join.ViewerID
	res.JoinLatency = time.Since(start)

	start = time.Now()
	if err := jordws.SendMsg(conn, jordws.MsgTypePose, jordws.Pose{
		X:            0,
		Y:            0,
		ViewDistance: 64,
	}); err != nil {
		return fail(errors.New("sending pose failed").Wrap(err))
	}

	var frame jordws.FrameUpdate
	if err := awaitMsg(conn, jordws.MsgTypeFrameUpdate, &frame); err != nil {
		return fail(errors.New("waiting for frame update failed").Wrap(err))
	}
	res.FirstFrameLatency = time.Since(start)

	logs.WithTag("endpoint", opts.Endpoint).
		WithTag("instance", opts.Instance).
		WithTag("viewer_id", res.ViewerID).
		WithTag("join_latency", res.JoinLatency).
		WithTag("first_frame_latency", res.FirstFrameLatency).
		Info("smoke test succeeded")
	return res, nil
}

// awaitMsg reads messages until one of the wanted type arrives, decoding it
// into v. A server-side error message ends the wait.
func awaitMsg(conn *websocket.Conn, msgType jordws.MsgType, v any) error {
	for {
		msg, err := jordws.ReceiveMsg(conn)
		if err != nil {
			return err
		}

		switch msg.Type {
		case msgType:
			return msg.DataTo(v)

		case jordws.MsgTypeError:
			var errRes jordws.ErrorResponse
			if err := msg.DataTo(&errRes); err != nil {
				return err
			}
			return errors.New("server returned an error").
				WithTag("code", errRes.Code).
				WithTag("message", errRes.Message)
		}
	}
}
