package streamer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/jord/featureflag"
	"github.com/aukilabs/jord/terrain"
)

// EventSource is the asset loading side the scheduler drains once per tick.
type EventSource interface {
	DrainEvents() []terrain.AssetEvent
}

// FrameRecorder journals published frames.
type FrameRecorder interface {
	Record(instance string, frame uint64, res terrain.FrameResult)
}

// Scheduler owns the single goroutine that ticks every terrain instance.
// All core terrain state is touched only from this goroutine; transports
// interact through viewer poses and the publisher callbacks.
type Scheduler struct {
	Store         *Store
	Events        EventSource
	FrameDuration time.Duration
	FeatureFlags  featureflag.FeatureFlag

	// Recorder is optional and gated by FlagDisableFrameLog.
	Recorder FrameRecorder

	// Prefetcher is optional and gated by FlagDisablePrefetch.
	Prefetcher *Prefetcher

	frame   atomic.Uint64
	running atomic.Bool
}

// Run ticks until the context is canceled. It blocks, so callers start it on
// its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.FrameDuration)
	defer ticker.Stop()

	s.running.Store(true)
	defer s.running.Store(false)

	logs.WithTag("frame_duration", s.FrameDuration).
		Info("starting frame scheduler")

	for {
		select {
		case <-ctx.Done():
			logs.Info("stopping frame scheduler")
			return

		case <-ticker.C:
			s.Tick()
		}
	}
}

// Running reports whether the scheduler loop is live. Used as the readiness
// signal.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Frame returns the number of completed ticks.
func (s *Scheduler) Frame() uint64 {
	return s.frame.Load()
}

// Tick runs one frame: drain and route asset events, then run every
// instance's streaming pipeline and publish the results.
func (s *Scheduler) Tick() {
	start := time.Now()
	frame := s.frame.Add(1)
	instances := s.Store.List()

	// handles are globally unique, the first owning instance ends the
	// search
	if s.Events != nil {
		for _, ev := range s.Events.DrainEvents() {
			for _, instance := range instances {
				if instance.terrain.RouteAssetEvent(ev) {
					break
				}
			}
		}
	}

	for _, instance := range instances {
		res := instance.terrain.Frame(instance.snapshotPoses(), nil)
		if len(res.Commands) == 0 && len(res.Activated) == 0 {
			continue
		}

		update := FrameUpdate{
			Instance:  instance.Name(),
			Frame:     frame,
			Commands:  res.Commands,
			Activated: res.Activated,
		}
		instance.publish(update)

		if s.Recorder != nil {
			s.FeatureFlags.IfNotSet(featureflag.FlagDisableFrameLog, func() {
				s.Recorder.Record(instance.Name(), frame, res)
			})
		}
		if s.Prefetcher != nil {
			s.FeatureFlags.IfNotSet(featureflag.FlagDisablePrefetch, func() {
				s.Prefetcher.Prefetch(instance.config, res.Activated)
			})
		}
	}

	instrumentFrame(time.Since(start))
}
