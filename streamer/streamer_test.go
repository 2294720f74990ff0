package streamer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/jord/featureflag"
	"github.com/aukilabs/jord/terrain"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

// syncSource completes every requested load immediately, so a node requested
// on one tick activates on the next.
type syncSource struct {
	mutex      sync.Mutex
	nextHandle terrain.AssetHandle
	events     []terrain.AssetEvent
	released   []terrain.AssetHandle
	prewarmed  []terrain.NodeID
}

func (s *syncSource) RequestNodeAssets(id terrain.NodeID) []terrain.AssetHandle {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextHandle++
	s.events = append(s.events, terrain.AssetEvent{Handle: s.nextHandle})
	return []terrain.AssetHandle{s.nextHandle}
}

func (s *syncSource) Release(handles []terrain.AssetHandle) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.released = append(s.released, handles...)
}

func (s *syncSource) DrainEvents() []terrain.AssetEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	events := s.events
	s.events = nil
	return events
}

func (s *syncSource) Prewarm(id terrain.NodeID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.prewarmed = append(s.prewarmed, id)
}

type recordingPublisher struct {
	mutex   sync.Mutex
	updates []FrameUpdate
}

func (p *recordingPublisher) PublishFrame(u FrameUpdate) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.updates = append(p.updates, u)
}

func (p *recordingPublisher) all() []FrameUpdate {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]FrameUpdate(nil), p.updates...)
}

type recordingRecorder struct {
	entries []string
}

func (r *recordingRecorder) Record(instance string, frame uint64, res terrain.FrameResult) {
	r.entries = append(r.entries, instance)
}

func testSpec(name string) terrain.Config {
	return terrain.Config{
		Name:          name,
		LevelCount:    2,
		RootCount:     2,
		ChunkSize:     16,
		AtlasCapacity: 32,
		CacheSize:     16,
	}
}

func TestStore(t *testing.T) {
	t.Run("adds and looks up instances", func(t *testing.T) {
		var store Store
		source := &syncSource{}

		highlands, err := store.Add(testSpec("highlands"), source)
		require.NoError(t, err)
		require.NotEmpty(t, highlands.UUID())

		_, err = store.Add(testSpec("highlands"), source)
		require.Error(t, err)

		got, ok := store.Get("highlands")
		require.True(t, ok)
		require.Equal(t, highlands, got)

		store.Remove(highlands)
		_, ok = store.Get("highlands")
		require.False(t, ok)
	})

	t.Run("lists instances in id order", func(t *testing.T) {
		var store Store
		source := &syncSource{}

		a, err := store.Add(testSpec("a"), source)
		require.NoError(t, err)
		b, err := store.Add(testSpec("b"), source)
		require.NoError(t, err)

		require.Equal(t, []*Instance{a, b}, store.List())
	})
}

func TestInstanceViewers(t *testing.T) {
	var store Store
	instance, err := store.Add(testSpec("highlands"), &syncSource{})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	viewer := instance.AddViewer(pub)
	require.Equal(t, 1, instance.ViewerCount())

	// viewers without a pose do not traverse
	require.Empty(t, instance.snapshotPoses())

	viewer.SetPose(mgl32.Vec2{8, 8}, 24)
	poses := instance.snapshotPoses()
	require.Len(t, poses, 1)
	require.Equal(t, float32(24), poses[0].ViewDistance)

	instance.RemoveViewer(viewer)
	require.Zero(t, instance.ViewerCount())
}

func TestSchedulerTick(t *testing.T) {
	t.Run("streams nodes to subscribed viewers", func(t *testing.T) {
		var store Store
		source := &syncSource{}
		recorder := &recordingRecorder{}

		instance, err := store.Add(testSpec("highlands"), source)
		require.NoError(t, err)

		pub := &recordingPublisher{}
		viewer := instance.AddViewer(pub)
		viewer.SetPose(mgl32.Vec2{8, 8}, 24)

		scheduler := Scheduler{
			Store:         &store,
			Events:        source,
			FrameDuration: time.Millisecond,
			FeatureFlags:  featureflag.New(nil),
			Recorder:      recorder,
			Prefetcher:    &Prefetcher{Warmer: source},
		}

		// first tick requests loads, second tick routes the completions
		// and admits the nodes
		scheduler.Tick()
		require.Empty(t, pub.all())

		scheduler.Tick()
		updates := pub.all()
		require.Len(t, updates, 1)
		require.Equal(t, "highlands", updates[0].Instance)
		require.Equal(t, uint64(2), updates[0].Frame)
		require.NotEmpty(t, updates[0].Commands)
		require.NotEmpty(t, updates[0].Activated)

		require.Equal(t, []string{"highlands"}, recorder.entries)
		require.NotEmpty(t, source.prewarmed)
	})

	t.Run("routes events across instances to the first owner", func(t *testing.T) {
		var store Store
		source := &syncSource{}

		a, err := store.Add(testSpec("a"), source)
		require.NoError(t, err)
		b, err := store.Add(testSpec("b"), source)
		require.NoError(t, err)

		pubA, pubB := &recordingPublisher{}, &recordingPublisher{}
		a.AddViewer(pubA).SetPose(mgl32.Vec2{8, 8}, 20)
		b.AddViewer(pubB).SetPose(mgl32.Vec2{24, 24}, 20)

		scheduler := Scheduler{
			Store:         &store,
			Events:        source,
			FrameDuration: time.Millisecond,
			FeatureFlags:  featureflag.New(nil),
		}

		scheduler.Tick()
		scheduler.Tick()

		require.NotEmpty(t, pubA.all())
		require.NotEmpty(t, pubB.all())
	})

	t.Run("feature flags gate the journal and the prefetcher", func(t *testing.T) {
		var store Store
		source := &syncSource{}
		recorder := &recordingRecorder{}

		instance, err := store.Add(testSpec("highlands"), source)
		require.NoError(t, err)
		instance.AddViewer(&recordingPublisher{}).SetPose(mgl32.Vec2{8, 8}, 24)

		scheduler := Scheduler{
			Store:         &store,
			Events:        source,
			FrameDuration: time.Millisecond,
			FeatureFlags: featureflag.New([]string{
				string(featureflag.FlagDisableFrameLog),
				string(featureflag.FlagDisablePrefetch),
			}),
			Recorder:   recorder,
			Prefetcher: &Prefetcher{Warmer: source},
		}

		scheduler.Tick()
		scheduler.Tick()

		require.Empty(t, recorder.entries)
		require.Empty(t, source.prewarmed)
	})
}

func TestSchedulerRun(t *testing.T) {
	var store Store
	source := &syncSource{}

	instance, err := store.Add(testSpec("highlands"), source)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	instance.AddViewer(pub).SetPose(mgl32.Vec2{8, 8}, 24)

	scheduler := Scheduler{
		Store:         &store,
		Events:        source,
		FrameDuration: time.Millisecond,
		FeatureFlags:  featureflag.New(nil),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(pub.all()) > 0
	}, time.Second*5, time.Millisecond)
	require.True(t, scheduler.Running())

	cancel()
	<-done
	require.False(t, scheduler.Running())
}

func TestPrefetcherClampsToTheLevelGrid(t *testing.T) {
	source := &syncSource{}
	p := Prefetcher{Warmer: source}

	cfg := terrain.Config{LevelCount: 2, RootCount: 2, ChunkSize: 16}

	// corner node at the finest level: only two neighbors are in bounds
	p.Prefetch(cfg, []terrain.NodeID{{Level: 0, X: 0, Y: 0}})
	require.ElementsMatch(t, []terrain.NodeID{
		{Level: 0, X: 1, Y: 0},
		{Level: 0, X: 0, Y: 1},
	}, source.prewarmed)
}
