package assets

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/jord/terrain"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Options tune the asset server. Zero values fall back to defaults.
type Options struct {
	// Workers is the number of goroutines loading tiles.
	Workers int

	// QueueSize bounds the load job queue.
	QueueSize int

	// Retries is how often a failed tile read is retried before the load
	// falls back to an empty payload.
	Retries int

	// RetryDelay is the backoff base between retries.
	RetryDelay time.Duration

	// PrewarmCacheSize bounds the cache of prefetched tiles.
	PrewarmCacheSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Millisecond * 50
	}
	if o.PrewarmCacheSize <= 0 {
		o.PrewarmCacheSize = 256
	}
	return o
}

type tileKey struct {
	id    terrain.NodeID
	layer Layer
}

type job struct {
	handle terrain.AssetHandle
	key    tileKey

	// prewarm jobs fill the prewarm cache instead of producing a payload
	// and emit no event
	prewarm bool
}

// Payload is one loaded node asset, retained by the server until its handle
// is released.
type Payload struct {
	Node  terrain.NodeID
	Layer Layer
	Data  []byte
}

// Server loads node asset bundles off the frame loop on a bounded worker
// pool and reports readiness through an event queue the frame driver drains
// once per tick. It implements terrain.AssetSource.
type Server struct {
	source  Source
	options Options

	jobs chan job

	eventsMutex sync.Mutex
	events      []terrain.AssetEvent

	nextHandle atomic.Uint64

	mutex    sync.Mutex
	payloads map[terrain.AssetHandle]*Payload
	released map[terrain.AssetHandle]struct{}

	prewarmMutex sync.Mutex
	prewarming   map[tileKey]struct{}
	prewarmed    *lru.Cache[tileKey, []byte]

	wg sync.WaitGroup
}

func NewServer(source Source, opts Options) *Server {
	opts = opts.withDefaults()

	prewarmed, err := lru.New[tileKey, []byte](opts.PrewarmCacheSize)
	if err != nil {
		panic(errors.New("creating prewarm cache failed").Wrap(err))
	}

	return &Server{
		source:     source,
		options:    opts,
		jobs:       make(chan job, opts.QueueSize),
		payloads:   make(map[terrain.AssetHandle]*Payload),
		released:   make(map[terrain.AssetHandle]struct{}),
		prewarming: make(map[tileKey]struct{}),
		prewarmed:  prewarmed,
	}
}

// Start launches the worker pool. Workers exit when the context is canceled;
// Wait blocks until they have.
func (s *Server) Start(ctx context.Context) {
	for i := 0; i < s.options.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx)
		}()
	}
}

func (s *Server) Wait() {
	s.wg.Wait()
}

// RequestNodeAssets begins loading the node's asset bundle and returns one
// handle per layer. The caller runs on the frame goroutine and must never
// stall on a saturated queue, so an overflowed load resolves to an empty
// payload immediately instead of waiting for a worker.
func (s *Server) RequestNodeAssets(id terrain.NodeID) []terrain.AssetHandle {
	handles := make([]terrain.AssetHandle, len(NodeLayers))
	for i, layer := range NodeLayers {
		h := terrain.AssetHandle(s.nextHandle.Add(1))
		handles[i] = h
		instrumentLoadRequested(string(layer))

		select {
		case s.jobs <- job{handle: h, key: tileKey{id: id, layer: layer}}:
		default:
			s.storePayload(h, &Payload{Node: id, Layer: layer, Data: []byte{}})
			s.queueEvent(terrain.AssetEvent{Handle: h})
			logs.WithTag("node_id", id).
				WithTag("layer", layer).
				Warn("tile load queue saturated, serving empty payload")
			instrumentQueueOverflow(string(layer))
		}
	}
	return handles
}

// Release drops the payloads behind the handles. Handles whose load is still
// in flight are remembered so the late payload is dropped on arrival.
func (s *Server) Release(handles []terrain.AssetHandle) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, h := range handles {
		if _, ok := s.payloads[h]; ok {
			delete(s.payloads, h)
			continue
		}
		s.released[h] = struct{}{}
	}
}

// Payload returns the loaded asset behind a handle, if it has arrived and
// was not released.
func (s *Server) Payload(h terrain.AssetHandle) (*Payload, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.payloads[h]
	return p, ok
}

// Prewarm loads the node's tiles into the prewarm cache without touching the
// node lifecycle, so a later RequestNodeAssets is served from memory. Tiles
// already warm or warming are skipped.
func (s *Server) Prewarm(id terrain.NodeID) {
	for _, layer := range NodeLayers {
		key := tileKey{id: id, layer: layer}

		s.prewarmMutex.Lock()
		_, warming := s.prewarming[key]
		if warming || s.prewarmed.Contains(key) {
			s.prewarmMutex.Unlock()
			continue
		}
		s.prewarming[key] = struct{}{}
		s.prewarmMutex.Unlock()

		select {
		case s.jobs <- job{key: key, prewarm: true}:
		default:
			// queue is saturated with real loads, skip the prefetch
			s.prewarmMutex.Lock()
			delete(s.prewarming, key)
			s.prewarmMutex.Unlock()
		}
	}
}

// DrainEvents returns every readiness event queued so far without blocking.
func (s *Server) DrainEvents() []terrain.AssetEvent {
	s.eventsMutex.Lock()
	defer s.eventsMutex.Unlock()

	events := s.events
	s.events = nil
	return events
}

func (s *Server) queueEvent(ev terrain.AssetEvent) {
	s.eventsMutex.Lock()
	defer s.eventsMutex.Unlock()

	s.events = append(s.events, ev)
}

func (s *Server) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case j := <-s.jobs:
			if j.prewarm {
				s.loadPrewarm(ctx, j.key)
				continue
			}

			data := s.takePrewarmed(j.key)
			if data == nil {
				data = s.loadTile(ctx, j.key)
			}
			if ctx.Err() != nil {
				return
			}

			s.storePayload(j.handle, &Payload{
				Node:  j.key.id,
				Layer: j.key.layer,
				Data:  data,
			})
			s.queueEvent(terrain.AssetEvent{Handle: j.handle})
		}
	}
}

// loadTile reads one tile with retries. A load that keeps failing resolves
// to an empty payload so the owning node never wedges in the loading stage.
func (s *Server) loadTile(ctx context.Context, key tileKey) []byte {
	start := time.Now()

	var err error
	for attempt := 0; attempt < s.options.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.options.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil
			}
		}

		var data []byte
		if data, err = s.source.ReadTile(ctx, key.id, key.layer); err == nil {
			instrumentLoadDone(string(key.layer), time.Since(start))
			return data
		}
	}

	if ctx.Err() == nil {
		logs.WithTag("node_id", key.id).
			WithTag("layer", key.layer).
			Warn(errors.New("loading tile failed, serving empty payload").Wrap(err))
		instrumentLoadFailed(string(key.layer))
	}
	return []byte{}
}

func (s *Server) loadPrewarm(ctx context.Context, key tileKey) {
	data, err := s.source.ReadTile(ctx, key.id, key.layer)

	s.prewarmMutex.Lock()
	defer s.prewarmMutex.Unlock()

	delete(s.prewarming, key)
	if err == nil {
		s.prewarmed.Add(key, data)
		instrumentPrewarm(string(key.layer))
	}
}

func (s *Server) takePrewarmed(key tileKey) []byte {
	s.prewarmMutex.Lock()
	defer s.prewarmMutex.Unlock()

	data, ok := s.prewarmed.Peek(key)
	if !ok {
		return nil
	}
	s.prewarmed.Remove(key)
	return data
}

func (s *Server) storePayload(h terrain.AssetHandle, p *Payload) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.released[h]; ok {
		delete(s.released, h)
		return
	}
	s.payloads[h] = p
}
