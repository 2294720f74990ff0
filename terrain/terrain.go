package terrain

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// AssetSource is how the terrain core requests node payloads from the asset
// loading system. RequestNodeAssets begins an asynchronous load of the node's
// asset bundle and returns one handle per asset; readiness is reported later
// through AssetEvents. Release tells the loader the payloads behind the
// handles will never be consumed.
type AssetSource interface {
	RequestNodeAssets(id NodeID) []AssetHandle
	Release(handles []AssetHandle)
}

// Config shapes one terrain instance.
type Config struct {
	// Name labels the instance in logs and metrics.
	Name string

	// LevelCount is the number of detail levels, level 0 being the finest.
	LevelCount uint32

	// RootCount is the number of coarsest-level nodes per axis.
	RootCount uint32

	// ChunkSize is the world-space edge length of a level 0 node.
	ChunkSize float32

	// AtlasCapacity is the number of storage slots available for active
	// nodes.
	AtlasCapacity int

	// CacheSize bounds the inactive node cache. Least recently deactivated
	// nodes are evicted and their assets released. Zero disables caching.
	CacheSize int
}

// Terrain is the streaming core of one terrain instance: the quadtree that
// selects nodes, the lifecycle store that tracks them and the atlas that
// houses them. It owns no goroutines; Frame is called once per tick by a
// single driver.
type Terrain struct {
	name     string
	quadtree *Quadtree
	nodes    *nodes
	atlas    *NodeAtlas
	update   *TreeUpdate
	updates  SlotUpdates
	pending  []*NodeData
	source   AssetSource
}

func New(cfg Config, source AssetSource) *Terrain {
	t := &Terrain{
		name:     cfg.Name,
		quadtree: NewQuadtree(cfg.LevelCount, cfg.RootCount, cfg.ChunkSize),
		atlas:    NewNodeAtlas(cfg.AtlasCapacity),
		update:   NewTreeUpdate(),
		source:   source,
	}
	t.nodes = newNodes(cfg.CacheSize, func(node *NodeData) {
		source.Release(node.Assets)
	})
	return t
}

// Frame runs one tick of the streaming pipeline: traverse the quadtree for
// every viewer, route the drained asset events, resolve the node lifecycle
// and publish the resulting slot commands. The steps are deliberately fused
// into one method so callers cannot reorder them.
//
// An empty viewer slice leaves the desired node set untouched; loads and
// admissions still progress.
func (t *Terrain) Frame(viewers []Viewer, events []AssetEvent) FrameResult {
	if len(viewers) > 0 {
		t.quadtree.beginFrame()
		for _, viewer := range viewers {
			t.quadtree.Traverse(t.update, viewer)
		}
		t.quadtree.rollover()
	}

	for _, ev := range events {
		t.RouteAssetEvent(ev)
	}

	t.resolveLifecycle()

	return FrameResult{
		Commands:  t.updates.Drain(),
		Activated: t.update.ActivatedNodes(),
	}
}

// RouteAssetEvent marks the node owning the event's asset handle as finished
// loading. Stale or duplicate events are no-ops. Reports whether the handle
// belonged to this terrain, so a multi-terrain router can stop at the first
// owner.
func (t *Terrain) RouteAssetEvent(ev AssetEvent) bool {
	return t.nodes.routeAssetEvent(ev.Handle)
}

// resolveLifecycle runs the five admission/eviction steps of one frame in
// their fixed order. Deactivations free their slots before this frame's
// activations are admitted, so slots are reused within one tick.
func (t *Terrain) resolveLifecycle() {
	clear(t.update.activated)

	// serve newly required nodes from the cache, resurrect in-flight
	// loads, or begin loading
	var queued []*NodeData
	for _, id := range t.update.drainActivations() {
		switch {
		case t.nodes.isLoading(id):
			t.nodes.resurrect(id)

		default:
			if node, ok := t.nodes.popInactive(id); ok {
				queued = append(queued, node)
				instrumentNodeCacheHit(t.name)
				continue
			}

			t.nodes.beginLoad(id, t.source.RequestNodeAssets(id))
			instrumentNodeCacheMiss(t.name)
		}
	}

	ready, abandoned := t.nodes.takeFinished()
	for _, node := range abandoned {
		t.nodes.putInactive(node)
	}

	for _, id := range t.update.drainDeactivations() {
		if node, ok := t.nodes.popActive(id); ok {
			t.atlas.release(node, &t.updates)
			t.nodes.putInactive(node)
			continue
		}

		if t.nodes.isLoading(id) {
			t.nodes.abandon(id)
			continue
		}

		if node, ok := t.popPending(id); ok {
			t.nodes.putInactive(node)
			continue
		}

		panic(errors.New("node to deactivate is not tracked").
			WithTag("terrain", t.name).
			WithTag("node_id", id))
	}

	// admit deferred nodes first, then this frame's, as long as slots last
	var deferred []*NodeData
	for _, node := range append(t.pending, append(queued, ready...)...) {
		if !t.atlas.allocate(node, &t.updates) {
			deferred = append(deferred, node)
			instrumentAdmissionDeferred(t.name)
			continue
		}
		t.update.activated[node.ID] = struct{}{}
		t.nodes.putActive(node)
	}
	t.pending = deferred

	instrumentNodeCounts(t.name,
		len(t.nodes.activeNodes),
		len(t.nodes.loadingNodes),
		t.nodes.inactiveLen(),
		len(t.pending))
}

func (t *Terrain) popPending(id NodeID) (*NodeData, bool) {
	for i, node := range t.pending {
		if node.ID == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return node, true
		}
	}
	return nil, false
}

// FrameResult is the outcome of one tick: the slot commands for the
// rendering backend and the nodes that became newly visible.
type FrameResult struct {
	Commands  []SlotUpdate
	Activated []NodeID
}

// WarnUndersizedAtlas logs when the configured atlas cannot house the worst
// case desired node set, which would leave admissions deferred while the
// full set is in view.
func WarnUndersizedAtlas(cfg Config, viewDistance float32) {
	bound := MaxVisibleNodes(cfg.LevelCount, cfg.RootCount, cfg.ChunkSize, viewDistance)
	if cfg.AtlasCapacity >= bound {
		return
	}
	logs.WithTag("terrain", cfg.Name).
		WithTag("atlas_capacity", cfg.AtlasCapacity).
		WithTag("max_visible_nodes", bound).
		WithTag("view_distance", viewDistance).
		Warn("atlas capacity below worst case visible node count")
}
