package terrain

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	nextHandle    AssetHandle
	assetsPerNode int
	requests      map[NodeID][]AssetHandle
	requestCount  map[NodeID]int
	released      []AssetHandle
}

func newFakeSource(assetsPerNode int) *fakeSource {
	return &fakeSource{
		assetsPerNode: assetsPerNode,
		requests:      make(map[NodeID][]AssetHandle),
		requestCount:  make(map[NodeID]int),
	}
}

func (s *fakeSource) RequestNodeAssets(id NodeID) []AssetHandle {
	handles := make([]AssetHandle, s.assetsPerNode)
	for i := range handles {
		s.nextHandle++
		handles[i] = s.nextHandle
	}
	s.requests[id] = handles
	s.requestCount[id]++
	return handles
}

func (s *fakeSource) Release(handles []AssetHandle) {
	s.released = append(s.released, handles...)
}

func newTestTerrain(capacity, cacheSize, assetsPerNode int) (*Terrain, *fakeSource) {
	source := newFakeSource(assetsPerNode)
	return New(Config{
		Name:          "test",
		LevelCount:    3,
		RootCount:     2,
		ChunkSize:     16,
		AtlasCapacity: capacity,
		CacheSize:     cacheSize,
	}, source), source
}

func (t *Terrain) requestActivate(ids ...NodeID) {
	for _, id := range ids {
		t.update.requestActivate(id)
	}
}

func (t *Terrain) requestDeactivate(ids ...NodeID) {
	for _, id := range ids {
		t.update.toDeactivate[id] = struct{}{}
	}
}

func (t *Terrain) finishLoad(s *fakeSource, ids ...NodeID) {
	for _, id := range ids {
		for _, h := range s.requests[id] {
			t.RouteAssetEvent(AssetEvent{Handle: h})
		}
	}
}

func requireDisjointStages(t *testing.T, terrain *Terrain) {
	t.Helper()

	seen := make(map[NodeID]string)
	track := func(id NodeID, stage string) {
		other, ok := seen[id]
		require.Falsef(t, ok, "node %s tracked by both %s and %s", id, other, stage)
		seen[id] = stage
	}

	for id := range terrain.nodes.loadingNodes {
		track(id, "loading")
	}
	for id := range terrain.nodes.activeNodes {
		track(id, "active")
	}
	if terrain.nodes.inactiveNodes != nil {
		for _, id := range terrain.nodes.inactiveNodes.Keys() {
			track(id, "inactive")
		}
	}
	for _, node := range terrain.pending {
		track(node.ID, "pending")
	}
}

func nodeIDs(n int) []NodeID {
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = NodeID{Level: 0, X: uint32(i), Y: 0}
	}
	return ids
}

func TestTerrainLifecycle(t *testing.T) {
	t.Run("loads then activates distinct nodes", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		ids := nodeIDs(4)

		terrain.requestActivate(ids...)
		terrain.resolveLifecycle()

		require.Len(t, terrain.nodes.loadingNodes, 4)
		require.Empty(t, terrain.nodes.activeNodes)
		requireDisjointStages(t, terrain)

		terrain.finishLoad(source, ids...)
		terrain.resolveLifecycle()

		require.Len(t, terrain.nodes.activeNodes, 4)
		require.Empty(t, terrain.nodes.loadingNodes)
		require.Zero(t, terrain.atlas.FreeSlots())
		require.ElementsMatch(t, ids, terrain.update.ActivatedNodes())
		requireDisjointStages(t, terrain)
	})

	t.Run("activates only after the load finished", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		id := NodeID{Level: 1, X: 0, Y: 0}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.loadingNodes, id)

		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.loadingNodes, id)
		require.NotContains(t, terrain.nodes.activeNodes, id)

		terrain.finishLoad(source, id)
		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.activeNodes, id)
		require.NotContains(t, terrain.nodes.loadingNodes, id)
	})

	t.Run("reactivates deactivated nodes from the cache without reloading", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		ids := nodeIDs(4)

		terrain.requestActivate(ids...)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids...)
		terrain.resolveLifecycle()

		terrain.requestDeactivate(ids[0], ids[1])
		terrain.resolveLifecycle()

		require.Len(t, terrain.nodes.activeNodes, 2)
		require.Equal(t, 2, terrain.nodes.inactiveLen())
		require.Equal(t, 2, terrain.atlas.FreeSlots())
		requireDisjointStages(t, terrain)

		terrain.requestActivate(ids[0])
		terrain.resolveLifecycle()

		require.Contains(t, terrain.nodes.activeNodes, ids[0])
		require.NotContains(t, terrain.nodes.loadingNodes, ids[0])
		require.Equal(t, 1, source.requestCount[ids[0]])
		require.ElementsMatch(t, []NodeID{ids[0]}, terrain.update.ActivatedNodes())
		// the cache hit hands the node back with its assets intact
		require.Empty(t, source.released)
		requireDisjointStages(t, terrain)

		// deactivating again re-caches the node without releasing either
		terrain.requestDeactivate(ids[0])
		terrain.resolveLifecycle()
		require.Empty(t, source.released)
		require.Equal(t, 3, terrain.nodes.inactiveLen())
	})

	t.Run("defers admission when the atlas is exhausted", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		ids := nodeIDs(5)

		terrain.requestActivate(ids[:4]...)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids[:4]...)
		terrain.resolveLifecycle()
		require.Zero(t, terrain.atlas.FreeSlots())

		terrain.requestActivate(ids[4])
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids[4])
		terrain.resolveLifecycle()

		// the fifth node is neither dropped nor admitted
		require.Len(t, terrain.pending, 1)
		require.Equal(t, ids[4], terrain.pending[0].ID)
		require.Len(t, terrain.nodes.activeNodes, 4)
		requireDisjointStages(t, terrain)

		// a freed slot admits it on the next frame
		terrain.requestDeactivate(ids[0])
		terrain.resolveLifecycle()

		require.Empty(t, terrain.pending)
		require.Contains(t, terrain.nodes.activeNodes, ids[4])
		require.Len(t, terrain.nodes.activeNodes, 4)
		require.LessOrEqual(t, len(terrain.nodes.activeNodes), terrain.atlas.Capacity())
		requireDisjointStages(t, terrain)
	})

	t.Run("reuses slots freed within the same frame", func(t *testing.T) {
		terrain, source := newTestTerrain(2, 8, 1)
		ids := nodeIDs(3)

		terrain.requestActivate(ids[0], ids[1])
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids[0], ids[1])
		terrain.resolveLifecycle()
		require.Zero(t, terrain.atlas.FreeSlots())

		terrain.requestActivate(ids[2])
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids[2])

		// deactivation and admission happen in one resolution
		terrain.requestDeactivate(ids[0])
		terrain.resolveLifecycle()

		require.Contains(t, terrain.nodes.activeNodes, ids[2])
		require.NotContains(t, terrain.nodes.activeNodes, ids[0])
		require.Zero(t, terrain.atlas.FreeSlots())
	})

	t.Run("active nodes hold unique slots", func(t *testing.T) {
		terrain, source := newTestTerrain(8, 8, 1)
		ids := nodeIDs(6)

		terrain.requestActivate(ids...)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids...)
		terrain.resolveLifecycle()

		slots := make(map[SlotIndex]struct{})
		for _, node := range terrain.nodes.activeNodes {
			_, dup := slots[node.slot]
			require.False(t, dup)
			slots[node.slot] = struct{}{}
		}
		require.Len(t, slots, 6)
	})

	t.Run("emits slot commands for activations and deactivations", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		id := NodeID{Level: 0, X: 3, Y: 3}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, id)
		terrain.resolveLifecycle()

		commands := terrain.updates.Drain()
		require.Len(t, commands, 1)
		require.Equal(t, id, commands[0].Node)
		require.False(t, commands[0].Free)
		assigned := commands[0].Slot

		terrain.requestDeactivate(id)
		terrain.resolveLifecycle()

		commands = terrain.updates.Drain()
		require.Len(t, commands, 1)
		require.True(t, commands[0].Free)
		require.Equal(t, assigned, commands[0].Slot)
		require.Empty(t, terrain.updates.Drain())
	})

	t.Run("panics when deactivating an untracked node", func(t *testing.T) {
		terrain, _ := newTestTerrain(4, 8, 1)

		terrain.requestDeactivate(NodeID{Level: 2, X: 9, Y: 9})
		require.Panics(t, func() {
			terrain.resolveLifecycle()
		})
	})

	t.Run("caches abandoned loads instead of activating them", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		id := NodeID{Level: 0, X: 0, Y: 0}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()

		terrain.requestDeactivate(id)
		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.loadingNodes, id)

		terrain.finishLoad(source, id)
		terrain.resolveLifecycle()

		require.NotContains(t, terrain.nodes.activeNodes, id)
		require.Equal(t, 1, terrain.nodes.inactiveLen())
		require.Empty(t, terrain.update.ActivatedNodes())
		requireDisjointStages(t, terrain)
	})

	t.Run("resurrects an abandoned load without requesting it twice", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		id := NodeID{Level: 0, X: 0, Y: 0}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		terrain.requestDeactivate(id)
		terrain.resolveLifecycle()

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		require.Equal(t, 1, source.requestCount[id])

		terrain.finishLoad(source, id)
		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.activeNodes, id)
	})

	t.Run("releases assets evicted from the inactive cache", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 1, 2)
		ids := nodeIDs(2)

		terrain.requestActivate(ids...)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, ids...)
		terrain.resolveLifecycle()

		terrain.requestDeactivate(ids...)
		terrain.resolveLifecycle()

		// cache holds one node, the least recently deactivated one got
		// evicted and released
		require.Equal(t, 1, terrain.nodes.inactiveLen())
		require.Len(t, source.released, 2)
		require.ElementsMatch(t, source.requests[ids[0]], source.released)
	})

	t.Run("disabled cache reloads every reactivation", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 0, 1)
		id := NodeID{Level: 0, X: 0, Y: 0}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		terrain.finishLoad(source, id)
		terrain.resolveLifecycle()

		terrain.requestDeactivate(id)
		terrain.resolveLifecycle()
		require.Len(t, source.released, 1)

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.loadingNodes, id)
		require.Equal(t, 2, source.requestCount[id])
	})
}

func TestTerrainAssetRouting(t *testing.T) {
	t.Run("ignores stale and duplicate events", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 1)
		id := NodeID{Level: 0, X: 0, Y: 0}

		require.False(t, terrain.RouteAssetEvent(AssetEvent{Handle: 42}))

		terrain.requestActivate(id)
		terrain.resolveLifecycle()

		ev := AssetEvent{Handle: source.requests[id][0]}
		require.True(t, terrain.RouteAssetEvent(ev))
		require.False(t, terrain.RouteAssetEvent(ev))

		terrain.resolveLifecycle()
		require.Contains(t, terrain.nodes.activeNodes, id)
	})

	// A node's asset bundle is loaded as a unit, so readiness of any one
	// asset signals readiness of the whole bundle.
	t.Run("a single asset event finishes the whole bundle", func(t *testing.T) {
		terrain, source := newTestTerrain(4, 8, 3)
		id := NodeID{Level: 0, X: 0, Y: 0}

		terrain.requestActivate(id)
		terrain.resolveLifecycle()
		require.Len(t, source.requests[id], 3)

		require.True(t, terrain.RouteAssetEvent(AssetEvent{Handle: source.requests[id][0]}))
		terrain.resolveLifecycle()

		require.Contains(t, terrain.nodes.activeNodes, id)

		// the remaining handles were unregistered with the status
		for _, h := range source.requests[id][1:] {
			require.False(t, terrain.RouteAssetEvent(AssetEvent{Handle: h}))
		}
	})
}

func TestTerrainFrame(t *testing.T) {
	t.Run("streams nodes for a moving viewer", func(t *testing.T) {
		source := newFakeSource(1)
		terrain := New(Config{
			Name:          "frame-test",
			LevelCount:    3,
			RootCount:     2,
			ChunkSize:     16,
			AtlasCapacity: 64,
			CacheSize:     32,
		}, source)

		viewer := Viewer{Position: mgl32.Vec2{32, 32}, ViewDistance: 24}

		res := terrain.Frame([]Viewer{viewer}, nil)
		require.Empty(t, res.Activated)
		require.NotEmpty(t, terrain.nodes.loadingNodes)

		// finish everything requested so far
		var events []AssetEvent
		for _, handles := range source.requests {
			events = append(events, AssetEvent{Handle: handles[0]})
		}

		res = terrain.Frame([]Viewer{viewer}, events)
		require.NotEmpty(t, res.Activated)
		require.NotEmpty(t, res.Commands)
		require.Empty(t, terrain.nodes.loadingNodes)
		requireDisjointStages(t, terrain)

		// the viewer moves away, its old nodes get cached
		moved := Viewer{Position: mgl32.Vec2{96, 96}, ViewDistance: 24}
		res = terrain.Frame([]Viewer{moved}, nil)

		var freed int
		for _, cmd := range res.Commands {
			if cmd.Free {
				freed++
			}
		}
		require.NotZero(t, freed)
		require.NotZero(t, terrain.nodes.inactiveLen())
		requireDisjointStages(t, terrain)
	})

	t.Run("no viewers keep the desired set untouched", func(t *testing.T) {
		source := newFakeSource(1)
		terrain := New(Config{
			Name:          "frame-idle",
			LevelCount:    2,
			RootCount:     2,
			ChunkSize:     16,
			AtlasCapacity: 16,
			CacheSize:     8,
		}, source)

		viewer := Viewer{Position: mgl32.Vec2{16, 16}, ViewDistance: 12}
		terrain.Frame([]Viewer{viewer}, nil)
		loading := len(terrain.nodes.loadingNodes)
		require.NotZero(t, loading)

		res := terrain.Frame(nil, nil)
		require.Empty(t, res.Commands)
		require.Len(t, terrain.nodes.loadingNodes, loading)
	})
}
