package terrain

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestQuadtreeTraverse(t *testing.T) {
	t.Run("selects nodes covering the view distance exactly once", func(t *testing.T) {
		q := NewQuadtree(3, 4, 8)
		u := NewTreeUpdate()

		viewer := Viewer{
			Position:     mgl32.Vec2{60, 60},
			ViewDistance: 40,
		}

		q.beginFrame()
		q.Traverse(u, viewer)

		selected := u.drainActivations()
		require.NotEmpty(t, selected)

		// every sample point within the view distance is covered by
		// exactly one selected node
		for x := float32(0); x < 128; x += 2.5 {
			for y := float32(0); y < 128; y += 2.5 {
				p := mgl32.Vec2{x, y}
				if p.Sub(viewer.Position).Len() > viewer.ViewDistance {
					continue
				}

				covering := 0
				for _, id := range selected {
					size := q.nodeSize(id.Level)
					if x >= float32(id.X)*size && x < float32(id.X+1)*size &&
						y >= float32(id.Y)*size && y < float32(id.Y+1)*size {
						covering++
					}
				}
				require.Equalf(t, 1, covering, "point (%v, %v)", x, y)
			}
		}
	})

	t.Run("selects finer levels closer to the viewer", func(t *testing.T) {
		q := NewQuadtree(3, 4, 8)
		u := NewTreeUpdate()

		viewer := Viewer{
			Position:     mgl32.Vec2{64, 64},
			ViewDistance: 48,
		}

		q.beginFrame()
		q.Traverse(u, viewer)

		levels := make(map[uint32]bool)
		for _, id := range u.drainActivations() {
			levels[id.Level] = true
		}
		require.True(t, levels[0])
		require.True(t, levels[2])
	})

	t.Run("increasing the view distance never shrinks the selection", func(t *testing.T) {
		viewer := mgl32.Vec2{64, 64}

		prev := 0
		for _, viewDistance := range []float32{10, 20, 40, 60} {
			q := NewQuadtree(4, 4, 8)
			u := NewTreeUpdate()

			q.beginFrame()
			q.Traverse(u, Viewer{Position: viewer, ViewDistance: viewDistance})

			count := len(u.drainActivations())
			require.GreaterOrEqual(t, count, prev)
			prev = count
		}
	})

	t.Run("diffs the selection against the previous frame", func(t *testing.T) {
		q := NewQuadtree(2, 4, 8)
		u := NewTreeUpdate()

		q.beginFrame()
		q.Traverse(u, Viewer{Position: mgl32.Vec2{8, 8}, ViewDistance: 12})
		q.rollover()

		firstFrame := u.drainActivations()
		require.NotEmpty(t, firstFrame)
		require.Empty(t, u.drainDeactivations())

		// move far enough that the selections are disjoint
		q.beginFrame()
		q.Traverse(u, Viewer{Position: mgl32.Vec2{56, 56}, ViewDistance: 12})
		q.rollover()

		require.NotEmpty(t, u.drainActivations())
		deactivated := u.drainDeactivations()
		require.ElementsMatch(t, firstFrame, deactivated)
	})

	t.Run("stable viewer produces an empty delta", func(t *testing.T) {
		q := NewQuadtree(3, 4, 8)
		u := NewTreeUpdate()
		viewer := Viewer{Position: mgl32.Vec2{40, 40}, ViewDistance: 30}

		q.beginFrame()
		q.Traverse(u, viewer)
		q.rollover()
		u.drainActivations()

		q.beginFrame()
		q.Traverse(u, viewer)
		q.rollover()

		require.Empty(t, u.drainActivations())
		require.Empty(t, u.drainDeactivations())
	})

	t.Run("later viewers rescue nodes from deactivation", func(t *testing.T) {
		q := NewQuadtree(2, 4, 8)
		u := NewTreeUpdate()

		viewerA := Viewer{Position: mgl32.Vec2{8, 8}, ViewDistance: 12}
		viewerB := Viewer{Position: mgl32.Vec2{56, 56}, ViewDistance: 12}

		q.beginFrame()
		q.Traverse(u, viewerA)
		q.Traverse(u, viewerB)
		q.rollover()
		u.drainActivations()
		require.Empty(t, u.drainDeactivations())

		// viewer A leaves: only its exclusive nodes get deactivated
		q.beginFrame()
		q.Traverse(u, viewerB)
		q.rollover()

		require.Empty(t, u.drainActivations())
		require.NotEmpty(t, u.drainDeactivations())
	})

	t.Run("requests a node once for overlapping viewers", func(t *testing.T) {
		q := NewQuadtree(2, 4, 8)
		u := NewTreeUpdate()
		viewer := Viewer{Position: mgl32.Vec2{24, 24}, ViewDistance: 16}

		q.beginFrame()
		q.Traverse(u, viewer)
		q.Traverse(u, viewer)
		q.rollover()

		ids := u.drainActivations()
		seen := make(map[NodeID]struct{}, len(ids))
		for _, id := range ids {
			_, dup := seen[id]
			require.False(t, dup)
			seen[id] = struct{}{}
		}
	})
}

func TestMaxVisibleNodes(t *testing.T) {
	t.Run("bounds the traversal selection", func(t *testing.T) {
		q := NewQuadtree(3, 4, 8)
		u := NewTreeUpdate()

		viewer := Viewer{Position: mgl32.Vec2{64, 64}, ViewDistance: 48}
		q.beginFrame()
		q.Traverse(u, viewer)

		bound := MaxVisibleNodes(3, 4, 8, viewer.ViewDistance)
		require.LessOrEqual(t, len(u.drainActivations()), bound)
	})
}
