package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Viewer is the per-frame view state of one observer, projected onto the
// terrain plane in terrain-local coordinates.
type Viewer struct {
	Position     mgl32.Vec2
	ViewDistance float32
}

// Quadtree selects which nodes of one terrain instance should be resident at
// which level of detail for a set of viewers, and diffs the selection against
// the previous frame.
//
// The terrain is a rootCount x rootCount grid of coarsest-level nodes, each
// level subdividing its parent into four. A node is selected when it is
// within the view distance but too far away to be worth splitting; the split
// thresholds halve per level so resolution doubles toward the viewer.
type Quadtree struct {
	levelCount uint32
	rootCount  uint32
	chunkSize  float32

	retained  map[NodeID]struct{}
	requested map[NodeID]struct{}
}

func NewQuadtree(levelCount, rootCount uint32, chunkSize float32) *Quadtree {
	if levelCount == 0 {
		levelCount = 1
	}
	if rootCount == 0 {
		rootCount = 1
	}
	return &Quadtree{
		levelCount: levelCount,
		rootCount:  rootCount,
		chunkSize:  chunkSize,
		retained:   make(map[NodeID]struct{}),
		requested:  make(map[NodeID]struct{}),
	}
}

// beginFrame resets the per-frame requested union before the first traversal
// of a frame.
func (q *Quadtree) beginFrame() {
	clear(q.requested)
}

// Traverse computes the desired node set for the given viewer and merges its
// activation/deactivation deltas into the tree update. Multiple viewers
// compose additively within one frame: a node required by any viewer is
// requested once, and the deactivation set only shrinks as later viewers
// rescue nodes the earlier ones did not need.
func (q *Quadtree) Traverse(u *TreeUpdate, viewer Viewer) {
	if viewer.ViewDistance > 0 {
		rootSize := q.nodeSize(q.levelCount - 1)

		minX := int64(math.Floor(float64((viewer.Position.X() - viewer.ViewDistance) / rootSize)))
		maxX := int64(math.Floor(float64((viewer.Position.X() + viewer.ViewDistance) / rootSize)))
		minY := int64(math.Floor(float64((viewer.Position.Y() - viewer.ViewDistance) / rootSize)))
		maxY := int64(math.Floor(float64((viewer.Position.Y() + viewer.ViewDistance) / rootSize)))

		minX = max(minX, 0)
		minY = max(minY, 0)
		maxX = min(maxX, int64(q.rootCount)-1)
		maxY = min(maxY, int64(q.rootCount)-1)

		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				q.select4(u, viewer, q.levelCount-1, uint32(x), uint32(y))
			}
		}
	}

	clear(u.toDeactivate)
	for id := range q.retained {
		if _, ok := q.requested[id]; !ok {
			u.toDeactivate[id] = struct{}{}
		}
	}
}

func (q *Quadtree) select4(u *TreeUpdate, viewer Viewer, level, x, y uint32) {
	d := q.distanceToNode(viewer.Position, level, x, y)
	if d > viewer.ViewDistance {
		return
	}

	if level > 0 && d <= q.splitDistance(viewer.ViewDistance, level) {
		q.select4(u, viewer, level-1, x*2, y*2)
		q.select4(u, viewer, level-1, x*2+1, y*2)
		q.select4(u, viewer, level-1, x*2, y*2+1)
		q.select4(u, viewer, level-1, x*2+1, y*2+1)
		return
	}

	id := NodeID{Level: level, X: x, Y: y}
	if _, ok := q.requested[id]; ok {
		return
	}
	q.requested[id] = struct{}{}

	if _, ok := q.retained[id]; !ok {
		u.requestActivate(id)
	}
}

// rollover promotes the frame's requested union to the retained baseline the
// next frame diffs against.
func (q *Quadtree) rollover() {
	q.retained, q.requested = q.requested, q.retained
}

// splitDistance is the threshold below which a node at the given level is
// subdivided instead of selected. Thresholds halve per level toward the
// finest one, so they scale with the view distance and coarser levels stay
// selected farther out.
func (q *Quadtree) splitDistance(viewDistance float32, level uint32) float32 {
	return viewDistance / float32(uint64(1)<<(q.levelCount-level))
}

func (q *Quadtree) nodeSize(level uint32) float32 {
	return q.chunkSize * float32(uint64(1)<<level)
}

func (q *Quadtree) distanceToNode(p mgl32.Vec2, level, x, y uint32) float32 {
	size := q.nodeSize(level)
	minX, minY := float32(x)*size, float32(y)*size

	dx := max(minX-p.X(), p.X()-(minX+size), 0)
	dy := max(minY-p.Y(), p.Y()-(minY+size), 0)
	return mgl32.Vec2{dx, dy}.Len()
}

// MaxVisibleNodes bounds the size of the desired node set for the given tree
// shape and view distance. The atlas capacity has to be at least this bound,
// otherwise admissions can be deferred indefinitely while the full set is in
// view.
func MaxVisibleNodes(levelCount, rootCount uint32, chunkSize, viewDistance float32) int {
	total := 0
	for level := uint32(0); level < levelCount; level++ {
		size := chunkSize * float32(uint64(1)<<level)

		// outer radius of the ring this level is selected in
		radius := viewDistance
		if level < levelCount-1 {
			radius = viewDistance / float32(uint64(1)<<(levelCount-level-1))
		}

		across := 2*int(math.Ceil(float64(radius/size))) + 2
		count := across * across

		perAxis := int(rootCount) << (levelCount - 1 - level)
		if levelTotal := perAxis * perAxis; count > levelTotal {
			count = levelTotal
		}
		total += count
	}
	return total
}
