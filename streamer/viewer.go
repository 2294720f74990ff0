package streamer

import (
	"sync"

	"github.com/aukilabs/jord/terrain"
	"github.com/go-gl/mathgl/mgl32"
)

// FrameUpdate is what viewers receive after a frame that changed their
// instance: the slot commands to replay and the newly visible nodes.
type FrameUpdate struct {
	Instance  string
	Frame     uint64
	Commands  []terrain.SlotUpdate
	Activated []terrain.NodeID
}

// Publisher delivers frame updates to one connected viewer. Implementations
// must not block; the frame scheduler calls them inline.
type Publisher interface {
	PublishFrame(FrameUpdate)
}

// Viewer is one observer subscribed to a terrain instance. Its pose is
// written by the transport goroutine and snapshotted by the scheduler, so it
// is mutex guarded.
type Viewer struct {
	id        uint32
	publisher Publisher

	mutex   sync.RWMutex
	pose    terrain.Viewer
	hasPose bool
}

func (v *Viewer) ID() uint32 {
	return v.id
}

// SetPose updates the viewer's position on the terrain plane and its view
// distance.
func (v *Viewer) SetPose(position mgl32.Vec2, viewDistance float32) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.pose = terrain.Viewer{Position: position, ViewDistance: viewDistance}
	v.hasPose = true
}

// Pose returns the last reported pose. Viewers that never reported one do
// not take part in traversal.
func (v *Viewer) Pose() (terrain.Viewer, bool) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()

	return v.pose, v.hasPose
}
