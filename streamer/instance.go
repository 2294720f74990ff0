package streamer

import (
	"sync"

	"github.com/aukilabs/jord/terrain"
	"github.com/google/uuid"
)

// Instance binds one terrain streaming core to its subscribed viewers.
type Instance struct {
	id      uint32
	uuid    string
	config  terrain.Config
	terrain *terrain.Terrain

	viewerIDs   idGenerator
	viewerMutex sync.RWMutex
	viewers     map[uint32]*Viewer
}

func newInstance(id uint32, cfg terrain.Config, source terrain.AssetSource) *Instance {
	return &Instance{
		id:      id,
		uuid:    uuid.New().String(),
		config:  cfg,
		terrain: terrain.New(cfg, source),
		viewers: make(map[uint32]*Viewer),
	}
}

func (i *Instance) ID() uint32 {
	return i.id
}

func (i *Instance) UUID() string {
	return i.uuid
}

func (i *Instance) Name() string {
	return i.config.Name
}

// Config returns the terrain configuration the instance was created with.
func (i *Instance) Config() terrain.Config {
	return i.config
}

// AddViewer subscribes a new viewer whose frame updates go to the given
// publisher.
func (i *Instance) AddViewer(p Publisher) *Viewer {
	i.viewerMutex.Lock()
	defer i.viewerMutex.Unlock()

	v := &Viewer{
		id:        i.viewerIDs.new(),
		publisher: p,
	}
	i.viewers[v.id] = v

	instrumentViewerGauge(i.Name(), len(i.viewers))
	return v
}

func (i *Instance) RemoveViewer(v *Viewer) {
	i.viewerMutex.Lock()
	defer i.viewerMutex.Unlock()

	if _, ok := i.viewers[v.id]; !ok {
		return
	}
	delete(i.viewers, v.id)
	i.viewerIDs.release(v.id)

	instrumentViewerGauge(i.Name(), len(i.viewers))
}

func (i *Instance) ViewerCount() int {
	i.viewerMutex.RLock()
	defer i.viewerMutex.RUnlock()

	return len(i.viewers)
}

// snapshotPoses collects the current pose of every viewer that has reported
// one. The scheduler traverses with this frozen copy so pose updates landing
// mid-frame do not tear the traversal.
func (i *Instance) snapshotPoses() []terrain.Viewer {
	i.viewerMutex.RLock()
	defer i.viewerMutex.RUnlock()

	poses := make([]terrain.Viewer, 0, len(i.viewers))
	for _, v := range i.viewers {
		if pose, ok := v.Pose(); ok {
			poses = append(poses, pose)
		}
	}
	return poses
}

func (i *Instance) publish(update FrameUpdate) {
	i.viewerMutex.RLock()
	defer i.viewerMutex.RUnlock()

	for _, v := range i.viewers {
		v.publisher.PublishFrame(update)
	}
}
