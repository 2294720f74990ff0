package terrain

import "fmt"

// NodeID identifies a terrain patch by its level of detail and its grid
// coordinates within that level. Level 0 is the finest level.
type NodeID struct {
	Level uint32
	X     uint32
	Y     uint32
}

// Less orders node ids by level, then x, then y.
func (id NodeID) Less(o NodeID) bool {
	if id.Level != o.Level {
		return id.Level < o.Level
	}
	if id.X != o.X {
		return id.X < o.X
	}
	return id.Y < o.Y
}

func (id NodeID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Level, id.X, id.Y)
}

// AssetHandle references one asset load issued to the asset server. Handles
// are unique across all terrain instances served by the same asset server.
type AssetHandle uint64

// AssetEvent signals that the asset behind Handle has finished loading.
type AssetEvent struct {
	Handle AssetHandle
}

// SlotIndex addresses one slot of a node atlas.
type SlotIndex uint32

// NodeData is the payload of one resident node. It is owned by exactly one of
// the lifecycle collections (loading, inactive, active or pending) at any
// time.
type NodeData struct {
	ID     NodeID
	Assets []AssetHandle

	slot SlotIndex
}

// Slot returns the atlas slot assigned to the node. Only meaningful while the
// node is active.
func (n *NodeData) Slot() SlotIndex {
	return n.slot
}

// LoadStatus tracks one in-flight node load. It exists only while the node
// sits in the loading collection and is removed when the load is consumed.
//
// Handles are retained so the handle mapping can be unregistered together
// with the status.
type loadStatus struct {
	finished  bool
	abandoned bool
	handles   []AssetHandle
}
