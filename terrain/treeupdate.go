package terrain

import "sort"

// TreeUpdate is the per-frame scratch output of the quadtree traversal: the
// nodes that became required this frame, the nodes that stopped being
// required, and the subset of requested nodes that actually got admitted into
// the atlas. It is drained and repopulated every frame.
type TreeUpdate struct {
	toActivate    []NodeID
	toActivateSet map[NodeID]struct{}
	toDeactivate  map[NodeID]struct{}
	activated     map[NodeID]struct{}
}

func NewTreeUpdate() *TreeUpdate {
	return &TreeUpdate{
		toActivateSet: make(map[NodeID]struct{}),
		toDeactivate:  make(map[NodeID]struct{}),
		activated:     make(map[NodeID]struct{}),
	}
}

// requestActivate records a node that must become active. Repeated requests
// for the same node within one frame are deduplicated, preserving the
// insertion order of the first request.
func (u *TreeUpdate) requestActivate(id NodeID) {
	if _, ok := u.toActivateSet[id]; ok {
		return
	}
	u.toActivateSet[id] = struct{}{}
	u.toActivate = append(u.toActivate, id)
}

func (u *TreeUpdate) drainActivations() []NodeID {
	ids := u.toActivate
	u.toActivate = nil
	clear(u.toActivateSet)
	return ids
}

// drainDeactivations returns the nodes to deactivate in id order so the
// lifecycle resolution is deterministic per run.
func (u *TreeUpdate) drainDeactivations() []NodeID {
	ids := make([]NodeID, 0, len(u.toDeactivate))
	for id := range u.toDeactivate {
		ids = append(ids, id)
	}
	clear(u.toDeactivate)
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// ActivatedNodes returns the nodes admitted into the atlas during the last
// lifecycle resolution, in id order.
func (u *TreeUpdate) ActivatedNodes() []NodeID {
	ids := make([]NodeID, 0, len(u.activated))
	for id := range u.activated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
