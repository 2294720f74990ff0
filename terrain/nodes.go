package terrain

import (
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Nodes is the lifecycle store of one terrain instance. Every resident node
// id is tracked by exactly one of the loading, inactive and active
// collections, plus the pending queue of loaded nodes waiting for a free
// atlas slot.
//
// The handle mapping and the load statuses cross-reference each other, so
// they are only ever mutated through paired operations and never handed out
// to callers.
type nodes struct {
	handleMapping map[AssetHandle]NodeID
	loadStatuses  map[NodeID]*loadStatus
	loadingNodes  map[NodeID]*NodeData
	inactiveNodes *lru.Cache[NodeID, *NodeData]
	activeNodes   map[NodeID]*NodeData

	// called when a node falls out of the inactive cache for good, so its
	// assets can be released
	onEvict func(*NodeData)

	// set while popInactive removes a cache hit; the cache fires the
	// eviction callback on explicit Remove too, and a node being handed
	// back must keep its assets
	reusing bool
}

func newNodes(cacheSize int, onEvict func(*NodeData)) *nodes {
	n := &nodes{
		handleMapping: make(map[AssetHandle]NodeID),
		loadStatuses:  make(map[NodeID]*loadStatus),
		loadingNodes:  make(map[NodeID]*NodeData),
		activeNodes:   make(map[NodeID]*NodeData),
		onEvict:       onEvict,
	}

	if cacheSize > 0 {
		cache, err := lru.NewWithEvict(cacheSize, func(_ NodeID, node *NodeData) {
			if n.reusing {
				return
			}
			onEvict(node)
		})
		if err != nil {
			panic(errors.New("creating inactive node cache failed").Wrap(err))
		}
		n.inactiveNodes = cache
	}

	return n
}

// beginLoad registers an in-flight load for the given node: one load status,
// one handle mapping entry per asset and the loading placeholder, inserted as
// a unit.
func (n *nodes) beginLoad(id NodeID, handles []AssetHandle) {
	n.loadStatuses[id] = &loadStatus{handles: handles}
	for _, h := range handles {
		n.handleMapping[h] = id
	}
	n.loadingNodes[id] = &NodeData{ID: id, Assets: handles}
}

// isLoading reports whether the node has an in-flight load.
func (n *nodes) isLoading(id NodeID) bool {
	_, ok := n.loadStatuses[id]
	return ok
}

// resurrect clears the abandoned mark of an in-flight load whose node is
// desired again, so its payload gets activated instead of cached.
func (n *nodes) resurrect(id NodeID) {
	n.loadStatuses[id].abandoned = false
}

// abandon marks an in-flight load whose node left the desired set. The load
// is not cancelled; its payload goes to the inactive cache on completion.
func (n *nodes) abandon(id NodeID) {
	n.loadStatuses[id].abandoned = true
}

// routeAssetEvent consumes one asset readiness notification. The handle
// mapping entry is removed and the owning load status is marked finished.
// Unknown or already consumed handles are ignored. Reports whether the
// handle was owned by this store.
func (n *nodes) routeAssetEvent(h AssetHandle) bool {
	id, ok := n.handleMapping[h]
	if !ok {
		return false
	}
	delete(n.handleMapping, h)

	status, ok := n.loadStatuses[id]
	if !ok {
		panic(errors.New("asset handle mapped to a node with no load status").
			WithTag("node_id", id).
			WithTag("handle", h))
	}
	status.finished = true
	return true
}

// takeFinished sweeps the load statuses and removes every finished load
// together with its loading placeholder and remaining handle mappings.
// Finished loads still desired are returned in id order for activation;
// abandoned ones are returned separately.
func (n *nodes) takeFinished() (ready, abandoned []*NodeData) {
	for id, status := range n.loadStatuses {
		if !status.finished {
			continue
		}

		node, ok := n.loadingNodes[id]
		if !ok {
			panic(errors.New("finished load status has no loading node").
				WithTag("node_id", id))
		}

		delete(n.loadStatuses, id)
		delete(n.loadingNodes, id)
		for _, h := range status.handles {
			delete(n.handleMapping, h)
		}

		if status.abandoned {
			abandoned = append(abandoned, node)
		} else {
			ready = append(ready, node)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID.Less(ready[j].ID) })
	return ready, abandoned
}

// popInactive removes and returns a cached node, if present.
func (n *nodes) popInactive(id NodeID) (*NodeData, bool) {
	if n.inactiveNodes == nil {
		return nil, false
	}
	node, ok := n.inactiveNodes.Peek(id)
	if !ok {
		return nil, false
	}

	// all access runs on the frame goroutine, so the flag cannot race
	n.reusing = true
	n.inactiveNodes.Remove(id)
	n.reusing = false
	return node, true
}

// putInactive caches a node that is no longer resident. With the cache
// disabled, the node is evicted immediately.
func (n *nodes) putInactive(node *NodeData) {
	if n.inactiveNodes == nil {
		n.onEvict(node)
		return
	}
	n.inactiveNodes.Add(node.ID, node)
}

// popActive removes and returns an active node, if present.
func (n *nodes) popActive(id NodeID) (*NodeData, bool) {
	node, ok := n.activeNodes[id]
	if !ok {
		return nil, false
	}
	delete(n.activeNodes, id)
	return node, true
}

func (n *nodes) putActive(node *NodeData) {
	n.activeNodes[node.ID] = node
}

func (n *nodes) inactiveLen() int {
	if n.inactiveNodes == nil {
		return 0
	}
	return n.inactiveNodes.Len()
}
