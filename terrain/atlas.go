package terrain

import "github.com/aukilabs/go-tooling/pkg/errors"

// NodeAtlas manages the fixed pool of storage slots active nodes live in.
// Slot assignments and releases are mirrored into a SlotUpdates queue for
// the rendering backend to replay. The pool never grows: when no slot is
// free, allocation fails and the caller defers the node.
type NodeAtlas struct {
	capacity  int
	freeSlots []SlotIndex
}

func NewNodeAtlas(capacity int) *NodeAtlas {
	if capacity <= 0 {
		panic(errors.New("node atlas capacity must be positive").
			WithTag("capacity", capacity))
	}

	free := make([]SlotIndex, capacity)
	for i := range free {
		// reversed so slot 0 is handed out first
		free[i] = SlotIndex(capacity - 1 - i)
	}

	return &NodeAtlas{
		capacity:  capacity,
		freeSlots: free,
	}
}

func (a *NodeAtlas) Capacity() int {
	return a.capacity
}

func (a *NodeAtlas) FreeSlots() int {
	return len(a.freeSlots)
}

// allocate assigns a free slot to the node and queues the slot fill command.
// It reports false when the atlas is exhausted.
func (a *NodeAtlas) allocate(node *NodeData, updates *SlotUpdates) bool {
	if len(a.freeSlots) == 0 {
		return false
	}

	slot := a.freeSlots[len(a.freeSlots)-1]
	a.freeSlots = a.freeSlots[:len(a.freeSlots)-1]

	node.slot = slot
	updates.push(SlotUpdate{Slot: slot, Node: node.ID})
	return true
}

// release returns the node's slot to the pool and queues the slot free
// command.
func (a *NodeAtlas) release(node *NodeData, updates *SlotUpdates) {
	updates.push(SlotUpdate{Slot: node.slot, Node: node.ID, Free: true})
	a.freeSlots = append(a.freeSlots, node.slot)
}

// SlotUpdate is one command for the rendering backend: either fill Slot with
// the payload of Node, or mark Slot free again.
type SlotUpdate struct {
	Slot SlotIndex
	Node NodeID
	Free bool
}

// SlotUpdates is the append-only queue of slot commands produced during one
// frame, drained once per frame by the publisher.
type SlotUpdates struct {
	commands []SlotUpdate
}

func (u *SlotUpdates) push(cmd SlotUpdate) {
	u.commands = append(u.commands, cmd)
}

// Drain returns the queued commands and resets the queue.
func (u *SlotUpdates) Drain() []SlotUpdate {
	commands := u.commands
	u.commands = nil
	return commands
}
