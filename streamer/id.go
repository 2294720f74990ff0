package streamer

import "sync"

// idGenerator hands out sequential ids, preferring released ones so viewer
// and instance ids stay small over long uptimes.
type idGenerator struct {
	mutex    sync.Mutex
	current  uint32
	released []uint32
}

func (g *idGenerator) new() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if n := len(g.released); n > 0 {
		id := g.released[n-1]
		g.released = g.released[:n-1]
		return id
	}

	g.current++
	return g.current
}

func (g *idGenerator) release(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.released = append(g.released, id)
}
