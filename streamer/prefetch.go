package streamer

import "github.com/aukilabs/jord/terrain"

// TileWarmer prewarms node tiles outside the node lifecycle.
type TileWarmer interface {
	Prewarm(id terrain.NodeID)
}

// Prefetcher warms the direct neighbors of every newly activated node, so a
// viewer moving on keeps hitting warm tiles.
type Prefetcher struct {
	Warmer TileWarmer
}

func (p *Prefetcher) Prefetch(cfg terrain.Config, activated []terrain.NodeID) {
	for _, id := range activated {
		perAxis := cfg.RootCount << (cfg.LevelCount - 1 - id.Level)

		for _, d := range [4][2]int64{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			x := int64(id.X) + d[0]
			y := int64(id.Y) + d[1]
			if x < 0 || y < 0 || x >= int64(perAxis) || y >= int64(perAxis) {
				continue
			}

			p.Warmer.Prewarm(terrain.NodeID{
				Level: id.Level,
				X:     uint32(x),
				Y:     uint32(y),
			})
		}
	}
}
