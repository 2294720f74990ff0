package assets

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/jord/terrain"
	"github.com/go-gl/mathgl/mgl32"
)

// Layer names one asset of a node bundle.
type Layer string

const (
	LayerHeight Layer = "height"
	LayerColor  Layer = "color"
)

// NodeLayers is the bundle every node is loaded with, in request order.
var NodeLayers = []Layer{LayerHeight, LayerColor}

// Source reads the raw tile bytes of one node layer.
type Source interface {
	ReadTile(ctx context.Context, id terrain.NodeID, layer Layer) ([]byte, error)
}

// DirSource reads tiles from a directory tree laid out as
// root/<layer>/<level>/<x>_<y>.bin.
type DirSource struct {
	Root string
}

func (s DirSource) ReadTile(ctx context.Context, id terrain.NodeID, layer Layer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Root,
		string(layer),
		fmt.Sprintf("%d", id.Level),
		fmt.Sprintf("%d_%d.bin", id.X, id.Y),
	)

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("reading tile file failed").
			WithTag("path", path).
			Wrap(err)
	}
	return b, nil
}

// ProcSource generates tiles procedurally from a seed, for demo setups and
// tests. Height tiles are Resolution x Resolution little-endian float32
// samples, color tiles one RGBA byte quad per sample derived from the height.
type ProcSource struct {
	Seed       int64
	ChunkSize  float32
	Resolution int
}

func (s ProcSource) ReadTile(ctx context.Context, id terrain.NodeID, layer Layer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := s.Resolution
	if res <= 0 {
		res = 32
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 16
	}

	// world-space extent of the tile
	size := chunkSize * float32(uint64(1)<<id.Level)
	origin := mgl32.Vec2{float32(id.X) * size, float32(id.Y) * size}
	step := size / float32(res)

	switch layer {
	case LayerHeight:
		b := make([]byte, 0, res*res*4)
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				p := origin.Add(mgl32.Vec2{float32(x), float32(y)}.Mul(step))
				b = binary.LittleEndian.AppendUint32(b, math.Float32bits(s.height(p)))
			}
		}
		return b, nil

	case LayerColor:
		b := make([]byte, 0, res*res*4)
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				p := origin.Add(mgl32.Vec2{float32(x), float32(y)}.Mul(step))
				shade := uint8(mgl32.Clamp(s.height(p), 0, 1) * 255)
				b = append(b, shade, shade, shade, 255)
			}
		}
		return b, nil

	default:
		return nil, errors.New("unknown tile layer").WithTag("layer", layer)
	}
}

// height is seeded value noise in [0, 1], bilinear between lattice corners.
func (s ProcSource) height(p mgl32.Vec2) float32 {
	x0, y0 := math.Floor(float64(p.X())/8), math.Floor(float64(p.Y())/8)
	fx := p.X()/8 - float32(x0)
	fy := p.Y()/8 - float32(y0)

	h00 := s.lattice(int64(x0), int64(y0))
	h10 := s.lattice(int64(x0)+1, int64(y0))
	h01 := s.lattice(int64(x0), int64(y0)+1)
	h11 := s.lattice(int64(x0)+1, int64(y0)+1)

	top := h00 + (h10-h00)*fx
	bottom := h01 + (h11-h01)*fx
	return top + (bottom-top)*fy
}

func (s ProcSource) lattice(x, y int64) float32 {
	h := uint64(s.Seed)
	h ^= uint64(x) * 0x9e3779b97f4a7c15
	h ^= uint64(y) * 0xc2b2ae3d27d4eb4f
	h ^= h >> 29
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 32
	return float32(h&0xffff) / 0xffff
}
