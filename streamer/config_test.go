package streamer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "instances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty path yields the default instance", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		require.Len(t, cfg.Instances, 1)
		require.Equal(t, "default", cfg.Instances[0].Name)
		require.NotZero(t, cfg.Instances[0].AtlasCapacity)
	})

	t.Run("loads instances and fills defaults", func(t *testing.T) {
		path := writeConfig(t, `
instances:
  - name: highlands
    level_count: 3
    root_count: 4
    atlas_capacity: 64
  - name: flats
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Len(t, cfg.Instances, 2)

		highlands := cfg.Instances[0]
		require.Equal(t, "highlands", highlands.Name)
		require.Equal(t, uint32(3), highlands.LevelCount)
		require.Equal(t, 64, highlands.AtlasCapacity)
		require.Equal(t, float32(16), highlands.ChunkSize)
		require.NotZero(t, highlands.MaxViewDistance)

		flats := cfg.Instances[1]
		require.Equal(t, uint32(4), flats.LevelCount)
		require.Equal(t, 256, flats.AtlasCapacity)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		path := writeConfig(t, `
instances:
  - name: highlands
  - name: highlands
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
	})

	t.Run("rejects unnamed instances", func(t *testing.T) {
		path := writeConfig(t, `
instances:
  - atlas_capacity: 8
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
	})

	t.Run("rejects a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("maps onto the terrain config", func(t *testing.T) {
		spec := InstanceSpec{
			Name:          "highlands",
			LevelCount:    3,
			RootCount:     4,
			ChunkSize:     8,
			AtlasCapacity: 64,
			CacheSize:     16,
		}

		cfg := spec.TerrainConfig()
		require.Equal(t, "highlands", cfg.Name)
		require.Equal(t, uint32(3), cfg.LevelCount)
		require.Equal(t, uint32(4), cfg.RootCount)
		require.Equal(t, float32(8), cfg.ChunkSize)
		require.Equal(t, 64, cfg.AtlasCapacity)
		require.Equal(t, 16, cfg.CacheSize)
	})
}
