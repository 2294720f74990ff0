package streamer

import (
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/jord/terrain"
	"gopkg.in/yaml.v3"
)

// Config is the terrain instance file loaded at startup.
type Config struct {
	Instances []InstanceSpec `yaml:"instances"`
}

// InstanceSpec describes one terrain instance.
type InstanceSpec struct {
	Name            string  `yaml:"name"`
	LevelCount      uint32  `yaml:"level_count"`
	RootCount       uint32  `yaml:"root_count"`
	ChunkSize       float32 `yaml:"chunk_size"`
	AtlasCapacity   int     `yaml:"atlas_capacity"`
	CacheSize       int     `yaml:"cache_size"`
	MaxViewDistance float32 `yaml:"max_view_distance"`
}

// TerrainConfig maps the spec onto the streaming core configuration.
func (s InstanceSpec) TerrainConfig() terrain.Config {
	return terrain.Config{
		Name:          s.Name,
		LevelCount:    s.LevelCount,
		RootCount:     s.RootCount,
		ChunkSize:     s.ChunkSize,
		AtlasCapacity: s.AtlasCapacity,
		CacheSize:     s.CacheSize,
	}
}

// LoadConfig reads the instance file. An empty path yields a single default
// instance.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.New("reading instances file failed").
			WithTag("path", path).
			Wrap(err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.New("parsing instances file failed").
			WithTag("path", path).
			Wrap(err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, errors.New("invalid instances file").
			WithTag("path", path).
			Wrap(err)
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Instances: []InstanceSpec{
			{
				Name:            "default",
				LevelCount:      4,
				RootCount:       8,
				ChunkSize:       16,
				AtlasCapacity:   256,
				CacheSize:       128,
				MaxViewDistance: 192,
			},
		},
	}
}

func (c *Config) normalize() {
	for i := range c.Instances {
		s := &c.Instances[i]
		if s.LevelCount == 0 {
			s.LevelCount = 4
		}
		if s.RootCount == 0 {
			s.RootCount = 8
		}
		if s.ChunkSize == 0 {
			s.ChunkSize = 16
		}
		if s.AtlasCapacity == 0 {
			s.AtlasCapacity = 256
		}
		if s.MaxViewDistance == 0 {
			s.MaxViewDistance = s.ChunkSize * float32(uint64(1)<<s.LevelCount)
		}
	}
}

func (c Config) validate() error {
	if len(c.Instances) == 0 {
		return errors.New("no terrain instances defined")
	}

	names := make(map[string]struct{}, len(c.Instances))
	for _, s := range c.Instances {
		if s.Name == "" {
			return errors.New("terrain instance without a name")
		}
		if _, ok := names[s.Name]; ok {
			return errors.New("duplicate terrain instance name").
				WithTag("name", s.Name)
		}
		names[s.Name] = struct{}{}

		if s.AtlasCapacity < 0 {
			return errors.New("negative atlas capacity").
				WithTag("name", s.Name)
		}
		if s.CacheSize < 0 {
			return errors.New("negative cache size").
				WithTag("name", s.Name)
		}
		if s.ChunkSize < 0 {
			return errors.New("negative chunk size").
				WithTag("name", s.Name)
		}
	}
	return nil
}
