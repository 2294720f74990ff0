package streamer

import (
	"sort"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/jord/terrain"
)

// Store holds the terrain instances served by this process, keyed by name.
type Store struct {
	initOnce  sync.Once
	mutex     sync.RWMutex
	instances map[string]*Instance
	ids       idGenerator
}

func (s *Store) init() {
	s.instances = make(map[string]*Instance)
}

// Add creates an instance for the given terrain configuration. Instance
// names are unique within a store.
func (s *Store) Add(cfg terrain.Config, source terrain.AssetSource) (*Instance, error) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.instances[cfg.Name]; ok {
		return nil, errors.New("terrain instance already exists").
			WithTag("name", cfg.Name)
	}

	instance := newInstance(s.ids.new(), cfg, source)
	s.instances[cfg.Name] = instance

	instrumentInstanceGauge(len(s.instances))
	return instance, nil
}

func (s *Store) Remove(instance *Instance) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.instances[instance.Name()]; !ok {
		return
	}
	delete(s.instances, instance.Name())
	s.ids.release(instance.id)

	instrumentInstanceGauge(len(s.instances))
}

func (s *Store) Get(name string) (*Instance, bool) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instance, ok := s.instances[name]
	return instance, ok
}

// List returns the instances ordered by id so the scheduler ticks them in a
// stable order.
func (s *Store) List() []*Instance {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instances := make([]*Instance, 0, len(s.instances))
	for _, instance := range s.instances {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].id < instances[j].id
	})
	return instances
}
