package container

import "sync"

// stats is the container's accumulator. Behaviors seed it via InitialStats
// and mutate it through the container's IncrStat/SetStat during execution.
type stats struct {
	mu     sync.Mutex
	values map[string]any
}

func newStats(seed map[string]any) *stats {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}

	return &stats{values: values}
}

// incr adds delta to an integer-valued key, treating missing or non-integer
// values as zero.
func (s *stats) incr(key string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.values[key].(int)
	s.values[key] = current + delta
}

func (s *stats) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

func (s *stats) get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]

	return v, ok
}

// snapshot copies the accumulator out; callers own the returned map.
func (s *stats) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}

	return out
}
