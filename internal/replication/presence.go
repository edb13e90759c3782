package replication

import (
	"slices"
	"strings"
	"sync"
)

// OnlineSet tracks the players online on this node. Its Names method is the
// Online source of a Transport.
type OnlineSet struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewOnlineSet() *OnlineSet {
	return &OnlineSet{names: make(map[string]string)}
}

// Join marks a player online. Names are matched case-insensitively and keep
// the casing of the first join.
func (s *OnlineSet) Join(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	key := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[key]; ok {
		return false
	}
	s.names[key] = name
	return true
}

// Leave marks a player offline.
func (s *OnlineSet) Leave(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[key]; !ok {
		return false
	}
	delete(s.names, key)
	return true
}

// Names returns the online players sorted by name.
func (s *OnlineSet) Names() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (s *OnlineSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}
