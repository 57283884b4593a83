package lineserver

import (
	"sort"
	"sync"
)

// registry tracks the open connections of one server run.
type registry struct {
	mu     sync.Mutex
	conns  map[*Connection]struct{}
	closed bool
}

func newRegistry() *registry {
	return &registry{conns: make(map[*Connection]struct{})}
}

// add registers c. It returns false once the registry has been drained, in which
// case the caller still owns c and must close it.
func (r *registry) add(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// remove deregisters c and reports whether it was present. Only the caller that
// gets true may close c.
func (r *registry) remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

// drain empties the registry, refuses further adds, and hands every remaining
// connection to the caller.
func (r *registry) drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[*Connection]struct{})
	return conns
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// snapshot returns connection info ordered by connect time.
func (r *registry) snapshot() []ConnectionInfo {
	r.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for c := range r.conns {
		infos = append(infos, c.Info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
