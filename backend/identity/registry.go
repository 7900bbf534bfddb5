// Package identity maps verified usernames to their current connection.
package identity

import "sync"

// Registry is last-writer-wins: binding a username that is already bound
// replaces the previous connection.
type Registry struct {
	mx    *sync.RWMutex
	conns map[string]string // username -> connection id
}

func NewRegistry() *Registry {
	return &Registry{
		mx:    &sync.RWMutex{},
		conns: make(map[string]string),
	}
}

func (r *Registry) Bind(username, connID string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.conns[username] = connID
}

func (r *Registry) Resolve(username string) (string, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	connID, ok := r.conns[username]
	return connID, ok
}

// UnbindByConnection removes the username bound to connID. If the username
// was rebound to a newer connection in the meantime nothing is removed and
// ok is false.
func (r *Registry) UnbindByConnection(connID string) (string, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	for username, id := range r.conns {
		if id == connID {
			delete(r.conns, username)
			return username, true
		}
	}
	return "", false
}

func (r *Registry) size() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.conns)
}
