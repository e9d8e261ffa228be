package server

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/teris-io/shortid"
)

// Registry tracks every open push connection, indexed by id and by scope.
// It is the only writer of its maps.
type Registry struct {
	log       *log.Logger
	stats     stats.StatsProvider
	heartbeat time.Duration

	mu     sync.RWMutex
	conns  map[string]*Connection
	scopes map[types.Scope]map[string]*Connection
}

func NewRegistry(logger *log.Logger, st stats.StatsProvider, heartbeat time.Duration) *Registry {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &Registry{
		log:       logger,
		stats:     st,
		heartbeat: heartbeat,
		conns:     make(map[string]*Connection),
		scopes:    make(map[types.Scope]map[string]*Connection),
	}
}

func newConnectionId() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// Register adds a connection for sink under scope. identity is the sender id
// bound to the stream and may be empty.
func (r *Registry) Register(scope types.Scope, identity string, sink Sink) *Connection {
	c := &Connection{
		scope:     scope,
		identity:  identity,
		sink:      sink,
		registry:  r,
		log:       r.log,
		heartbeat: r.heartbeat,
		send:      make(chan []byte, sendQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	for {
		c.id = newConnectionId()
		if _, taken := r.conns[c.id]; !taken {
			break
		}
	}
	r.conns[c.id] = c
	members, ok := r.scopes[scope]
	if !ok {
		members = make(map[string]*Connection)
		r.scopes[scope] = members
	}
	members[c.id] = c
	r.mu.Unlock()

	r.stats.Incr(stats.ActiveConnections)
	r.stats.Incr(stats.TotalConnections)
	r.log.Printf("registered connection %q in %s", c.id, scope)

	return c
}

// Unregister removes the connection with id. Unknown ids are ignored. It
// reports whether a connection was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		if members := r.scopes[c.scope]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(r.scopes, c.scope)
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.stats.Decr(stats.ActiveConnections)
		r.log.Printf("unregistered connection %q from %s", id, c.scope)
	}

	return ok
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns the connections currently registered under scope.
func (r *Registry) Snapshot(scope types.Scope) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.scopes[scope]
	conns := make([]*Connection, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}

// ForEachInScope calls fn for every connection in scope. fn runs on a
// snapshot taken before the first call, outside the registry lock, so it may
// register or unregister connections.
func (r *Registry) ForEachInScope(scope types.Scope, fn func(*Connection)) {
	for _, c := range r.Snapshot(scope) {
		fn(c)
	}
}

// CloseIdentity closes every connection bound to identity, in any scope, and
// returns how many were closed.
func (r *Registry) CloseIdentity(identity string) int {
	if identity == "" {
		return 0
	}

	r.mu.RLock()
	var matched []*Connection
	for _, c := range r.conns {
		if c.identity == identity {
			matched = append(matched, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range matched {
		r.Unregister(c.id)
		c.Close()
	}
	return len(matched)
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.mu.RUnlock()

	for _, c := range all {
		r.Unregister(c.id)
		c.Close()
	}
}

func (r *Registry) Count(scope types.Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scope])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
