// Package registry tracks the live plugin and admin connections of every user.
//
// A Registry holds one independent set of connections per (role, user) pair.
// A handle belongs to at most one set at a time. Sets are created lazily on
// first registration and removed as soon as they become empty, so the
// registry never holds empty sets. Registration and removal are idempotent.
// All methods are safe for concurrent use.
//
//	reg := registry.New[transport.Conn]()
//	reg.RegisterPlugin(42, conn)
//	defer reg.UnregisterPlugin(42, conn)
//
//	for _, admin := range reg.AdminConnectionsFor(42) {
//	    // deliver
//	}
package registry

import (
	"fmt"
	"sync"
)

// Role selects which set of a user's connections an operation targets.
type Role int

const (
	RolePlugin Role = iota
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RolePlugin:
		return "plugin"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

type key struct {
	role   Role
	userID int64
}

// Registry maps users to their active connections. C is the connection handle
// type; handles are compared by equality, so pointer-backed handles are the
// norm.
type Registry[C comparable] struct {
	sets  map[key]map[C]struct{}
	owner map[C]key
	mu    sync.RWMutex

	metrics *Metrics
}

// New creates an empty Registry.
func New[C comparable]() *Registry[C] {
	return &Registry[C]{
		sets:    make(map[key]map[C]struct{}),
		owner:   make(map[C]key),
		metrics: NewMetrics(),
	}
}

// Register adds conn to the role's set for userID. It reports whether the
// handle was newly added. Registering a handle already held, in this set or
// any other, is a no-op.
func (r *Registry[C]) Register(role Role, userID int64, conn C) bool {
	k := key{role: role, userID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.owner[conn]; held {
		return false
	}

	set, exists := r.sets[k]
	if !exists {
		set = make(map[C]struct{})
		r.sets[k] = set
	}

	set[conn] = struct{}{}
	r.owner[conn] = k
	r.metrics.recordRegister(role)
	return true
}

// Unregister removes conn from the role's set for userID. It reports whether
// the handle was present there; removing an absent handle is a no-op.
func (r *Registry[C]) Unregister(role Role, userID int64, conn C) bool {
	k := key{role: role, userID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, held := r.owner[conn]; !held || owner != k {
		return false
	}

	set := r.sets[k]
	delete(set, conn)
	delete(r.owner, conn)
	if len(set) == 0 {
		delete(r.sets, k)
	}

	r.metrics.recordUnregister(role)
	return true
}

// Connections returns a snapshot of the role's connections for userID. The
// returned slice is owned by the caller and does not observe later changes.
func (r *Registry[C]) Connections(role Role, userID int64) []C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sets[key{role: role, userID: userID}]
	conns := make([]C, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of role connections currently held for userID.
func (r *Registry[C]) Count(role Role, userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets[key{role: role, userID: userID}])
}

// Users returns the number of users holding at least one connection in role.
func (r *Registry[C]) Users(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k := range r.sets {
		if k.role == role {
			n++
		}
	}
	return n
}

// RegisterPlugin adds a plugin connection for userID.
func (r *Registry[C]) RegisterPlugin(userID int64, conn C) bool {
	return r.Register(RolePlugin, userID, conn)
}

// UnregisterPlugin removes a plugin connection for userID.
func (r *Registry[C]) UnregisterPlugin(userID int64, conn C) bool {
	return r.Unregister(RolePlugin, userID, conn)
}

// RegisterAdmin adds an admin connection for userID.
func (r *Registry[C]) RegisterAdmin(userID int64, conn C) bool {
	return r.Register(RoleAdmin, userID, conn)
}

// UnregisterAdmin removes an admin connection for userID.
func (r *Registry[C]) UnregisterAdmin(userID int64, conn C) bool {
	return r.Unregister(RoleAdmin, userID, conn)
}

// AdminConnectionsFor returns a snapshot of the admin connections for userID.
func (r *Registry[C]) AdminConnectionsFor(userID int64) []C {
	return r.Connections(RoleAdmin, userID)
}

// Metrics returns a point-in-time copy of the registry counters.
func (r *Registry[C]) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}
