package connection

import (
	"errors"
	"sort"
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

var (
	ErrNotRegistered = errors.New("connection is not registered")
	ErrAlreadyBound  = errors.New("connection already bound")
)

// Registry is the set of live connections, indexed by connection id and by bound user id.
// Every read and mutation goes through one mutex.
type Registry struct {
	mu      sync.Mutex
	nextSeq uint64
	conns   map[string]*Connection
	byUser  map[string]map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

func (r *Registry) Add(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; ok {
		return false
	}
	r.nextSeq++
	conn.seq = r.nextSeq
	r.conns[conn.ID] = conn
	logger.InfoF("[%s] Client connected", conn.ID)
	return true
}

// Remove cancels the connection's timers and drops it from the registry.
// It reports whether the connection was a member.
func (r *Registry) Remove(conn *Connection) bool {
	conn.StopTimers()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		return false
	}
	delete(r.conns, conn.ID)
	if id, ok := conn.Identity(); ok {
		if set := r.byUser[id.UserID]; set != nil {
			delete(set, conn.ID)
			if len(set) == 0 {
				delete(r.byUser, id.UserID)
			}
		}
	}
	logger.InfoF("[%s] Client disconnected", conn.ID)
	return true
}

// Bind attaches identity to a registered, unbound connection.
func (r *Registry) Bind(conn *Connection, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		return ErrNotRegistered
	}
	if !conn.bind(identity) {
		return ErrAlreadyBound
	}
	set := r.byUser[identity.UserID]
	if set == nil {
		set = make(map[string]*Connection)
		r.byUser[identity.UserID] = set
	}
	set[conn.ID] = conn
	logger.InfoF("[%s] Bound to user %s (%s)", conn.ID, identity.UserID, identity.Username)
	return nil
}

func (r *Registry) sorted(conns map[string]*Connection) []*Connection {
	result := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		result = append(result, conn)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// ForEachLive calls fn for every member in connection order while holding the registry lock.
// fn must not call back into the registry.
func (r *Registry) ForEachLive(fn func(conn *Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.sorted(r.conns) {
		fn(conn)
	}
}

// FindByUserID returns every live connection bound to userID.
func (r *Registry) FindByUserID(userID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(r.byUser[userID])
}

func (r *Registry) onlineSetLocked() []Identity {
	seen := make(map[string]struct{}, len(r.byUser))
	online := make([]Identity, 0, len(r.byUser))
	for _, conn := range r.sorted(r.conns) {
		id, ok := conn.Identity()
		if !ok {
			continue
		}
		if _, dup := seen[id.UserID]; dup {
			continue
		}
		seen[id.UserID] = struct{}{}
		online = append(online, id)
	}
	return online
}

// OnlineSet returns the distinct bound identities, ordered by their earliest connection.
func (r *Registry) OnlineSet() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineSetLocked()
}

// Snapshot returns the members and the online set computed under the same lock.
func (r *Registry) Snapshot() ([]*Connection, []Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(r.conns), r.onlineSetLocked()
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
