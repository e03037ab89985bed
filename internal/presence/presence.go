// Package presence tracks which connections are online and as whom.
// The table is scoped to the lifetime of the process: a restart means
// everyone appears offline until they reconnect.
package presence

import "sync"

// Table is the in-memory bidirectional mapping between live connection
// ids and logical usernames. A connection binds to at most one username;
// a username may be bound by several connections at once (two tabs).
type Table struct {
	mu     sync.RWMutex
	byConn map[string]string
	byUser map[string]map[string]struct{}
	order  []string // usernames in first-bind order, for snapshots
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// SetOnline binds connID to username, overwriting any previous binding
// for that connection (last login wins). Reports whether this is the
// username's first live connection. An empty username is rejected
// without mutating the table.
func (t *Table) SetOnline(connID, username string) (first bool, ok bool) {
	if username == "" {
		return false, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, bound := t.byConn[connID]; bound {
		t.unbindLocked(connID, prev)
	}

	t.byConn[connID] = username
	conns, known := t.byUser[username]
	if !known {
		conns = make(map[string]struct{})
		t.byUser[username] = conns
		t.order = append(t.order, username)
	}
	conns[connID] = struct{}{}
	return len(conns) == 1, true
}

// Username returns the username bound to connID.
func (t *Table) Username(connID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.byConn[connID]
	return u, ok
}

// Connections returns all connection ids currently bound to username,
// normally zero or one.
func (t *Table) Connections(username string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := t.byUser[username]
	result := make([]string, 0, len(conns))
	for id := range conns {
		result = append(result, id)
	}
	return result
}

// Remove deletes the entry for connID. It returns the username that was
// bound, and last reports whether that was the username's final live
// connection (the caller uses it to decide on an offline broadcast).
func (t *Table) Remove(connID string) (username string, last bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	username, ok = t.byConn[connID]
	if !ok {
		return "", false, false
	}
	last = t.unbindLocked(connID, username)
	return username, last, true
}

// unbindLocked removes the binding and reports whether it was the
// username's last connection. Must be called with mu held.
func (t *Table) unbindLocked(connID, username string) bool {
	delete(t.byConn, connID)
	conns := t.byUser[username]
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(t.byUser, username)
	for i, u := range t.order {
		if u == username {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// AllUsernames returns a snapshot of online usernames in first-bind order.
func (t *Table) AllUsernames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]string, len(t.order))
	copy(result, t.order)
	return result
}

// Count returns the number of live bound connections.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}
