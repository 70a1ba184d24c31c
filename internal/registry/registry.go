// Package registry implements the server-side Client Registry (spec.md
// §4.2): a fluent query interface over the flat collection of authorized
// clients, grounded on the teacher's stream registry
// (internal/rtmp/server/registry.go) but reshaped from a keyed map of
// publish streams into a predicate-filtered cursor over client records.
package registry

import (
	"sync"

	"github.com/ctproto/ctproto-go/internal/ctwire"
	"github.com/ctproto/ctproto-go/internal/transport"
)

// Client is one authorized connection's record.
type Client struct {
	ID       string
	Conn     transport.Conn
	AuthData any

	mu sync.Mutex
}

// Send marshals a NewMessage envelope and writes it to the client's
// connection. Safe for concurrent use against the same Client.
func (c *Client) Send(msgType string, payload any) error {
	env, err := ctwire.BuildNew(msgType, payload)
	if err != nil {
		return err
	}
	raw, err := ctwire.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.SendText(raw)
}

// Close closes the client's underlying connection.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Close(code, reason)
}

// Predicate selects a subset of the registry's clients.
type Predicate func(*Client) bool

// Registry holds every currently authorized client. All mutating operations
// (Add, Remove) are serialized against Find/ToArray snapshots by a single
// mutex, matching spec.md §5's guidance for a threaded runtime.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers a client record, replacing any existing record with the
// same ID. Returns the registry for chaining.
func (r *Registry) Add(c *Client) *Registry {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return r
}

// Cursor is the result of Find: a snapshot of matching clients plus a
// reference back to the owning registry, so terminal operations (Remove,
// Send, Close) can act on exactly the matched set.
type Cursor struct {
	registry *Registry
	matched  []*Client
}

// Find returns a cursor over every client currently satisfying pred. The
// snapshot is taken under the registry's lock so it cannot observe a
// partial Add/Remove.
func (r *Registry) Find(pred Predicate) *Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if pred == nil || pred(c) {
			matched = append(matched, c)
		}
	}
	return &Cursor{registry: r, matched: matched}
}

// ByID is a convenience predicate matching a single client id.
func ByID(id string) Predicate {
	return func(c *Client) bool { return c.ID == id }
}

// All matches every client.
func All() Predicate { return func(*Client) bool { return true } }

// Exists reports whether the cursor matched at least one client.
func (cur *Cursor) Exists() bool { return len(cur.matched) > 0 }

// Current returns the first matched client, or nil if none matched.
func (cur *Cursor) Current() *Client {
	if len(cur.matched) == 0 {
		return nil
	}
	return cur.matched[0]
}

// ToArray returns every matched client.
func (cur *Cursor) ToArray() []*Client {
	out := make([]*Client, len(cur.matched))
	copy(out, cur.matched)
	return out
}

// Remove closes every matched client's connection, then deletes its record
// from the registry. Idempotent: a client already removed (absent from the
// map) is silently skipped (spec.md §8 invariant 7).
func (cur *Cursor) Remove(code int, reason string) *Registry {
	cur.registry.mu.Lock()
	defer cur.registry.mu.Unlock()
	for _, c := range cur.matched {
		if _, ok := cur.registry.clients[c.ID]; !ok {
			continue
		}
		_ = c.Close(code, reason)
		delete(cur.registry.clients, c.ID)
	}
	return cur.registry
}

// Send builds one NewMessage envelope per matched client (a fresh messageId
// each, since a broadcast is not a single correlated request) and emits it.
// Send-errors are ignored here; a dead connection will be observed and
// reaped by its own read loop.
func (cur *Cursor) Send(msgType string, payload any) *Cursor {
	for _, c := range cur.matched {
		_ = c.Send(msgType, payload)
	}
	return cur
}

// Close closes every matched client's connection without removing its
// record; callers that also want removal should use Remove.
func (cur *Cursor) Close(code int, reason string) *Cursor {
	for _, c := range cur.matched {
		_ = c.Close(code, reason)
	}
	return cur
}
