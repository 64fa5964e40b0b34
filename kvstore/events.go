// Package kvstore provides a key/value store component driven by events:
// fire an Update to change entries, fire a Query to read them back through
// the event result. The store persists to SQLite so component configuration
// survives restarts.
package kvstore

import (
	"strings"

	"github.com/petal-labs/arbor"
)

// Event types handled by the Store.
var (
	// TypeUpdate identifies Update events.
	TypeUpdate = arbor.NewEventType("kvstore.update", nil)

	// TypeQuery identifies Query events.
	TypeQuery = arbor.NewEventType("kvstore.query", nil)
)

type action struct {
	key    string
	value  string
	delete bool
}

// Update applies a batch of key/value changes. Actions are applied in the
// order they were added, atomically per event.
type Update struct {
	arbor.EventBase
	actions []action
}

// NewUpdate creates an empty update event; chain Set, Delete, and StoreAs
// to fill it.
func NewUpdate() *Update {
	u := &Update{}
	u.Init(TypeUpdate)
	return u
}

// Set adds an update action for the given key.
func (u *Update) Set(key, value string) *Update {
	u.actions = append(u.actions, action{key: key, value: value})
	return u
}

// StoreAs adds an update action for the key formed by the path segments.
func (u *Update) StoreAs(value string, segments ...string) *Update {
	return u.Set("/"+strings.Join(segments, "/"), value)
}

// Delete adds a deletion action for the given key.
func (u *Update) Delete(key string) *Update {
	u.actions = append(u.actions, action{key: key, delete: true})
	return u
}

// Query requests all entries whose key equals the prefix or lies below it
// in the slash-separated key space. The handler delivers a
// map[string]string through the event result.
type Query struct {
	arbor.EventBase
	prefix string
}

// NewQuery creates a query event for the given key prefix.
func NewQuery(prefix string) *Query {
	q := &Query{prefix: prefix}
	q.Init(TypeQuery)
	return q
}

// Prefix returns the queried key prefix.
func (q *Query) Prefix() string { return q.prefix }
