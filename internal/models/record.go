// Package models defines the records exchanged between the local store, the
// pending operation queue and the remote API.
package models

import "github.com/erauner12/garagesync/internal/syncx"

// Bookkeeping keys added to mirrored rows. They never reach the server.
const (
	FieldID       = "id"
	FieldOffline  = "_isOffline"
	FieldLastSync = "last_sync"
)

// Record is a loosely typed mirrored entity as decoded from JSON.
// Collection schemas in package schema describe the expected shape.
type Record map[string]any

// ID returns the record identifier, or 0 when missing or malformed.
func (r Record) ID() int64 {
	id, ok := syncx.GetInt64(r, FieldID)
	if !ok {
		return 0
	}
	return id
}

// Offline reports whether the record carries unconfirmed local state.
func (r Record) Offline() bool {
	v, _ := r[FieldOffline].(bool)
	return v
}

// LastSync returns the last server confirmation in Unix ms (0 = never).
func (r Record) LastSync() int64 {
	ms, _ := syncx.GetInt64(r, FieldLastSync)
	return ms
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every key of patch applied on top.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// WithoutBookkeeping strips the local synchronization fields, leaving the
// document as the server would see it.
func (r Record) WithoutBookkeeping() Record {
	out := r.Clone()
	delete(out, FieldOffline)
	delete(out, FieldLastSync)
	return out
}

// Payload strips bookkeeping and the identifier. Used for request bodies of
// creates, where the server assigns the id.
func (r Record) Payload() Record {
	out := r.WithoutBookkeeping()
	delete(out, FieldID)
	return out
}
