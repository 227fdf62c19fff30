// Package kv implements an in-memory key-value collection that survives
// restarts by persisting itself through a persist.Store.
//
// The collection is held in an xsync.MapOf, reads never touch the disk.
// Every Set and Delete queues the affected key; when the store flushes, the
// current value of a written key is read from memory and merged into the
// snapshot loaded from disk. A burst of writes to the same key therefore
// persists only the latest value.
//
// The snapshot encoding is pluggable (see package serializer), the default
// is the compact binary format.
//
// Usage:
//
//	c, err := kv.Open("/var/lib/app/data.db", nil, nil)
//	err = c.Set("key", []byte("value"))
//	v, ok := c.Get("key")
//	err = c.Close()
package kv
