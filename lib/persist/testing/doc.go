// Package testing provides a shared test suite for persist stores.
//
// RunStoreTests exercises a StoreFactory against an in-memory filesystem with
// plain and compressed snapshots. The suite drives the store through
// StringSet, a text codec that keeps a set of lines and counts how often each
// hook was called.
package testing
