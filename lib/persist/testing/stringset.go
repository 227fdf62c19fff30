package testing

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/cockroachdb/errors"
)

// Set is the container type of the StringSet codec
type Set = map[string]struct{}

// SetStore is the store type used by the suite
type SetStore = persist.Store[string, Set]

// StringSet is an in-memory set of lines that persists itself through a
// store. It implements text.Codec[string, Set] and counts every hook call so
// tests can check how often the store called back.
//
// The snapshot format is one item per line, sorted.
type StringSet struct {
	mu    sync.Mutex
	items Set
	store *SetStore

	ParseCalls         atomic.Int32
	SerializeFullCalls atomic.Int32
	LoadCalls          atomic.Int32
	WriteCalls         atomic.Int32
	DeleteCalls        atomic.Int32
	SerializeCalls     atomic.Int32

	// FailSerialize makes Serialize and SerializeFull return an error
	FailSerialize atomic.Bool
	// DeclineSerialize makes Serialize and SerializeFull report ok == false
	DeclineSerialize atomic.Bool
}

// ErrInjected is returned by the hooks when FailSerialize is set
var ErrInjected = errors.New("injected serialize failure")

// NewStringSet creates an empty set
func NewStringSet() *StringSet {
	return &StringSet{items: make(Set)}
}

// Attach connects the set to the store it reports mutations to
func (s *StringSet) Attach(store *SetStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// Add inserts item and queues a write
func (s *StringSet) Add(item string) error {
	s.mu.Lock()
	s.items[item] = struct{}{}
	store := s.store
	s.mu.Unlock()
	return store.WriteItem(item)
}

// Remove deletes item and queues a delete
func (s *StringSet) Remove(item string) error {
	s.mu.Lock()
	delete(s.items, item)
	store := s.store
	s.mu.Unlock()
	return store.DeleteItem(item)
}

// Items returns the sorted content of the set
func (s *StringSet) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.items)
}

// ResetCounters sets all hook counters to zero
func (s *StringSet) ResetCounters() {
	for _, c := range []*atomic.Int32{
		&s.ParseCalls, &s.SerializeFullCalls, &s.LoadCalls,
		&s.WriteCalls, &s.DeleteCalls, &s.SerializeCalls,
	} {
		c.Store(0)
	}
}

// --------------------------------------------------------------------------
// text.Codec implementation
// --------------------------------------------------------------------------

func (s *StringSet) Parse(r *bufio.Reader) (bool, error) {
	s.ParseCalls.Add(1)

	items, err := readLines(r)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for item := range items {
		s.items[item] = struct{}{}
	}
	return len(items) > 0, nil
}

func (s *StringSet) SerializeFull(w *bufio.Writer) (bool, error) {
	s.SerializeFullCalls.Add(1)
	if err := s.injected(); err != nil || s.DeclineSerialize.Load() {
		return false, err
	}

	s.mu.Lock()
	lines := sortedKeys(s.items)
	s.mu.Unlock()
	return writeLines(w, lines)
}

func (s *StringSet) Load(r *bufio.Reader) (Set, error) {
	s.LoadCalls.Add(1)
	return readLines(r)
}

func (s *StringSet) ApplyWrite(c Set, item string) (Set, error) {
	s.WriteCalls.Add(1)
	c[item] = struct{}{}
	return c, nil
}

func (s *StringSet) ApplyDelete(c Set, item string) (Set, error) {
	s.DeleteCalls.Add(1)
	delete(c, item)
	return c, nil
}

func (s *StringSet) Serialize(w *bufio.Writer, c Set) (bool, error) {
	s.SerializeCalls.Add(1)
	if err := s.injected(); err != nil || s.DeclineSerialize.Load() {
		return false, err
	}
	return writeLines(w, sortedKeys(c))
}

func (s *StringSet) injected() error {
	if s.FailSerialize.Load() {
		return ErrInjected
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func readLines(r *bufio.Reader) (Set, error) {
	items := make(Set)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			items[line] = struct{}{}
		}
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func writeLines(w *bufio.Writer, lines []string) (bool, error) {
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			return false, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return false, err
		}
	}
	return true, nil
}

func sortedKeys(set Set) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
