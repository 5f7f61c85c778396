// Package dedup provides a bounded window of recently seen message ids.
//
// Eviction is first-in first-out: an id that is seen again keeps its
// original position. The window sits on top of an LRU cache but only ever
// calls Contains (which does not touch recency) before Add, so recency and
// insertion order are the same thing.
package dedup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the window size used by the poll adapter
const DefaultCapacity = 500

// Window is a fixed-capacity set of recently seen ids
type Window struct {
	ids *lru.Cache[string, struct{}]
}

// New creates a window holding at most capacity ids
func New(capacity int) (*Window, error) {
	ids, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create dedup window: %w", err)
	}
	return &Window{ids: ids}, nil
}

// Insert records id and reports whether it was new. Inserting an id that is
// already present is a no-op and returns false.
func (w *Window) Insert(id string) bool {
	if w.ids.Contains(id) {
		return false
	}
	w.ids.Add(id, struct{}{})
	return true
}

// Contains reports whether id is in the window
func (w *Window) Contains(id string) bool {
	return w.ids.Contains(id)
}

// Len returns the number of ids held
func (w *Window) Len() int {
	return w.ids.Len()
}

// IDs returns the held ids, oldest first
func (w *Window) IDs() []string {
	return w.ids.Keys()
}
