// Package lazy provides an explicit cache-or-fetch holder for collections
// that may or may not have been read from the store yet.
package lazy

import "context"

// List holds a collection together with whether it has been loaded. The
// zero value is an unloaded, empty list. List is not safe for concurrent use.
type List[T any] struct {
	items  []T
	loaded bool
}

// Of returns a List already loaded with items.
func Of[T any](items []T) *List[T] {
	l := &List[T]{}
	l.Set(items)
	return l
}

// Loaded reports whether the items are in memory.
func (l *List[T]) Loaded() bool {
	return l != nil && l.loaded
}

// Items returns the cached items and whether they were loaded.
func (l *List[T]) Items() ([]T, bool) {
	if l == nil {
		return nil, false
	}
	return l.items, l.loaded
}

// Set stores items and marks the list loaded.
func (l *List[T]) Set(items []T) {
	l.items = items
	l.loaded = true
}

// Reset drops the cached items.
func (l *List[T]) Reset() {
	l.items = nil
	l.loaded = false
}

// Get returns the cached items, calling fetch on first use.
func (l *List[T]) Get(ctx context.Context, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if l.loaded {
		return l.items, nil
	}
	items, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	l.Set(items)
	return items, nil
}
