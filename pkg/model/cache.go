package model

import (
	"time"

	"github.com/aretw0/canopy/pkg/domain"
)

// Recorder receives one call per recompute. Graph implements it.
type Recorder interface {
	Recorded(name string, elapsed time.Duration, err error)
}

// Cache holds a lazily recomputed value together with the copy saved by the last Store.
//
// The recompute function must return a fresh value on every call: the stored copy is
// kept by reference and would otherwise be mutated behind the cache's back.
type Cache[T any] struct {
	name      string
	recompute func() (T, error)
	recorder  Recorder

	current     T
	stored      T
	dirty       bool
	storedDirty bool
	hasStored   bool
	recomputes  int
}

// NewCache creates a dirty cache; the first Value call recomputes.
func NewCache[T any](name string, recompute func() (T, error)) *Cache[T] {
	return &Cache[T]{
		name:      name,
		recompute: recompute,
		dirty:     true,
	}
}

// WithRecorder reports recomputes to r.
func (c *Cache[T]) WithRecorder(r Recorder) *Cache[T] {
	c.recorder = r
	return c
}

// Value returns the cached value, recomputing it first if dirty.
// A failed recompute leaves the cache dirty so the next call retries.
func (c *Cache[T]) Value() (T, error) {
	if !c.dirty {
		return c.current, nil
	}

	start := time.Now()
	v, err := c.recompute()
	c.recomputes++
	if c.recorder != nil {
		c.recorder.Recorded(c.name, time.Since(start), err)
	}
	if err != nil {
		var zero T
		return zero, err
	}

	c.current = v
	c.dirty = false
	return c.current, nil
}

// Invalidate marks the value stale.
func (c *Cache[T]) Invalidate() { c.dirty = true }

// Dirty reports whether the next Value call will recompute.
func (c *Cache[T]) Dirty() bool { return c.dirty }

// Recomputes returns how many times the recompute function ran.
func (c *Cache[T]) Recomputes() int { return c.recomputes }

// Store saves the current value and dirty flag.
func (c *Cache[T]) Store() {
	c.stored = c.current
	c.storedDirty = c.dirty
	c.hasStored = true
}

// Restore brings back the value and dirty flag saved by Store.
func (c *Cache[T]) Restore() error {
	if !c.hasStored {
		return domain.Protocolf("restore", "%s: restore without a prior store", c.name)
	}
	c.current = c.stored
	c.dirty = c.storedDirty
	c.discard()
	return nil
}

// Accept drops the value saved by Store.
func (c *Cache[T]) Accept() { c.discard() }

func (c *Cache[T]) discard() {
	var zero T
	c.stored = zero
	c.hasStored = false
}
