// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// snapshot is an immutable point-in-time view of the registry.
type snapshot struct {
	order  []string
	byName map[string]*Record
}

var emptySnapshot = &snapshot{byName: map[string]*Record{}}

// check panics when the snapshot's order and map disagree.
func (s *snapshot) check() {
	if len(s.order) != len(s.byName) {
		panic(fmt.Sprintf("cog: registry corrupted: %d names, %d records", len(s.order), len(s.byName)))
	}
	for _, name := range s.order {
		rec, ok := s.byName[name]
		if !ok || rec == nil || rec.Name() != name {
			panic(fmt.Sprintf("cog: registry corrupted at %q", name))
		}
	}
}

// Registry maps cog names to live records.
//
// Updates build a new snapshot and publish it with a single atomic store, so
// readers never lock and never see a half-applied change. Writers serialize
// on mu. Only the Coordinator writes.
type Registry struct {
	mu  sync.Mutex
	cur atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.cur.Store(emptySnapshot)
	return r
}

func (r *Registry) view() *snapshot {
	return r.cur.Load()
}

// lookup returns the live record for name.
func (r *Registry) lookup(name string) (*Record, bool) {
	rec, ok := r.view().byName[name]
	return rec, ok
}

// records returns the live records in load order.
func (r *Registry) records() []*Record {
	s := r.view()
	out := make([]*Record, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Get returns the metadata of a loaded cog.
func (r *Registry) Get(name string) (Info, bool) {
	rec, ok := r.lookup(name)
	if !ok {
		return Info{}, false
	}
	return rec.Info(), true
}

// Has reports whether name is loaded.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Snapshot returns the metadata of all loaded cogs in load order.
func (r *Registry) Snapshot() []Info {
	s := r.view()
	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name].Info())
	}
	return out
}

// Names returns the names of all loaded cogs in load order.
func (r *Registry) Names() []string {
	s := r.view()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of loaded cogs.
func (r *Registry) Len() int {
	return len(r.view().order)
}

// put publishes rec under its name. A record already published under that
// name is replaced in place, keeping its position, and returned so the caller
// can retire it.
func (r *Registry) put(rec *Record) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.view()
	next := &snapshot{byName: make(map[string]*Record, len(old.byName)+1)}
	for k, v := range old.byName {
		next.byName[k] = v
	}

	name := rec.Name()
	prev, replaced := old.byName[name]
	next.byName[name] = rec
	if replaced {
		next.order = make([]string, len(old.order))
		copy(next.order, old.order)
	} else {
		next.order = make([]string, len(old.order), len(old.order)+1)
		copy(next.order, old.order)
		next.order = append(next.order, name)
	}

	next.check()
	r.cur.Store(next)
	LoadedCogs.Set(float64(len(next.order)))
	return prev
}

// remove retracts name and returns the retracted record.
func (r *Registry) remove(name string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.view()
	prev, ok := old.byName[name]
	if !ok {
		return nil, ErrNotFound(name)
	}

	next := &snapshot{
		order:  make([]string, 0, len(old.order)-1),
		byName: make(map[string]*Record, len(old.byName)-1),
	}
	for _, n := range old.order {
		if n == name {
			continue
		}
		next.order = append(next.order, n)
		next.byName[n] = old.byName[n]
	}

	next.check()
	r.cur.Store(next)
	LoadedCogs.Set(float64(len(next.order)))
	return prev, nil
}
