// Package kb holds the object catalog. It owns the mutable position cache
// and hands scanners deep-copied snapshots.
package kb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/propagation"
)

var (
	ErrDuplicate = errors.New("object already in catalog")
	ErrNotFound  = errors.New("object not in catalog")
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventObjectAdded EventType = iota
	EventObjectRemoved
	EventRefreshed
)

// Event is emitted to subscribers when the catalog changes.
type Event struct {
	Type EventType
	// Object is a copy of the added or removed object.
	Object model.TrackedObject
	// At, Resolved and Unresolved describe a refresh.
	At         time.Time
	Resolved   int
	Unresolved int
}

// Store is an in-memory, thread-safe catalog of tracked objects. Catalog
// order is insertion order.
type Store struct {
	mu sync.RWMutex

	objects map[string]*model.TrackedObject
	order   []string

	subs    map[int]func(Event)
	nextSub int
}

// NewStore constructs an empty catalog.
func NewStore() *Store {
	return &Store{
		objects: make(map[string]*model.TrackedObject),
		subs:    make(map[int]func(Event)),
	}
}

// ObjectFromElements builds a catalog entry for a parsed element set. The
// ID is the zero-padded catalog number.
func ObjectFromElements(e *propagation.Elements) model.TrackedObject {
	return model.TrackedObject{
		ID:            fmt.Sprintf("%05d", e.CatalogNumber),
		Name:          e.Name,
		CatalogNumber: e.CatalogNumber,
		State:         e,
		Regime:        e.Regime(),
	}
}

// Add stores a copy of o. It returns ErrDuplicate if the ID already exists.
func (s *Store) Add(o model.TrackedObject) error {
	if o.ID == "" {
		return errors.New("object ID must not be empty")
	}
	cp := o.Clone()

	s.mu.Lock()
	if _, exists := s.objects[o.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicate, o.ID)
	}
	s.objects[o.ID] = &cp
	s.order = append(s.order, o.ID)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, Event{Type: EventObjectAdded, Object: cp.Clone()})
	return nil
}

// Remove deletes the object with the given ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	o, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(s.objects, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	removed := o.Clone()
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, Event{Type: EventObjectRemoved, Object: removed})
	return nil
}

// Get returns a copy of the object with the given ID.
func (s *Store) Get(id string) (model.TrackedObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok {
		return model.TrackedObject{}, false
	}
	return o.Clone(), true
}

// Len returns the number of objects in the catalog.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns deep copies of every object in catalog order. Later
// refreshes never show through a snapshot.
func (s *Store) Snapshot() []model.TrackedObject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.TrackedObject, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.objects[id].Clone())
	}
	return res
}

type refreshed struct {
	id       string
	sv       model.StateVector
	ok       bool
	ageHours *float64
}

// Refresh recomputes every object's cached position, velocity and element
// age at the given time. Objects that can't be propagated lose their
// position until a later refresh resolves them. The propagator runs outside
// the lock.
func (s *Store) Refresh(at time.Time, prop propagation.Propagator) (resolved, unresolved int) {
	s.mu.RLock()
	work := make([]refreshed, 0, len(s.order))
	states := make([]model.OrbitalState, 0, len(s.order))
	for _, id := range s.order {
		work = append(work, refreshed{id: id})
		states = append(states, s.objects[id].State)
	}
	s.mu.RUnlock()

	for i, st := range states {
		if st == nil {
			continue
		}
		work[i].ageHours = model.Float64(at.Sub(st.Epoch()).Hours())
		sv, err := prop.Propagate(st, at)
		if err != nil || !sv.Position.IsFinite() {
			continue
		}
		work[i].sv, work[i].ok = sv, true
	}

	s.mu.Lock()
	for _, w := range work {
		o, ok := s.objects[w.id]
		if !ok {
			continue
		}
		o.ElementAgeHours = w.ageHours
		if !w.ok {
			o.Position, o.Velocity = nil, nil
			unresolved++
			continue
		}
		pos := w.sv.Position
		o.Position = &pos
		o.Velocity = nil
		if w.sv.Velocity != nil {
			v := *w.sv.Velocity
			o.Velocity = &v
		}
		resolved++
	}
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, Event{Type: EventRefreshed, At: at, Resolved: resolved, Unresolved: unresolved})
	return resolved, unresolved
}

// Subscribe registers a callback for catalog events. It returns an
// unsubscribe function. Callbacks run outside the lock on the goroutine
// that made the change.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// subscribers copies the callbacks; callers hold the lock.
func (s *Store) subscribers() []func(Event) {
	res := make([]func(Event), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			res = append(res, fn)
		}
	}
	return res
}

func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
