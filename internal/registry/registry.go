// Package registry is the authoritative table of admitted instances.
//
// The Registry is not safe for concurrent use. The controller loop owns it and
// performs every read and mutation on one goroutine.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/micro-nova/tabyctl/internal/models"
)

var (
	// ErrDuplicateID is returned by Insert when the id is already present.
	ErrDuplicateID = errors.New("duplicate instance id")
	// ErrNotFound is returned for ids that are not in the registry.
	ErrNotFound = errors.New("instance not found")
)

// Registry maps instance ids to instances, remembering insertion order.
type Registry struct {
	byID   map[int]*models.Instance
	order  []int
	nextID int
}

// New creates an empty Registry. The first id handed out is 1.
func New() *Registry {
	return &Registry{
		byID:   make(map[int]*models.Instance),
		nextID: 1,
	}
}

// NextID reserves and returns a fresh id. Ids are never reused, even after
// the instance holding them is removed.
func (r *Registry) NextID() int {
	id := r.nextID
	r.nextID++
	return id
}

// Insert adds inst. It fails if inst.ID is already present.
func (r *Registry) Insert(inst models.Instance) error {
	if _, ok := r.byID[inst.ID]; ok {
		return fmt.Errorf("insert %d: %w", inst.ID, ErrDuplicateID)
	}
	cp := inst
	r.byID[inst.ID] = &cp
	r.order = append(r.order, inst.ID)
	if inst.ID >= r.nextID {
		r.nextID = inst.ID + 1
	}
	return nil
}

// Get returns a copy of the instance with the given id.
func (r *Registry) Get(id int) (models.Instance, bool) {
	inst, ok := r.byID[id]
	if !ok {
		return models.Instance{}, false
	}
	return *inst, true
}

// Remove deletes an instance record. It is used for purges only; natural
// deaths go through MarkDead.
func (r *Registry) Remove(id int) error {
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("remove %d: %w", id, ErrNotFound)
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(n int) bool { return n == id })
	return nil
}

// ListAll returns every instance in insertion order. Each iteration walks the
// registry as it is when the iteration starts.
func (r *Registry) ListAll() iter.Seq[models.Instance] {
	return func(yield func(models.Instance) bool) {
		for _, id := range slices.Clone(r.order) {
			inst, ok := r.byID[id]
			if !ok {
				continue
			}
			if !yield(*inst) {
				return
			}
		}
	}
}

// Live returns the Starting and Running instances in insertion order.
func (r *Registry) Live() iter.Seq[models.Instance] {
	return func(yield func(models.Instance) bool) {
		for inst := range r.ListAll() {
			if inst.State.Live() && !yield(inst) {
				return
			}
		}
	}
}

// MarkRunning promotes a Starting instance. Other states are left alone.
func (r *Registry) MarkRunning(id int) error {
	inst, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("mark running %d: %w", id, ErrNotFound)
	}
	if inst.State == models.StateStarting {
		inst.State = models.StateRunning
	}
	return nil
}

// MarkDead records that the instance's worker is gone.
func (r *Registry) MarkDead(id int, at time.Time) error {
	inst, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("mark dead %d: %w", id, ErrNotFound)
	}
	if inst.State != models.StateDead {
		inst.State = models.StateDead
		inst.StoppedAt = at
	}
	return nil
}

// RunningCount returns the number of instances holding a concurrency slot
// (Starting or Running).
func (r *Registry) RunningCount() int {
	n := 0
	for _, inst := range r.byID {
		if inst.State.Live() {
			n++
		}
	}
	return n
}

// Oldest returns the live instance with the smallest id.
func (r *Registry) Oldest() (models.Instance, bool) {
	var (
		oldest models.Instance
		found  bool
	)
	for _, inst := range r.byID {
		if inst.State.Live() && (!found || inst.ID < oldest.ID) {
			oldest, found = *inst, true
		}
	}
	return oldest, found
}

// HeldOrdinals returns the port ordinals held by live instances.
func (r *Registry) HeldOrdinals() []int {
	var held []int
	for inst := range r.Live() {
		held = append(held, inst.Ordinal)
	}
	return held
}

// PurgeDead removes every Dead instance and returns their ids in insertion order.
func (r *Registry) PurgeDead() []int {
	var purged []int
	for inst := range r.ListAll() {
		if inst.State == models.StateDead {
			purged = append(purged, inst.ID)
		}
	}
	for _, id := range purged {
		_ = r.Remove(id)
	}
	return purged
}

// Len returns the number of records, dead ones included.
func (r *Registry) Len() int {
	return len(r.byID)
}
