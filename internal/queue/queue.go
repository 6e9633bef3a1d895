// Package queue holds work items waiting for admission.
package queue

import (
	"iter"
	"slices"

	"github.com/micro-nova/tabyctl/internal/models"
)

// Queue is a FIFO of work items. Duplicates are allowed.
// It is not safe for concurrent use; the controller loop owns it.
type Queue struct {
	items []models.WorkItem
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends item to the tail.
func (q *Queue) Enqueue(item models.WorkItem) {
	q.items = append(q.items, item)
}

// DequeueFront removes and returns the head. ok is false when the queue is empty.
func (q *Queue) DequeueFront() (item models.WorkItem, ok bool) {
	if len(q.items) == 0 {
		return models.WorkItem{}, false
	}
	item = q.items[0]
	q.items[0] = models.WorkItem{}
	q.items = q.items[1:]
	return item, true
}

// PeekSize returns the number of queued items.
func (q *Queue) PeekSize() int {
	return len(q.items)
}

// Items returns the queued items head first.
func (q *Queue) Items() iter.Seq2[int, models.WorkItem] {
	return slices.All(slices.Clone(q.items))
}

// Snapshot returns a copy of the queued items.
func (q *Queue) Snapshot() []models.WorkItem {
	return slices.Clone(q.items)
}
