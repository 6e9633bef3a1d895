// Package events fans controller snapshots out to SSE clients.
package events

import (
	"sync"

	"github.com/micro-nova/tabyctl/internal/models"
)

// Bus delivers snapshots to subscribers without ever blocking the controller
// loop. Each subscriber holds at most one pending snapshot; a newer snapshot
// replaces an unread one, so slow clients skip intermediate states but always
// end on the latest.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan models.Snapshot
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan models.Snapshot)}
}

// Subscribe registers id. Call Unsubscribe when done.
func (b *Bus) Subscribe(id string) <-chan models.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Snapshot, 1)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes id and closes its channel. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish hands snap to every subscriber, replacing any snapshot the
// subscriber has not read yet. A nil Bus discards it.
func (b *Bus) Publish(snap models.Snapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		// Only Publish sends, under mu, so the slot is free now.
		ch <- snap
	}
}
