package notify

import (
	"sort"
	"sync"
)

// Center holds one viewer's transient notification state: the latest
// generated set plus read/dismissed marks keyed by the stable IDs.
// State lives only in memory and is lost on restart; it is never
// written back to the store.
type Center struct {
	mu        sync.Mutex
	items     []Notification
	read      map[string]bool
	dismissed map[string]bool
}

func NewCenter() *Center {
	return &Center{
		read:      make(map[string]bool),
		dismissed: make(map[string]bool),
	}
}

// Update replaces the current set with a fresh recompute. Marks for
// IDs no longer present are dropped so state cannot grow unbounded.
func (c *Center) Update(items []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]bool, len(items))
	for _, n := range items {
		present[n.ID] = true
	}
	for id := range c.read {
		if !present[id] {
			delete(c.read, id)
		}
	}
	for id := range c.dismissed {
		if !present[id] {
			delete(c.dismissed, id)
		}
	}
	c.items = items
}

// List returns the visible notifications, most recent first with ties
// kept in generation order, read flags applied and dismissed entries
// removed.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if c.dismissed[n.ID] {
			continue
		}
		n.Read = c.read[n.ID]
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, n := range c.items {
		if !c.dismissed[n.ID] && !c.read[n.ID] {
			count++
		}
	}
	return count
}

func (c *Center) MarkRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has(id) {
		c.read[id] = true
	}
}

func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.items {
		c.read[n.ID] = true
	}
}

// Dismiss hides a notification locally. A later recompute with the
// same inputs regenerates the same ID, which stays hidden.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has(id) {
		c.dismissed[id] = true
	}
}

func (c *Center) has(id string) bool {
	for _, n := range c.items {
		if n.ID == id {
			return true
		}
	}
	return false
}
