// Package live turns point-in-time queries into continuously-updating
// snapshot channels. Consumers always receive the complete current
// result set, never a diff; the backing store stays the source of
// truth and the hub only decides when to re-read it.
package live

import (
	"context"
	"sync"

	"khata/internal/core"
)

// Key identifies one logical collection scope: a profile's
// transactions or categories.
type Key struct {
	UID        string
	Profile    core.ProfileType
	Collection string
}

const (
	CollectionTransactions = "transactions"
	CollectionCategories   = "categories"
)

func TransactionsKey(uid string, profile core.ProfileType) Key {
	return Key{UID: uid, Profile: profile, Collection: CollectionTransactions}
}

func CategoriesKey(uid string, profile core.ProfileType) Key {
	return Key{UID: uid, Profile: profile, Collection: CollectionCategories}
}

// Snapshot is one full delivery. Err set means the subscription has
// failed terminally: no further snapshots follow and the consumer must
// not fall back to previously delivered data.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

// Fetcher reads the complete current result set for a subscription.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Subscription is a cancelable stream of full snapshots. The first
// snapshot arrives immediately after Subscribe; later ones follow
// every change notification for the key. Delivery is latest-wins: a
// slow consumer skips intermediate snapshots, never sees stale ones.
type Subscription[T any] struct {
	updates chan Snapshot[T]
	closed  chan struct{}
	once    sync.Once
	detach  func()

	mu     sync.Mutex
	failed bool
}

// Updates yields snapshots until Close. The channel is not closed on
// error; an error snapshot is the terminal delivery.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Close tears the subscription down. Idempotent; safe to call from any
// goroutine.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.closed)
		if s.detach != nil {
			s.detach()
		}
	})
}

// push delivers a snapshot, dropping an undelivered older one so the
// buffer always holds the latest state.
func (s *Subscription[T]) push(snap Snapshot[T]) {
	for {
		select {
		case <-s.closed:
			return
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// refresh re-fetches and delivers. The lock spans fetch and push, so
// refreshes for one subscription run in notification order and a slow
// older fetch can never land after a newer one: a refresh queued
// behind an in-flight fetch re-reads after it completes, which is what
// makes the last delivered snapshot the current one. After the first
// failed fetch the subscription is marked failed and ignores further
// notifications, so an error state can never silently revert to data.
func (s *Subscription[T]) refresh(ctx context.Context, fetch Fetcher[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}

	select {
	case <-s.closed:
		return
	default:
	}

	items, err := fetch(ctx)
	if err != nil {
		s.failed = true
		s.push(Snapshot[T]{Err: err})
		return
	}
	s.push(Snapshot[T]{Items: items})
}

// Hub fans change notifications out to the subscriptions registered
// for a key. Writers call Notify after a committed write; the hub
// re-runs each subscription's fetcher and pushes the fresh snapshot.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[Key]map[int]func(context.Context)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Key]map[int]func(context.Context))}
}

// Notify re-emits the current result set to every subscription on the
// key. Fetches run synchronously in notification order; with the
// 100-record query cap there is nothing worth parallelizing.
func (h *Hub) Notify(ctx context.Context, key Key) {
	h.mu.Lock()
	refreshers := make([]func(context.Context), 0, len(h.subs[key]))
	for _, fn := range h.subs[key] {
		refreshers = append(refreshers, fn)
	}
	h.mu.Unlock()

	for _, fn := range refreshers {
		fn(ctx)
	}
}

func (h *Hub) attach(key Key, refresh func(context.Context)) (detach func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]func(context.Context))
	}
	h.subs[key][id] = refresh

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[key], id)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
	}
}

// Subscribe opens a snapshot stream for the key. The initial snapshot
// (or the terminal error, if the first fetch fails) is delivered
// before Subscribe returns.
func Subscribe[T any](ctx context.Context, h *Hub, key Key, fetch Fetcher[T]) *Subscription[T] {
	s := &Subscription[T]{
		updates: make(chan Snapshot[T], 1),
		closed:  make(chan struct{}),
	}
	s.detach = h.attach(key, func(ctx context.Context) {
		s.refresh(ctx, fetch)
	})
	s.refresh(ctx, fetch)
	return s
}
