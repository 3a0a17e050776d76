// Package notify is the in-process notification channel that tells
// interested components a resource collection changed and should be
// refetched. Subscriptions are keyed by Kind.
package notify

import (
	"sync"
	"time"
)

// Kind identifies the resource collection an event is about.
type Kind string

const (
	KindRegistrations    Kind = "registrations"
	KindVehicles         Kind = "vehicles"
	KindDrivers          Kind = "drivers"
	KindGasStations      Kind = "gasStations"
	KindFuelTypes        Kind = "fuelTypes"
	KindMaintenanceTypes Kind = "maintenanceTypes"
	KindFuelRecords      Kind = "fuelRecords"
	KindBackups          Kind = "backups"
	KindConnectivity     Kind = "connectivity"
)

// Action says what happened to the collection.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionSynced    Action = "synced"
	ActionRestored  Action = "restored"
	ActionReloaded  Action = "reloaded"
	ActionOnline    Action = "online"
	ActionOffline   Action = "offline"
	ActionSucceeded Action = "succeeded"
	ActionFailed    Action = "failed"
)

// Event is a single notification.
type Event struct {
	Kind    Kind
	Action  Action
	ID      int64
	Message string
	At      time.Time
}

const defaultBuffer = 32

// Bus fans events out to subscribers of their Kind. Publishing never blocks:
// an event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Kind]map[int]chan Event
	all     map[int]chan Event
	nextID  int
	buffer  int
	dropped int
	now     func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Kind]map[int]chan Event),
		all:    make(map[int]chan Event),
		buffer: defaultBuffer,
		now:    time.Now,
	}
}

// Subscribe returns a channel receiving events of the given kinds (all
// kinds when none are given) and a function that ends the subscription.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)

	if len(kinds) == 0 {
		b.all[id] = ch
	}
	for _, k := range kinds {
		if b.subs[k] == nil {
			b.subs[k] = make(map[int]chan Event)
		}
		b.subs[k][id] = ch
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.all, id)
			for _, k := range kinds {
				delete(b.subs[k], id)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber of e.Kind. A nil Bus is a no-op,
// so components can be built without one.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	deliver := func(ch chan Event) {
		select {
		case ch <- e:
		default:
			b.dropped++
		}
	}
	for _, ch := range b.subs[e.Kind] {
		deliver(ch)
	}
	for _, ch := range b.all {
		deliver(ch)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
