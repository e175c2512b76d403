package broker

import (
	"sync"

	"riskdesk/internal/domain"
)

// Feed fans venue events out to subscribers. Sends never block: an event is
// dropped for a subscriber whose buffer is full.
type Feed struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]chan domain.Event
}

// NewFeed creates a Feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan domain.Event)}
}

// Subscribe returns a subscriber id and its event channel.
func (f *Feed) Subscribe(bufSize int) (int, <-chan domain.Event) {
	ch := make(chan domain.Event, bufSize)
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subs[id] = ch
	f.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
	f.mu.Unlock()
}

// Publish delivers e to every subscriber and returns how many received it.
func (f *Feed) Publish(e domain.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.subs {
		select {
		case ch <- e:
			n++
		default:
			// Slow consumer: drop the event.
		}
	}
	return n
}

// PublishOrder is shorthand for publishing an order update.
func (f *Feed) PublishOrder(u domain.OrderUpdate) int {
	return f.Publish(domain.Event{Kind: domain.EventOrderUpdate, Order: &u})
}

// PublishPosition is shorthand for publishing a position snapshot.
func (f *Feed) PublishPosition(u domain.PositionUpdate) int {
	return f.Publish(domain.Event{Kind: domain.EventPositionUpdate, Position: &u})
}

// PublishAccount is shorthand for publishing an account value.
func (f *Feed) PublishAccount(u domain.AccountUpdate) int {
	return f.Publish(domain.Event{Kind: domain.EventAccountUpdate, Account: &u})
}

// PublishTick is shorthand for publishing a price tick.
func (f *Feed) PublishTick(t domain.PriceTick) int {
	return f.Publish(domain.Event{Kind: domain.EventPriceTick, Tick: &t})
}
