package mqtt

import (
	"sync"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// FakePublisher records what was published for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	statuses []model.Status
	events   []Event
	closed   bool

	// PublishError, if set, is returned by both publish methods.
	PublishError error
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishStatus(status model.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *FakePublisher) PublishEvent(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, event)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakePublisher) Statuses() []model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Status(nil), f.statuses...)
}

func (f *FakePublisher) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// EventNames lists the published event names in order.
func (f *FakePublisher) EventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, e := range f.events {
		names = append(names, e.Name)
	}
	return names
}

func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Discard is a Publisher that drops everything, used when no broker is
// configured.
type Discard struct{}

func (Discard) PublishStatus(model.Status) error { return nil }
func (Discard) PublishEvent(Event) error         { return nil }
func (Discard) Close() error                     { return nil }
