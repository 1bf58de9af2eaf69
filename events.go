package miso

import (
	"github.com/go-logr/logr"
)

// Handler receives events. The emitting entity is passed explicitly as src.
type Handler func(src Observable, ev Event)

// Observable is implemented by every entity that emits events: datasets, views and
// products.
type Observable interface {
	// Bind subscribes h to the named event. Handlers run in subscription order.
	Bind(name string, h Handler) *Subscription
	// Unbind removes a subscription made with Bind.
	Unbind(sub *Subscription)
	// Trigger emits ev under the given name.
	Trigger(name string, ev Event)
}

// Subscription is the handle returned by Bind.
type Subscription struct {
	Name    string
	handler Handler
	events  *Events
}

// Unbind removes the subscription from the channel it was made on.
func (s *Subscription) Unbind() {
	if s != nil && s.events != nil {
		s.events.Unbind(s)
	}
}

// Events is a publish/subscribe channel owned by one entity. Entities embed the capability
// by delegating their Observable methods to an Events instance.
type Events struct {
	owner      Observable
	subs       map[string][]*Subscription
	dispatcher *Dispatcher
}

// NewEvents creates a channel whose handlers see owner as the event source. Deliveries are
// queued on d; a nil d gets a private dispatcher.
func NewEvents(owner Observable, d *Dispatcher) *Events {
	if d == nil {
		d = NewDispatcher(logr.Discard())
	}
	return &Events{owner: owner, subs: map[string][]*Subscription{}, dispatcher: d}
}

// Bind implements Observable.
func (e *Events) Bind(name string, h Handler) *Subscription {
	sub := &Subscription{Name: name, handler: h, events: e}
	e.subs[name] = append(e.subs[name], sub)
	return sub
}

// Unbind implements Observable.
func (e *Events) Unbind(sub *Subscription) {
	if sub == nil {
		return
	}
	list := e.subs[sub.Name]
	for i, s := range list {
		if s == sub {
			// copy so an in-flight delivery keeps iterating its own snapshot
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			e.subs[sub.Name] = next
			break
		}
	}
	sub.events = nil
}

// UnbindAll drops every subscription to the named event.
func (e *Events) UnbindAll(name string) {
	for _, s := range e.subs[name] {
		s.events = nil
	}
	delete(e.subs, name)
}

// Trigger implements Observable.
func (e *Events) Trigger(name string, ev Event) {
	e.dispatcher.enqueue(e, name, ev)
}

// Len returns the number of subscriptions to the named event.
func (e *Events) Len(name string) int {
	return len(e.subs[name])
}

// Dispatcher delivers events breadth-first: an event triggered while another is being
// delivered waits until the current one has reached all of its subscribers. Datasets hand
// their dispatcher to every view and product derived from them, so a product never sees a
// view in the middle of an update.
type Dispatcher struct {
	queue    []delivery
	draining bool
	log      logr.Logger
}

type delivery struct {
	events *Events
	name   string
	ev     Event
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log logr.Logger) *Dispatcher {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Dispatcher{log: log.WithName("dispatcher")}
}

func (d *Dispatcher) enqueue(e *Events, name string, ev Event) {
	d.queue = append(d.queue, delivery{e, name, ev})
	if d.draining {
		d.log.V(4).Info("queued nested event", "event", name, "queued", len(d.queue))
		return
	}
	d.drain()
}

func (d *Dispatcher) drain() {
	d.draining = true
	defer func() { d.draining = false }()
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		subs := next.events.subs[next.name]
		d.log.V(4).Info("dispatching", "event", next.name, "subscribers", len(subs))
		for _, s := range subs {
			if s.events == nil {
				// unbound by an earlier handler of this same delivery
				continue
			}
			s.handler(next.events.owner, next.ev)
		}
	}
}
