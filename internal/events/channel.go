package events

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxBuffered bounds the number of emissions held while paused.
const DefaultMaxBuffered = 10000

var (
	// ErrUnregisteredEvent is returned when emitting or subscribing to a name
	// that was never registered.
	ErrUnregisteredEvent = errors.New("events: unregistered event")

	// ErrCancelled is returned by Emit when a handler vetoed the event.
	ErrCancelled = errors.New("events: cancelled by handler")

	// ErrBufferFull is returned by Emit when the pause buffer is exhausted.
	ErrBufferFull = errors.New("events: pause buffer full")
)

// Result is a handler's verdict on continued delivery.
type Result int

const (
	// Continue lets delivery proceed to the next handler.
	Continue Result = iota
	// Suppress stops delivery without failing the emission.
	Suppress
	// Cancel stops delivery and fails the emission when return values are checked.
	Cancel
)

// Event is a single emission as seen by handlers.
type Event struct {
	Name string
	Args []any
}

// Arg returns the i-th argument, or nil when absent.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Handler receives an emitted event.
type Handler func(ev Event) Result

type subscription struct {
	id      int
	handler Handler
	once    bool
}

// Channel is an explicit-registration event emitter.
//
// Subscriptions and emissions are safe for concurrent use; handlers are
// invoked without the channel lock held, so a handler may emit further events.
type Channel struct {
	mu                sync.Mutex
	registered        map[string]bool
	subs              map[string][]subscription
	nextID            int
	paused            bool
	buffer            []Event
	maxBuffered       int
	checkReturnValues bool
	relays            []func()
}

// Option configures a Channel.
type Option func(*Channel)

// WithMaxBuffered overrides DefaultMaxBuffered.
func WithMaxBuffered(n int) Option {
	return func(c *Channel) {
		c.maxBuffered = n
	}
}

// WithCheckReturnValues enables the handler veto protocol.
func WithCheckReturnValues() Option {
	return func(c *Channel) {
		c.checkReturnValues = true
	}
}

// NewChannel creates a channel with the given event names registered.
func NewChannel(names []string, opts ...Option) *Channel {
	c := &Channel{
		registered:  make(map[string]bool, len(names)),
		subs:        make(map[string][]subscription),
		maxBuffered: DefaultMaxBuffered,
	}
	for _, n := range names {
		c.registered[n] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterEvent allows name to be emitted.
func (c *Channel) RegisterEvent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[name] = true
}

// RegisterEvents allows each of names to be emitted.
func (c *Channel) RegisterEvents(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.registered[n] = true
	}
}

// IsRegistered reports whether name may be emitted.
func (c *Channel) IsRegistered(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered[name]
}

// SetCheckReturnValues toggles the handler veto protocol.
func (c *Channel) SetCheckReturnValues(check bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkReturnValues = check
}

// On subscribes h to name and returns a function that removes the subscription.
func (c *Channel) On(name string, h Handler) (func(), error) {
	return c.subscribe(name, h, false)
}

// Once subscribes h for a single delivery.
func (c *Channel) Once(name string, h Handler) (func(), error) {
	return c.subscribe(name, h, true)
}

func (c *Channel) subscribe(name string, h Handler, once bool) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registered[name] {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredEvent, name)
	}
	c.nextID++
	id := c.nextID
	c.subs[name] = append(c.subs[name], subscription{id: id, handler: h, once: once})

	return func() { c.off(name, id) }, nil
}

func (c *Channel) off(name string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[name]
	for i, s := range subs {
		if s.id == id {
			c.subs[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of handlers subscribed to name.
func (c *Channel) ListenerCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[name])
}

// RemoveAllListeners drops every subscription and tears down relays.
func (c *Channel) RemoveAllListeners() {
	c.mu.Lock()
	relays := c.relays
	c.relays = nil
	c.subs = make(map[string][]subscription)
	c.mu.Unlock()

	for _, stop := range relays {
		stop()
	}
}

// Emit delivers an event to the handlers of name in subscription order.
//
// While paused the call is buffered and Emit returns nil. ErrCancelled is
// returned when return values are checked and a handler returned Cancel.
func (c *Channel) Emit(name string, args ...any) error {
	c.mu.Lock()
	if !c.registered[name] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnregisteredEvent, name)
	}
	ev := Event{Name: name, Args: args}
	if c.paused {
		defer c.mu.Unlock()
		if c.maxBuffered > 0 && len(c.buffer) >= c.maxBuffered {
			return ErrBufferFull
		}
		c.buffer = append(c.buffer, ev)
		return nil
	}
	subs := make([]subscription, len(c.subs[name]))
	copy(subs, c.subs[name])
	check := c.checkReturnValues
	c.mu.Unlock()

	return c.deliver(ev, subs, check)
}

func (c *Channel) deliver(ev Event, subs []subscription, check bool) error {
	for _, s := range subs {
		if s.once {
			c.off(ev.Name, s.id)
		}
		switch s.handler(ev) {
		case Suppress:
			return nil
		case Cancel:
			if check {
				return ErrCancelled
			}
		}
	}
	return nil
}

// Pause starts buffering emissions.
func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// IsPaused reports whether emissions are being buffered.
func (c *Channel) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Resume stops buffering. With replay, buffered emissions are delivered in
// their original order; otherwise they are discarded. The first delivery
// error aborts the replay and is returned.
func (c *Channel) Resume(replay bool) error {
	c.mu.Lock()
	buffered := c.buffer
	c.buffer = nil
	c.paused = false
	c.mu.Unlock()

	if !replay {
		return nil
	}
	for _, ev := range buffered {
		if err := c.Emit(ev.Name, ev.Args...); err != nil {
			return err
		}
	}
	return nil
}

// RelayFrom re-emits origin's events from c under prefix+name. Each derived
// name is registered on c.
func (c *Channel) RelayFrom(origin *Channel, names []string, prefix string) error {
	var stops []func()
	for _, name := range names {
		relayed := prefix + name
		c.RegisterEvent(relayed)
		stop, err := origin.On(name, func(ev Event) Result {
			if err := c.Emit(relayed, ev.Args...); errors.Is(err, ErrCancelled) {
				return Cancel
			}
			return Continue
		})
		if err != nil {
			for _, s := range stops {
				s()
			}
			return fmt.Errorf("relay %q: %w", name, err)
		}
		stops = append(stops, stop)
	}

	c.mu.Lock()
	c.relays = append(c.relays, stops...)
	c.mu.Unlock()
	return nil
}
