// Package events provides the typed publish/subscribe channel used by every
// data component (properties, entities, repositories, the sync engine) for
// change notification.
//
// A Channel only delivers events whose names were registered up front.
// Emitting an unknown name is a programming error and returns
// ErrUnregisteredEvent.
//
// # Pause and Resume
//
// While paused, Emit buffers each call in a bounded FIFO buffer instead of
// delivering it. Resume(true) replays the buffered calls in order;
// Resume(false) discards them.
//
// # Relay
//
// RelayFrom subscribes to another channel and re-emits its events under a
// prefixed name, registering the derived names automatically. The sync engine
// uses this to surface "local_change", "remote_add" and so on.
//
// # Veto
//
// Handlers return a Result. With CheckReturnValues enabled, a handler that
// returns Cancel stops delivery and Emit reports ErrCancelled, letting
// consumers deny state-affecting events such as a delete. Suppress stops
// delivery without reporting failure.
package events
