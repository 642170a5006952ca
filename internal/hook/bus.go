// Package hook is the process-wide event bus. Network sessions dispatch
// protocol events into it and service modules subscribe handlers to the
// kinds they care about.
//
// Every kind is declared with the pointer type of its payload. Typed
// handlers registered through On are checked against that declaration
// when they are registered, and Dispatch refuses payloads of the wrong
// type, so a handler never sees a payload shape it did not ask for.
//
// Handlers for a kind run synchronously in registration order and share
// the payload pointer; a later handler observes what an earlier one
// changed. A handler that fails or panics is logged and skipped, and the
// remaining handlers still run. Handlers may dispatch further events,
// including of the kind currently being dispatched.
package hook

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/dalnet/nexuslink/internal/state"
)

var (
	// ErrUnknownKind is returned for kinds that were never declared
	ErrUnknownKind = errors.New("hook: unknown event kind")
	// ErrPayloadType is returned when a payload or handler does not match
	// the declared payload type of its kind
	ErrPayloadType = errors.New("hook: payload type mismatch")
)

// Event is what a handler receives
type Event struct {
	Network *state.Network
	Source  string // UID of the acting user, or a server identity
	Kind    Kind
	Payload any
}

// Handler is an untyped event callback
type Handler func(ev *Event) error

// ID identifies one handler registration
type ID uint64

type registration struct {
	id   ID
	name string
	fn   Handler
}

// Bus maps event kinds to ordered handler lists
type Bus struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	kinds    map[Kind]reflect.Type
	handlers map[Kind][]registration
	nextID   ID
}

// NewBus creates a bus with the built-in kinds declared
func NewBus(log *zap.SugaredLogger) *Bus {
	b := &Bus{
		log:      log.Named("hook"),
		kinds:    make(map[Kind]reflect.Type),
		handlers: make(map[Kind][]registration),
	}
	for kind, payload := range builtinKinds {
		b.kinds[kind] = reflect.TypeOf(payload)
	}
	return b
}

// Declare adds a new event kind carrying payloads of the given pointer
// type, e.g. Declare("MYEVENT", (*MyPayload)(nil)). Redeclaring a kind
// with the same type is a no-op.
func (b *Bus) Declare(kind Kind, payload any) error {
	t := reflect.TypeOf(payload)
	if t == nil || t.Kind() != reflect.Pointer {
		return fmt.Errorf("hook: payload of %s must be a pointer type, got %v", kind, t)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if have, ok := b.kinds[kind]; ok && have != t {
		return fmt.Errorf("%w: %s already declared with %v", ErrPayloadType, kind, have)
	}
	b.kinds[kind] = t
	return nil
}

// Register appends an untyped handler to kind's list. name is used in logs.
func (b *Bus) Register(kind Kind, name string, fn Handler) (ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.kinds[kind]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], registration{id: b.nextID, name: name, fn: fn})
	return b.nextID, nil
}

// On registers a handler typed to kind's payload. It fails if kind is not
// declared with payload type *P.
func On[P any](b *Bus, kind Kind, name string, fn func(ev *Event, payload *P) error) (ID, error) {
	want := reflect.TypeOf((*P)(nil))

	b.mu.RLock()
	have, ok := b.kinds[kind]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if have != want {
		return 0, fmt.Errorf("%w: %s carries %v, handler %s takes %v", ErrPayloadType, kind, have, name, want)
	}

	return b.Register(kind, name, func(ev *Event) error {
		return fn(ev, ev.Payload.(*P))
	})
}

// Unregister removes exactly the registration with the given ID
func (b *Bus) Unregister(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, regs := range b.handlers {
		for i, reg := range regs {
			if reg.id != id {
				continue
			}
			// Copy instead of splicing in place: dispatches already running
			// hold the old slice.
			kept := make([]registration, 0, len(regs)-1)
			kept = append(kept, regs[:i]...)
			kept = append(kept, regs[i+1:]...)
			b.handlers[kind] = kept
			return true
		}
	}
	return false
}

// Handlers returns how many handlers are registered for kind
func (b *Bus) Handlers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Dispatch runs every handler registered for kind, in order, and returns
// once all of them have finished. Handler failures are logged, never
// returned; the error result only reports an undeclared kind or a payload
// of the wrong type, in which case no handler runs.
func (b *Bus) Dispatch(network *state.Network, source string, kind Kind, payload any) error {
	b.mu.RLock()
	want, ok := b.kinds[kind]
	handlers := b.handlers[kind]
	b.mu.RUnlock()

	if !ok {
		b.log.Errorw("Dispatch of undeclared event kind", "kind", kind, "network", networkName(network))
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if got := reflect.TypeOf(payload); got != want {
		b.log.Errorw("Dispatch with wrong payload type", "kind", kind, "want", want, "got", got)
		return fmt.Errorf("%w: %s carries %v, got %v", ErrPayloadType, kind, want, got)
	}

	ev := &Event{Network: network, Source: source, Kind: kind, Payload: payload}
	for _, reg := range handlers {
		b.call(reg, ev)
	}
	return nil
}

func (b *Bus) call(reg registration, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("Hook handler panicked",
				"handler", reg.name,
				"kind", ev.Kind,
				"network", networkName(ev.Network),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := reg.fn(ev); err != nil {
		b.log.Warnw("Hook handler failed",
			"handler", reg.name,
			"kind", ev.Kind,
			"network", networkName(ev.Network),
			"error", err,
		)
	}
}

func networkName(n *state.Network) string {
	if n == nil {
		return ""
	}
	return n.Name
}
