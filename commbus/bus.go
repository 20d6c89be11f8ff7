package commbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryCommBus is the single-process CommBus.
//
//	bus := NewInMemoryCommBus(5*time.Second, WithBusLogger(logger))
//	bus.Subscribe("SessionStarted", onStarted)
//	bus.Publish(ctx, &SessionStarted{SessionID: id})
//	status, err := bus.QuerySync(ctx, &GetSessionStatus{SessionID: id})
type InMemoryCommBus struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscription
	middleware   []Middleware
	nextSubID    uint64
	queryTimeout time.Duration
	logger       Logger
}

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// BusOption configures an InMemoryCommBus.
type BusOption func(*InMemoryCommBus)

// WithBusLogger sets the logger for bus diagnostics.
func WithBusLogger(logger Logger) BusOption {
	return func(b *InMemoryCommBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewInMemoryCommBus creates a bus whose queries give up after queryTimeout.
func NewInMemoryCommBus(queryTimeout time.Duration, opts ...BusOption) *InMemoryCommBus {
	b := &InMemoryCommBus{
		handlers:     map[string]HandlerFunc{},
		subscribers:  map[string][]subscription{},
		queryTimeout: queryTimeout,
		logger:       NopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ CommBus = (*InMemoryCommBus)(nil)

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers event to every subscriber concurrently and waits for all
// of them. A failing subscriber is logged and does not affect the others or
// the caller.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)
	msg, err := b.before(ctx, event)
	if err != nil {
		return err
	}
	if msg == nil {
		b.logger.Debug("event_dropped", "event_type", eventType)
		return nil
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("event_no_subscribers", "event_type", eventType)
		b.after(ctx, event, nil, nil)
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, h HandlerFunc) {
			defer wg.Done()
			if _, err := h(ctx, msg); err != nil {
				errs[i] = err
				b.logger.Warn("subscriber_failed", "event_type", eventType, "subscription_id", subs[i].id, "error", err.Error())
			}
		}(i, sub.handler)
	}
	wg.Wait()

	var first error
	for _, e := range errs {
		if e != nil {
			first = e
			break
		}
	}
	b.after(ctx, event, nil, first)
	return nil
}

// Send hands command to its handler. A command nobody handles is a no-op;
// a handler error is returned.
func (b *InMemoryCommBus) Send(ctx context.Context, command Message) error {
	messageType := GetMessageType(command)
	msg, err := b.before(ctx, command)
	if err != nil {
		return err
	}
	if msg == nil {
		b.logger.Debug("command_dropped", "message_type", messageType)
		return nil
	}

	handler, ok := b.handler(messageType)
	if !ok {
		b.logger.Debug("command_no_handler", "message_type", messageType)
		return nil
	}

	_, err = handler(ctx, msg)
	if err != nil {
		b.logger.Warn("command_handler_failed", "message_type", messageType, "error", err.Error())
	}
	b.after(ctx, command, nil, err)
	return err
}

// QuerySync asks the query's handler and waits for the answer, at most
// the bus query timeout.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)
	msg, err := b.before(ctx, query)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrDropped, messageType)
	}

	handler, ok := b.handler(messageType)
	if !ok {
		return nil, &NoHandlerError{MessageType: messageType}
	}

	qctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type answer struct {
		value any
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		v, err := handler(qctx, msg)
		done <- answer{v, err}
	}()

	select {
	case <-qctx.Done():
		err := &QueryTimeoutError{MessageType: messageType, Timeout: b.queryTimeout}
		b.after(ctx, query, nil, err)
		return nil, err
	case a := <-done:
		return b.after(ctx, query, a.value, a.err)
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe adds a subscriber for eventType. The returned func removes it
// and may be called more than once.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// RegisterHandler sets the one handler for a command or query type.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[messageType]; exists {
		return &DuplicateHandlerError{MessageType: messageType}
	}
	b.handlers[messageType] = handler
	b.logger.Debug("handler_registered", "message_type", messageType)
	return nil
}

// AddMiddleware appends middleware. Before runs in registration order,
// After in reverse.
func (b *InMemoryCommBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// HasHandler reports whether messageType has a handler.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	_, ok := b.handler(messageType)
	return ok
}

// Subscribers returns the current subscribers of eventType.
func (b *InMemoryCommBus) Subscribers(eventType string) []HandlerFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]HandlerFunc, 0, len(b.subscribers[eventType]))
	for _, s := range b.subscribers[eventType] {
		out = append(out, s.handler)
	}
	return out
}

// Clear removes every handler, subscriber, and middleware.
func (b *InMemoryCommBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = map[string]HandlerFunc{}
	b.subscribers = map[string][]subscription{}
	b.middleware = nil
}

// =============================================================================
// MIDDLEWARE CHAIN
// =============================================================================

func (b *InMemoryCommBus) handler(messageType string) (HandlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[messageType]
	return h, ok
}

func (b *InMemoryCommBus) chain() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Middleware(nil), b.middleware...)
}

// before returns nil, nil when a middleware drops the message.
func (b *InMemoryCommBus) before(ctx context.Context, message Message) (Message, error) {
	for _, mw := range b.chain() {
		next, err := mw.Before(ctx, message)
		if err != nil || next == nil {
			return nil, err
		}
		message = next
	}
	return message, nil
}

// after lets each middleware replace the result or the error.
func (b *InMemoryCommBus) after(ctx context.Context, message Message, result any, err error) (any, error) {
	chain := b.chain()
	for i := len(chain) - 1; i >= 0; i-- {
		r, e := chain[i].After(ctx, message, result, err)
		if e != nil {
			err = e
		}
		if r != nil {
			result = r
		}
	}
	return result, err
}
