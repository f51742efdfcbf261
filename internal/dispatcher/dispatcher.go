// Package dispatcher routes billing events to side-effect handlers (receipt
// notification, audit trail, cash-flow report). Handlers run detached from
// the payment path; a handler failure is logged and never propagated back to
// the submission that raised the event.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler processes billing events
type Handler func(ctx context.Context, evt *Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name    string
	Type    Type
	Handler Handler
}

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a named handler for an event type
	Subscribe(eventType Type, name string, handler Handler)

	// Dispatch sends an event to all registered handlers synchronously,
	// returning the first error encountered
	Dispatch(ctx context.Context, evt *Event) error

	// DispatchAsync sends an event to handlers without waiting for them.
	// Handler errors are logged, never returned.
	DispatchAsync(ctx context.Context, evt *Event)

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[Type][]HandlerInfo
	logger   *zap.Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a new event dispatcher
func New(logger *zap.Logger) Dispatcher {
	return &eventDispatcher{
		handlers: make(map[Type][]HandlerInfo),
		logger:   logger,
	}
}

// Subscribe registers a named handler for an event type
func (d *eventDispatcher) Subscribe(eventType Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:    name,
		Type:    eventType,
		Handler: handler,
	})

	d.logger.Info("Event handler registered",
		zap.String("event_type", eventType.String()),
		zap.String("handler", name))
}

// Dispatch sends an event to all registered handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	d.mu.RLock()
	handlers := make([]HandlerInfo, len(d.handlers[evt.Type]))
	copy(handlers, d.handlers[evt.Type])
	d.mu.RUnlock()

	for _, info := range handlers {
		if err := info.Handler(ctx, evt); err != nil {
			return fmt.Errorf("handler %s: %w", info.Name, err)
		}
	}
	return nil
}

// DispatchAsync sends an event to handlers without waiting for completion
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *Event) {
	if d.closed.Load() {
		d.logger.Warn("Dropping event, dispatcher is closed",
			zap.String("event_type", evt.Type.String()),
			zap.String("event_id", evt.ID))
		return
	}

	d.mu.RLock()
	handlers := make([]HandlerInfo, len(d.handlers[evt.Type]))
	copy(handlers, d.handlers[evt.Type])
	d.mu.RUnlock()

	for _, info := range handlers {
		info := info
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					d.logger.Error("Event handler panicked",
						zap.String("handler", info.Name),
						zap.Any("panic", p))
				}
			}()

			if err := info.Handler(ctx, evt); err != nil {
				d.logger.Error("Event handler failed",
					zap.String("handler", info.Name),
					zap.String("event_type", evt.Type.String()),
					zap.String("event_id", evt.ID),
					zap.Error(err))
			}
		}()
	}
}

// Close shuts down the dispatcher and waits for in-flight async handlers
func (d *eventDispatcher) Close() error {
	d.closed.Store(true)
	d.wg.Wait()
	return nil
}
