package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// QueryEventType identifies a lifecycle point of an executor operation.
type QueryEventType string

const (
	QueryStart   QueryEventType = "query:start"
	QuerySuccess QueryEventType = "query:success"
	QueryFailed  QueryEventType = "query:failed"
	SearchStart  QueryEventType = "search:start"
	SearchDone   QueryEventType = "search:success"
	SearchFailed QueryEventType = "search:failed"
)

// QueryEvent is emitted around every executor operation.
type QueryEvent struct {
	Type       QueryEventType `json:"type"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds.
	Operation  string         `json:"operation"` // e.g. "paginate", "count".
	Collection *string        `json:"collection,omitempty"`
	Input      any            `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Duration   *int64         `json:"duration,omitempty"` // Milliseconds.
}

// EventCallbackFunction receives emitted events.
type EventCallbackFunction func(ctx context.Context, event QueryEvent) error

// SubscriptionOptions describes a subscription to one event type.
type SubscriptionOptions struct {
	Event       QueryEventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes a live subscription.
type SubscriptionInfo struct {
	Id          *string        `json:"id,omitempty"`
	Event       QueryEventType `json:"event"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Unsubscribe func()         `json:"-"`
}

// EventHub owns the typed bus and the subscriptions registered on it.
type EventHub struct {
	bus           *events.TypedEventBus[QueryEvent]
	subMu         sync.Mutex
	subscriptions map[string]*SubscriptionInfo
}

// NewEventHub creates a hub on a bus with the default configuration.
func NewEventHub() (*EventHub, error) {
	bus, err := events.NewTypedEventBus[QueryEvent](events.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &EventHub{
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

func (h *EventHub) emit(event QueryEvent) {
	if h == nil || h.bus == nil {
		return
	}
	h.bus.Emit(string(event.Type), event)
}

// RegisterSubscription subscribes a callback and returns an id usable with
// UnregisterSubscription.
func (h *EventHub) RegisterSubscription(options SubscriptionOptions) string {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	unsubscribe := h.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	h.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}
	return id
}

// UnregisterSubscription removes a subscription by id. Unknown ids are ignored.
func (h *EventHub) UnregisterSubscription(id string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if sub, ok := h.subscriptions[id]; ok {
		sub.Unsubscribe()
		delete(h.subscriptions, id)
	}
}

// Subscriptions lists the live subscriptions.
func (h *EventHub) Subscriptions() []SubscriptionInfo {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	out := make([]SubscriptionInfo, 0, len(h.subscriptions))
	for _, s := range h.subscriptions {
		out = append(out, *s)
	}
	return out
}

// observe wraps fn with start, success and failure events.
func (h *EventHub) observe(operation, collection string, types [3]QueryEventType, input any, fn func() (any, error)) (any, error) {
	startTime := time.Now()
	h.emit(createEvent(types[0], operation, collection, input, nil, nil, time.Time{}))

	result, err := fn()
	if err != nil {
		errStr := err.Error()
		h.emit(createEvent(types[2], operation, collection, input, nil, &errStr, startTime))
		return nil, err
	}

	h.emit(createEvent(types[1], operation, collection, input, result, nil, startTime))
	return result, nil
}

var (
	queryEvents  = [3]QueryEventType{QueryStart, QuerySuccess, QueryFailed}
	searchEvents = [3]QueryEventType{SearchStart, SearchDone, SearchFailed}
)
