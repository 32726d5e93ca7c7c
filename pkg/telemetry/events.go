package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// Event is a run or step transition as delivered to subscribers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type engine.EventType `json:"type"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// StepIndex is the step position for step events.
	StepIndex *int `json:"step_index,omitempty"`

	// TaskID is the task id for step events.
	TaskID string `json:"task_id,omitempty"`

	// Status is the step or run status after the transition.
	Status string `json:"status,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`
}

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher turns orchestrator transitions into Events for subscribers.
// It implements engine.Recorder and passes every call on to an optional
// downstream recorder, so it can sit in front of the history store.
type EventPublisher struct {
	config      EventsConfig
	next        engine.Recorder
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

var _ engine.Recorder = (*EventPublisher)(nil)

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Forward sets the recorder that receives every call after subscribers.
func (ep *EventPublisher) Forward(next engine.Recorder) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.next = next
}

// Publish delivers an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// RunStarted publishes a run_started event and forwards the call.
func (ep *EventPublisher) RunStarted(ctx context.Context, runID string, steps []engine.RunStep, startedAt time.Time) error {
	perr := ep.Publish(Event{
		Type:      engine.EventTypeRunStarted,
		RunID:     runID,
		Timestamp: startedAt,
		Status:    string(engine.RunStatusRunning),
		Message:   fmt.Sprintf("%d task(s)", len(steps)),
	})
	if next := ep.downstream(); next != nil {
		return errors.Join(perr, next.RunStarted(ctx, runID, steps, startedAt))
	}
	return perr
}

// StepChanged publishes the step transition and forwards the call.
func (ep *EventPublisher) StepChanged(ctx context.Context, ev engine.StepEvent) error {
	index := ev.Index
	msg := ev.Step.Name
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	perr := ep.Publish(Event{
		Type:      ev.Type,
		RunID:     ev.RunID,
		Timestamp: ev.At,
		StepIndex: &index,
		TaskID:    ev.Step.TaskID,
		Status:    string(ev.Step.Status),
		Message:   msg,
	})
	if next := ep.downstream(); next != nil {
		return errors.Join(perr, next.StepChanged(ctx, ev))
	}
	return perr
}

// RunFinished publishes run_completed or run_cancelled and forwards the call.
func (ep *EventPublisher) RunFinished(ctx context.Context, result engine.RunResult) error {
	typ := engine.EventTypeRunCompleted
	if result.Status == engine.RunStatusCancelled {
		typ = engine.EventTypeRunCancelled
	}
	perr := ep.Publish(Event{
		Type:      typ,
		RunID:     result.RunID,
		Timestamp: result.CompletedAt,
		Status:    string(result.Status),
		Message: fmt.Sprintf("%s: %d completed, %d failed, %d pending",
			result.Status, result.Completed, result.Failed, result.Pending),
	})
	if next := ep.downstream(); next != nil {
		return errors.Join(perr, next.RunFinished(ctx, result))
	}
	return perr
}

func (ep *EventPublisher) downstream() engine.Recorder {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.next
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents drains the buffer until shutdown, then delivers what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent calls subscribers in subscription order on the caller's goroutine.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the delivery goroutine after the queue drains.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

