package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the FJSM planner.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// TaskInstanceID is the associated task instance ID, if applicable.
	TaskInstanceID int `json:"task_instance_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunSubmitted    = "run.submitted"
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeExpansionDone   = "expansion.completed"
	EventTypeSolveStage1Done = "solve.stage1.completed"
	EventTypeSolveStage2Done = "solve.stage2.completed"
	EventTypeResultsWritten  = "results.written"
	EventTypeError           = "error"
)

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

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
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

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunSubmitted publishes a run submitted event.
func (ep *EventPublisher) PublishRunSubmitted(runID string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunSubmitted,
		Source:  "runcoordinator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s submitted", runID),
		Level:   EventLevelInfo,
	})
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "runcoordinator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s started", runID),
		Level:   EventLevelInfo,
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID string, makespan int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "runcoordinator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed, makespan=%d", runID, makespan),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"makespan": makespan,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, kind, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "runcoordinator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s failed: [%s] %s", runID, kind, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	})
}

// PublishExpansionDone publishes an expansion-completed event.
func (ep *EventPublisher) PublishExpansionDone(runID string, instanceCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeExpansionDone,
		Source:  "expansion",
		RunID:   runID,
		Message: fmt.Sprintf("run %s expanded into %d task instances", runID, instanceCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"instance_count": instanceCount,
		},
	})
}

// PublishSolveStageDone publishes a solve-stage-completed event.
func (ep *EventPublisher) PublishSolveStageDone(runID string, stage int, status string, objective int) error {
	evType := EventTypeSolveStage1Done
	if stage == 2 {
		evType = EventTypeSolveStage2Done
	}
	return ep.Publish(Event{
		Type:    evType,
		Source:  "solver",
		RunID:   runID,
		Message: fmt.Sprintf("run %s stage %d solved: status=%s objective=%d", runID, stage, status, objective),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":    status,
			"objective": objective,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// draining is handled by processEvents
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
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

// Common event filters.

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
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
