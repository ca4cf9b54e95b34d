// Package tracking implements the report tracking workflow: states, tasks,
// check-ins, state definitions, successor resolution and hook dispatch.
package tracking

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// Options configures optional collaborators of the Engine
type Options struct {
	Clock      domain.Clock
	Events     domain.EventPublisher
	Recorder   domain.Recorder
	Renderer   *Renderer
	HTTPClient *http.Client
}

// Engine wires the tracking managers to a store and their collaborators.
// It holds no workflow state of its own; every operation reads and writes
// through the store.
type Engine struct {
	store    domain.Store
	mailer   domain.Mailer
	log      *logrus.Logger
	clock    domain.Clock
	events   domain.EventPublisher
	recorder domain.Recorder

	Checkins    *CheckinManager
	Tasks       *TaskManager
	States      *StateManager
	Definitions *DefinitionRegistry
	Generator   *Generator
	Hooks       *HookDispatcher
}

// NewEngine creates a tracking engine
func NewEngine(store domain.Store, mailer domain.Mailer, logger *logrus.Logger, opts Options) *Engine {
	e := &Engine{
		store:    store,
		mailer:   mailer,
		log:      logger,
		clock:    opts.Clock,
		events:   opts.Events,
		recorder: opts.Recorder,
	}
	if e.clock == nil {
		e.clock = domain.SystemClock{}
	}
	if e.events == nil {
		e.events = nopPublisher{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewRenderer()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	e.Checkins = &CheckinManager{e: e}
	e.Tasks = &TaskManager{e: e}
	e.States = &StateManager{e: e}
	e.Definitions = &DefinitionRegistry{e: e}
	e.Generator = &Generator{e: e}
	e.Hooks = &HookDispatcher{e: e, renderer: renderer, client: client}
	return e
}

// Store returns the underlying entity store
func (e *Engine) Store() domain.Store {
	return e.store
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// publish pushes a live event. Delivery is best effort.
func (e *Engine) publish(ctx context.Context, eventType string, state *domain.State, task *domain.Task, status string) {
	event := domain.Event{
		Type:      eventType,
		State:     state,
		Task:      task,
		Status:    status,
		Timestamp: e.now(),
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.log.WithFields(logrus.Fields{
			"event":  eventType,
			"status": status,
			"error":  err,
		}).Warn("Failed to publish tracking event")
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) CheckinRecorded(string) {}
func (nopRecorder) TaskTransition(string) {}
func (nopRecorder) StateTransition(string) {}
func (nopRecorder) HookInvoked(string, error) {}
