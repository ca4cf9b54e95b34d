package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/repository"
)

var mockCtx = mock.Anything

// MockMailer is a mock implementation of the Mailer interface
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.DeliveryResult), args.Error(1)
}

// stepClock advances by one second on every reading so successive check-ins
// get distinct outcome keys
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// capturePublisher records published events
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) ofType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	store    *repository.MemoryStore
	mailer   *MockMailer
	events   *capturePublisher
	logHook  *test.Hook
	analysis *domain.Analysis
	user     *domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:   repository.NewMemoryStore(),
		mailer:  new(MockMailer),
		events:  &capturePublisher{},
		logHook: hook,
	}
	env.engine = NewEngine(env.store, env.mailer, logger, Options{
		Clock:  newStepClock(),
		Events: env.events,
	})

	ctx := context.Background()
	patient := &domain.Patient{Ident: "patient-1", PatientID: "POG123"}
	require.NoError(t, env.store.Analyses().CreatePatient(ctx, patient))
	env.analysis = &domain.Analysis{Ident: "analysis-1", PatientID: patient.ID, Name: "biop1"}
	require.NoError(t, env.store.Analyses().Create(ctx, env.analysis))
	env.user = &domain.User{Ident: "user-1", Username: "jdoe", Email: "jdoe@example.org"}
	require.NoError(t, env.store.Users().Create(ctx, env.user))
	return env
}

// seedDefinition stores a definition directly, bypassing registry validation
func (env *testEnv) seedDefinition(t *testing.T, def *domain.StateDefinition) *domain.StateDefinition {
	t.Helper()
	if def.Ident == "" {
		def.Ident = "def-" + def.Slug
	}
	require.NoError(t, env.store.Definitions().Create(context.Background(), def))
	return def
}

// generate creates one state per slug at its default status and returns it by slug
func (env *testEnv) generate(t *testing.T, slugs ...string) map[string]*domain.State {
	t.Helper()
	targets := make([]domain.NextStateTarget, 0, len(slugs))
	for _, s := range slugs {
		targets = append(targets, domain.NextStateTarget{Slug: s})
	}
	states, err := env.engine.Generator.GenerateTrackingStates(context.Background(), env.analysis.ID, targets, &env.user.ID)
	require.NoError(t, err)
	return bySlug(states)
}

func (env *testEnv) states(t *testing.T) map[string]*domain.State {
	t.Helper()
	states, err := env.store.States().ListByAnalysis(context.Background(), env.analysis.ID)
	require.NoError(t, err)
	return bySlug(states)
}

func (env *testEnv) task(t *testing.T, state *domain.State, slug string) *domain.Task {
	t.Helper()
	task, err := env.store.Tasks().FindBySlug(context.Background(), state.ID, slug)
	require.NoError(t, err)
	return task
}

func (env *testEnv) reloadState(t *testing.T, state *domain.State) *domain.State {
	t.Helper()
	s, err := env.store.States().GetByID(context.Background(), state.ID)
	require.NoError(t, err)
	return s
}

func (env *testEnv) reloadTask(t *testing.T, task *domain.Task) *domain.Task {
	t.Helper()
	tk, err := env.store.Tasks().GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	return tk
}

func bySlug(states []*domain.State) map[string]*domain.State {
	out := make(map[string]*domain.State, len(states))
	for _, s := range states {
		out[s.Slug] = s
	}
	return out
}

func taskDefs(targets ...int) []domain.TaskDefinition {
	defs := make([]domain.TaskDefinition, len(targets))
	for i, n := range targets {
		slug := string(rune('a'+i)) + "-task"
		defs[i] = domain.TaskDefinition{Name: slug, Slug: slug, OutcomeType: domain.OutcomeString, CheckInsTarget: n}
	}
	return defs
}
