package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/repository"
)

func TestGenerator_DefaultStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seedDefinition(t, &domain.StateDefinition{Name: "Entry", Slug: "entry", Ordinal: 1, Tasks: taskDefs(1, 2, 3)})
	env.seedDefinition(t, &domain.StateDefinition{Name: "Later", Slug: "later", Ordinal: 4})
	env.seedDefinition(t, &domain.StateDefinition{Name: "Secret", Slug: "secret", Ordinal: 5, Hidden: true})

	states := env.generate(t, "entry", "later", "secret", "unknown")

	require.Len(t, states, 2, "hidden and unknown definitions are skipped")
	assert.Equal(t, domain.StateActive, states["entry"].Status)
	assert.NotNil(t, states["entry"].StartedAt)
	assert.Equal(t, domain.StatePending, states["later"].Status)
	require.NotNil(t, states["entry"].CreatedByID)
	assert.Equal(t, env.user.ID, *states["entry"].CreatedByID)

	tasks, err := env.store.Tasks().ListByState(context.Background(), states["entry"].ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i+1, task.Ordinal)
		assert.Equal(t, domain.TaskPending, task.Status)
		assert.Equal(t, i+1, task.CheckInsTarget)
	}
}

func TestGenerator_ExplicitStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedDefinition(t, &domain.StateDefinition{Name: "Entry", Slug: "entry", Ordinal: 1})
	env.seedDefinition(t, &domain.StateDefinition{Name: "Later", Slug: "later", Ordinal: 2})

	states, err := env.engine.Generator.GenerateTrackingStates(ctx, env.analysis.ID, []domain.NextStateTarget{
		{Slug: "entry", Status: domain.StateHold},
		{Slug: "later", Status: domain.StateComplete},
		{Slug: "later", Status: domain.StateFailed},
	}, nil)
	require.NoError(t, err)

	got := bySlug(states)
	require.Len(t, states, 2, "duplicate targets keep the first occurrence")
	assert.Equal(t, domain.StateHold, got["entry"].Status)
	assert.Nil(t, got["entry"].StartedAt)
	assert.Equal(t, domain.StateComplete, got["later"].Status)
	assert.NotNil(t, got["later"].CompletedAt)

	_, err = env.engine.Generator.GenerateTrackingStates(ctx, env.analysis.ID, []domain.NextStateTarget{{Slug: "entry", Status: "done"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStateStatus)
}

func TestGenerator_NoDuplicateCheck(t *testing.T) {
	env := newTestEnv(t)
	env.seedDefinition(t, &domain.StateDefinition{Name: "Entry", Slug: "entry", Ordinal: 1})

	env.generate(t, "entry")
	states, err := env.engine.Generator.GenerateTrackingStates(context.Background(), env.analysis.ID, []domain.NextStateTarget{{Slug: "entry"}}, nil)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestGenerator_GenerateAll(t *testing.T) {
	env := newTestEnv(t)
	env.seedDefinition(t, &domain.StateDefinition{Name: "Entry", Slug: "entry", Ordinal: 1})
	env.seedDefinition(t, &domain.StateDefinition{Name: "Later", Slug: "later", Ordinal: 2})
	env.seedDefinition(t, &domain.StateDefinition{Name: "Secret", Slug: "secret", Ordinal: 3, Hidden: true})

	states, err := env.engine.Generator.GenerateAll(context.Background(), env.analysis.ID, nil)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "entry", states[0].Slug)
	assert.Equal(t, "later", states[1].Slug)
}

type failingStates struct {
	domain.StateRepository
}

func (failingStates) Create(context.Context, *domain.State) error {
	return errors.New("connection reset")
}

type failingStore struct {
	*repository.MemoryStore
}

func (s failingStore) States() domain.StateRepository {
	return failingStates{s.MemoryStore.States()}
}

func TestGenerator_CreateStateFailure(t *testing.T) {
	env := newTestEnv(t)
	engine := NewEngine(failingStore{env.store}, env.mailer, logrus.New(), Options{})
	def := &domain.StateDefinition{Name: "Entry", Slug: "entry", Ordinal: 1, Tasks: taskDefs(1)}

	_, err := engine.Generator.CreateState(context.Background(), env.analysis.ID, def, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidStateDefinition)
	assert.Contains(t, err.Error(), "connection reset")
}
