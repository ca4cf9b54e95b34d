package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
)

func TestApplyStateStatus_StampsOnce(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	active := applyStateStatus(domain.State{Status: domain.StatePending}, domain.StateActive, t0)
	require.NotNil(t, active.StartedAt)
	assert.Equal(t, t0, *active.StartedAt)
	assert.Nil(t, active.CompletedAt)

	again := applyStateStatus(active, domain.StateActive, t1)
	assert.Equal(t, t0, *again.StartedAt)

	done := applyStateStatus(again, domain.StateComplete, t1)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, t1, *done.CompletedAt)

	reopened := applyStateStatus(done, domain.StateComplete, t1.Add(time.Hour))
	assert.Equal(t, t1, *reopened.CompletedAt)

	held := applyStateStatus(domain.State{}, domain.StateHold, t0)
	assert.Nil(t, held.StartedAt)
	assert.Nil(t, held.CompletedAt)
}

func TestApplyStateStatus_DoesNotAliasInput(t *testing.T) {
	orig := domain.State{Status: domain.StatePending}
	_ = applyStateStatus(orig, domain.StateActive, time.Now())
	assert.Equal(t, domain.StatePending, orig.Status)
	assert.Nil(t, orig.StartedAt)
}

func TestStatusAfterCancel(t *testing.T) {
	task := domain.Task{Status: domain.TaskComplete, CheckInsTarget: 2}

	assert.Equal(t, domain.TaskPending, statusAfterCancel(task, 0))
	assert.Equal(t, domain.TaskActive, statusAfterCancel(task, 1))
	assert.Equal(t, domain.TaskComplete, statusAfterCancel(task, 2))
}

func TestAllTasksComplete(t *testing.T) {
	complete := &domain.Task{Status: domain.TaskComplete}
	active := &domain.Task{Status: domain.TaskActive}
	cancelled := &domain.Task{Status: domain.TaskCancelled}

	assert.True(t, allTasksComplete(nil))
	assert.True(t, allTasksComplete([]*domain.Task{complete, complete}))
	assert.False(t, allTasksComplete([]*domain.Task{complete, complete, active}))
	assert.False(t, allTasksComplete([]*domain.Task{complete, cancelled}))
}

func TestPartitionTargets(t *testing.T) {
	existing := []*domain.State{{Slug: "b", Ident: "b-1"}, {Slug: "b", Ident: "b-2"}}
	targets := []domain.NextStateTarget{
		{Slug: "b", Status: domain.StateActive},
		{Slug: "c", Status: domain.StatePending},
		{Slug: "b", Status: domain.StateHold},
		{Slug: "c"},
	}

	found, missing := partitionTargets(targets, existing)

	require.Len(t, found, 1)
	assert.Equal(t, "b-1", found[0].state.Ident)
	assert.Equal(t, domain.StateActive, found[0].status)
	require.Len(t, missing, 1)
	assert.Equal(t, "c", missing[0].Slug)
}

func TestApplyTaskPatch(t *testing.T) {
	target := 4
	desc := "updated"
	user := int64(7)
	task := applyTaskPatch(domain.Task{Name: "kept", CheckInsTarget: 1}, TaskPatch{
		CheckInsTarget: &target,
		Description:    &desc,
		AssignedToID:   &user,
	})

	assert.Equal(t, "kept", task.Name)
	assert.Equal(t, 4, task.CheckInsTarget)
	assert.Equal(t, desc, task.Description)
	assert.Equal(t, user, *task.AssignedToID)
}
