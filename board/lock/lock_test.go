package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/boardsync/models"
)

func task(id, dependsOn string, completed bool) models.Task {
	return models.Task{ID: id, CardID: "card-1", DependsOn: dependsOn, Completed: completed}
}

func TestIsLocked(t *testing.T) {
	tasks := []models.Task{
		task("t1", "", false),
		task("t2", "t1", false),
		task("t3", "missing", false),
		task("t4", "t5", false),
		task("t5", "", true),
	}

	assert.False(t, IsLocked(tasks[0], tasks), "no dependency")
	assert.True(t, IsLocked(tasks[1], tasks), "open dependency")
	assert.False(t, IsLocked(tasks[2], tasks), "missing dependency never locks")
	assert.False(t, IsLocked(tasks[3], tasks), "completed dependency")
}

func TestApply_UnlockAndRelock(t *testing.T) {
	tasks := []models.Task{task("A", "", false), task("B", "A", false)}
	require.True(t, IsLocked(tasks[1], tasks))

	res, err := Apply(tasks, "A", true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"B"}, res.Unlocked)
	assert.False(t, IsLocked(res.Tasks[1], res.Tasks))

	// input untouched
	assert.False(t, tasks[0].Completed)

	res, err = Apply(res.Tasks, "A", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Relocked)
	assert.True(t, IsLocked(res.Tasks[1], res.Tasks))
}

func TestApply_AutoAssignOnUnlock(t *testing.T) {
	t2 := task("T2", "T1", false)
	t2.AutoAssignOnUnlock = true
	t2.AssignToOnUnlock = []string{"u1"}
	tasks := []models.Task{task("T1", "", false), t2}

	res, err := Apply(tasks, "T1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"T2"}, res.AutoAssigned)
	assert.Equal(t, []string{"u1"}, res.Tasks[1].AssignedTo)
	assert.False(t, IsLocked(res.Tasks[1], res.Tasks))

	// assignment happens at the transition, not before
	assert.Empty(t, tasks[1].AssignedTo)
}

func TestApply_LockedTaskRejected(t *testing.T) {
	tasks := []models.Task{task("A", "", false), task("B", "A", false)}
	_, err := Apply(tasks, "B", true)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestApply_NoChange(t *testing.T) {
	tasks := []models.Task{task("A", "", true)}
	res, err := Apply(tasks, "A", true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestApply_UnknownTask(t *testing.T) {
	_, err := Apply(nil, "nope", true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tasks := []models.Task{
		task("A", "", false),
		task("B", "A", false),
		task("C", "B", false),
	}
	assert.NoError(t, Validate(tasks, "C", "A"))
	assert.ErrorIs(t, Validate(tasks, "A", "C"), ErrCycle)
	assert.ErrorIs(t, Validate(tasks, "A", "A"), ErrCycle)
	assert.ErrorIs(t, Validate(tasks, "A", "elsewhere"), ErrForeignDependency)
	assert.NoError(t, Validate(tasks, "A", ""))
}

func TestDependents(t *testing.T) {
	tasks := []models.Task{task("A", "", false), task("B", "A", false), task("C", "A", false)}
	assert.Equal(t, []string{"B", "C"}, Dependents(tasks, "A"))
	assert.Empty(t, Dependents(tasks, "C"))
}
