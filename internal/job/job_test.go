package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzhseh/mrlease/internal/task"
)

const lease = 5 * time.Second

func TestRegisterWorkerGating(t *testing.T) {
	j := New(2, 2, 2)
	assert.False(t, j.Prepared())

	id0, err := j.RegisterWorker()
	require.NoError(t, err)
	assert.Equal(t, int32(0), id0)
	assert.False(t, j.Prepared())

	id1, err := j.RegisterWorker()
	require.NoError(t, err)
	assert.Equal(t, int32(1), id1)
	assert.True(t, j.Prepared())

	_, err = j.RegisterWorker()
	assert.ErrorContains(t, err, "CAPACITY_EXCEEDED")
}

func TestFreshDispatchBeforeRedispatch(t *testing.T) {
	j := New(2, 1, 1)
	now := time.Unix(0, 0)

	d := j.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)
	assert.Equal(t, 0, d.ID)
	assert.True(t, d.Fresh)

	// Reclaim task 0 so it becomes eligible for re-dispatch, but a fresh
	// id (1) is still available and must win.
	_, reclaimed := j.SweepStale(now.Add(10 * time.Second))
	assert.Equal(t, []task.ID{0}, reclaimed)

	d = j.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)
	assert.Equal(t, 1, d.ID, "fresh dispatch must win over re-dispatch")
	assert.True(t, d.Fresh)
}

func TestRedispatchPicksLowestID(t *testing.T) {
	j := New(3, 1, 1)
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		d := j.RequestTask(task.Map, now, lease)
		require.True(t, d.OK)
	}
	// All three dispatched; reclaim all via sweep.
	_, reclaimed := j.SweepStale(now.Add(time.Hour))
	assert.ElementsMatch(t, []task.ID{0, 1, 2}, reclaimed)

	d := j.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)
	assert.Equal(t, 0, d.ID)
	assert.False(t, d.Fresh, "re-dispatch of a reclaimed task is not fresh")
}

func TestExhaustionWithOutstandingLeasesIsWaitRetry(t *testing.T) {
	j := New(1, 1, 1)
	now := time.Unix(0, 0)

	d := j.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)

	d = j.RequestTask(task.Map, now, lease)
	assert.False(t, d.OK)
	assert.Equal(t, WaitRetry, d.Code, "an outstanding in-flight lease must yield WAIT_RETRY, not PHASE_DONE")
}

func TestPhaseDoneAfterAllComplete(t *testing.T) {
	j := New(1, 1, 1)
	now := time.Unix(0, 0)

	d := j.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)
	require.NoError(t, j.ReportComplete(task.Map, d.ID))
	assert.Equal(t, ReduceRunning, j.Phase())

	d = j.RequestTask(task.Map, now, lease)
	assert.False(t, d.OK)
	assert.Equal(t, PhaseDone, d.Code)
}

func TestReportCompleteRejectsNonInFlight(t *testing.T) {
	j := New(1, 1, 1)
	err := j.ReportComplete(task.Map, 0)
	assert.ErrorContains(t, err, "INVARIANT_VIOLATION")
}

func TestSweepOnlyTouchesActivePhase(t *testing.T) {
	j := New(1, 1, 1)
	now := time.Unix(0, 0)

	d := j.RequestTask(task.Map, now, lease)
	require.NoError(t, j.ReportComplete(task.Map, d.ID))
	require.Equal(t, ReduceRunning, j.Phase())

	d = j.RequestTask(task.Reduce, now, lease)
	require.True(t, d.OK)

	phase, reclaimed := j.SweepStale(now.Add(time.Hour))
	assert.Equal(t, task.Reduce, phase)
	assert.Equal(t, []task.ID{0}, reclaimed)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	j := New(2, 2, 1)
	now := time.Unix(0, 0)

	d := j.RequestTask(task.Map, now, lease)
	require.NoError(t, j.ReportComplete(task.Map, d.ID))
	j.RequestTask(task.Map, now, lease) // leaves task 1 IN_FLIGHT

	snap := j.Snapshot()
	restored := Restore(snap, 2, 2, 1)

	assert.Equal(t, MapRunning, restored.Phase())
	// the in-flight task must come back as PENDING: leases do not survive restart
	d = restored.RequestTask(task.Map, now, lease)
	require.True(t, d.OK)
	assert.Equal(t, 1, d.ID)
}
