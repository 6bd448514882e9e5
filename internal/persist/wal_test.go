package persist

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzhseh/mrlease/internal/job"
	"github.com/xzhseh/mrlease/internal/task"
)

func TestFileWALRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWAL(filepath.Join(dir, "coordinator.wal"))
	require.NoError(t, err)

	j := job.New(2, 2, 1)
	now := time.Unix(0, 0)
	d := j.RequestTask(task.Map, now, 5*time.Second)
	require.True(t, d.OK)
	require.NoError(t, j.ReportComplete(task.Map, d.ID))
	j.RequestTask(task.Map, now, 5*time.Second) // leaves task 1 in flight

	snap := j.Snapshot()
	require.NoError(t, w.Snapshot(snap))

	loaded, found, err := w.Load()
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, snap.MapDone, loaded.MapDone)
	assert.Equal(t, snap.NextMapID, loaded.NextMapID)
	assert.Equal(t, snap.ReduceDone, loaded.ReduceDone)
	assert.Equal(t, snap.NextReduceID, loaded.NextReduceID)
	assert.Equal(t, snap.MapFinished, loaded.MapFinished)
	assert.Equal(t, snap.ReduceFinished, loaded.ReduceFinished)
	assert.ElementsMatch(t, snap.MapLeaseIDs, loaded.MapLeaseIDs)

	restored := job.Restore(loaded, 2, 2, 1)
	// the task that was IN_FLIGHT at snapshot time must come back PENDING
	d2 := restored.RequestTask(task.Map, now, 5*time.Second)
	require.True(t, d2.OK)
	assert.Equal(t, 1, d2.ID)
}

func TestFileWALLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWAL(filepath.Join(dir, "nonexistent", "coordinator.wal"))
	require.NoError(t, err)

	_, found, err := w.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNoopPersister(t *testing.T) {
	var p Persister = NoopPersister{}
	require.NoError(t, p.Snapshot(job.Snapshot{}))
	_, found, err := p.Load()
	require.NoError(t, err)
	assert.False(t, found)
}
