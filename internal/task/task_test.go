package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchSetsLease(t *testing.T) {
	now := time.Unix(1000, 0)
	tk := New(Map, 3)
	tk.Dispatch(now, 5*time.Second)

	assert.Equal(t, InFlight, tk.State)
	assert.Equal(t, now.Add(5*time.Second), tk.LeaseDeadline)
}

func TestCompleteRequiresInFlight(t *testing.T) {
	tk := New(Map, 0)
	require.Error(t, tk.Complete(), "completing a pending task must fail")

	tk.Dispatch(time.Now(), time.Second)
	require.NoError(t, tk.Complete())
	assert.Equal(t, Done, tk.State)

	require.Error(t, tk.Complete(), "completing an already-done task must fail")
}

func TestRenewLeaseRequiresInFlight(t *testing.T) {
	tk := New(Reduce, 1)
	assert.Error(t, tk.RenewLease(time.Now(), time.Second))

	now := time.Unix(2000, 0)
	tk.Dispatch(now, time.Second)
	require.NoError(t, tk.RenewLease(now.Add(500*time.Millisecond), 5*time.Second))
	assert.Equal(t, now.Add(500*time.Millisecond).Add(5*time.Second), tk.LeaseDeadline)
}

func TestReclaimReturnsToPending(t *testing.T) {
	tk := New(Map, 2)
	tk.Dispatch(time.Now(), time.Second)
	tk.Reclaim()
	assert.Equal(t, Pending, tk.State)
	assert.True(t, tk.LeaseDeadline.IsZero())
}

func TestExpiredOnlyMeaningfulInFlight(t *testing.T) {
	now := time.Unix(3000, 0)
	tk := New(Map, 0)
	assert.False(t, tk.Expired(now), "pending task is never expired")

	tk.Dispatch(now, time.Second)
	assert.False(t, tk.Expired(now))
	assert.True(t, tk.Expired(now.Add(2*time.Second)))

	require.NoError(t, tk.Complete())
	assert.False(t, tk.Expired(now.Add(10*time.Second)), "done task is never expired")
}
