// Package task implements the three-state task model shared by the map and
// reduce phases of a MapReduce job: a task is PENDING until first dispatched,
// IN_FLIGHT while a lease is outstanding, and DONE once a completion report
// has been accepted. The coordinator never tracks which worker holds a
// lease, only that one is outstanding.
package task

import (
	"fmt"
	"time"
)

// Phase identifies which half of a job a task belongs to.
type Phase int

const (
	Map Phase = iota
	Reduce
)

func (p Phase) String() string {
	if p == Map {
		return "map"
	}
	return "reduce"
}

// State is the three-valued lifecycle of a single task.
type State int

const (
	// Pending means the task has never been dispatched, or was dispatched
	// and later reclaimed by the lease sweeper.
	Pending State = iota
	// InFlight means a worker currently holds an unexpired lease on the task.
	InFlight
	// Done means a completion report has been accepted; this is terminal.
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InFlight:
		return "IN_FLIGHT"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ID identifies a task within its phase's id space, which is always
// [0, N) for the phase's configured task count.
type ID = int

// Task is a single (phase, id) unit of work. LeaseDeadline is only
// meaningful when State == InFlight; callers must not consult it otherwise.
type Task struct {
	Phase         Phase
	ID            ID
	State         State
	LeaseDeadline time.Time
}

// New creates a task in the Pending state. Tasks are always created lazily
// by the coordinator the first time an id is dispatched.
func New(phase Phase, id ID) *Task {
	return &Task{Phase: phase, ID: id, State: Pending}
}

// Dispatch promotes the task to InFlight with a fresh lease. Valid from
// Pending only; callers are expected to have already checked the state.
func (t *Task) Dispatch(now time.Time, leaseDuration time.Duration) {
	t.State = InFlight
	t.LeaseDeadline = now.Add(leaseDuration)
}

// RenewLease refreshes the lease deadline of an in-flight task.
func (t *Task) RenewLease(now time.Time, leaseDuration time.Duration) error {
	if t.State != InFlight {
		return fmt.Errorf("task %s/%d: renew_lease on non-in-flight task (state=%s)", t.Phase, t.ID, t.State)
	}
	t.LeaseDeadline = now.Add(leaseDuration)
	return nil
}

// Complete transitions the task to Done. It is a protocol error to
// complete a task that is not currently in flight: either it was never
// dispatched, or its lease was already reclaimed by the sweeper and a
// different worker now holds (or will hold) it.
func (t *Task) Complete() error {
	if t.State != InFlight {
		return fmt.Errorf("task %s/%d: completion report on non-in-flight task (state=%s)", t.Phase, t.ID, t.State)
	}
	t.State = Done
	t.LeaseDeadline = time.Time{}
	return nil
}

// Reclaim demotes a stale in-flight task back to Pending and clears its
// lease. Called only by the sweeper, and only when the lease has expired.
func (t *Task) Reclaim() {
	t.State = Pending
	t.LeaseDeadline = time.Time{}
}

// Expired reports whether an in-flight task's lease deadline has passed.
// Meaningless (and not consulted) outside of the InFlight state.
func (t *Task) Expired(now time.Time) bool {
	return t.State == InFlight && now.After(t.LeaseDeadline)
}
