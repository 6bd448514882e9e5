// Package job holds the in-memory state of a single MapReduce job: the
// task sets for each phase, the phase flag, and the worker registration
// counter. All mutation happens under the embedded mutex so that the
// RPC-exposed operations in internal/coordinator are linearizable.
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/xzhseh/mrlease/internal/task"
)

// Phase is the global mode of the job.
type Phase int

const (
	MapRunning Phase = iota
	ReduceRunning
	Finished
)

func (p Phase) String() string {
	switch p {
	case MapRunning:
		return "MAP_RUNNING"
	case ReduceRunning:
		return "REDUCE_RUNNING"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Code is the small self-describing return-code schema shared by both
// task-request RPCs: id >= 0 is a dispatch, negative values are sentinels.
type Code int32

const (
	NotReady  Code = -2
	WaitRetry Code = -3
	PhaseDone Code = -1
)

// Job is the coordinator's entire state for one run. It is created at
// coordinator start and dropped at process exit; nothing survives beyond
// the optional write-ahead log (internal/persist).
type Job struct {
	mu sync.Mutex

	NMap, NReduce, NWorker int
	NextWorkerID           int

	phase Phase

	mapTasks     map[task.ID]*task.Task
	reduceTasks  map[task.ID]*task.Task
	nextMapID    int
	nextReduceID int
}

// New creates a fresh Job for the given task/worker counts. No tasks exist
// yet; they are materialized lazily on first dispatch, per spec.
func New(nMap, nReduce, nWorker int) *Job {
	return &Job{
		NMap:        nMap,
		NReduce:     nReduce,
		NWorker:     nWorker,
		phase:       MapRunning,
		mapTasks:    make(map[task.ID]*task.Task),
		reduceTasks: make(map[task.ID]*task.Task),
	}
}

// Lock/Unlock expose the job's single critical section to the coordinator
// package so that persistence (log-ahead) and dispatch stay atomic
// together: the coordinator acquires the lock once per RPC and performs
// the WAL write and the state mutation under the same critical section.
func (j *Job) Lock()   { j.mu.Lock() }
func (j *Job) Unlock() { j.mu.Unlock() }

// Prepared reports whether all configured workers have registered. No map
// task is dispatched until this holds.
func (j *Job) Prepared() bool {
	return j.NextWorkerID == j.NWorker
}

// Phase returns the job's current phase. Caller must hold the lock for a
// consistent read alongside other state, but a lock-free read is safe for
// the driver's done() probe since Phase only ever monotonically advances.
func (j *Job) Phase() Phase {
	return j.phase
}

// Done reports whether the job has reached FINISHED.
func (j *Job) Done() bool {
	return j.phase == Finished
}

// RegisterWorker assigns and returns the next worker id, or an error if
// the configured worker budget has already been exhausted.
func (j *Job) RegisterWorker() (int32, error) {
	if j.NextWorkerID >= j.NWorker {
		return 0, fmt.Errorf("CAPACITY_EXCEEDED: %d workers already registered (budget %d)", j.NextWorkerID, j.NWorker)
	}
	id := j.NextWorkerID
	j.NextWorkerID++
	return int32(id), nil
}

func (j *Job) tasksFor(phase task.Phase) map[task.ID]*task.Task {
	if phase == task.Map {
		return j.mapTasks
	}
	return j.reduceTasks
}

// nextID returns a pointer to the phase's "next fresh id" counter so
// RequestTask can both read and bump it in one place.
func (j *Job) nextID(phase task.Phase) *int {
	if phase == task.Map {
		return &j.nextMapID
	}
	return &j.nextReduceID
}

func (j *Job) taskCount(phase task.Phase) int {
	if phase == task.Map {
		return j.NMap
	}
	return j.NReduce
}

// Dispatch describes the outcome of a RequestTask call.
type Dispatch struct {
	ID    task.ID
	Code  Code // meaningful only when !OK
	OK    bool // true iff a task was dispatched
	Fresh bool // true iff this is the task's first-ever dispatch
}

// RequestTask implements the dispatch policy common to
// request_map_task/request_reduce_task (spec 4.1.2): fresh dispatch takes
// priority over re-dispatch of a reclaimed task; re-dispatch picks the
// lowest pending id.
func (j *Job) RequestTask(phase task.Phase, now time.Time, leaseDuration time.Duration) Dispatch {
	tasks := j.tasksFor(phase)
	n := j.taskCount(phase)
	next := j.nextID(phase)

	if j.phaseAllDone(phase) {
		j.advancePhase(phase)
		return Dispatch{Code: PhaseDone}
	}

	if *next < n {
		id := *next
		t := task.New(phase, id)
		t.Dispatch(now, leaseDuration)
		tasks[id] = t
		*next++
		return Dispatch{ID: id, OK: true, Fresh: true}
	}

	// Re-dispatch: lowest pending id among already-materialized tasks.
	bestID := -1
	for id, t := range tasks {
		if t.State == task.Pending && (bestID == -1 || id < bestID) {
			bestID = id
		}
	}
	if bestID != -1 {
		tasks[bestID].Dispatch(now, leaseDuration)
		return Dispatch{ID: bestID, OK: true}
	}

	// Every id has been materialized and is either Done or still
	// in-flight; since phaseAllDone already returned false above, at
	// least one task is still IN_FLIGHT somewhere.
	return Dispatch{Code: WaitRetry}
}

// advancePhase flips the job phase once the given phase's tasks have all
// drained. Idempotent: a phase only ever advances forward.
func (j *Job) advancePhase(phase task.Phase) {
	if phase == task.Map && j.phase == MapRunning {
		j.phase = ReduceRunning
	} else if phase == task.Reduce && j.phase == ReduceRunning {
		j.phase = Finished
	}
}

func (j *Job) phaseAllDone(phase task.Phase) bool {
	tasks := j.tasksFor(phase)
	n := j.taskCount(phase)
	if len(tasks) != n {
		return false
	}
	for _, t := range tasks {
		if t.State != task.Done {
			return false
		}
	}
	return true
}

// ReportComplete marks a task done and advances the job phase if this
// completion drains the active phase. Returns an error if the task is not
// currently in flight (an invariant violation, per spec 4.1.3).
func (j *Job) ReportComplete(phase task.Phase, id task.ID) error {
	tasks := j.tasksFor(phase)
	t, ok := tasks[id]
	if !ok {
		return fmt.Errorf("INVARIANT_VIOLATION: report_%s_complete(%d): task never dispatched", phase, id)
	}
	if err := t.Complete(); err != nil {
		return fmt.Errorf("INVARIANT_VIOLATION: %w", err)
	}

	if j.phaseAllDone(phase) {
		j.advancePhase(phase)
	}
	return nil
}

// RenewLease refreshes an in-flight task's lease deadline.
func (j *Job) RenewLease(phase task.Phase, id task.ID, now time.Time, leaseDuration time.Duration) error {
	tasks := j.tasksFor(phase)
	t, ok := tasks[id]
	if !ok {
		return fmt.Errorf("INVARIANT_VIOLATION: renew_lease(%s, %d): unknown task", phase, id)
	}
	if err := t.RenewLease(now, leaseDuration); err != nil {
		return fmt.Errorf("INVARIANT_VIOLATION: %w", err)
	}
	return nil
}

// SweepStale demotes every in-flight task of the currently active phase
// whose lease has expired, returning the reclaimed ids. Only the active
// phase is swept: once a phase is past, its tasks are all Done and no
// longer checked.
func (j *Job) SweepStale(now time.Time) (phase task.Phase, reclaimed []task.ID) {
	activePhase := task.Map
	if j.phase == ReduceRunning {
		activePhase = task.Reduce
	} else if j.phase == Finished {
		return activePhase, nil
	}

	for id, t := range j.tasksFor(activePhase) {
		if t.Expired(now) {
			t.Reclaim()
			reclaimed = append(reclaimed, id)
		}
	}
	return activePhase, reclaimed
}

// Snapshot captures enough state to reconstruct the job after a restart,
// per the write-ahead log format in spec 6. All previously in-flight
// tasks are represented as their DONE-or-not bit only; leases never
// survive a restart, so they are not part of the snapshot's task rows
// (only the separate outstanding-lease-id lists are, to support the WAL's
// exact line format).
type Snapshot struct {
	NMap, NReduce int
	MapDone       map[int]bool
	NextMapID     int
	ReduceDone    map[int]bool
	NextReduceID  int
	MapFinished   bool
	ReduceFinished bool
	MapLeaseIDs    []int
	ReduceLeaseIDs []int
}

// Snapshot returns a point-in-time copy of the job's state for the
// persistence hook. Must be called with the job lock held.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		NMap:         j.NMap,
		NReduce:      j.NReduce,
		MapDone:      make(map[int]bool, len(j.mapTasks)),
		NextMapID:    j.nextMapID,
		ReduceDone:   make(map[int]bool, len(j.reduceTasks)),
		NextReduceID: j.nextReduceID,
		MapFinished:  j.phase != MapRunning,
		ReduceFinished: j.phase == Finished,
	}
	for id, t := range j.mapTasks {
		s.MapDone[id] = t.State == task.Done
		if t.State == task.InFlight {
			s.MapLeaseIDs = append(s.MapLeaseIDs, id)
		}
	}
	for id, t := range j.reduceTasks {
		s.ReduceDone[id] = t.State == task.Done
		if t.State == task.InFlight {
			s.ReduceLeaseIDs = append(s.ReduceLeaseIDs, id)
		}
	}
	return s
}

// Restore rebuilds a Job from a recovered Snapshot. nMap/nReduce/nWorker
// come from the coordinator's own startup configuration (the WAL does not
// carry them; an operator restarting the coordinator is expected to pass
// the same counts it was originally started with). Every task that was
// IN_FLIGHT at snapshot time becomes PENDING: leases do not survive
// restart (spec 4.5).
func Restore(s Snapshot, nMap, nReduce, nWorker int) *Job {
	j := New(nMap, nReduce, nWorker)
	j.nextMapID = s.NextMapID
	j.nextReduceID = s.NextReduceID
	for id, done := range s.MapDone {
		t := task.New(task.Map, id)
		if done {
			t.State = task.Done
		}
		j.mapTasks[id] = t
	}
	for id, done := range s.ReduceDone {
		t := task.New(task.Reduce, id)
		if done {
			t.State = task.Done
		}
		j.reduceTasks[id] = t
	}
	if s.MapFinished {
		j.phase = ReduceRunning
	}
	if s.ReduceFinished {
		j.phase = Finished
	}
	return j
}
