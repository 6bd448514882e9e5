// Package rpcproto defines the wire-level argument/reply types for the
// coordinator's seven RPC operations (spec 6). Kept separate from
// internal/coordinator and internal/worker so both sides import the same
// types instead of duplicating struct layouts, the way the teacher's
// common_rpc.go served both master.go and worker.go.
package rpcproto

// Method names as registered with net/rpc. net/rpc requires exported
// methods on an exported type; these constants keep both ends in sync
// with that exact spelling.
const (
	MethodRegisterWorker       = "Coordinator.RegisterWorker"
	MethodRequestMapTask       = "Coordinator.RequestMapTask"
	MethodRequestReduceTask    = "Coordinator.RequestReduceTask"
	MethodReportMapComplete    = "Coordinator.ReportMapComplete"
	MethodReportReduceComplete = "Coordinator.ReportReduceComplete"
	MethodRenewMapLease        = "Coordinator.RenewMapLease"
	MethodRenewReduceLease     = "Coordinator.RenewReduceLease"
)

// RegisterWorkerArgs carries no payload; the worker's identity is
// entirely assigned by the coordinator.
type RegisterWorkerArgs struct{}

// RegisterWorkerReply returns the assigned worker id.
type RegisterWorkerReply struct {
	WorkerID int32
}

// TaskRequestArgs carries no payload: the coordinator's response alone
// (an id or one of the sentinel codes) tells the worker what to do next.
type TaskRequestArgs struct{}

// TaskRequestReply carries the dispatch result, per the return-code
// schema in spec 4.1.2: Code >= 0 is a dispatched task id, negative
// values are NOT_READY (-2), WAIT_RETRY (-3), or PHASE_DONE (-1).
type TaskRequestReply struct {
	Code int32
}

// CompleteArgs reports a finished task by id.
type CompleteArgs struct {
	ID int32
}

// CompleteReply acknowledges a completion report.
type CompleteReply struct {
	OK bool
}

// RenewLeaseArgs asks the coordinator to refresh a task's lease.
type RenewLeaseArgs struct {
	ID int32
}

// RenewLeaseReply acknowledges a lease renewal.
type RenewLeaseReply struct {
	OK bool
}
