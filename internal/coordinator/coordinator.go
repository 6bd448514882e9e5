// Package coordinator implements the single-master task-assignment state
// machine: the seven RPC operations of spec 4.1, wired to
// internal/job's Job for state and internal/persist's Persister for the
// log-ahead write-ahead log. All RPC methods execute to completion while
// holding the job's lock, so concurrent RPCs are linearizable on the job
// record (spec 5).
package coordinator

import (
	"fmt"
	"net"
	"net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/xzhseh/mrlease/internal/job"
	"github.com/xzhseh/mrlease/internal/persist"
	"github.com/xzhseh/mrlease/internal/rpcproto"
	"github.com/xzhseh/mrlease/internal/task"
	"github.com/xzhseh/mrlease/internal/telemetry"
)

// Coordinator is the RPC-exposed server. Construct with New; the zero
// value is not usable.
type Coordinator struct {
	job     *job.Job
	persist persist.Persister
	metrics *telemetry.Metrics
	log     zerolog.Logger

	leaseDuration time.Duration

	listener net.Listener

	// onInvariantViolation runs after an invariant violation is logged.
	// Defaults to exiting the process (spec 7: invariant violations are
	// fatal to the coordinator); tests override it to assert on the
	// error instead of killing the test binary.
	onInvariantViolation func()
}

// Config bundles everything New needs beyond the job itself.
type Config struct {
	LeaseDuration        time.Duration
	Persister            persist.Persister
	Metrics              *telemetry.Metrics
	Logger               zerolog.Logger
	OnInvariantViolation func()
}

// New wraps j as an RPC server. If cfg.Persister is nil, persistence is
// disabled (NoopPersister). If cfg.Metrics is nil, a private registry is
// created so counters are still recorded even when no /metrics endpoint
// is ever served.
func New(j *job.Job, cfg Config) *Coordinator {
	p := cfg.Persister
	if p == nil {
		p = persist.NoopPersister{}
	}
	m := cfg.Metrics
	if m == nil {
		m = telemetry.New()
	}
	onViolation := cfg.OnInvariantViolation
	if onViolation == nil {
		onViolation = func() { os.Exit(1) }
	}
	return &Coordinator{
		job:                  j,
		persist:              p,
		metrics:              m,
		log:                  cfg.Logger,
		leaseDuration:        cfg.LeaseDuration,
		onInvariantViolation: onViolation,
	}
}

// Metrics exposes the coordinator's instrument set, e.g. for wiring a
// /metrics endpoint from the driver.
func (c *Coordinator) Metrics() *telemetry.Metrics { return c.metrics }

// RegisterWorker implements spec 4.1.1.
func (c *Coordinator) RegisterWorker(_ *rpcproto.RegisterWorkerArgs, reply *rpcproto.RegisterWorkerReply) error {
	c.job.Lock()
	defer c.job.Unlock()

	id, err := c.job.RegisterWorker()
	if err != nil {
		c.log.Error().Err(err).Msg("worker registration rejected")
		c.onInvariantViolation()
		return err
	}
	reply.WorkerID = id
	c.log.Info().Int32("worker_id", id).Msg("worker registered")
	if c.job.Prepared() {
		c.log.Info().Msg("all workers registered, job is prepared")
	}
	return nil
}

// RequestMapTask implements spec 4.1.2.
func (c *Coordinator) RequestMapTask(_ *rpcproto.TaskRequestArgs, reply *rpcproto.TaskRequestReply) error {
	return c.requestTask(task.Map, reply)
}

// RequestReduceTask implements spec 4.1.2, symmetric to RequestMapTask,
// with the extra precondition that the job must have entered
// REDUCE_RUNNING.
func (c *Coordinator) RequestReduceTask(_ *rpcproto.TaskRequestArgs, reply *rpcproto.TaskRequestReply) error {
	c.job.Lock()
	defer c.job.Unlock()

	if !c.job.Prepared() {
		reply.Code = int32(job.NotReady)
		return nil
	}
	if c.job.Phase() == job.MapRunning {
		reply.Code = int32(job.NotReady)
		return nil
	}

	c.dispatch(task.Reduce, reply)
	return nil
}

func (c *Coordinator) requestTask(phase task.Phase, reply *rpcproto.TaskRequestReply) error {
	c.job.Lock()
	defer c.job.Unlock()

	if !c.job.Prepared() {
		reply.Code = int32(job.NotReady)
		return nil
	}
	c.dispatch(phase, reply)
	return nil
}

// dispatch must be called with the job lock held.
func (c *Coordinator) dispatch(phase task.Phase, reply *rpcproto.TaskRequestReply) {
	d := c.job.RequestTask(phase, time.Now(), c.leaseDuration)
	if !d.OK {
		reply.Code = int32(d.Code)
		c.metrics.JobPhase.Set(float64(c.job.Phase()))
		c.log.Debug().Str("phase", phase.String()).Int32("code", reply.Code).Msg("no task dispatched")
		return
	}

	reply.Code = int32(d.ID)
	if d.Fresh {
		c.metrics.TasksDispatched.WithLabelValues(phase.String()).Inc()
	} else {
		c.metrics.TasksRedispatched.WithLabelValues(phase.String()).Inc()
	}
	c.metrics.JobPhase.Set(float64(c.job.Phase()))
	c.log.Debug().Str("phase", phase.String()).Int("id", d.ID).Bool("fresh", d.Fresh).Msg("dispatched task")
}

// ReportMapComplete implements spec 4.1.3.
func (c *Coordinator) ReportMapComplete(args *rpcproto.CompleteArgs, reply *rpcproto.CompleteReply) error {
	return c.reportComplete(task.Map, args, reply)
}

// ReportReduceComplete implements spec 4.1.3, symmetric to
// ReportMapComplete.
func (c *Coordinator) ReportReduceComplete(args *rpcproto.CompleteArgs, reply *rpcproto.CompleteReply) error {
	return c.reportComplete(task.Reduce, args, reply)
}

func (c *Coordinator) reportComplete(phase task.Phase, args *rpcproto.CompleteArgs, reply *rpcproto.CompleteReply) error {
	c.job.Lock()
	defer c.job.Unlock()

	// Log-ahead: persist before mutating in-memory state, so a crash
	// between the two leaves a recoverable log ahead of the apparent
	// state (spec 4.1.3).
	if err := c.persist.Snapshot(c.job.Snapshot()); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist snapshot ahead of completion report")
	}

	if err := c.job.ReportComplete(phase, int(args.ID)); err != nil {
		c.log.Error().Err(err).Str("phase", phase.String()).Int32("id", args.ID).Msg("invariant violation")
		c.onInvariantViolation()
		return err
	}

	reply.OK = true
	c.metrics.JobPhase.Set(float64(c.job.Phase()))
	c.log.Info().Str("phase", phase.String()).Int32("id", args.ID).Msg("task completed")
	if c.job.Phase() == job.Finished {
		c.log.Info().Msg("job finished")
	}
	return nil
}

// RenewMapLease implements spec 4.1.4.
func (c *Coordinator) RenewMapLease(args *rpcproto.RenewLeaseArgs, reply *rpcproto.RenewLeaseReply) error {
	return c.renewLease(task.Map, args, reply)
}

// RenewReduceLease implements spec 4.1.4, symmetric to RenewMapLease.
func (c *Coordinator) RenewReduceLease(args *rpcproto.RenewLeaseArgs, reply *rpcproto.RenewLeaseReply) error {
	return c.renewLease(task.Reduce, args, reply)
}

func (c *Coordinator) renewLease(phase task.Phase, args *rpcproto.RenewLeaseArgs, reply *rpcproto.RenewLeaseReply) error {
	c.job.Lock()
	defer c.job.Unlock()

	if err := c.job.RenewLease(phase, int(args.ID), time.Now(), c.leaseDuration); err != nil {
		c.log.Error().Err(err).Str("phase", phase.String()).Int32("id", args.ID).Msg("invariant violation")
		c.onInvariantViolation()
		return err
	}
	reply.OK = true
	return nil
}

// Done implements spec 4.1.5: true iff the job has reached FINISHED.
func (c *Coordinator) Done() bool {
	c.job.Lock()
	defer c.job.Unlock()
	return c.job.Done()
}

// Sweep runs one pass of the lease sweeper (spec 4.2): every in-flight
// task of the currently active phase whose lease has expired is demoted
// back to PENDING.
func (c *Coordinator) Sweep() {
	start := time.Now()
	c.job.Lock()
	phase, reclaimed := c.job.SweepStale(start)
	c.job.Unlock()

	c.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	for range reclaimed {
		c.metrics.LeasesReclaimed.WithLabelValues(phase.String()).Inc()
	}
	if len(reclaimed) > 0 {
		c.log.Warn().Str("phase", phase.String()).Ints("ids", reclaimed).Msg("reclaimed stale leases")
	}
}

// ListenAndServe registers the coordinator's RPC methods and starts
// accepting connections on addr. It returns once the listener is
// established; connections are served in background goroutines, the way
// the teacher's master_rpc.go Start/acceptConnections split does.
func (c *Coordinator) ListenAndServe(addr string) error {
	server := rpc.NewServer()
	if err := server.RegisterName("Coordinator", c); err != nil {
		return fmt.Errorf("coordinator: register rpc methods: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("coordinator: listen on %s: %w", addr, err)
	}
	c.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				c.log.Debug().Err(err).Msg("rpc listener stopped accepting")
				return
			}
			go server.ServeConn(conn)
		}
	}()

	c.log.Info().Str("addr", addr).Msg("coordinator listening")
	return nil
}

// Close stops accepting new RPC connections.
func (c *Coordinator) Close() error {
	if c.listener == nil {
		return nil
	}
	return c.listener.Close()
}
