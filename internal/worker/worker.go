// Package worker implements the stateless worker loop of spec 4.3: obtain
// an identity, repeatedly ask the coordinator for work, execute a map or
// reduce task against local files, report completion, and renew the
// task's lease while it is in flight.
package worker

import (
	"fmt"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xzhseh/mrlease/internal/job"
	"github.com/xzhseh/mrlease/internal/rpcproto"
)

// KeyValue is a single key-value pair emitted by a Map function and
// consumed, grouped by key, by a Reduce function.
type KeyValue struct {
	Key   string
	Value string
}

// MapFunc is the user-supplied map function: given a file name and its
// contents, produce a sequence of key-value pairs.
type MapFunc func(filename, contents string) []KeyValue

// ReduceFunc is the user-supplied reduce function: given a key and all
// values reported for it, produce a single result string.
type ReduceFunc func(key string, values []string) string

// Config bundles everything Run needs.
type Config struct {
	NMap, NReduce   int
	CoordinatorAddr string
	PollInterval    time.Duration
	MapFn           MapFunc
	ReduceFn        ReduceFunc
	Logger          zerolog.Logger
}

// Worker is one worker process's local state: its coordinator-assigned
// id and its current in-flight task, if any. It holds no persistent
// state across restarts.
type Worker struct {
	cfg     Config
	client  *rpc.Client
	id      int32
	session string // log-correlation only, never sent to the coordinator
	log     zerolog.Logger
}

// Run dials the coordinator, registers for an identity, and drives the
// map-then-reduce loop to completion. It returns nil once the
// coordinator reports the reduce phase exhausted (spec 4.3 step 3, exit
// on -1).
func Run(cfg Config) error {
	client, err := rpc.Dial("tcp", cfg.CoordinatorAddr)
	if err != nil {
		return fmt.Errorf("worker: dial coordinator at %s: %w", cfg.CoordinatorAddr, err)
	}
	defer client.Close()

	session := uuid.NewString()
	log := cfg.Logger.With().Str("worker_session_id", session).Logger()

	w := &Worker{cfg: cfg, client: client, session: session, log: log}

	var reply rpcproto.RegisterWorkerReply
	if err := w.call(rpcproto.MethodRegisterWorker, &rpcproto.RegisterWorkerArgs{}, &reply); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	w.id = reply.WorkerID
	w.log = w.log.With().Int32("worker_id", w.id).Logger()
	w.log.Info().Msg("registered with coordinator")

	if err := w.runMapPhase(); err != nil {
		return err
	}
	return w.runReducePhase()
}

// call performs one RPC, retrying exactly once on a dropped connection
// before giving up (spec 7: "a broken connection may be retried once
// before exiting").
func (w *Worker) call(method string, args, reply interface{}) error {
	err := w.client.Call(method, args, reply)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Str("method", method).Msg("rpc failed, retrying once")
	return w.client.Call(method, args, reply)
}

func (w *Worker) runMapPhase() error {
	for {
		var reply rpcproto.TaskRequestReply
		if err := w.call(rpcproto.MethodRequestMapTask, &rpcproto.TaskRequestArgs{}, &reply); err != nil {
			return fmt.Errorf("worker: request_map_task: %w", err)
		}

		switch {
		case reply.Code == int32(job.NotReady) || reply.Code == int32(job.WaitRetry):
			time.Sleep(w.cfg.PollInterval)
		case reply.Code == int32(job.PhaseDone):
			w.log.Info().Msg("map phase exhausted, moving to reduce phase")
			time.Sleep(w.cfg.PollInterval) // allow the coordinator's phase barrier to settle
			return nil
		default:
			id := int(reply.Code)
			err := w.withLeaseRenewal(rpcproto.MethodRenewMapLease, reply.Code, func() error {
				return w.doMapTask(id)
			})
			if err != nil {
				w.log.Error().Err(err).Int("id", id).Msg("map task failed")
				continue
			}
			var completeReply rpcproto.CompleteReply
			if err := w.call(rpcproto.MethodReportMapComplete, &rpcproto.CompleteArgs{ID: reply.Code}, &completeReply); err != nil {
				w.log.Error().Err(err).Int("id", id).Msg("report_map_complete failed")
			}
		}
	}
}

func (w *Worker) runReducePhase() error {
	for {
		var reply rpcproto.TaskRequestReply
		if err := w.call(rpcproto.MethodRequestReduceTask, &rpcproto.TaskRequestArgs{}, &reply); err != nil {
			return fmt.Errorf("worker: request_reduce_task: %w", err)
		}

		switch {
		case reply.Code == int32(job.NotReady) || reply.Code == int32(job.WaitRetry):
			time.Sleep(w.cfg.PollInterval)
		case reply.Code == int32(job.PhaseDone):
			w.log.Info().Msg("reduce phase exhausted, exiting")
			return nil
		default:
			id := int(reply.Code)
			err := w.withLeaseRenewal(rpcproto.MethodRenewReduceLease, reply.Code, func() error {
				return w.doReduceTask(id)
			})
			if err != nil {
				w.log.Error().Err(err).Int("id", id).Msg("reduce task failed")
				continue
			}
			var completeReply rpcproto.CompleteReply
			if err := w.call(rpcproto.MethodReportReduceComplete, &rpcproto.CompleteArgs{ID: reply.Code}, &completeReply); err != nil {
				w.log.Error().Err(err).Int("id", id).Msg("report_reduce_complete failed")
			}
		}
	}
}

// renewer renews the lease for (phase, id) on a timer strictly under
// LeaseDuration/2 until stop is closed. A failed renewal logs and stops
// renewing — the worker is expected to abandon in-flight work once its
// lease can no longer be confirmed (spec 5: "a failed renewal means the
// task was reclaimed").
func (w *Worker) renewer(method string, id int32, stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var reply rpcproto.RenewLeaseReply
			if err := w.client.Call(method, &rpcproto.RenewLeaseArgs{ID: id}, &reply); err != nil || !reply.OK {
				w.log.Warn().Err(err).Int32("id", id).Msg("lease renewal failed, task presumed reclaimed")
				return
			}
		}
	}
}

// withLeaseRenewal runs fn while a background goroutine renews the lease
// for (method, id), stopping the renewer once fn returns.
func (w *Worker) withLeaseRenewal(renewMethod string, id int32, fn func() error) error {
	stop := make(chan struct{})
	defer close(stop)
	go w.renewer(renewMethod, id, stop)
	return fn()
}
