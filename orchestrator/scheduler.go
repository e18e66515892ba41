package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kamaleddin/threadify/model"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

// Scheduler admits approved runs into the posting stage. All scheduling
// state (the queue, the set of accounts with an active walk, the used slot
// count) is owned by the single loop goroutine and mutated only there;
// callers talk to it through channels. Two guarantees hold at all times:
// at most GLOBAL_CONCURRENCY runs are posting, and at most one of them per
// account.
type Scheduler struct {
	machine *Machine
	slots   int

	enqueueCh chan enqueueReq
	cancelCh  chan cancelReq
	doneCh    chan doneMsg
}

type queuedRun struct {
	runId      string
	accountId  string
	enqueuedAt time.Time
}

type enqueueReq struct {
	run   queuedRun
	reply chan error
}

type cancelReq struct {
	runId string
	reply chan error
}

type doneMsg struct {
	accountId string
}

func NewScheduler(machine *Machine, slots int) *Scheduler {
	if slots <= 0 {
		slots = 1
	}
	return &Scheduler{
		machine:   machine,
		slots:     slots,
		enqueueCh: make(chan enqueueReq),
		cancelCh:  make(chan cancelReq),
		// Buffered to the slot count so a finishing worker never blocks on
		// the loop.
		doneCh: make(chan doneMsg, slots),
	}
}

func (s *Scheduler) Name() string {
	return "scheduler"
}

// Shutdown is a no-op; RunModule drains active walks on context cancel.
func (s *Scheduler) Shutdown() {}

// Enqueue hands an approved run to the scheduler. It returns once the loop
// accepted (or rejected) the run, or when the context expires.
func (s *Scheduler) Enqueue(ctx context.Context, runId string, accountId string) error {
	req := enqueueReq{
		run:   queuedRun{runId: runId, accountId: accountId, enqueuedAt: time.Now()},
		reply: make(chan error, 1),
	}
	select {
	case s.enqueueCh <- req:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduler not accepting runs")
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel removes a still-queued run and fails it. A run whose walk already
// started cannot be canceled; partially published threads are recovered
// through the resume path, not aborted mid-flight.
func (s *Scheduler) Cancel(ctx context.Context, runId string) error {
	req := cancelReq{runId: runId, reply: make(chan error, 1)}
	select {
	case s.cancelCh <- req:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduler not accepting cancels")
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunModule runs the scheduling loop until the context is canceled, then
// waits for in-flight walks to wind down.
func (s *Scheduler) RunModule(ctx context.Context) error {
	var (
		queue   []queuedRun
		active  = map[string]string{} // accountId -> runId
		running = 0
		wg      sync.WaitGroup
	)

	fill := func() {
		for running < s.slots {
			idx := -1
			for i, q := range queue {
				if _, busy := active[q.accountId]; !busy {
					idx = i
					break
				}
			}
			if idx == -1 {
				return
			}
			next := queue[idx]
			queue = append(queue[:idx], queue[idx+1:]...)

			active[next.accountId] = next.runId
			running++
			wg.Add(1)
			go func(q queuedRun) {
				defer wg.Done()
				status, err := s.machine.Dispatch(ctx, q.runId)
				if err != nil {
					Logger.Log.Errorf("run %s finished posting with error: %v", q.runId, err)
				} else {
					Logger.Log.Infof("run %s finished posting as %s", q.runId, status)
				}
				s.doneCh <- doneMsg{accountId: q.accountId}
			}(next)
		}
	}

	for {
		select {
		case req := <-s.enqueueCh:
			dup := false
			for _, q := range queue {
				if q.runId == req.run.runId {
					dup = true
					break
				}
			}
			if activeRun, busy := active[req.run.accountId]; busy && activeRun == req.run.runId {
				dup = true
			}
			if dup {
				req.reply <- errors.Errorf("run %s is already scheduled", req.run.runId)
				continue
			}
			queue = append(queue, req.run)
			req.reply <- nil
			fill()

		case req := <-s.cancelCh:
			idx := -1
			for i, q := range queue {
				if q.runId == req.runId {
					idx = i
					break
				}
			}
			if idx == -1 {
				req.reply <- errors.Errorf("run %s is not queued, active or unknown runs cannot be canceled", req.runId)
				continue
			}
			canceled := queue[idx]
			queue = append(queue[:idx], queue[idx+1:]...)
			s.machine.transition(canceled.runId, model.RunStatusFailed, "canceled before posting started")
			req.reply <- nil

		case msg := <-s.doneCh:
			delete(active, msg.accountId)
			running--
			fill()

		case <-ctx.Done():
			Logger.Log.Infof("scheduler stopping, waiting for %d active walk(s)", running)
			wg.Wait()
			return ctx.Err()
		}
	}
}
