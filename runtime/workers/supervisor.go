package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roomsync/contract"
	"roomsync/errors"
)

const (
	defaultRestartDelay = 200 * time.Millisecond
	maxRestartDelay     = 10 * time.Second
)

// Supervisor runs each worker in its own goroutine and keeps it alive.
// A worker returning an error or panicking is restarted after a delay that
// doubles on consecutive failures. A worker returning nil is done for good.
// Cancelling the parent context stops everything; Run returns once every
// worker goroutine has exited.
type Supervisor struct {
	Cancel       context.CancelFunc
	wg           *sync.WaitGroup
	log          *slog.Logger
	workers      []contract.Worker
	restartDelay time.Duration
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{wg: &sync.WaitGroup{}, log: log, restartDelay: defaultRestartDelay}
}

// WithRestartDelay sets the delay before the first restart of a failed worker.
func (s *Supervisor) WithRestartDelay(d time.Duration) *Supervisor {
	s.restartDelay = d
	return s
}

// Run starts the registered workers under a context of its own, tied to ctx,
// so that Stop only cancels the supervised workers.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start runs one worker under supervision.
// A failure in one worker never stops the supervisor or the other workers.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	name := contract.GetWorkerName(worker)
	log := s.log.With("worker", name)

	go func() {
		defer s.wg.Done()

		delay := s.restartDelay
		for {
			if ctx.Err() != nil {
				log.Info("Worker stopping")
				return
			}

			started := time.Now()
			err := runGuarded(ctx, worker)

			if err == nil {
				log.Info("Worker finished")
				return
			}
			if ctx.Err() != nil {
				log.Info("Worker stopped (context canceled)")
				return
			}

			// A worker that ran for a while before failing starts over with the short delay
			if time.Since(started) > maxRestartDelay {
				delay = s.restartDelay
			}
			log.Warn("Worker crashed, restarting", "error", err, "in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(2*delay, maxRestartDelay)
		}
	}()
}

func runGuarded(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.ErrWorkerPanic
		}
	}()
	return worker.Run(ctx)
}

// Stop cancels the supervised workers. Run returns once they all exited.
func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
