// Package supervisor runs a fixed pool of gateway worker processes and
// restarts them when they exit.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Worker is a running worker process.
type Worker interface {
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, workerID string) (Worker, error)
}

// RestartPolicy decides whether an exited worker is started again.
type RestartPolicy interface {
	ShouldRestart(workerID string, exitErr error) bool
}

// AlwaysRestart restarts every exited worker, crashed or not.
type AlwaysRestart struct{}

func (AlwaysRestart) ShouldRestart(string, error) bool { return true }

// RestartOnFailure restarts only workers that exited with an error.
type RestartOnFailure struct{}

func (RestartOnFailure) ShouldRestart(_ string, exitErr error) bool { return exitErr != nil }

type Config struct {
	Workers      int
	RestartDelay time.Duration
	Policy       RestartPolicy
}

type Supervisor struct {
	spawner Spawner
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	restarts map[string]int
}

func New(spawner Spawner, cfg Config) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Policy == nil {
		cfg.Policy = AlwaysRestart{}
	}
	return &Supervisor{
		spawner:  spawner,
		cfg:      cfg,
		sleep:    sleepCtx,
		restarts: make(map[string]int),
	}
}

// WorkerID names the i-th worker slot.
func WorkerID(i int) string {
	return fmt.Sprintf("worker-%d", i)
}

// Run starts every worker and keeps the pool populated until ctx is done.
// Cancelling ctx stops the workers through the spawner's context and Run
// returns once all of them have exited.
func (s *Supervisor) Run(ctx context.Context) error {
	l := log.L()
	l.Info().Int("workers", s.cfg.Workers).Msg("supervisor starting")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.runSlot(ctx, id)
		}(WorkerID(i))
	}
	wg.Wait()

	l.Info().Msg("supervisor stopped")
	return nil
}

func (s *Supervisor) runSlot(ctx context.Context, workerID string) {
	l := log.L().With().Str(log.FieldWorkerID, workerID).Logger()

	for ctx.Err() == nil {
		w, err := s.spawner.Spawn(ctx, workerID)
		if err != nil {
			l.Error().Err(err).Msg("failed to spawn worker")
			if s.sleep(ctx, s.cfg.RestartDelay) != nil {
				return
			}
			continue
		}

		l.Info().Int("pid", w.Pid()).Msg("worker started")
		exitErr := w.Wait()

		if ctx.Err() != nil {
			l.Info().Int("pid", w.Pid()).Msg("worker stopped")
			return
		}

		if exitErr != nil {
			l.Error().Err(exitErr).Int("pid", w.Pid()).Msg("worker exited")
		} else {
			l.Warn().Int("pid", w.Pid()).Msg("worker exited")
		}

		if !s.cfg.Policy.ShouldRestart(workerID, exitErr) {
			return
		}
		s.mu.Lock()
		s.restarts[workerID]++
		s.mu.Unlock()

		if s.sleep(ctx, s.cfg.RestartDelay) != nil {
			return
		}
	}
}

// Restarts returns how many times workerID has been restarted.
func (s *Supervisor) Restarts(workerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[workerID]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
