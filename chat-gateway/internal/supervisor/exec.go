package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExecSpawner starts workers by re-executing a binary with the worker id
// appended as --worker-id.
type ExecSpawner struct {
	Binary    string
	Args      []string
	Env       []string
	StopGrace time.Duration
}

type execWorker struct {
	cmd *exec.Cmd
}

func (w *execWorker) Pid() int    { return w.cmd.Process.Pid }
func (w *execWorker) Wait() error { return w.cmd.Wait() }

func (s *ExecSpawner) Spawn(ctx context.Context, workerID string) (Worker, error) {
	binary := s.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("supervisor: resolve executable: %w", err)
		}
		binary = self
	}

	args := append(append([]string{}, s.Args...), "--worker-id", workerID)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(append(os.Environ(), s.Env...), "WORKER_ID="+workerID)

	// Cancellation asks the worker to shut down gracefully first.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.StopGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 30 * time.Second
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start worker %s: %w", workerID, err)
	}
	return &execWorker{cmd: cmd}, nil
}
