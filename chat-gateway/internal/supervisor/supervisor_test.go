package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	pid  int
	exit chan error
}

func (w *fakeWorker) Pid() int    { return w.pid }
func (w *fakeWorker) Wait() error { return <-w.exit }

// fakeSpawner hands out workers that exit when told to, or when ctx ends.
type fakeSpawner struct {
	mu      sync.Mutex
	spawned map[string][]*fakeWorker
	nextPid int
	started chan string
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(map[string][]*fakeWorker), started: make(chan string, 64)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, workerID string) (Worker, error) {
	s.mu.Lock()
	s.nextPid++
	w := &fakeWorker{pid: s.nextPid, exit: make(chan error, 1)}
	s.spawned[workerID] = append(s.spawned[workerID], w)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		select {
		case w.exit <- ctx.Err():
		default:
		}
	}()
	s.started <- workerID
	return w, nil
}

func (s *fakeSpawner) crash(workerID string, err error) {
	s.mu.Lock()
	ws := s.spawned[workerID]
	w := ws[len(ws)-1]
	s.mu.Unlock()
	w.exit <- err
}

func (s *fakeSpawner) count(workerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned[workerID])
}

func waitStarted(t *testing.T, s *fakeSpawner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d workers started", i, n)
		}
	}
}

func TestSupervisor_AlwaysRestartsExitedWorkers(t *testing.T) {
	spawner := newFakeSpawner()
	sup := New(spawner, Config{Workers: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitStarted(t, spawner, 3)

	spawner.crash(WorkerID(1), errors.New("exit status 2"))
	waitStarted(t, spawner, 1)
	spawner.crash(WorkerID(1), nil)
	waitStarted(t, spawner, 1)

	assert.Equal(t, 3, spawner.count(WorkerID(1)))
	assert.Equal(t, 1, spawner.count(WorkerID(0)))
	assert.Equal(t, 2, sup.Restarts(WorkerID(1)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_RestartOnFailurePolicy(t *testing.T) {
	spawner := newFakeSpawner()
	sup := New(spawner, Config{Workers: 1, Policy: RestartOnFailure{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitStarted(t, spawner, 1)
	spawner.crash(WorkerID(0), nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("clean exit should not be restarted")
	}
	assert.Equal(t, 1, spawner.count(WorkerID(0)))
}

func TestSupervisor_RestartDelay(t *testing.T) {
	spawner := newFakeSpawner()
	sup := New(spawner, Config{Workers: 1, RestartDelay: 250 * time.Millisecond})
	var delays []time.Duration
	var mu sync.Mutex
	sup.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	waitStarted(t, spawner, 1)
	spawner.crash(WorkerID(0), errors.New("boom"))
	waitStarted(t, spawner, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, delays)
}
