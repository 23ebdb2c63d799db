package manager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sideport/exqgo/internal/logger"
	"github.com/sideport/exqgo/internal/queue"
	"github.com/sideport/exqgo/internal/stats"
	"github.com/sideport/exqgo/internal/worker"
	"github.com/redis/go-redis/v9"
)

func newTestLogger(t *testing.T) logger.Logger {
	t.Helper()
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LevelError
	cfg.Console.Enabled = false
	log, err := logger.NewLogger(cfg)
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *redis.Client, *miniredis.Miniredis, *worker.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := queue.New(client, "testns")
	st := stats.New(client, "testns")
	registry := worker.NewRegistry()

	m := New(client, q, st, registry, nil, newTestLogger(t), cfg)
	return m, client, mr, registry
}

func TestManager_ProcessesEnqueuedJob(t *testing.T) {
	done := make(chan struct{})
	registry := worker.NewRegistry()
	registry.Register("greet", func(ctx context.Context, args []json.RawMessage) error {
		close(done)
		return nil
	})

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := queue.New(client, "testns")
	st := stats.New(client, "testns")

	m := New(client, q, st, registry, nil, newTestLogger(t), Config{
		Queues:      []string{"default"},
		Concurrency: 5,
		PollTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	if _, err := m.Enqueue(context.Background(), "default", "greet", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := st.Busy(context.Background())
		if err != nil {
			t.Fatalf("Busy failed: %v", err)
		}
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker never removed itself from the process table")
}

func TestManager_RecordsSuccessAndFailure(t *testing.T) {
	registry := worker.NewRegistry()
	registry.Register("ok", func(ctx context.Context, args []json.RawMessage) error { return nil })
	registry.Register("bad", func(ctx context.Context, args []json.RawMessage) error { return assertErr })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := queue.New(client, "testns")
	st := stats.New(client, "testns")

	m := New(client, q, st, registry, nil, newTestLogger(t), Config{
		Queues:      []string{"default"},
		Concurrency: 5,
		PollTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	if _, err := m.Enqueue(context.Background(), "default", "ok", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := m.Enqueue(context.Background(), "default", "bad", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		processed, _ := client.Get(context.Background(), "testns:stat:processed").Int64()
		failed, _ := client.Get(context.Background(), "testns:stat:failed").Int64()
		if processed == 1 && failed == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected one processed and one failed outcome to be recorded")
}

func TestManager_ClassNotFoundGoesToFailed(t *testing.T) {
	registry := worker.NewRegistry()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := queue.New(client, "testns")
	st := stats.New(client, "testns")

	m := New(client, q, st, registry, nil, newTestLogger(t), Config{
		Queues:      []string{"default"},
		Concurrency: 5,
		PollTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	jid, err := m.Enqueue(context.Background(), "default", "ghost", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, _, err := st.FindFailed(context.Background(), jid)
		if err == nil && raw != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected unresolvable class to land in the failed list")
}

func TestManager_RespectsConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	registry := worker.NewRegistry()
	registry.Register("slow", func(ctx context.Context, args []json.RawMessage) error {
		<-release
		return nil
	})

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := queue.New(client, "testns")
	st := stats.New(client, "testns")

	m := New(client, q, st, registry, nil, newTestLogger(t), Config{
		Queues:      []string{"default"},
		Concurrency: 2,
		PollTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer func() {
		close(release)
		m.Stop()
	}()

	for i := 0; i < 5; i++ {
		if _, err := m.Enqueue(context.Background(), "default", "slow", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := st.Busy(context.Background())
		if err != nil {
			t.Fatalf("Busy failed: %v", err)
		}
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected busy worker count to cap at configured concurrency")
}

var assertErr = &testError{"handler failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
