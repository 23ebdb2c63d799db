package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{Addr: mr.Addr(), Namespace: "testns"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c, mr
}

func TestNew(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	if c.queue == nil {
		t.Error("expected queue to be initialized")
	}
	if c.results == nil {
		t.Error("expected result backend to be initialized")
	}
}

func TestNew_ConnectionFailure(t *testing.T) {
	c, err := New(Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected error for invalid redis address, got nil")
	}
	if c != nil {
		t.Error("expected nil client on connection failure")
	}
}

func TestSubmitJob_ReturnsJID(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	jid, err := c.SubmitJob(context.Background(), "default", "test_job", map[string]string{"key": "value"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jid == "" {
		t.Error("expected non-empty jid")
	}
}

func TestSubmitJob_ImmediatelyDequeuable(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	jid, err := c.SubmitJob(ctx, "default", "test_job", 42, "arg2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	raw, pos, err := c.queue.FindJob(ctx, "default", jid)
	if err != nil {
		t.Fatalf("expected to find job, got %v", err)
	}
	if pos < 0 {
		t.Error("expected job to be present in the queue")
	}
	if len(raw) == 0 {
		t.Error("expected non-empty raw job record")
	}
}

func TestSubmitJobIn_NotImmediatelyDequeuable(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	jid, err := c.SubmitJobIn(ctx, "default", "delayed_job", 5*time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jid == "" {
		t.Error("expected non-empty jid")
	}

	_, _, err = c.queue.FindJob(ctx, "default", jid)
	if err == nil {
		t.Error("expected delayed job to not be in the immediate queue yet")
	}
}

func TestSubmitJobAt_NotImmediatelyDequeuable(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	jid, err := c.SubmitJobAt(ctx, "default", "future_job", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jid == "" {
		t.Error("expected non-empty jid")
	}
}

func TestStatus_NoResultYet(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	r, err := c.Status(context.Background(), "nonexistent-jid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r != nil {
		t.Error("expected nil result for a jid with no stored outcome")
	}
}

func TestWait_TimesOutWithNoResult(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	r, err := c.Wait(context.Background(), "nonexistent-jid", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r != nil {
		t.Error("expected nil result on timeout")
	}
}

func TestSubmitJob_ConcurrentSafety(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	jobCount := 100
	errs := make(chan error, jobCount)

	for i := 0; i < jobCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if _, err := c.SubmitJob(ctx, "default", "concurrent_job", index); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("error submitting job: %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()

	if err := c.Close(); err != nil {
		t.Errorf("expected no error closing client, got %v", err)
	}
}
