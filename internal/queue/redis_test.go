package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sideport/exqgo/internal/job"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "testns"), mr
}

func TestQueue_Enqueue_ReturnsJID(t *testing.T) {
	q, _ := newTestQueue(t)
	jid, err := q.Enqueue(context.Background(), "default", "greet", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if jid == "" {
		t.Fatal("expected non-empty jid")
	}
}

func TestQueue_Enqueue_RegistersQueueName(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Enqueue(context.Background(), "mailers", "send", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	names, err := q.QueueNames(context.Background())
	if err != nil {
		t.Fatalf("QueueNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "mailers" {
		t.Errorf("expected [mailers], got %v", names)
	}
}

func TestQueue_Dequeue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "default", "first", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "default", "second", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	raw, err := q.Dequeue(ctx, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	j, err := job.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.JID != first {
		t.Errorf("expected FIFO order to return jid %s first, got %s", first, j.JID)
	}
}

func TestQueue_Dequeue_EmptyReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)
	raw, err := q.Dequeue(context.Background(), []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil for empty queue, got %s", raw)
	}
}

func TestQueue_Dequeue_RespectsQueueOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "low", "job", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	highJID, err := q.Enqueue(ctx, "high", "job", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	raw, err := q.Dequeue(ctx, []string{"high", "low"})
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	j, err := job.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.JID != highJID {
		t.Errorf("expected the higher-priority queue to be drained first, got jid %s", j.JID)
	}
}

func TestQueue_EnqueueRaw(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	j := job.New("default", "greet", []json.RawMessage{json.RawMessage(`"world"`)})
	raw, err := j.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	jid, err := q.EnqueueRaw(ctx, "default", raw)
	if err != nil {
		t.Fatalf("EnqueueRaw failed: %v", err)
	}
	if jid != j.JID {
		t.Errorf("expected jid %s, got %s", j.JID, jid)
	}

	size, err := q.QueueSize(ctx, "default")
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 1 {
		t.Errorf("expected queue size 1, got %d", size)
	}
}

func TestQueue_FindJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	jid, err := q.Enqueue(ctx, "default", "greet", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	raw, idx, err := q.FindJob(ctx, "default", jid)
	if err != nil {
		t.Fatalf("FindJob failed: %v", err)
	}
	if idx != 0 {
		t.Errorf("expected index 0, got %d", idx)
	}
	j, err := job.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.JID != jid {
		t.Errorf("expected jid %s, got %s", jid, j.JID)
	}
}

func TestQueue_FindJob_NotFound(t *testing.T) {
	q, _ := newTestQueue(t)
	_, _, err := q.FindJob(context.Background(), "default", "nope")
	if err == nil {
		t.Fatal("expected NotFound error")
	}
}

func TestQueue_RemoveJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	jid, err := q.Enqueue(ctx, "default", "greet", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	removed, err := q.RemoveJob(ctx, "default", jid)
	if err != nil {
		t.Fatalf("RemoveJob failed: %v", err)
	}
	if !removed {
		t.Fatal("expected RemoveJob to report true")
	}

	size, err := q.QueueSize(ctx, "default")
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 0 {
		t.Errorf("expected empty queue after removal, got size %d", size)
	}
}

func TestQueue_RemoveJob_NotFound(t *testing.T) {
	q, _ := newTestQueue(t)
	removed, err := q.RemoveJob(context.Background(), "default", "ghost")
	if err != nil {
		t.Fatalf("expected no error for missing job, got %v", err)
	}
	if removed {
		t.Error("expected RemoveJob to report false for a missing job")
	}
}

func TestQueue_QueueSize(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, "default", "greet", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	size, err := q.QueueSize(ctx, "default")
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 3 {
		t.Errorf("expected size 3, got %d", size)
	}
}

func TestQueue_EnqueueAt_NotImmediatelyDequeuable(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.EnqueueAt(ctx, "default", "greet", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("EnqueueAt failed: %v", err)
	}

	raw, err := q.Dequeue(ctx, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if raw != nil {
		t.Error("expected a future-scheduled job not to be dequeuable yet")
	}
}

func TestQueue_EnqueueIn_PromotesWhenDue(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	jid, err := q.EnqueueIn(ctx, "default", "greet", nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("EnqueueIn failed: %v", err)
	}

	mr.FastForward(time.Second)

	promoted, err := q.PromoteDue(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("PromoteDue failed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 job promoted, got %d", promoted)
	}

	raw, err := q.Dequeue(ctx, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if raw == nil {
		t.Fatal("expected promoted job to be dequeuable")
	}
	j, err := job.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.JID != jid {
		t.Errorf("expected jid %s, got %s", jid, j.JID)
	}
}

func TestQueue_PromoteDue_SkipsNotYetDue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.EnqueueAt(ctx, "default", "greet", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("EnqueueAt failed: %v", err)
	}

	promoted, err := q.PromoteDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("PromoteDue failed: %v", err)
	}
	if promoted != 0 {
		t.Errorf("expected 0 jobs promoted before their due time, got %d", promoted)
	}
}

func TestQueue_PromoteDue_Empty(t *testing.T) {
	q, _ := newTestQueue(t)
	promoted, err := q.PromoteDue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("PromoteDue failed: %v", err)
	}
	if promoted != 0 {
		t.Errorf("expected 0 promotions on an empty schedule, got %d", promoted)
	}
}
