package queue

import (
	"context"
	"testing"
	"time"

	"vodforge/internal/models"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	t.Cleanup(func() {
		_ = q.Close()
	})

	ctx := context.Background()
	for _, id := range []string{"asset-1", "asset-2", "asset-3"} {
		if err := q.Push(ctx, models.TranscodeJob{AssetID: id}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if length != 3 {
		t.Fatalf("expected length 3, got %d", length)
	}
	for _, id := range []string{"asset-1", "asset-2", "asset-3"} {
		job, ok, err := q.PopBlocking(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("pop %s: ok=%v err=%v", id, ok, err)
		}
		if job.AssetID != id {
			t.Fatalf("expected %s, got %s", id, job.AssetID)
		}
	}
}

func TestMemoryQueuePopTimeout(t *testing.T) {
	q := NewMemoryQueue()
	t.Cleanup(func() {
		_ = q.Close()
	})
	_, ok, err := q.PopBlocking(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if ok {
		t.Fatal("expected empty pop")
	}
}

func TestMemoryQueuePendingDoesNotConsume(t *testing.T) {
	q := NewMemoryQueue()
	t.Cleanup(func() {
		_ = q.Close()
	})
	ctx := context.Background()
	for _, id := range []string{"asset-1", "asset-2"} {
		if err := q.Push(ctx, models.TranscodeJob{AssetID: id}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].AssetID != "asset-1" || pending[1].AssetID != "asset-2" {
		t.Fatalf("unexpected pending jobs %+v", pending)
	}
	length, err := q.Length(ctx)
	if err != nil || length != 2 {
		t.Fatalf("expected length 2 after pending, got %d err=%v", length, err)
	}
}

func TestMemoryQueuePushAfterClose(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Push(context.Background(), models.TranscodeJob{AssetID: "asset-1"}); err == nil {
		t.Fatal("expected error pushing to a closed queue")
	}
}
