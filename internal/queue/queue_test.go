package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "")
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for _, page := range []string{"first", "second"} {
		task := &Task{
			Name:     TaskReplaceHTML,
			PageName: page,
			Values:   map[string]any{"A": 2.0},
		}
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue %s: %v", page, err)
		}
	}

	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 queued tasks, got %d (%v)", n, err)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.PageName != "first" {
		t.Fatalf("expected FIFO order, got %q", got.PageName)
	}
	if got.Name != TaskReplaceHTML {
		t.Fatalf("unexpected task name: %q", got.Name)
	}
	if got.EnqueuedAt.IsZero() {
		t.Fatal("expected enqueue timestamp")
	}
	if got.Values["A"] != 2.0 {
		t.Fatalf("values lost in transit: %v", got.Values)
	}

	got, err = q.Dequeue(ctx, time.Second)
	if err != nil || got.PageName != "second" {
		t.Fatalf("expected second task, got %v (%v)", got, err)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := testQueue(t)
	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestEnqueueRequiresName(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue(context.Background(), &Task{PageName: "p"}); err == nil {
		t.Fatal("expected error for unnamed task")
	}
}
