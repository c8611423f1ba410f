package command

import (
	"context"
	"testing"
	"time"
)

func enqueueAt(t *testing.T, q *SQLitePendingQueue, pk int64, payload string, created time.Time, ttl time.Duration) *PendingEntry {
	t.Helper()
	e := &PendingEntry{DevicePK: pk, Payload: raw(payload), CreatedAt: created, ExpireAt: created.Add(ttl)}
	if err := q.Enqueue(context.Background(), e); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return e
}

func TestSQLitePendingQueue_FetchOrderAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := env.clock.Now()

	second := enqueueAt(t, env.queue, 1, `{"n":2}`, base.Add(time.Second), 10*time.Minute)
	first := enqueueAt(t, env.queue, 1, `{"n":1}`, base, 10*time.Minute)
	enqueueAt(t, env.queue, 1, `{"n":0}`, base.Add(-time.Hour), time.Minute) // expired
	enqueueAt(t, env.queue, 2, `{"other":true}`, base, 10*time.Minute)

	entries, err := env.queue.Fetch(ctx, []int64{1}, base.Add(2*time.Second), 50)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Fetch() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Errorf("order = %d,%d want %d,%d", entries[0].ID, entries[1].ID, first.ID, second.ID)
	}
	if string(entries[0].Payload) != `{"n":1}` {
		t.Errorf("payload = %s", entries[0].Payload)
	}
}

func TestSQLitePendingQueue_FetchAcrossDevices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := env.clock.Now()

	sw := enqueueAt(t, env.queue, 3, `{"sw":true}`, base, time.Minute)
	ir := enqueueAt(t, env.queue, 1, `{"ir":true}`, base.Add(time.Second), time.Minute)
	enqueueAt(t, env.queue, 9, `{"other":true}`, base, time.Minute)

	entries, err := env.queue.Fetch(ctx, []int64{1, 2, 3}, base, 50)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Fetch() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != sw.ID || entries[1].ID != ir.ID {
		t.Errorf("order = %d,%d want %d,%d", entries[0].ID, entries[1].ID, sw.ID, ir.ID)
	}

	if none, err := env.queue.Fetch(ctx, nil, base, 50); err != nil || len(none) != 0 {
		t.Errorf("Fetch(nil) = %v, %v; want empty", none, err)
	}
}

func TestSQLitePendingQueue_FetchLimit(t *testing.T) {
	env := newTestEnv(t)
	base := env.clock.Now()
	for i := 0; i < 5; i++ {
		enqueueAt(t, env.queue, 1, `{}`, base.Add(time.Duration(i)*time.Millisecond), time.Minute)
	}

	entries, err := env.queue.Fetch(context.Background(), []int64{1}, base, 3)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Fetch() returned %d, want 3", len(entries))
	}
}

func TestSQLitePendingQueue_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := env.clock.Now()

	a := enqueueAt(t, env.queue, 1, `{}`, base, time.Minute)
	b := enqueueAt(t, env.queue, 1, `{}`, base, time.Minute)

	if err := env.queue.Delete(ctx, []int64{a.ID}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := env.queue.Delete(ctx, nil); err != nil {
		t.Fatalf("Delete(nil) error = %v", err)
	}

	entries, _ := env.queue.Fetch(ctx, []int64{1}, base, 50)
	if len(entries) != 1 || entries[0].ID != b.ID {
		t.Errorf("remaining = %v, want only %d", entries, b.ID)
	}
}

func TestSQLitePendingQueue_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := env.clock.Now()

	expired := enqueueAt(t, env.queue, 1, `{}`, base.Add(-time.Hour), time.Minute)
	live := enqueueAt(t, env.queue, 1, `{}`, base, time.Hour)

	purged, err := env.queue.PurgeExpired(ctx, base)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if len(purged) != 1 || purged[0].ID != expired.ID {
		t.Fatalf("PurgeExpired() = %v, want only %d", purged, expired.ID)
	}

	entries, _ := env.queue.Fetch(ctx, []int64{1}, base.Add(-2*time.Hour), 50)
	if len(entries) != 1 || entries[0].ID != live.ID {
		t.Errorf("remaining = %v, want only %d", entries, live.ID)
	}

	again, err := env.queue.PurgeExpired(ctx, base)
	if err != nil || len(again) != 0 {
		t.Errorf("second PurgeExpired() = %v, %v", again, err)
	}
}
