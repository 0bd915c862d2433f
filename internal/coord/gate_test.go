package coord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateSerializes(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	if err := g.Acquire(ctx, "first"); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if g.Holder() != "first" {
		t.Errorf("Holder() = %q, want first", g.Holder())
	}
	if g.TryAcquire("second") {
		t.Error("TryAcquire() succeeded on a held gate")
	}

	g.Release()
	if !g.TryAcquire("second") {
		t.Error("TryAcquire() failed on a free gate")
	}
	g.Release()
}

func TestGateAcquireTimesOut(t *testing.T) {
	g := NewGate()
	if err := g.Acquire(context.Background(), "holder"); err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx, "waiter")
	if !errors.Is(err, ErrGateTimeout) {
		t.Errorf("err = %v, want ErrGateTimeout", err)
	}
}

func TestGateUnblocksWaiter(t *testing.T) {
	g := NewGate()
	ctx := context.Background()
	if err := g.Acquire(ctx, "holder"); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- g.Acquire(ctx, "waiter")
	}()

	time.Sleep(10 * time.Millisecond)
	g.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
		g.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the gate")
	}
}

func TestGatesPerProject(t *testing.T) {
	gs := NewGates()
	a := gs.For("project-a")
	b := gs.For("project-b")
	if a == b {
		t.Error("distinct projects share a gate")
	}
	if gs.For("project-a") != a {
		t.Error("same project returned a different gate")
	}

	// Holding one project's gate must not block another's.
	if err := a.Acquire(context.Background(), "sync"); err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	if !b.TryAcquire("sync") {
		t.Error("project-b gate blocked by project-a holder")
	}
	b.Release()
}

func TestBackoff(t *testing.T) {
	base := 10 * time.Second
	max := 10 * time.Minute
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{10, max}, // capped
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryAt(t *testing.T) {
	failedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	got := RetryAt(failedAt, 2, 10*time.Second, time.Minute)
	want := failedAt.Add(20 * time.Second)
	if !got.Equal(want) {
		t.Errorf("RetryAt() = %v, want %v", got, want)
	}
}
