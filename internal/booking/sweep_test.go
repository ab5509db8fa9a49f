package booking

import (
	"context"
	"testing"
	"time"
)

func TestSweeperRunOnceNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(25 * time.Hour)

	sw := NewSweeper(f.svc, time.Minute)
	res := sw.RunOnce(ctx)
	if res.Released != 1 || res.Notified != 1 {
		t.Errorf("want 1 released/notified, got %+v", res)
	}
	got := f.note.to(u1)
	if len(got) != 1 || got[0] != ExpiredText(f.device(1)) {
		t.Errorf("expiration notice: %v", got)
	}
	if res := sw.RunOnce(ctx); res.Released != 0 {
		t.Errorf("second pass must be empty, got %+v", res)
	}
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)
	sw := NewSweeper(f.svc, 10*time.Millisecond)
	sw.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sw.Stop()

	disabled := NewSweeper(f.svc, 0)
	disabled.Start(context.Background())
	disabled.Stop()
}
