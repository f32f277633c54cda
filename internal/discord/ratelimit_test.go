package discord

import (
	"context"
	"testing"
)

func TestDispatchLimiter_AdmitsBurst(t *testing.T) {
	l := newDispatchLimiter()
	for i := 0; i < dispatchBurst; i++ {
		if err := l.wait(context.Background(), "c1"); err != nil {
			t.Fatalf("wait() #%d = %v, want nil within burst", i+1, err)
		}
	}
}

func TestDispatchLimiter_RespectsContext(t *testing.T) {
	l := newDispatchLimiter()
	for i := 0; i < dispatchBurst; i++ {
		if err := l.wait(context.Background(), "c1"); err != nil {
			t.Fatalf("wait() = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.wait(ctx, "c1"); err == nil {
		t.Error("wait() after burst with canceled context should error")
	}
}

func TestDispatchLimiter_IndependentChannels(t *testing.T) {
	l := newDispatchLimiter()
	for i := 0; i < dispatchBurst; i++ {
		if err := l.wait(context.Background(), "c1"); err != nil {
			t.Fatalf("wait() = %v", err)
		}
	}
	// Another channel has its own budget.
	if err := l.wait(context.Background(), "c2"); err != nil {
		t.Errorf("wait() on fresh channel = %v, want nil", err)
	}
}
