package notify

import (
	"testing"
	"time"
)

func TestCooldownNotifierDedupsWithinWindow(t *testing.T) {
	inner := NewLogNotifier(nil)
	c := NewCooldownNotifier(inner)

	now := time.Now()
	messages := []string{"edge decay: A has an open position with no current signal"}

	first := c.NotifyOperational(now, messages)
	if len(first) != 1 {
		t.Fatalf("expected first alert to send, got %d", len(first))
	}
	second := c.NotifyOperational(now.Add(time.Minute), messages)
	if len(second) != 0 {
		t.Fatalf("expected dedup to suppress the second alert, got %d", len(second))
	}
	third := c.NotifyOperational(now.Add(7*time.Hour), messages)
	if len(third) != 1 {
		t.Fatalf("expected alert to resend after cooldown window, got %d", len(third))
	}
}

func TestCooldownNotifierCapsPerCycle(t *testing.T) {
	inner := NewLogNotifier(nil)
	c := NewCooldownNotifier(inner)

	now := time.Now()
	messages := []string{"alert-1", "alert-2", "alert-3", "alert-4"}
	events := c.NotifyOperational(now, messages)
	if len(events) != 3 {
		t.Fatalf("expected cap of 3 alerts per cycle, got %d", len(events))
	}
}
