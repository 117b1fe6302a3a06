package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	c := NewFakeClock(start)

	if c.Now().Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", c.Now().Location())
	}
	c.Advance(time.Minute)
	if !c.Now().Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected time after advance: %v", c.Now())
	}
	c.Advance(-2 * time.Minute)
	if !c.Now().Before(start) {
		t.Fatalf("expected clock to move backwards")
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if (SystemClock{}).Now().Location() != time.UTC {
		t.Fatalf("expected UTC")
	}
}
