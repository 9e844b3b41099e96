package expiry

import (
	"testing"
	"time"
)

func TestSetAddContains(t *testing.T) {
	s := NewSet(time.Minute)
	defer s.Close()

	if s.Contains("/ingest/a.jpg") {
		t.Fatal("empty set should not contain anything")
	}
	s.Add("/ingest/a.jpg")
	if !s.Contains("/ingest/a.jpg") {
		t.Fatal("expected entry to be present")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
}

func TestSetExpiryIsDeterministic(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	s := newSetWithClock(10*time.Second, now)

	s.Add("/ingest/a.jpg")
	clock = clock.Add(9 * time.Second)
	if !s.Contains("/ingest/a.jpg") {
		t.Fatal("entry expired too early")
	}

	clock = clock.Add(2 * time.Second)
	if s.Contains("/ingest/a.jpg") {
		t.Fatal("entry should have expired after the TTL window")
	}
	if s.Len() != 0 {
		t.Fatalf("expected 0 entries after expiry, got %d", s.Len())
	}
}

func TestSetAddRefreshesDeadline(t *testing.T) {
	clock := time.Now()
	now := func() time.Time { return clock }
	s := newSetWithClock(10*time.Second, now)

	s.Add("x")
	clock = clock.Add(8 * time.Second)
	s.Add("x")
	clock = clock.Add(8 * time.Second)
	if !s.Contains("x") {
		t.Fatal("refreshed entry should still be present")
	}
}

func TestSetRemoveAndClear(t *testing.T) {
	s := NewSet(time.Minute)
	defer s.Close()

	s.Add("a")
	s.Add("b")
	s.Remove("a")
	if s.Contains("a") {
		t.Fatal("removed entry still present")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty set after clear, got %d", s.Len())
	}
}
