package application

import (
	"testing"
	"time"
)

func testBreaker(now *time.Time) *Breaker {
	return NewBreaker(BreakerSettings{
		WindowSize:  10,
		MinSamples:  4,
		FailureRate: 0.5,
		Cooldown:    30 * time.Second,
	}, func() time.Time { return *now })
}

func TestBreakerOpensOnFailureRate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 4; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected while closed", i)
		}
		b.Record(false)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open after 4/4 failures", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker admitted a call before cooldown")
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.Record(false)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed below min samples", b.State())
	}
}

func TestBreakerHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 4; i++ {
		b.Allow()
		b.Record(false)
	}
	now = now.Add(31 * time.Second)

	if !b.Allow() {
		t.Fatal("probe rejected after cooldown")
	}
	if b.Allow() {
		t.Fatal("second probe admitted while first in flight")
	}
	b.Record(true)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker rejected a call")
	}
}

func TestBreakerHalfOpenProbeReopensOnFailure(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 4; i++ {
		b.Allow()
		b.Record(false)
	}
	now = now.Add(31 * time.Second)

	if !b.Allow() {
		t.Fatal("probe rejected after cooldown")
	}
	b.Record(false)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if b.Allow() {
		t.Fatal("breaker admitted a call right after a failed probe")
	}
}

func TestBreakerReleaseFreesProbeSlot(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 4; i++ {
		b.Allow()
		b.Record(false)
	}
	now = now.Add(31 * time.Second)

	if !b.Allow() {
		t.Fatal("probe rejected after cooldown")
	}
	// cancelled before any outcome
	b.Release()
	if !b.Allow() {
		t.Fatal("released probe slot not reusable")
	}
}

func TestBreakerToleratesOccasionalFailures(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBreaker(&now)

	for i := 0; i < 20; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected", i)
		}
		b.Record(i%4 != 0) // 1 in 4 fails, rate 0.25 stays under threshold
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed at 25%% failures", b.State())
	}
}
