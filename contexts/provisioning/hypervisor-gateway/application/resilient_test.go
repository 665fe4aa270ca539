package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

type scriptedHypervisor struct {
	errs   []error
	result ports.VMResult
	calls  int
}

func (h *scriptedHypervisor) CreateVM(_ context.Context, _ ports.VMSpec, _ func(stage string)) (ports.VMResult, error) {
	h.calls++
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		if err != nil {
			return ports.VMResult{}, err
		}
	}
	return h.result, nil
}

func (h *scriptedHypervisor) TestConnection(_ context.Context, _ string) error { return nil }

func (h *scriptedHypervisor) ListInventory(_ context.Context, _ string, _ ports.InventoryKind) ([]string, error) {
	return nil, nil
}

func (h *scriptedHypervisor) GetVM(_ context.Context, _, _ string) (ports.VMInfo, error) {
	return ports.VMInfo{}, nil
}

func (h *scriptedHypervisor) DeleteVM(_ context.Context, _, _ string) error { return nil }

func newTestOrchestrator(inner ports.Hypervisor, sleeps *[]time.Duration) *Orchestrator {
	return &Orchestrator{
		Inner: inner,
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestOrchestratorRetriesWithExponentialBackoff(t *testing.T) {
	inner := &scriptedHypervisor{
		errs: []error{
			hyperrors.Connection("refused", nil),
			hyperrors.Connection("refused", nil),
			hyperrors.Timeout("slow", nil),
			hyperrors.Connection("refused", nil),
			nil,
		},
		result: ports.VMResult{VMID: "vm-1", IPAddress: "10.0.0.4"},
	}
	var sleeps []time.Duration
	o := newTestOrchestrator(inner, &sleeps)

	result, err := o.CreateVM(context.Background(), ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if result.VMID != "vm-1" {
		t.Fatalf("result = %+v", result)
	}
	if inner.calls != 5 {
		t.Fatalf("attempts = %d, want 5", inner.calls)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestOrchestratorExhaustsAfterFiveAttempts(t *testing.T) {
	inner := &scriptedHypervisor{
		errs: []error{
			hyperrors.Connection("refused", nil),
			hyperrors.Connection("refused", nil),
			hyperrors.Connection("refused", nil),
			hyperrors.Connection("refused", nil),
			hyperrors.Connection("refused", nil),
		},
	}
	var sleeps []time.Duration
	o := newTestOrchestrator(inner, &sleeps)

	_, err := o.CreateVM(context.Background(), ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	var exhausted *hyperrors.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", exhausted.Attempts)
	}
	if hyperrors.KindOf(exhausted.Last) != hyperrors.KindConnection {
		t.Fatalf("last kind = %s", hyperrors.KindOf(exhausted.Last))
	}
	if inner.calls != 5 || len(sleeps) != 4 {
		t.Fatalf("calls = %d sleeps = %d, want 5 and 4", inner.calls, len(sleeps))
	}
}

func TestOrchestratorPermanentErrorFailsImmediately(t *testing.T) {
	inner := &scriptedHypervisor{
		errs: []error{hyperrors.Authentication("bad credentials", nil)},
	}
	var sleeps []time.Duration
	o := newTestOrchestrator(inner, &sleeps)

	_, err := o.CreateVM(context.Background(), ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	if hyperrors.KindOf(err) != hyperrors.KindAuthentication {
		t.Fatalf("err = %v, want authentication", err)
	}
	if inner.calls != 1 {
		t.Fatalf("attempts = %d, want 1", inner.calls)
	}
	if len(sleeps) != 0 {
		t.Fatalf("sleeps = %v, want none", sleeps)
	}
}

func TestOrchestratorOpenBreakerRejectsWithoutCalling(t *testing.T) {
	inner := &scriptedHypervisor{}
	var sleeps []time.Duration
	o := newTestOrchestrator(inner, &sleeps)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o.Breaker = NewBreaker(BreakerSettings{WindowSize: 4, MinSamples: 2, FailureRate: 0.5, Cooldown: time.Minute}, func() time.Time { return now })
	o.Breaker.Allow()
	o.Breaker.Record(false)
	o.Breaker.Allow()
	o.Breaker.Record(false)

	_, err := o.CreateVM(context.Background(), ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	if !errors.Is(err, hyperrors.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if inner.calls != 0 {
		t.Fatalf("inner called %d times while open", inner.calls)
	}
}

func TestOrchestratorAttemptTimeoutIsRetriable(t *testing.T) {
	blocked := 0
	inner := hypervisorFunc(func(ctx context.Context, _ ports.VMSpec, _ func(string)) (ports.VMResult, error) {
		if blocked == 0 {
			blocked++
			<-ctx.Done()
			return ports.VMResult{}, ctx.Err()
		}
		return ports.VMResult{VMID: "vm-1"}, nil
	})
	var sleeps []time.Duration
	o := newTestOrchestrator(inner, &sleeps)
	o.Policy = RetryPolicy{AttemptTimeout: 10 * time.Millisecond}

	result, err := o.CreateVM(context.Background(), ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if result.VMID != "vm-1" {
		t.Fatalf("result = %+v", result)
	}
	if len(sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one retry pause", sleeps)
	}
}

func TestOrchestratorCancellationAbortsPromptly(t *testing.T) {
	inner := &scriptedHypervisor{
		errs: []error{hyperrors.Connection("refused", nil)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		Inner: inner,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o.Breaker = NewBreaker(BreakerSettings{}, func() time.Time { return now })

	_, err := o.CreateVM(ctx, ports.VMSpec{TenantID: "t1", Name: "db"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if inner.calls != 1 {
		t.Fatalf("attempts = %d, want 1", inner.calls)
	}
	// the reserved slot was released without an outcome
	if !o.Breaker.Allow() {
		t.Fatal("breaker slot not released after cancellation")
	}
}

type hypervisorFunc func(ctx context.Context, spec ports.VMSpec, onProgress func(stage string)) (ports.VMResult, error)

func (f hypervisorFunc) CreateVM(ctx context.Context, spec ports.VMSpec, onProgress func(stage string)) (ports.VMResult, error) {
	return f(ctx, spec, onProgress)
}

func (f hypervisorFunc) TestConnection(_ context.Context, _ string) error { return nil }

func (f hypervisorFunc) ListInventory(_ context.Context, _ string, _ ports.InventoryKind) ([]string, error) {
	return nil, nil
}

func (f hypervisorFunc) GetVM(_ context.Context, _, _ string) (ports.VMInfo, error) {
	return ports.VMInfo{}, nil
}

func (f hypervisorFunc) DeleteVM(_ context.Context, _, _ string) error { return nil }
