package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

// RetryPolicy bounds one provisioning sequence. Zero values fall back to the
// defaults: 5 attempts, 10s initial delay doubling up to 120s, 10m per
// attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 10 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 120 * time.Second
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 10 * time.Minute
	}
	return p
}

// delay returns the pause after the given 1-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Orchestrator wraps a Hypervisor with retry, per-attempt timeouts and a
// circuit breaker. Only CreateVM retries; the taxonomy decides which
// failures are worth another attempt. Stage callbacks are forwarded as-is,
// so a retried attempt repeats earlier stages.
type Orchestrator struct {
	Inner   ports.Hypervisor
	Policy  RetryPolicy
	Breaker *Breaker

	// Sleep pauses between attempts; tests inject a recording stub.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

func (o *Orchestrator) CreateVM(ctx context.Context, spec ports.VMSpec, onProgress func(stage string)) (ports.VMResult, error) {
	policy := o.Policy.withDefaults()
	logger := o.logger().With(
		"module", "provisioning/hypervisor-gateway",
		"layer", "application",
		"tenant_id", spec.TenantID,
		"vm_name", spec.Name,
		"correlation_id", spec.CorrelationID,
	)

	if o.Breaker != nil && !o.Breaker.Allow() {
		logger.Warn("call rejected by open circuit", "event", "hypervisor_circuit_open")
		return ports.VMResult{}, fmt.Errorf("creating vm %s: %w", spec.Name, hyperrors.ErrUnavailable)
	}
	recorded := false
	if o.Breaker != nil {
		defer func() {
			if !recorded {
				o.Breaker.Release()
			}
		}()
	}
	record := func(success bool) {
		if o.Breaker != nil {
			o.Breaker.Record(success)
		}
		recorded = true
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := o.attempt(ctx, policy, spec, onProgress)
		if err == nil {
			record(true)
			return result, nil
		}
		if ctx.Err() != nil {
			// caller cancelled; the reserved breaker slot is released, not
			// counted as an outcome
			return ports.VMResult{}, err
		}
		lastErr = err
		if !hyperrors.Retriable(err) {
			logger.Error("permanent provisioning failure",
				"event", "hypervisor_attempt_permanent",
				"attempt", attempt,
				"error_kind", string(hyperrors.KindOf(err)),
				"error", err,
			)
			record(false)
			return ports.VMResult{}, err
		}

		if attempt == policy.MaxAttempts {
			break
		}
		pause := policy.delay(attempt)
		logger.Warn("provisioning attempt failed, retrying",
			"event", "hypervisor_attempt_retry",
			"attempt", attempt,
			"error_kind", string(hyperrors.KindOf(err)),
			"retry_in", pause.String(),
			"error", err,
		)
		if err := o.sleep(ctx, pause); err != nil {
			return ports.VMResult{}, err
		}
	}

	record(false)
	logger.Error("all provisioning attempts exhausted",
		"event", "hypervisor_attempts_exhausted",
		"attempts", policy.MaxAttempts,
		"error", lastErr,
	)
	return ports.VMResult{}, &hyperrors.ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

func (o *Orchestrator) attempt(ctx context.Context, policy RetryPolicy, spec ports.VMSpec, onProgress func(stage string)) (ports.VMResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()

	result, err := o.Inner.CreateVM(attemptCtx, spec, onProgress)
	if err == nil {
		return result, nil
	}
	// an attempt that ran out of its own budget counts as a retriable
	// timeout; caller cancellation passes through untouched
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ports.VMResult{}, hyperrors.Timeout("provisioning attempt exceeded its time budget", err)
	}
	return ports.VMResult{}, err
}

func (o *Orchestrator) TestConnection(ctx context.Context, tenantID string) error {
	return o.Inner.TestConnection(ctx, tenantID)
}

func (o *Orchestrator) ListInventory(ctx context.Context, tenantID string, kind ports.InventoryKind) ([]string, error) {
	return o.Inner.ListInventory(ctx, tenantID, kind)
}

func (o *Orchestrator) GetVM(ctx context.Context, tenantID, vmID string) (ports.VMInfo, error) {
	return o.Inner.GetVM(ctx, tenantID, vmID)
}

func (o *Orchestrator) DeleteVM(ctx context.Context, tenantID, vmID string) error {
	return o.Inner.DeleteVM(ctx, tenantID, vmID)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
