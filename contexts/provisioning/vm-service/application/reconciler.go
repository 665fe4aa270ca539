package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vmforge/contexts/provisioning/vm-service/domain"
	domainerrors "vmforge/contexts/provisioning/vm-service/domain/errors"
	"vmforge/contexts/provisioning/vm-service/ports"
)

// Reconciler repairs requests stranded in PROVISIONING when the saga's
// best-effort request update was lost. The vm aggregate is the source of
// truth: its terminal stage is mirrored onto the request, and runs with no
// terminal outcome past the hard deadline are failed on both sides.
type Reconciler struct {
	Stuck    ports.StuckRequestSource
	VMs      Service
	Requests ports.RequestCompleter

	// StuckAfter is how long a request may sit in PROVISIONING before the
	// sweep inspects it. Deadline is the hard cutoff after which a run with
	// no terminal vm outcome is declared failed.
	StuckAfter time.Duration
	Deadline   time.Duration

	Clock  ports.Clock
	Logger *slog.Logger
}

// RunOnce performs a single sweep and returns the number of requests
// repaired. Individual repair failures are logged and do not abort the
// sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	stuck, err := r.Stuck.ListProvisioning(ctx, now.Add(-r.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("listing stuck requests: %w", err)
	}

	repaired := 0
	for _, req := range stuck {
		if r.reconcile(ctx, req, now) {
			repaired++
		}
	}
	if repaired > 0 || len(stuck) > 0 {
		resolveLogger(r.Logger).Info("reconciliation sweep finished",
			"event", "reconcile_sweep_done",
			"module", "provisioning/vm-service",
			"layer", "application",
			"inspected", len(stuck),
			"repaired", repaired,
		)
	}
	return repaired, nil
}

func (r *Reconciler) reconcile(ctx context.Context, req ports.StuckRequest, now time.Time) bool {
	logger := resolveLogger(r.Logger).With(
		"module", "provisioning/vm-service",
		"layer", "application",
		"request_id", req.RequestID,
		"vm_id", req.VMID,
		"tenant_id", req.TenantID,
	)
	correlationID := "reconcile-" + req.RequestID

	vm, err := r.VMs.GetVM(ctx, req.VMID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) && r.pastDeadline(req, now) {
			return r.failRequest(ctx, logger, req, "provisioning never started", correlationID)
		}
		logger.Warn("vm aggregate not loadable", "event", "reconcile_load_failed", "error", err)
		return false
	}

	switch vm.Stage {
	case domain.StageReady:
		if err := r.Requests.MarkReady(ctx, req.RequestID, vm.HypervisorVMID, vm.IPAddress, vm.Hostname, vm.Warning, correlationID); err != nil {
			logger.Error("request not marked ready",
				"event", "reconcile_request_update_failed",
				"cross_aggregate_inconsistency", true,
				"error", err,
			)
			return false
		}
		logger.Info("request repaired to READY", "event", "reconcile_repaired", "outcome", "ready")
		return true

	case domain.StageFailed:
		return r.failRequest(ctx, logger, req, "provisioning failed", correlationID)

	default:
		if !r.pastDeadline(req, now) {
			return false
		}
		if err := r.VMs.MarkFailed(ctx, req.VMID, "no terminal outcome before reconciliation deadline", "TIMEOUT", 0, correlationID); err != nil {
			logger.Warn("vm not marked failed", "event", "reconcile_vm_update_failed", "error", err)
		}
		return r.failRequest(ctx, logger, req, "provisioning timed out", correlationID)
	}
}

func (r *Reconciler) failRequest(ctx context.Context, logger *slog.Logger, req ports.StuckRequest, reason, correlationID string) bool {
	if err := r.Requests.MarkFailed(ctx, req.RequestID, reason, correlationID); err != nil {
		logger.Error("request not marked failed",
			"event", "reconcile_request_update_failed",
			"cross_aggregate_inconsistency", true,
			"error", err,
		)
		return false
	}
	logger.Info("request repaired to FAILED", "event", "reconcile_repaired", "outcome", "failed", "reason", reason)
	return true
}

func (r *Reconciler) pastDeadline(req ports.StuckRequest, now time.Time) bool {
	return now.Sub(req.UpdatedAt) > r.Deadline
}

func (r *Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
