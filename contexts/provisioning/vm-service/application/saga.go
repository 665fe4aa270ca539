package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"vmforge/contexts/provisioning/vm-service/domain"
	"vmforge/contexts/provisioning/vm-service/ports"
	"vmforge/internal/shared/events"
)

const fallbackNamePrefix = "PROJ"

// Rough per-stage durations used for the remaining-time hint shown to
// tenants. Deliberately pessimistic for cloning.
var expectedStageDuration = map[domain.Stage]time.Duration{
	domain.StageCloning:           4 * time.Minute,
	domain.StageConfiguring:       1 * time.Minute,
	domain.StagePoweringOn:        30 * time.Second,
	domain.StageWaitingForNetwork: 90 * time.Second,
}

// Saga drives a provisioning run end to end once the vm aggregate exists.
// Every step after the first terminal commit is best effort: failures are
// logged and the run continues, never unwound.
type Saga struct {
	Configs  ports.HypervisorConfigSource
	Projects ports.ProjectDirectory
	Machine  ports.Provisioner
	Progress ports.ProgressStore
	Timeline ports.TimelineUpdater
	Notifier ports.NotificationSender
	Requests ports.RequestCompleter
	VMs      Service

	// AdminAddress enables the technical failure notification. Empty means
	// no admin channel is configured and only the sanitized user notice is
	// sent.
	AdminAddress string

	Clock  ports.Clock
	Logger *slog.Logger
}

// HandleStored is the bus subscription entry point. Only the
// provisioning-started fact triggers a run; everything else is ignored.
func (s *Saga) HandleStored(ctx context.Context, stored events.StoredEvent) error {
	if stored.EventType != domain.EventTypeVMProvisioningStarted {
		return nil
	}
	var started domain.VMProvisioningStarted
	if err := json.Unmarshal(stored.Payload, &started); err != nil {
		return fmt.Errorf("decode provisioning-started fact: %w", err)
	}
	return s.Run(ctx, started)
}

// Run executes one provisioning attempt sequence for a freshly created vm
// aggregate.
func (s *Saga) Run(ctx context.Context, started domain.VMProvisioningStarted) error {
	logger := resolveLogger(s.Logger).With(
		"module", "provisioning/vm-service",
		"layer", "application",
		"vm_id", started.VMID,
		"request_id", started.RequestID,
		"tenant_id", started.TenantID,
		"correlation_id", started.Meta.CorrelationID,
	)

	cfg, found, err := s.Configs.Resolve(ctx, started.TenantID)
	if err != nil {
		s.fail(ctx, logger, started, "CONFIGURATION", 0, fmt.Sprintf("resolving hypervisor configuration: %v", err))
		return nil
	}
	if !found {
		s.fail(ctx, logger, started, "CONFIGURATION", 0, "tenant has no hypervisor configuration")
		return nil
	}

	name := s.deriveVMName(ctx, started.ProjectID, started.VMName)
	spec := ports.ProvisionSpec{
		TenantID:      started.TenantID,
		Name:          name,
		Template:      cfg.Template,
		Datacenter:    cfg.Datacenter,
		Cluster:       cfg.Cluster,
		Datastore:     cfg.Datastore,
		Network:       cfg.Network,
		ResourcePool:  cfg.ResourcePool,
		FolderPath:    cfg.FolderPath,
		CPUs:          started.Size.CPUs,
		MemoryMB:      started.Size.MemoryMB,
		DiskGB:        started.Size.DiskGB,
		CorrelationID: started.Meta.CorrelationID,
	}

	logger.Info("provisioning run started", "event", "saga_run_started", "vm_name", name)

	seen := map[string]time.Time{}
	result, provErr := s.Machine.CreateVM(ctx, spec, func(stage string) {
		s.onStage(ctx, logger, started, seen, stage)
	})
	if provErr != nil {
		code, attempts, message := classify(provErr)
		s.fail(ctx, logger, started, code, attempts, message)
		return nil
	}

	s.complete(ctx, logger, started, result)
	return nil
}

func (s *Saga) onStage(ctx context.Context, logger *slog.Logger, started domain.VMProvisioningStarted, seen map[string]time.Time, stage string) {
	now := s.now()
	seen[stage] = now

	if err := s.VMs.UpdateProgress(ctx, started.VMID, domain.Stage(stage), started.Meta.CorrelationID); err != nil {
		logger.Warn("progress event rejected", "event", "saga_progress_rejected", "stage", stage, "error", err)
	}

	if s.Progress == nil {
		return
	}
	record := ports.ProgressRecord{
		VMID:               started.VMID,
		RequestID:          started.RequestID,
		TenantID:           started.TenantID,
		Stages:             copyStages(seen),
		EstimatedRemaining: estimateRemaining(seen),
		UpdatedAt:          now,
	}
	if err := s.Progress.Put(ctx, record); err != nil {
		logger.Warn("progress record not stored", "event", "saga_progress_store_failed", "stage", stage, "error", err)
	}
}

// complete commits the success outcome. The vm aggregate event is the source
// of truth; if mirroring onto the request aggregate fails the run keeps
// going and the inconsistency is flagged for the reconciliation sweep.
func (s *Saga) complete(ctx context.Context, logger *slog.Logger, started domain.VMProvisioningStarted, result ports.ProvisionResult) {
	correlationID := started.Meta.CorrelationID

	if err := s.VMs.MarkProvisioned(ctx, started.VMID, result, correlationID); err != nil {
		logger.Error("vm success outcome not recorded", "event", "saga_outcome_append_failed", "error", err)
	}
	if err := s.Requests.MarkReady(ctx, started.RequestID, result.HypervisorVMID, result.IPAddress, result.Hostname, result.Warning, correlationID); err != nil {
		logger.Error("request not marked ready",
			"event", "saga_request_update_failed",
			"cross_aggregate_inconsistency", true,
			"error", err,
		)
	}
	if s.Progress != nil {
		if err := s.Progress.Delete(ctx, started.VMID); err != nil {
			logger.Warn("progress record not removed", "event", "saga_progress_delete_failed", "error", err)
		}
	}
	s.timeline(ctx, logger, started, "vm_ready", fmt.Sprintf("VM %s is ready at %s", started.VMName, result.IPAddress))
	if s.Notifier != nil {
		notice := ports.VMReadyNotice{
			TenantID:  started.TenantID,
			RequestID: started.RequestID,
			VMName:    started.VMName,
			IPAddress: result.IPAddress,
			Hostname:  result.Hostname,
			Warning:   result.Warning,
		}
		if err := s.Notifier.SendVMReady(ctx, notice); err != nil {
			logger.Warn("ready notification not sent", "event", "saga_notify_failed", "error", err)
		}
	}

	logger.Info("provisioning run completed",
		"event", "saga_run_completed",
		"hypervisor_vm_id", result.HypervisorVMID,
		"ip_address", result.IPAddress,
		"warning", result.Warning,
	)
}

// fail commits the failure outcome. Tenants see only the sanitized error
// code; the technical message goes to the admin channel.
func (s *Saga) fail(ctx context.Context, logger *slog.Logger, started domain.VMProvisioningStarted, code string, attempts int, message string) {
	correlationID := started.Meta.CorrelationID
	reason := fmt.Sprintf("provisioning failed with code %s", code)

	if err := s.VMs.MarkFailed(ctx, started.VMID, message, code, attempts, correlationID); err != nil {
		logger.Error("vm failure outcome not recorded", "event", "saga_outcome_append_failed", "error", err)
	}
	if err := s.Requests.MarkFailed(ctx, started.RequestID, reason, correlationID); err != nil {
		logger.Error("request not marked failed",
			"event", "saga_request_update_failed",
			"cross_aggregate_inconsistency", true,
			"error", err,
		)
	}
	if s.Progress != nil {
		if err := s.Progress.Delete(ctx, started.VMID); err != nil {
			logger.Warn("progress record not removed", "event", "saga_progress_delete_failed", "error", err)
		}
	}
	s.timeline(ctx, logger, started, "vm_failed", reason)
	if s.Notifier != nil {
		user := ports.FailureNotice{
			TenantID:      started.TenantID,
			RequestID:     started.RequestID,
			VMName:        started.VMName,
			ErrorCode:     code,
			RetryCount:    attempts,
			CorrelationID: correlationID,
		}
		if err := s.Notifier.SendProvisioningFailedUser(ctx, user); err != nil {
			logger.Warn("user failure notification not sent", "event", "saga_notify_failed", "error", err)
		}
		if s.AdminAddress != "" {
			admin := user
			admin.Message = message
			if err := s.Notifier.SendProvisioningFailedAdmin(ctx, admin); err != nil {
				logger.Warn("admin failure notification not sent", "event", "saga_notify_failed", "error", err)
			}
		}
	}

	logger.Error("provisioning run failed",
		"event", "saga_run_failed",
		"error_code", code,
		"attempts", attempts,
		"reason", message,
	)
}

func (s *Saga) timeline(ctx context.Context, logger *slog.Logger, started domain.VMProvisioningStarted, kind, message string) {
	if s.Timeline == nil {
		return
	}
	entry := ports.TimelineEntry{
		EntryID:    timelineEntryID(started.TenantID, started.RequestID, kind, message),
		TenantID:   started.TenantID,
		RequestID:  started.RequestID,
		Kind:       kind,
		Message:    message,
		OccurredAt: s.now(),
	}
	if err := s.Timeline.AddTimelineEvent(ctx, entry); err != nil {
		logger.Warn("timeline entry not stored", "event", "saga_timeline_failed", "kind", kind, "error", err)
	}
}

// deriveVMName prefixes the requested name with the first four alphanumerics
// of the project name, uppercased. Directory failures fall back to a neutral
// prefix instead of blocking the run.
func (s *Saga) deriveVMName(ctx context.Context, projectID, vmName string) string {
	prefix := fallbackNamePrefix
	if s.Projects != nil {
		if projectName, err := s.Projects.ProjectName(ctx, projectID); err == nil {
			if derived := namePrefix(projectName); derived != "" {
				prefix = derived
			}
		}
	}
	return prefix + "-" + vmName
}

func namePrefix(projectName string) string {
	var b strings.Builder
	for _, r := range projectName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() >= 4 {
				break
			}
		}
	}
	return b.String()
}

func (s *Saga) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// classify extracts the sanitized code and attempt count from a provisioner
// failure. Anything not shaped as a ProvisionError counts as a single
// unclassified API failure.
func classify(err error) (code string, attempts int, message string) {
	var pe *ports.ProvisionError
	if errors.As(err, &pe) {
		return pe.Code, pe.Attempts, pe.Message
	}
	return "API", 1, err.Error()
}

// timelineEntryID derives a stable ID from the entry content so that a
// replayed saga run upserts instead of duplicating rows.
func timelineEntryID(tenantID, requestID, kind, message string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + requestID + "|" + kind + "|" + message))
	return hex.EncodeToString(sum[:16])
}

func estimateRemaining(seen map[string]time.Time) time.Duration {
	var remaining time.Duration
	for stage, d := range expectedStageDuration {
		if _, done := seen[string(stage)]; !done {
			remaining += d
		}
	}
	return remaining
}

func copyStages(seen map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(seen))
	for k, v := range seen {
		out[k] = v
	}
	return out
}
