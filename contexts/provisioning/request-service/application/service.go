package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"vmforge/contexts/provisioning/request-service/domain"
	domainerrors "vmforge/contexts/provisioning/request-service/domain/errors"
	"vmforge/contexts/provisioning/request-service/ports"
	"vmforge/internal/shared/events"
	"vmforge/internal/shared/eventstore"
)

// Service is the command-handler layer for the VM request aggregate: load,
// fold, guard, append with the loaded version, then best-effort side effects.
// A ConflictError from the store is surfaced to the caller, never retried
// here.
type Service struct {
	Store      eventstore.Store
	Projection ports.ProjectionUpdater
	Timeline   ports.TimelineUpdater
	Notifier   ports.NotificationSender
	Starter    ports.ProvisioningStarter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

func (s Service) SubmitRequest(ctx context.Context, input ports.SubmitRequestInput) (domain.Request, error) {
	if strings.TrimSpace(input.TenantID) == "" ||
		strings.TrimSpace(input.RequesterID) == "" ||
		strings.TrimSpace(input.VMName) == "" ||
		input.Size.CPUs <= 0 || input.Size.MemoryMB <= 0 {
		return domain.Request{}, domainerrors.ErrInvalidInput
	}

	requestID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return domain.Request{}, err
	}

	meta := s.metadata(input.TenantID, input.RequesterID, input.CorrelationID)
	request := domain.NewRequest(requestID, meta, input.RequesterID, input.ProjectID, input.VMName, input.Size)
	if _, err := s.Store.Append(ctx, requestID, request.PendingEvents(), 0); err != nil {
		return domain.Request{}, err
	}
	request.ClearPending()

	s.projectInsert(ctx, *request, meta.OccurredAtUTC)
	s.notify(ctx, "request_submitted", ports.Notification{
		TenantID:    request.TenantID,
		RequestID:   request.ID,
		RecipientID: request.RequesterID,
		VMName:      request.VMName,
	})
	s.timeline(ctx, *request, "request_submitted", "VM request submitted", meta)

	resolveLogger(s.Logger).Info("vm request submitted",
		"event", "vm_request_submitted",
		"module", "provisioning/request-service",
		"layer", "application",
		"request_id", request.ID,
		"tenant_id", request.TenantID,
		"vm_name", request.VMName,
	)
	return *request, nil
}

func (s Service) Approve(ctx context.Context, input ports.DecisionInput) (domain.Request, error) {
	return s.decide(ctx, input, "request_approved", "VM request approved",
		func(request *domain.Request, meta events.Metadata) error {
			return request.Approve(input.AdminID, meta)
		},
	)
}

func (s Service) Reject(ctx context.Context, input ports.DecisionInput) (domain.Request, error) {
	return s.decide(ctx, input, "request_rejected", "VM request rejected",
		func(request *domain.Request, meta events.Metadata) error {
			return request.Reject(input.AdminID, input.Reason, meta)
		},
	)
}

func (s Service) Cancel(ctx context.Context, requestID, userID, correlationID string) (domain.Request, error) {
	request, loadedVersion, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	meta := s.metadata(request.TenantID, userID, correlationID)
	if err := request.Cancel(meta); err != nil {
		return domain.Request{}, err
	}
	if _, err := s.Store.Append(ctx, request.ID, request.PendingEvents(), loadedVersion); err != nil {
		return domain.Request{}, err
	}
	request.ClearPending()

	s.projectStatus(ctx, *request, meta.OccurredAtUTC)
	s.timeline(ctx, *request, "request_cancelled", "VM request cancelled", meta)
	return *request, nil
}

// Provision transitions an approved request to PROVISIONING and creates its
// VM aggregate. The two appends commit independently; a starter failure is
// logged as a cross-aggregate inconsistency and left to the reconciliation
// sweep.
func (s Service) Provision(ctx context.Context, requestID, userID, correlationID string) (domain.Request, error) {
	request, loadedVersion, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	vmID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return domain.Request{}, err
	}

	meta := s.metadata(request.TenantID, userID, correlationID)
	if err := request.MarkProvisioning(vmID, meta); err != nil {
		return domain.Request{}, err
	}
	if _, err := s.Store.Append(ctx, request.ID, request.PendingEvents(), loadedVersion); err != nil {
		return domain.Request{}, err
	}
	request.ClearPending()

	s.projectStatus(ctx, *request, meta.OccurredAtUTC)
	s.timeline(ctx, *request, "provisioning_started", "VM provisioning started", meta)

	if err := s.Starter.StartProvisioning(ctx, ports.StartProvisioningInput{
		VMID:          vmID,
		RequestID:     request.ID,
		TenantID:      request.TenantID,
		ProjectID:     request.ProjectID,
		VMName:        request.VMName,
		Size:          request.Size,
		CorrelationID: meta.CorrelationID,
	}); err != nil {
		resolveLogger(s.Logger).Error("vm aggregate creation failed after request transition",
			"event", "vm_request_provisioning_start_failed",
			"module", "provisioning/request-service",
			"layer", "application",
			"cross_aggregate_inconsistency", true,
			"request_id", request.ID,
			"vm_id", vmID,
			"error", err.Error(),
		)
	}
	return *request, nil
}

// MarkReady records the saga's success outcome on the request aggregate.
func (s Service) MarkReady(ctx context.Context, requestID, hypervisorVMID, ipAddress, hostname, warning, correlationID string) error {
	request, loadedVersion, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}

	meta := s.metadata(request.TenantID, "", correlationID)
	if err := request.MarkReady(hypervisorVMID, ipAddress, hostname, warning, meta); err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, request.ID, request.PendingEvents(), loadedVersion); err != nil {
		return err
	}
	request.ClearPending()

	s.projectStatus(ctx, *request, meta.OccurredAtUTC)
	return nil
}

// MarkFailed records the saga's failure outcome on the request aggregate.
func (s Service) MarkFailed(ctx context.Context, requestID, reason, correlationID string) error {
	request, loadedVersion, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}

	meta := s.metadata(request.TenantID, "", correlationID)
	if err := request.MarkFailed(reason, meta); err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, request.ID, request.PendingEvents(), loadedVersion); err != nil {
		return err
	}
	request.ClearPending()

	s.projectStatus(ctx, *request, meta.OccurredAtUTC)
	return nil
}

// GetRequest folds the current aggregate state from its stream.
func (s Service) GetRequest(ctx context.Context, requestID string) (domain.Request, error) {
	request, _, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	return *request, nil
}

func (s Service) decide(
	ctx context.Context,
	input ports.DecisionInput,
	timelineKind string,
	timelineMessage string,
	command func(*domain.Request, events.Metadata) error,
) (domain.Request, error) {
	request, loadedVersion, err := s.loadRequest(ctx, input.RequestID)
	if err != nil {
		return domain.Request{}, err
	}

	meta := s.metadata(request.TenantID, input.AdminID, input.CorrelationID)
	if err := command(request, meta); err != nil {
		return domain.Request{}, err
	}
	if _, err := s.Store.Append(ctx, request.ID, request.PendingEvents(), loadedVersion); err != nil {
		return domain.Request{}, err
	}
	request.ClearPending()

	s.projectStatus(ctx, *request, meta.OccurredAtUTC)
	s.notify(ctx, timelineKind, ports.Notification{
		TenantID:    request.TenantID,
		RequestID:   request.ID,
		RecipientID: request.RequesterID,
		VMName:      request.VMName,
		Reason:      input.Reason,
	})
	s.timeline(ctx, *request, timelineKind, timelineMessage, meta)
	return *request, nil
}

func (s Service) loadRequest(ctx context.Context, requestID string) (*domain.Request, int64, error) {
	stored, err := s.Store.Load(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return nil, 0, err
	}
	if len(stored) == 0 {
		return nil, 0, domainerrors.ErrNotFound
	}

	history := make([]events.Event, 0, len(stored))
	for _, se := range stored {
		ev, err := domain.DecodeEvent(se.EventType, se.Payload)
		if err != nil {
			return nil, 0, err
		}
		history = append(history, ev)
	}
	request := domain.Reconstitute(history)
	return request, request.Version, nil
}

func (s Service) metadata(tenantID, userID, correlationID string) events.Metadata {
	return events.Metadata{
		TenantID:      tenantID,
		UserID:        userID,
		CorrelationID: correlationID,
		OccurredAtUTC: s.now(),
	}
}

func (s Service) projectInsert(ctx context.Context, request domain.Request, at time.Time) {
	if s.Projection == nil {
		return
	}
	err := s.Projection.InsertRequest(ctx, ports.RequestView{
		RequestID:   request.ID,
		TenantID:    request.TenantID,
		RequesterID: request.RequesterID,
		ProjectID:   request.ProjectID,
		VMName:      request.VMName,
		SizeName:    request.Size.Name,
		Status:      string(request.Status),
		UpdatedAt:   at,
	})
	if err != nil {
		resolveLogger(s.Logger).Warn("request projection insert failed",
			"event", "vm_request_projection_failed",
			"module", "provisioning/request-service",
			"layer", "application",
			"request_id", request.ID,
			"error", err.Error(),
		)
	}
}

func (s Service) projectStatus(ctx context.Context, request domain.Request, at time.Time) {
	if s.Projection == nil {
		return
	}
	if err := s.Projection.UpdateStatus(ctx, request.ID, string(request.Status), request.VMID, at); err != nil {
		resolveLogger(s.Logger).Warn("request projection update failed",
			"event", "vm_request_projection_failed",
			"module", "provisioning/request-service",
			"layer", "application",
			"request_id", request.ID,
			"status", string(request.Status),
			"error", err.Error(),
		)
	}
}

func (s Service) notify(ctx context.Context, kind string, n ports.Notification) {
	if s.Notifier == nil {
		return
	}
	var err error
	switch kind {
	case "request_submitted":
		err = s.Notifier.SendCreated(ctx, n)
	case "request_approved":
		err = s.Notifier.SendApproved(ctx, n)
	case "request_rejected":
		err = s.Notifier.SendRejected(ctx, n)
	default:
		return
	}
	if err != nil {
		resolveLogger(s.Logger).Warn("request notification failed",
			"event", "vm_request_notification_failed",
			"module", "provisioning/request-service",
			"layer", "application",
			"kind", kind,
			"request_id", n.RequestID,
			"error", err.Error(),
		)
	}
}

func (s Service) timeline(ctx context.Context, request domain.Request, kind, message string, meta events.Metadata) {
	if s.Timeline == nil {
		return
	}
	entryID, err := s.IDGen.NewID(ctx)
	if err != nil {
		entryID = request.ID + "-" + kind
	}
	err = s.Timeline.AddTimelineEvent(ctx, ports.TimelineEntry{
		EntryID:    entryID,
		TenantID:   request.TenantID,
		RequestID:  request.ID,
		Kind:       kind,
		Message:    message,
		OccurredAt: meta.OccurredAtUTC,
	})
	if err != nil {
		resolveLogger(s.Logger).Warn("request timeline append failed",
			"event", "vm_request_timeline_failed",
			"module", "provisioning/request-service",
			"layer", "application",
			"request_id", request.ID,
			"kind", kind,
			"error", err.Error(),
		)
	}
}

func (s Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
