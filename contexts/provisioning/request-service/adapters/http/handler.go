package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"vmforge/contexts/provisioning/request-service/application"
	"vmforge/contexts/provisioning/request-service/domain"
	"vmforge/contexts/provisioning/request-service/ports"
	httptransport "vmforge/contexts/provisioning/request-service/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) SubmitRequestHandler(
	ctx context.Context,
	correlationID string,
	req httptransport.SubmitRequestRequest,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.SubmitRequest(ctx, ports.SubmitRequestInput{
		TenantID:    req.TenantID,
		RequesterID: req.RequesterID,
		ProjectID:   req.ProjectID,
		VMName:      req.VMName,
		Size: domain.Size{
			Name:     req.Size.Name,
			CPUs:     req.Size.CPUs,
			MemoryMB: req.Size.MemoryMB,
			DiskGB:   req.Size.DiskGB,
		},
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func (h Handler) ApproveHandler(
	ctx context.Context,
	correlationID string,
	requestID string,
	req httptransport.DecisionRequest,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.Approve(ctx, ports.DecisionInput{
		RequestID:     requestID,
		AdminID:       req.AdminID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func (h Handler) RejectHandler(
	ctx context.Context,
	correlationID string,
	requestID string,
	req httptransport.DecisionRequest,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.Reject(ctx, ports.DecisionInput{
		RequestID:     requestID,
		AdminID:       req.AdminID,
		Reason:        req.Reason,
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func (h Handler) CancelHandler(
	ctx context.Context,
	correlationID string,
	requestID string,
	req httptransport.CancelRequest,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.Cancel(ctx, requestID, req.UserID, correlationID)
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func (h Handler) ProvisionHandler(
	ctx context.Context,
	correlationID string,
	requestID string,
	req httptransport.ProvisionRequest,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.Provision(ctx, requestID, req.UserID, correlationID)
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func (h Handler) GetRequestHandler(
	ctx context.Context,
	requestID string,
) (httptransport.RequestResponse, error) {
	request, err := h.Service.GetRequest(ctx, requestID)
	if err != nil {
		return httptransport.RequestResponse{}, err
	}
	return okResponse(request), nil
}

func okResponse(request domain.Request) httptransport.RequestResponse {
	return httptransport.RequestResponse{
		Status: "success",
		Data: httptransport.RequestDTO{
			RequestID:   request.ID,
			TenantID:    request.TenantID,
			RequesterID: request.RequesterID,
			ProjectID:   request.ProjectID,
			VMName:      request.VMName,
			Size: httptransport.SizeDTO{
				Name:     request.Size.Name,
				CPUs:     request.Size.CPUs,
				MemoryMB: request.Size.MemoryMB,
				DiskGB:   request.Size.DiskGB,
			},
			Status:  string(request.Status),
			VMID:    request.VMID,
			Version: request.Version,
		},
	}
}

func FormatTimeline(entries []ports.TimelineEntry) httptransport.TimelineResponse {
	resp := httptransport.TimelineResponse{
		Status: "success",
		Data:   make([]httptransport.TimelineEntryDTO, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Data = append(resp.Data, httptransport.TimelineEntryDTO{
			EntryID:    entry.EntryID,
			Kind:       entry.Kind,
			Message:    entry.Message,
			OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}
