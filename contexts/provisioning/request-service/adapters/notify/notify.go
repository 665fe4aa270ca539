// Package notify delivers request lifecycle notices through structured logs.
// A deployment with a real mail or chat channel swaps this adapter behind the
// same port.
package notify

import (
	"context"
	"log/slog"

	"vmforge/contexts/provisioning/request-service/ports"
)

type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendCreated(ctx context.Context, n ports.Notification) error {
	return s.send(ctx, "request_created_notice", n)
}

func (s LogSender) SendApproved(ctx context.Context, n ports.Notification) error {
	return s.send(ctx, "request_approved_notice", n)
}

func (s LogSender) SendRejected(ctx context.Context, n ports.Notification) error {
	return s.send(ctx, "request_rejected_notice", n)
}

func (s LogSender) send(ctx context.Context, event string, n ports.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification sent",
		"event", event,
		"module", "request-service",
		"layer", "adapter",
		"tenant_id", n.TenantID,
		"request_id", n.RequestID,
		"recipient_id", n.RecipientID,
		"vm_name", n.VMName,
	)
	return nil
}
