// Package notify delivers provisioning outcome notices through structured
// logs. User notices carry only the sanitized error code; the technical
// notice targets the configured admin address.
package notify

import (
	"context"
	"log/slog"

	"vmforge/contexts/provisioning/vm-service/ports"
)

type LogSender struct {
	AdminAddress string
	Logger       *slog.Logger
}

func (s LogSender) SendVMReady(ctx context.Context, n ports.VMReadyNotice) error {
	s.logger().InfoContext(ctx, "notification sent",
		"event", "vm_ready_notice",
		"module", "vm-service",
		"layer", "adapter",
		"tenant_id", n.TenantID,
		"request_id", n.RequestID,
		"vm_name", n.VMName,
		"ip_address", n.IPAddress,
		"hostname", n.Hostname,
		"warning", n.Warning,
	)
	return nil
}

func (s LogSender) SendProvisioningFailedUser(ctx context.Context, n ports.FailureNotice) error {
	s.logger().InfoContext(ctx, "notification sent",
		"event", "provisioning_failed_user_notice",
		"module", "vm-service",
		"layer", "adapter",
		"tenant_id", n.TenantID,
		"request_id", n.RequestID,
		"vm_name", n.VMName,
		"error_code", n.ErrorCode,
	)
	return nil
}

func (s LogSender) SendProvisioningFailedAdmin(ctx context.Context, n ports.FailureNotice) error {
	s.logger().InfoContext(ctx, "notification sent",
		"event", "provisioning_failed_admin_notice",
		"module", "vm-service",
		"layer", "adapter",
		"admin_address", s.AdminAddress,
		"tenant_id", n.TenantID,
		"request_id", n.RequestID,
		"vm_name", n.VMName,
		"error_code", n.ErrorCode,
		"message", n.Message,
		"retry_count", n.RetryCount,
		"correlation_id", n.CorrelationID,
	)
	return nil
}

func (s LogSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
