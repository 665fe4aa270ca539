package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	domainerrors "vmforge/contexts/provisioning/request-service/domain/errors"
	"vmforge/internal/shared/events"
)

func testMeta() events.Metadata {
	return events.Metadata{
		TenantID:      "tenant-1",
		UserID:        "admin-1",
		CorrelationID: "corr-1",
		OccurredAtUTC: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
}

func submittedRequest(t *testing.T) *Request {
	t.Helper()
	return NewRequest("req-1", testMeta(), "requester-1", "project-1", "web-01", Size{Name: "medium", CPUs: 4, MemoryMB: 8192, DiskGB: 80})
}

func TestVersionEqualsAppliedEventCount(t *testing.T) {
	request := submittedRequest(t)
	if request.Version != 1 {
		t.Fatalf("expected version 1 after submission, got %d", request.Version)
	}

	if err := request.Approve("admin-1", testMeta()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := request.MarkProvisioning("vm-1", testMeta()); err != nil {
		t.Fatalf("mark provisioning failed: %v", err)
	}
	if request.Version != 3 {
		t.Fatalf("expected version 3 after three events, got %d", request.Version)
	}
	if len(request.PendingEvents()) != 3 {
		t.Fatalf("expected 3 pending events, got %d", len(request.PendingEvents()))
	}
}

func TestReconstituteIsIdempotent(t *testing.T) {
	request := submittedRequest(t)
	if err := request.Approve("admin-1", testMeta()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	history := request.PendingEvents()

	first := Reconstitute(history)
	second := Reconstitute(history)

	if first.Status != StatusApproved || second.Status != StatusApproved {
		t.Fatalf("expected APPROVED from both folds, got %s and %s", first.Status, second.Status)
	}
	if first.Version != second.Version || first.Version != 2 {
		t.Fatalf("expected identical version 2, got %d and %d", first.Version, second.Version)
	}
	if first.ID != second.ID || first.Status != second.Status ||
		first.RequesterID != second.RequesterID || first.Size != second.Size {
		t.Fatalf("replaying the same events must yield identical state: %+v vs %+v", first, second)
	}
}

func TestSelfApprovalForbiddenRegardlessOfStatus(t *testing.T) {
	statuses := []func(*Request){
		func(*Request) {},
		func(r *Request) { _ = r.Approve("admin-1", testMeta()) },
		func(r *Request) { _ = r.Reject("admin-1", "capacity is exhausted", testMeta()) },
		func(r *Request) { _ = r.Cancel(testMeta()) },
	}

	for i, transition := range statuses {
		request := submittedRequest(t)
		transition(request)

		if err := request.Approve("requester-1", testMeta()); !errors.Is(err, domainerrors.ErrSelfDecision) {
			t.Fatalf("case %d: expected ErrSelfDecision from approve in status %s, got %v", i, request.Status, err)
		}
		if err := request.Reject("requester-1", "capacity is exhausted", testMeta()); !errors.Is(err, domainerrors.ErrSelfDecision) {
			t.Fatalf("case %d: expected ErrSelfDecision from reject in status %s, got %v", i, request.Status, err)
		}
	}
}

func TestApproveRequiresPendingStatus(t *testing.T) {
	request := submittedRequest(t)
	if err := request.Approve("admin-1", testMeta()); err != nil {
		t.Fatalf("approve from PENDING failed: %v", err)
	}
	if err := request.Approve("admin-2", testMeta()); !errors.Is(err, domainerrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double approve, got %v", err)
	}
}

func TestRejectReasonLengthBoundaries(t *testing.T) {
	cases := []struct {
		length int
		ok     bool
	}{
		{9, false},
		{10, true},
		{500, true},
		{501, false},
	}

	for _, tc := range cases {
		request := submittedRequest(t)
		err := request.Reject("admin-1", strings.Repeat("x", tc.length), testMeta())
		if tc.ok && err != nil {
			t.Fatalf("reason of length %d should pass, got %v", tc.length, err)
		}
		if !tc.ok {
			if !errors.Is(err, domainerrors.ErrInvalidReason) {
				t.Fatalf("reason of length %d should fail with ErrInvalidReason, got %v", tc.length, err)
			}
			if request.Status != StatusPending {
				t.Fatalf("failed reject must not change status, got %s", request.Status)
			}
		}
	}
}

func TestCancelAllowedFromPendingAndApprovedOnly(t *testing.T) {
	request := submittedRequest(t)
	if err := request.Cancel(testMeta()); err != nil {
		t.Fatalf("cancel from PENDING failed: %v", err)
	}

	request = submittedRequest(t)
	_ = request.Approve("admin-1", testMeta())
	if err := request.Cancel(testMeta()); err != nil {
		t.Fatalf("cancel from APPROVED failed: %v", err)
	}

	request = submittedRequest(t)
	_ = request.Approve("admin-1", testMeta())
	_ = request.MarkProvisioning("vm-1", testMeta())
	if err := request.Cancel(testMeta()); !errors.Is(err, domainerrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState cancelling PROVISIONING request, got %v", err)
	}
}

func TestForwardOnlyProvisioningTransitions(t *testing.T) {
	request := submittedRequest(t)
	if err := request.MarkProvisioning("vm-1", testMeta()); !errors.Is(err, domainerrors.ErrInvalidState) {
		t.Fatalf("provisioning from PENDING must fail, got %v", err)
	}

	_ = request.Approve("admin-1", testMeta())
	if err := request.MarkReady("hv-1", "10.0.0.5", "web-01", "", testMeta()); !errors.Is(err, domainerrors.ErrInvalidState) {
		t.Fatalf("ready from APPROVED must fail, got %v", err)
	}

	if err := request.MarkProvisioning("vm-1", testMeta()); err != nil {
		t.Fatalf("provisioning from APPROVED failed: %v", err)
	}
	if request.VMID != "vm-1" {
		t.Fatalf("expected bound vm id, got %q", request.VMID)
	}

	if err := request.MarkReady("hv-1", "10.0.0.5", "web-01", "", testMeta()); err != nil {
		t.Fatalf("ready from PROVISIONING failed: %v", err)
	}
	if err := request.MarkFailed("late failure", testMeta()); !errors.Is(err, domainerrors.ErrInvalidState) {
		t.Fatalf("READY is terminal, got %v", err)
	}
}

func TestDecodeEventRoundTripsAllTypes(t *testing.T) {
	request := submittedRequest(t)
	_ = request.Approve("admin-1", testMeta())
	_ = request.MarkProvisioning("vm-1", testMeta())
	_ = request.MarkReady("hv-1", "10.0.0.5", "web-01", "ip detection timed out", testMeta())

	for _, ev := range request.PendingEvents() {
		payload, err := encodeForTest(ev)
		if err != nil {
			t.Fatalf("encode %s: %v", ev.EventType(), err)
		}
		decoded, err := DecodeEvent(ev.EventType(), payload)
		if err != nil {
			t.Fatalf("decode %s: %v", ev.EventType(), err)
		}
		if decoded.EventType() != ev.EventType() {
			t.Fatalf("decoded type mismatch: %s vs %s", decoded.EventType(), ev.EventType())
		}
	}

	if _, err := DecodeEvent("vm_request.unknown", nil); err == nil {
		t.Fatal("expected unknown event type to be rejected")
	}
}

func encodeForTest(ev events.Event) ([]byte, error) {
	return json.Marshal(ev)
}
