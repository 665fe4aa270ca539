package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	hypervisorgateway "vmforge/contexts/provisioning/hypervisor-gateway"
	hyperapp "vmforge/contexts/provisioning/hypervisor-gateway/application"
	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	hyperports "vmforge/contexts/provisioning/hypervisor-gateway/ports"
	gatewayhttp "vmforge/contexts/provisioning/hypervisor-gateway/transport/http"
	requestservice "vmforge/contexts/provisioning/request-service"
	httpadapter "vmforge/contexts/provisioning/request-service/adapters/http"
	requesterrors "vmforge/contexts/provisioning/request-service/domain/errors"
	requestports "vmforge/contexts/provisioning/request-service/ports"
	requesthttp "vmforge/contexts/provisioning/request-service/transport/http"
	"vmforge/internal/shared/eventstore"

	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "vmforge/internal/platform/httpserver/docs"
)

// TimelineSource reads the audit timeline of one request.
type TimelineSource func(ctx context.Context, requestID string) ([]requestports.TimelineEntry, error)

type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	requests requestservice.Module
	gateway  hypervisorgateway.Module
	timeline TimelineSource
}

func New(
	requests requestservice.Module,
	gateway hypervisorgateway.Module,
	timeline TimelineSource,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		requests: requests,
		gateway:  gateway,
		timeline: timeline,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/requests", s.handleSubmitRequest)
	s.mux.HandleFunc("GET /v1/requests/{request_id}", s.handleGetRequest)
	s.mux.HandleFunc("POST /v1/requests/{request_id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /v1/requests/{request_id}/reject", s.handleReject)
	s.mux.HandleFunc("POST /v1/requests/{request_id}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /v1/requests/{request_id}/provision", s.handleProvision)
	s.mux.HandleFunc("GET /v1/requests/{request_id}/timeline", s.handleTimeline)

	s.mux.HandleFunc("PUT /v1/tenants/{tenant_id}/hypervisor-config", s.handlePutHypervisorConfig)
	s.mux.HandleFunc("GET /v1/tenants/{tenant_id}/hypervisor-config", s.handleGetHypervisorConfig)
	s.mux.HandleFunc("POST /v1/tenants/{tenant_id}/hypervisor-config/test", s.handleTestHypervisorConnection)
	s.mux.HandleFunc("GET /v1/tenants/{tenant_id}/hypervisor-inventory/{kind}", s.handleListHypervisorInventory)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req requesthttp.SubmitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.requests.Handler.SubmitRequestHandler(r.Context(), resolveCorrelationID(r), req)
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	resp, err := s.requests.Handler.GetRequestHandler(r.Context(), r.PathValue("request_id"))
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req requesthttp.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.requests.Handler.ApproveHandler(r.Context(), resolveCorrelationID(r), r.PathValue("request_id"), req)
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req requesthttp.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.requests.Handler.RejectHandler(r.Context(), resolveCorrelationID(r), r.PathValue("request_id"), req)
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req requesthttp.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.requests.Handler.CancelHandler(r.Context(), resolveCorrelationID(r), r.PathValue("request_id"), req)
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req requesthttp.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.requests.Handler.ProvisionHandler(r.Context(), resolveCorrelationID(r), r.PathValue("request_id"), req)
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		writeRequestError(w, http.StatusNotFound, "timeline_unavailable", "timeline store is not configured")
		return
	}
	entries, err := s.timeline(r.Context(), r.PathValue("request_id"))
	if err != nil {
		writeRequestDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpadapter.FormatTimeline(entries))
}

func (s *Server) handlePutHypervisorConfig(w http.ResponseWriter, r *http.Request) {
	var req gatewayhttp.HypervisorConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	cfg, err := s.gateway.Configs.Upsert(r.Context(), r.PathValue("tenant_id"), hyperapp.ConfigInput{
		URL:          req.URL,
		Username:     req.Username,
		Password:     req.Password,
		Datacenter:   req.Datacenter,
		Cluster:      req.Cluster,
		Datastore:    req.Datastore,
		Network:      req.Network,
		Template:     req.Template,
		ResourcePool: req.ResourcePool,
		FolderPath:   req.FolderPath,
	}, req.ExpectedVersion)
	if err != nil {
		writeGatewayDomainError(w, err)
		return
	}
	status := http.StatusOK
	if cfg.Version == 1 {
		status = http.StatusCreated
	}
	cfg.SealedPassword = ""
	writeJSON(w, status, gatewayhttp.HypervisorConfigResponse{
		Status: "success",
		Data: gatewayhttp.HypervisorConfigDTO{
			TenantID:     cfg.TenantID,
			URL:          cfg.URL,
			Username:     cfg.Username,
			Datacenter:   cfg.Datacenter,
			Cluster:      cfg.Cluster,
			Datastore:    cfg.Datastore,
			Network:      cfg.Network,
			Template:     cfg.Template,
			ResourcePool: cfg.ResourcePool,
			FolderPath:   cfg.FolderPath,
			Version:      cfg.Version,
		},
	})
}

func (s *Server) handleGetHypervisorConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.gateway.Configs.Get(r.Context(), r.PathValue("tenant_id"))
	if err != nil {
		writeGatewayDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gatewayhttp.HypervisorConfigResponse{
		Status: "success",
		Data: gatewayhttp.HypervisorConfigDTO{
			TenantID:     cfg.TenantID,
			URL:          cfg.URL,
			Username:     cfg.Username,
			Datacenter:   cfg.Datacenter,
			Cluster:      cfg.Cluster,
			Datastore:    cfg.Datastore,
			Network:      cfg.Network,
			Template:     cfg.Template,
			ResourcePool: cfg.ResourcePool,
			FolderPath:   cfg.FolderPath,
			Version:      cfg.Version,
		},
	})
}

func (s *Server) handleTestHypervisorConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Hypervisor.TestConnection(r.Context(), r.PathValue("tenant_id")); err != nil {
		writeGatewayDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleListHypervisorInventory(w http.ResponseWriter, r *http.Request) {
	kind := hyperports.InventoryKind(r.PathValue("kind"))
	switch kind {
	case hyperports.InventoryDatacenters, hyperports.InventoryClusters,
		hyperports.InventoryDatastores, hyperports.InventoryNetworks,
		hyperports.InventoryResourcePools:
	default:
		writeGatewayError(w, http.StatusBadRequest, "invalid_request", "unknown inventory kind")
		return
	}
	names, err := s.gateway.Hypervisor.ListInventory(r.Context(), r.PathValue("tenant_id"), kind)
	if err != nil {
		writeGatewayDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gatewayhttp.InventoryResponse{
		Status: "success",
		Data:   gatewayhttp.InventoryDTO{Kind: string(kind), Names: names},
	})
}

func writeRequestDomainError(w http.ResponseWriter, err error) {
	switch {
	case eventstore.IsConflict(err):
		writeRequestError(w, http.StatusConflict, "concurrency_conflict", err.Error())
	case errors.Is(err, requesterrors.ErrNotFound):
		writeRequestError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, requesterrors.ErrSelfDecision):
		writeRequestError(w, http.StatusForbidden, "self_decision_forbidden", err.Error())
	case errors.Is(err, requesterrors.ErrInvalidState):
		writeRequestError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, requesterrors.ErrInvalidInput),
		errors.Is(err, requesterrors.ErrInvalidReason):
		writeRequestError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeRequestError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeGatewayDomainError(w http.ResponseWriter, err error) {
	switch {
	case hyperapp.IsVersionConflict(err):
		writeGatewayError(w, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, hyperrors.ErrConfigNotFound):
		writeGatewayError(w, http.StatusNotFound, "config_not_found", err.Error())
	case hyperapp.IsConfigInput(err):
		writeGatewayError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, hyperrors.ErrUnavailable):
		writeGatewayError(w, http.StatusServiceUnavailable, "hypervisor_unavailable", err.Error())
	case isClassified(err):
		writeGatewayError(w, http.StatusBadGateway, string(hyperrors.KindOf(err)), err.Error())
	default:
		writeGatewayError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeRequestError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, requesthttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func isClassified(err error) bool {
	var classified *hyperrors.Error
	return errors.As(err, &classified)
}

func writeGatewayError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, gatewayhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}
