package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/conversion"
	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/httputil"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

// ConvertLeadRequest is the body of POST /api/v1/leads/{id}/convert. Every
// field is optional.
type ConvertLeadRequest struct {
	NewName   string `json:"new_name,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
}

// ConversionHandlers handles lead conversion requests
type ConversionHandlers struct {
	converter Converter
	logger    *logrus.Logger
}

// NewConversionHandlers creates a new ConversionHandlers
func NewConversionHandlers(converter Converter, logger *logrus.Logger) *ConversionHandlers {
	return &ConversionHandlers{converter: converter, logger: logger}
}

// RegisterRoutes registers conversion routes
func (h *ConversionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/leads/{id}/convert", h.ConvertLead).Methods(http.MethodPost)
}

// ConvertLead converts one lead organization. The response body is the
// run result, except for rejected input where it is an error with details;
// the status code classifies it.
func (h *ConversionHandlers) ConvertLead(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req ConvertLeadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result := h.converter.Convert(r.Context(), conversion.ConvertRequest{
		OrganizationID: id,
		NewName:        req.NewName,
		ActorID:        req.ActorID,
		ActorName:      req.ActorName,
	})

	observability.FromContext(r.Context(), h.logger).WithFields(logrus.Fields{
		"organization_id": id,
		"run_id":          result.RunID,
		"success":         result.Success,
	}).Info("Conversion request handled")

	status := statusFor(result)
	if status == http.StatusUnprocessableEntity {
		httputil.WriteDetailedError(w, status, result.Message, validationDetails(result))
		return
	}
	httputil.WriteJSON(w, status, result)
}

// validationDetails describes a rejected run for the 422 response
func validationDetails(result *conversion.SagaResult) map[string]string {
	details := map[string]string{
		"organization_id": result.OrganizationID,
		"failed_step":     result.FailedStep,
		"run_id":          result.RunID,
	}
	var validationErr *errs.ValidationError
	if errors.As(result.Err, &validationErr) && validationErr.Field != "" {
		details["field"] = validationErr.Field
	}
	return details
}

// statusFor maps a run result to an HTTP status
func statusFor(result *conversion.SagaResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Reason {
	case conversion.ReasonConflict:
		return http.StatusConflict
	case conversion.ReasonValidation:
		return http.StatusUnprocessableEntity
	case conversion.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// HistoryHandlers serves the conversion audit trail
type HistoryHandlers struct {
	history History
	logger  *logrus.Logger
}

// NewHistoryHandlers creates a new HistoryHandlers
func NewHistoryHandlers(history History, logger *logrus.Logger) *HistoryHandlers {
	return &HistoryHandlers{history: history, logger: logger}
}

// RegisterRoutes registers audit trail routes
func (h *HistoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/conversions/orphaned", h.ListOrphaned).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/conversions/{run_id}", h.GetRun).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/organizations/{id}/conversions", h.ListByOrganization).Methods(http.MethodGet)
}

// ListOrphaned lists failed runs that left a user behind
func (h *HistoryHandlers) ListOrphaned(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.history.ListOrphaned(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, err, "Failed to list orphaned conversions")
		return
	}
	httputil.WriteSuccess(w, entriesOrEmpty(entries))
}

// GetRun returns the audit entry of one run
func (h *HistoryHandlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := httputil.ParsePathStringOrError(w, r, "run_id")
	if !ok {
		return
	}
	entry, err := h.history.Get(r.Context(), runID)
	if errors.Is(err, audit.ErrNotFound) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, err, "Failed to load conversion run")
		return
	}
	httputil.WriteSuccess(w, entry)
}

// ListByOrganization lists the runs for one organization, newest first
func (h *HistoryHandlers) ListByOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.history.ListByOrganization(r.Context(), id, limit)
	if err != nil {
		h.internalError(w, r, err, "Failed to list organization conversions")
		return
	}
	httputil.WriteSuccess(w, entriesOrEmpty(entries))
}

func (h *HistoryHandlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.FromContext(r.Context(), h.logger).WithError(err).Error(msg)
	httputil.WriteErrorMessage(w, http.StatusInternalServerError, msg)
}

// parseLimit reads the optional limit query parameter; zero means the
// store default
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func entriesOrEmpty(entries []*audit.Entry) []*audit.Entry {
	if entries == nil {
		return []*audit.Entry{}
	}
	return entries
}
