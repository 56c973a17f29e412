// Package handler exposes the necessity workflow over HTTP. The upstream
// gateway authenticates operators; this layer trusts the identity headers it
// forwards and enforces role-based access per endpoint.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merenda/internal/batch"
	"merenda/internal/necessity/models"
	"merenda/internal/necessity/service"
	"merenda/internal/necessity/store"
	"merenda/internal/platform/middleware"
	"merenda/internal/substitution"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/platform/httputil"
	"merenda/pkg/requestcontext"
	"merenda/pkg/weekrange"
)

// Handler handles necessity endpoints.
type Handler struct {
	logger        *slog.Logger
	necessity     *service.Service
	substitutions *substitution.Service
	pacer         batch.Pacer
}

// New creates a necessity Handler. The pacer throttles batch endpoints and
// may be nil for back-to-back processing.
func New(necessity *service.Service, substitutions *substitution.Service, logger *slog.Logger, pacer batch.Pacer) *Handler {
	return &Handler{
		logger:        logger,
		necessity:     necessity,
		substitutions: substitutions,
		pacer:         pacer,
	}
}

// Register registers the necessity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.RequireOperator(h.logger))

	router.Get("/necessities", h.handleList)
	router.Get("/necessities/groups", h.handleListGroups)
	router.Get("/necessities/export", h.handleExport)
	router.Post("/necessities/generate", h.handleGenerate)
	router.Post("/necessities/forecast", h.handleGenerateFromForecast)
	router.Post("/necessities/import", h.handleImport)
	router.Post("/necessities/release", h.handleRelease)
	router.Post("/necessities/release-batch", h.handleReleaseBatch)
	router.Post("/necessities/finalize", h.handleFinalize)
	router.Post("/necessities/correct", h.handleCorrect)
	router.Delete("/necessities/{lineID}", h.handleExclude)

	router.Get("/necessities/substitutions/candidates/{productID}", h.handleCandidates)
	router.Post("/necessities/substitutions", h.handleApplySubstitution)
	router.Delete("/necessities/substitutions/{lineID}", h.handleUndoSubstitution)

	r.Mount("/", router)
}

// requireRole rejects the request with 403 unless the operator holds one of
// the allowed roles. Read endpoints skip this and project instead.
func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	role := requestcontext.Role(r.Context())
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	h.logger.WarnContext(r.Context(), "operation forbidden for role",
		"role", role,
		"path", r.URL.Path,
	)
	httputil.WriteJSON(w, http.StatusForbidden, map[string]string{
		"error": "forbidden",
	})
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body", "error", err.Error())
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var in service.GenerateInput
	if !h.decode(w, r, &in) {
		return
	}

	result, err := h.necessity.Generate(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Partial success: created lines persisted, conflicting candidates did
	// not. 409 tells the client to inspect both slices.
	status := http.StatusCreated
	if len(result.Conflicts) > 0 {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, result)
}

func (h *Handler) handleGenerateFromForecast(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var in forecastGenerateRequest
	if !h.decode(w, r, &in) {
		return
	}

	result, err := h.necessity.GenerateFromForecast(r.Context(), in.toInput())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if len(result.Conflicts) > 0 {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	lines, err := h.necessity.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	role := requestcontext.Role(r.Context())
	projected := make([]models.ProjectedLine, 0, len(lines))
	for _, line := range lines {
		projected = append(projected, models.Project(line, role))
	}
	httputil.WriteJSON(w, http.StatusOK, projected)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	groups, err := h.necessity.ListGrouped(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, projectGroups(groups, requestcontext.Role(r.Context())))
}

func (h *Handler) handleExclude(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	lineID, err := id.ParseLineID(chi.URLParam(r, "lineID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid line id"))
		return
	}

	if _, err := h.necessity.SoftDelete(r.Context(), lineID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var req groupKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.toKey()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	lines, err := h.necessity.Release(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, releaseResponse{
		Group:    key.String(),
		Released: len(lines),
	})
}

func (h *Handler) handleReleaseBatch(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var req releaseBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Groups) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "at least one group is required"))
		return
	}

	keys := make([]models.GroupKey, 0, len(req.Groups))
	for _, g := range req.Groups {
		key, err := g.toKey()
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		keys = append(keys, key)
	}

	var opts []batch.Option
	if h.pacer != nil {
		opts = append(opts, batch.WithPacer(h.pacer))
	}
	report := h.necessity.ReleaseMany(r.Context(), keys, opts...)
	httputil.WriteJSON(w, http.StatusOK, batchResponse(report))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleCoordination) {
		return
	}

	var req groupKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.toKey()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	lines, err := h.necessity.Finalize(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, releaseResponse{
		Group:    key.String(),
		Released: len(lines),
	})
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var req correctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.Group.toKey()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	lines, err := h.necessity.Correct(r.Context(), key, req.toInput())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	role := requestcontext.Role(r.Context())
	projected := make([]models.ProjectedLine, 0, len(lines))
	for _, line := range lines {
		projected = append(projected, models.Project(line, role))
	}
	httputil.WriteJSON(w, http.StatusOK, projected)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rows, err := h.necessity.Export(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="necessities.csv"`)
		if err := service.WriteCSV(w, rows); err != nil {
			h.logger.ErrorContext(r.Context(), "csv export failed", "error", err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var req importRequest
	if !h.decode(w, r, &req) {
		return
	}

	var opts []batch.Option
	if h.pacer != nil {
		opts = append(opts, batch.WithPacer(h.pacer))
	}
	report, err := h.necessity.Import(r.Context(), req.Rows, opts...)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist, models.RoleCoordination) {
		return
	}

	productID, err := id.ParseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid product id"))
		return
	}

	candidates, err := h.substitutions.Candidates(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidates)
}

func (h *Handler) handleApplySubstitution(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	var req applySubstitutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.Group.toKey()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	lines, err := h.substitutions.Apply(r.Context(), key, req.Mapping)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	role := requestcontext.Role(r.Context())
	projected := make([]models.ProjectedLine, 0, len(lines))
	for _, line := range lines {
		projected = append(projected, models.Project(line, role))
	}
	httputil.WriteJSON(w, http.StatusOK, projected)
}

func (h *Handler) handleUndoSubstitution(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, models.RoleNutritionist) {
		return
	}

	lineID, err := id.ParseLineID(chi.URLParam(r, "lineID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid line id"))
		return
	}

	line, err := h.substitutions.Undo(r.Context(), lineID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.Project(line, requestcontext.Role(r.Context())))
}

// filterFromQuery compiles list query parameters into a store filter.
func filterFromQuery(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	var filter store.ListFilter

	if v := q.Get("school_id"); v != "" {
		schoolID, err := id.ParseSchoolID(v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid school_id")
		}
		filter.SchoolID = &schoolID
	}
	if v := q.Get("product_id"); v != "" {
		productID, err := id.ParseProductID(v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid product_id")
		}
		filter.OriginProductID = &productID
	}
	if v := q.Get("consumption_week"); v != "" {
		week, err := parseWeekParam(v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid consumption_week")
		}
		filter.ConsumptionWeek = &week
	}
	if v := q.Get("supply_week"); v != "" {
		week, err := parseWeekParam(v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid supply_week")
		}
		filter.SupplyWeek = &week
	}
	for _, v := range q["status"] {
		status := models.Status(v)
		if !status.Valid() {
			return filter, dErrors.Newf(dErrors.CodeBadRequest, "unknown status %q", v)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	filter.ExcludeFinalized = q.Get("exclude_finalized") == "true"
	filter.CorrectionView = q.Get("view") == "correction"
	filter.IncludeExcluded = q.Get("include_excluded") == "true"
	return filter, nil
}

// parseWeekParam accepts either the bare ISO Monday date or the full
// labeled form.
func parseWeekParam(v string) (weekrange.WeekRange, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return weekrange.FromStart(t.UTC())
	}
	return weekrange.Parse(v)
}
