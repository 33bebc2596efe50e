/*
handlers.go - HTTP API handlers for the franchise billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service and billing.Sweeper.

ENDPOINTS:
  Franchises:
    GET    /api/franchises              List franchise configurations
    POST   /api/franchises              Create or replace a franchise (factory JSON)
    GET    /api/franchises/{id}         Get franchise with units
    POST   /api/franchises/{id}/units   Add or update a unit

  Revenue:
    POST   /api/revenue                 Record a gross revenue entry

  Obligations:
    GET    /api/obligations             List (franchise_id, unit_id, kind, status, year, month, as_of, limit)
    POST   /api/obligations             Create a manual obligation
    GET    /api/obligations/{id}        Get obligation
    GET    /api/obligations/{id}/series Recurrence chain of the obligation
    GET    /api/obligations/{id}/ledger Payment and refund entries
    POST   /api/obligations/{id}/submit|pay|late-fee|adjustment|dispute|resolve|cancel|refund|next

  Billing:
    POST   /api/billing/sweep           Generate obligations for a month
    GET    /api/billing/runs            Sweep audit log

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access for franchises, revenue and sweep runs
  - Service: Obligation lifecycle, every mutation in one transaction
  - Sweeper: Monthly generation
  - Configs: Rate cache, flushed whenever franchise configuration changes

ERROR HANDLING:
  writeServiceError maps billing errors to HTTP status:
  - 400: Validation errors, missing rate configuration
  - 404: Obligation or franchise not found
  - 409: Invalid state transition, duplicate, concurrent modification,
         duplicate idempotency key, sweep already running
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/factory"
	"github.com/warp/franchise-billing/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *billing.Service
	Sweeper *billing.Sweeper
	Factory *factory.FranchiseFactory

	// Configs is flushed on every franchise or unit write. Optional.
	Configs *billing.CachedConfigProvider

	// Policy fills late-fee rate and grace days a franchise doesn't override.
	Policy billing.Policy
	Log    *zap.SugaredLogger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the store, service and sweeper.
func NewHandler(store *sqlite.Store, svc *billing.Service, sweeper *billing.Sweeper) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:    store,
		Service:  svc,
		Sweeper:  sweeper,
		Factory:  factory.NewFranchiseFactory(),
		Policy:   billing.DefaultPolicy,
		Log:      zap.NewNop().Sugar(),
		validate: v,
	}
}

func (h *Handler) now() time.Time {
	if h.Service != nil && h.Service.Now != nil {
		return h.Service.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) invalidateConfigs() {
	if h.Configs != nil {
		h.Configs.Invalidate()
	}
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &billing.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &billing.ValidationError{Field: fe.Field(), Message: "failed '" + fe.Tag() + "' check"}
		}
		return &billing.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func obligationID(r *http.Request) billing.ObligationID {
	return billing.ObligationID(chi.URLParam(r, "id"))
}

// =============================================================================
// FRANCHISE HANDLERS
// =============================================================================

// ListFranchises returns all franchises with their units.
func (h *Handler) ListFranchises(w http.ResponseWriter, r *http.Request) {
	franchises, err := h.Store.ListFranchises(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list franchises", err)
		return
	}

	dtos := make([]factory.FranchiseJSON, 0, len(franchises))
	for _, f := range franchises {
		units, err := h.Store.ListUnits(r.Context(), f.FranchiseID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list units", err)
			return
		}
		dtos = append(dtos, h.Factory.ToJSON(f, units))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetFranchise returns a single franchise.
func (h *Handler) GetFranchise(w http.ResponseWriter, r *http.Request) {
	id := billing.FranchiseID(chi.URLParam(r, "id"))

	f, err := h.Store.GetFranchise(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	units, err := h.Store.ListUnits(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}

	writeJSON(w, http.StatusOK, h.Factory.ToJSON(*f, units))
}

// SaveFranchise creates or replaces a franchise and its listed units.
func (h *Handler) SaveFranchise(w http.ResponseWriter, r *http.Request) {
	var req factory.FranchiseJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, units, err := h.Factory.FromJSON(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveFranchise(ctx, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save franchise", err)
		return
	}
	for _, u := range units {
		if err := h.Store.SaveUnit(ctx, u); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save unit", err)
			return
		}
	}
	h.invalidateConfigs()

	all, err := h.Store.ListUnits(ctx, cfg.FranchiseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(cfg, all))
}

// AddUnit adds a unit to an existing franchise.
func (h *Handler) AddUnit(w http.ResponseWriter, r *http.Request) {
	var req UnitRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	u := billing.Unit{
		ID:          billing.UnitID(req.ID),
		FranchiseID: billing.FranchiseID(chi.URLParam(r, "id")),
		Name:        req.Name,
		OwnerID:     billing.PartyID(req.OwnerID),
		Active:      req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveUnit(r.Context(), u); err != nil {
		writeServiceError(w, err)
		return
	}
	h.invalidateConfigs()

	active := u.Active
	writeJSON(w, http.StatusCreated, factory.UnitJSON{
		ID:      string(u.ID),
		Name:    u.Name,
		OwnerID: string(u.OwnerID),
		Active:  &active,
	})
}

// RecordRevenue stores a gross revenue entry used by the sweep.
func (h *Handler) RecordRevenue(w http.ResponseWriter, r *http.Request) {
	var req RevenueRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	d, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeServiceError(w, &billing.ValidationError{Field: "date", Message: "use YYYY-MM-DD"})
		return
	}

	e, err := h.Store.RecordRevenue(r.Context(), billing.RevenueEntry{
		Scope:  billing.Scope{FranchiseID: billing.FranchiseID(req.FranchiseID), UnitID: billing.UnitID(req.UnitID)},
		Day:    d,
		Amount: req.Amount,
		Source: req.Source,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RevenueDTO{
		ID:          e.ID,
		FranchiseID: string(e.Scope.FranchiseID),
		UnitID:      string(e.Scope.UnitID),
		Date:        day(e.Day),
		Amount:      money(e.Amount),
		Source:      e.Source,
	})
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// ListObligations returns obligations matching the query filters.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if filter.AsOf.IsZero() {
		filter.AsOf = h.now()
	}

	list, err := h.Service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toObligationDTOs(list, filter.AsOf))
}

func parseFilter(r *http.Request) (billing.ObligationFilter, error) {
	q := r.URL.Query()
	f := billing.ObligationFilter{
		FranchiseID: billing.FranchiseID(q.Get("franchise_id")),
		Kind:        billing.Kind(q.Get("kind")),
		Status:      billing.Status(q.Get("status")),
	}
	if q.Has("unit_id") {
		u := billing.UnitID(q.Get("unit_id"))
		f.UnitID = &u
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return f, &billing.ValidationError{Field: "kind", Message: "unknown kind " + string(f.Kind)}
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &billing.ValidationError{Field: "status", Message: "unknown status " + string(f.Status)}
	}

	ints := map[string]*int{"year": &f.Year, "limit": &f.Limit}
	var month int
	ints["month"] = &month
	for name, dst := range ints {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, &billing.ValidationError{Field: name, Message: "must be a non-negative integer"}
		}
		*dst = n
	}
	if month > 12 {
		return f, &billing.ValidationError{Field: "month", Message: "must be within [1,12]"}
	}
	f.Month = time.Month(month)

	if raw := q.Get("as_of"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return f, &billing.ValidationError{Field: "as_of", Message: "use YYYY-MM-DD"}
		}
		f.AsOf = t
	}
	return f, nil
}

// GetObligation returns a single obligation.
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Get(r.Context(), obligationID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// GetSeries returns the recurrence chain the obligation belongs to.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Series(r.Context(), obligationID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(list, h.now()))
}

// GetLedger returns payment and refund entries of an obligation.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := obligationID(r)
	entries, err := h.Service.Ledger(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LedgerResponse{
		ObligationID: string(id),
		Entries: lo.Map(entries, func(e billing.LedgerEntry, _ int) LedgerEntryDTO {
			return LedgerEntryDTO{
				ID:        string(e.ID),
				Type:      string(e.Type),
				Amount:    money(e.Amount),
				Method:    e.Method,
				Reference: e.Reference,
				CreatedAt: e.CreatedAt,
			}
		}),
		NetCollected: money(billing.NetCollected(entries)),
	})
}

// CreateObligation creates a manual obligation. Rates, policy, frequency
// and party default to the franchise configuration when it exists.
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req CreateObligationRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	in, err := h.buildInput(r, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	o, err := h.Service.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationDTO(*o, h.now()))
}

func (h *Handler) buildInput(r *http.Request, req CreateObligationRequest) (billing.NewObligationInput, error) {
	scope := billing.Scope{FranchiseID: billing.FranchiseID(req.FranchiseID), UnitID: billing.UnitID(req.UnitID)}
	in := billing.NewObligationInput{
		Kind:          billing.Kind(req.Kind),
		FranchiseID:   scope.FranchiseID,
		UnitID:        scope.UnitID,
		PartyID:       billing.PartyID(req.PartyID),
		PartyType:     billing.PartyType(req.PartyType),
		Frequency:     billing.Frequency(req.Frequency),
		Year:          req.Year,
		Month:         time.Month(req.Month),
		Quarter:       req.Quarter,
		GrossAmount:   req.GrossAmount,
		RoyaltyPct:    req.RoyaltyPct,
		MarketingPct:  req.MarketingPct,
		TechnologyFee: req.TechnologyFee,
		Policy:        h.Policy,
		Draft:         req.Draft,
		Notes:         req.Notes,
		Attachments:   req.Attachments,
		CreatedBy:     req.CreatedBy,
	}

	sc, err := h.Store.ScopeConfig(r.Context(), scope)
	switch {
	case err == nil:
		f := sc.Franchise
		in.RoyaltyPct = lo.Ternary(in.RoyaltyPct == nil, f.RoyaltyPct, in.RoyaltyPct)
		in.MarketingPct = lo.Ternary(in.MarketingPct == nil, f.MarketingPct, in.MarketingPct)
		in.TechnologyFee = lo.Ternary(in.TechnologyFee == nil, f.TechnologyFee, in.TechnologyFee)
		if in.Frequency == "" {
			in.Frequency = f.BillingFrequency()
		}
		if in.PartyID == "" {
			in.PartyID = sc.PartyID
		}
		in.Policy = f.Policy(h.Policy)
	case !errors.Is(err, billing.ErrNotFound):
		return in, err
	}

	if in.Frequency == billing.FrequencyQuarterly && in.Quarter == 0 && in.Month != 0 {
		in.Quarter = billing.QuarterOf(in.Month)
	}
	if req.LateFeeRate != nil {
		in.Policy.LateFeeRate = *req.LateFeeRate
	}
	if req.GracePeriodDays != nil {
		in.Policy.GracePeriodDays = *req.GracePeriodDays
	}
	if req.DueDate != "" {
		d, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			return in, &billing.ValidationError{Field: "due_date", Message: "use YYYY-MM-DD"}
		}
		in.DueDate = &d
	}
	if req.Recurrence != nil {
		rec := &billing.Recurrence{Type: billing.RecurrenceType(req.Recurrence.Type), Interval: req.Recurrence.Interval}
		if req.Recurrence.EndDate != "" {
			end, err := time.Parse(dateLayout, req.Recurrence.EndDate)
			if err != nil {
				return in, &billing.ValidationError{Field: "end_date", Message: "use YYYY-MM-DD"}
			}
			rec.EndDate = &end
		}
		in.Recurrence = rec
	}
	return in, nil
}

// SubmitObligation moves a draft to pending.
func (h *Handler) SubmitObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Submit(r.Context(), obligationID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// PayObligation marks an obligation paid.
func (h *Handler) PayObligation(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	o, err := h.Service.MarkPaid(r.Context(), obligationID(r), req.PaymentMethod, req.PaymentReference)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// ApplyLateFee applies the late fee to an overdue obligation.
func (h *Handler) ApplyLateFee(w http.ResponseWriter, r *http.Request) {
	o, applied, err := h.Service.CalculateLateFee(r.Context(), obligationID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LateFeeResponse{Obligation: toObligationDTO(*o, h.now()), Applied: applied})
}

// AdjustObligation replaces the adjustment of an unpaid obligation.
func (h *Handler) AdjustObligation(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	o, err := h.Service.AddAdjustment(r.Context(), obligationID(r), req.Amount, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// DisputeObligation opens a dispute.
func (h *Handler) DisputeObligation(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	o, err := h.Service.Dispute(r.Context(), obligationID(r), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// ResolveDispute returns a disputed obligation to pending.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	o, err := h.Service.ResolveDispute(r.Context(), obligationID(r), req.Resolution)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// CancelObligation cancels an unpaid obligation.
func (h *Handler) CancelObligation(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	o, err := h.Service.Cancel(r.Context(), obligationID(r), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(*o, h.now()))
}

// RefundObligation refunds a paid obligation with a reversal record.
func (h *Handler) RefundObligation(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	original, reversal, err := h.Service.Refund(r.Context(), obligationID(r), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusCreated, RefundResponse{
		Original: toObligationDTO(*original, now),
		Reversal: toObligationDTO(*reversal, now),
	})
}

// GenerateNext creates the next occurrence of a recurring obligation.
func (h *Handler) GenerateNext(w http.ResponseWriter, r *http.Request) {
	o, created, err := h.Service.GenerateNext(r.Context(), obligationID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if o == nil {
		writeJSON(w, http.StatusOK, NextResponse{Terminated: true})
		return
	}
	dto := toObligationDTO(*o, h.now())
	writeJSON(w, lo.Ternary(created, http.StatusCreated, http.StatusOK), NextResponse{Obligation: &dto, Created: created})
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// TriggerSweep runs the monthly sweep for the requested month.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := h.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	report, err := h.Sweeper.GenerateMonthlyObligations(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// ListSweepRuns returns the sweep audit log, optionally filtered by status.
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.GetSweepRuns(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sweep runs", err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(runs, func(run billing.SweepRun, _ int) SweepRunDTO {
		return SweepRunDTO{
			ID:          run.ID,
			Year:        run.Year,
			Month:       int(run.Month),
			Status:      run.Status,
			Created:     run.Created,
			Skipped:     run.Skipped,
			Failed:      run.Failed,
			Error:       run.Error,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		}
	}))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.invalidateConfigs()

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a billing error to its status and structured body.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr *billing.ValidationError
		terr *billing.InvalidStateTransitionError
		derr *billing.DuplicateObligationError
		cerr *billing.ConfigurationMissingError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "validation_error",
			Details: map[string]string{"field": verr.Field, "message": verr.Message},
		})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_state_transition",
			Details: map[string]string{
				"obligation_id":  string(terr.ObligationID),
				"current_status": string(terr.Current),
				"operation":      terr.Operation,
			},
		})
	case errors.As(err, &derr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "duplicate_obligation",
			Details: map[string]string{"existing_id": string(derr.ExistingID)},
		})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "configuration_missing",
			Details: map[string]string{"franchise_id": string(cerr.FranchiseID), "field": cerr.Field},
		})
	case billing.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "not_found"})
	case billing.IsRetryable(err):
		code := "concurrent_modification"
		if errors.Is(err, billing.ErrLockNotObtained) {
			code = "sweep_in_progress"
		}
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: code})
	case errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_idempotency_key"})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
