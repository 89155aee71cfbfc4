/*
handlers.go - HTTP API handlers for the lodging billing subsystem

PURPOSE:
  Exposes the occupancy ledger, the advisory conflict check and the
  bill transaction coordinator via REST. Handles HTTP request/response
  and JSON serialization, and delegates everything else to the domain.

ENDPOINTS:
  Conflicts:
    POST   /api/conflicts/check   Advisory availability check

  Bills:
    GET    /api/bills             List bill headers
    POST   /api/bills             Create a bill (atomic commit)
    GET    /api/bills/{id}        Header plus ledger rows
    PUT    /api/bills/{id}        Edit a bill (full ledger replace)
    DELETE /api/bills/{id}        Delete (requires confirm flag)

  Reference:
    GET    /api/employees         Employee lookup
    GET    /api/hotels            Hotels with current rates
    GET    /api/audit             Recent audit entries

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, bad dates, capacity exceeded
  - 404: Employee/hotel/bill/rate not found
  - 409: Conflict detected, duplicate invoice, not editable
  - 500: Internal errors

TRUST MODEL:
  The advisory check result is never forwarded into the commit path;
  a failed advisory call degrades to "unknown" in the caller's UI and
  the Coordinator re-checks from scratch regardless.

IDENTITY:
  The authenticated user id arrives from the external auth layer in
  the X-Actor-Id header and is carried through the request context
  (see server.go). No session or login handling lives here.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/lodging-ledger/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditLister is implemented by stores that can page the audit log.
type AuditLister interface {
	ListAudit(ctx context.Context, limit int) ([]billing.AuditEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       billing.TxStore
	Coordinator *billing.Coordinator
	Conflicts   *billing.ConflictQuery
}

// NewHandler creates a new handler over the given store.
func NewHandler(store billing.TxStore) *Handler {
	return &Handler{
		Store:       store,
		Coordinator: billing.NewCoordinator(store),
		Conflicts:   billing.NewConflictQuery(store),
	}
}

// =============================================================================
// CONFLICT CHECK (advisory)
// =============================================================================

// CheckConflicts runs the advisory availability check for one employee.
// Malformed input is a rejection, never an empty conflict list.
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	checkIn, err := billing.ParseDate(req.CheckIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid check_in date (use YYYY-MM-DD)", err)
		return
	}
	checkOut, err := billing.ParseDate(req.CheckOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid check_out date (use YYYY-MM-DD)", err)
		return
	}

	conflicts, err := h.Conflicts.Check(r.Context(), req.EmployeeID, checkIn, checkOut, req.ExcludeBillID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ConflictDTO, len(conflicts))
	for i, c := range conflicts {
		dtos[i] = toConflictDTO(c)
	}
	writeJSON(w, http.StatusOK, ConflictCheckResponse{
		Conflicts:     dtos,
		ConflictCount: len(dtos),
		HasConflicts:  len(dtos) > 0,
	})
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// CreateBill commits a new bill with its stay assignments.
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	h.submitBill(w, r, "")
}

// UpdateBill edits an existing bill. The ledger rows are fully
// replaced; the bill's own prior nights never conflict with themselves.
func (h *Handler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	h.submitBill(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) submitBill(w http.ResponseWriter, r *http.Request, billID string) {
	var req SubmitBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	input, stays, err := parseSubmit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	bill, err := h.Coordinator.CommitBill(r.Context(), input, stays, billID, actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if billID != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, toBillDTO(bill))
}

// ListBills returns all bill headers, newest first.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.Store.ListBills(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bills", err)
		return
	}
	dtos := make([]BillDTO, len(bills))
	for i := range bills {
		dtos[i] = toBillDTO(&bills[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBill returns a bill header with its ledger rows.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bill, err := h.Store.GetBill(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stays, err := h.Store.ListStaysByBill(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stays", err)
		return
	}
	stayDTOs := make([]StayDTO, len(stays))
	for i, s := range stays {
		stayDTOs[i] = StayDTO{EmployeeID: s.EmployeeID, Date: s.Date.String()}
	}
	writeJSON(w, http.StatusOK, BillDetailResponse{Bill: toBillDTO(bill), Stays: stayDTOs})
}

// DeleteBill removes a bill and its ledger rows. The confirm flag is
// required so a stray id alone cannot delete anything.
func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	var req DeleteBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "Deletion requires confirm=true", nil)
		return
	}

	result, err := h.Coordinator.DeleteBill(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteBillResponse{
		DeletedBillID:          result.Bill.ID,
		InvoiceNo:              result.Bill.InvoiceNo,
		DeletedAssignmentCount: result.DeletedStays,
	})
}

// =============================================================================
// REFERENCE DATA AND AUDIT
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = EmployeeDTO{ID: e.ID, Name: e.Name, Email: e.Email, Active: e.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListHotels returns all hotels with their current nightly rate.
func (h *Handler) ListHotels(w http.ResponseWriter, r *http.Request) {
	hotels, err := h.Store.ListHotels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hotels", err)
		return
	}
	dtos := make([]HotelDTO, len(hotels))
	for i, hotel := range hotels {
		dto := HotelDTO{ID: hotel.ID, Name: hotel.Name, Location: hotel.Location}
		if rate, err := h.Store.CurrentRate(r.Context(), hotel.ID); err == nil {
			dto.NightlyRate = rate.Nightly.String()
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAudit returns recent audit entries, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.Store.(AuditLister)
	if !ok {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}
	entries, err := lister.ListAudit(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Action:    e.Action,
			RecordID:  e.RecordID,
			Summary:   e.Summary,
			Actor:     e.Actor,
			CreatedAt: formatTime(e.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseSubmit(req SubmitBillRequest) (billing.BillInput, []billing.EmployeeStay, error) {
	var input billing.BillInput
	var err error
	if input.CheckIn, err = billing.ParseDate(req.CheckIn); err != nil {
		return input, nil, fmt.Errorf("invalid check_in date (use YYYY-MM-DD)")
	}
	if input.CheckOut, err = billing.ParseDate(req.CheckOut); err != nil {
		return input, nil, fmt.Errorf("invalid check_out date (use YYYY-MM-DD)")
	}
	input.InvoiceNo = req.InvoiceNo
	input.HotelID = req.HotelID
	input.RoomCount = req.RoomCount
	input.MiscNote = req.MiscNote
	charges := []struct {
		name   string
		raw    string
		target *decimal.Decimal
	}{
		{"water", req.Water, &input.Water},
		{"washing", req.Washing, &input.Washing},
		{"service", req.Service, &input.Service},
		{"misc", req.Misc, &input.Misc},
	}
	for _, c := range charges {
		if c.raw == "" {
			*c.target = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(c.raw)
		if err != nil {
			return input, nil, fmt.Errorf("invalid %s amount %q", c.name, c.raw)
		}
		*c.target = d
	}

	stays := make([]billing.EmployeeStay, 0, len(req.Employees))
	for _, e := range req.Employees {
		in, err := billing.ParseDate(e.CheckIn)
		if err != nil {
			return input, nil, fmt.Errorf("invalid check_in for employee %s", e.EmployeeID)
		}
		out, err := billing.ParseDate(e.CheckOut)
		if err != nil {
			return input, nil, fmt.Errorf("invalid check_out for employee %s", e.EmployeeID)
		}
		stays = append(stays, billing.EmployeeStay{EmployeeID: e.EmployeeID, CheckIn: in, CheckOut: out})
	}
	return input, stays, nil
}

// writeDomainError maps domain errors onto HTTP statuses. Conflict
// errors carry the structured payload so the caller can resolve the
// clash without a follow-up query.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflictErr *billing.ConflictError
	if errors.As(err, &conflictErr) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "Stay conflict detected",
			Details:  conflictErr.Error(),
			Employee: conflictErr.EmployeeName,
			Conflict: &ConflictDTO{
				Date:      conflictErr.Date.String(),
				BillID:    conflictErr.BillID,
				InvoiceNo: conflictErr.InvoiceNo,
				HotelName: conflictErr.HotelName,
			},
		})
		return
	}

	switch {
	case errors.Is(err, billing.ErrValidation),
		errors.Is(err, billing.ErrInvalidRange),
		errors.Is(err, billing.ErrInvalidEmployeeRange),
		errors.Is(err, billing.ErrCapacityExceeded):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, billing.ErrEmployeeNotFound),
		errors.Is(err, billing.ErrHotelNotFound),
		errors.Is(err, billing.ErrBillNotFound),
		errors.Is(err, billing.ErrRateNotConfigured):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, billing.ErrDuplicateInvoice),
		errors.Is(err, billing.ErrNotEditable),
		errors.Is(err, billing.ErrConflictDetected),
		errors.Is(err, billing.ErrDuplicateStayFact):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
