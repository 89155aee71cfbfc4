/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the Coordinator, not in DTOs.
  DTOs are pure data carriers. Dates travel as YYYY-MM-DD strings,
  amounts as decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/lodging-ledger/billing"
)

// =============================================================================
// CONFLICT CHECK
// =============================================================================

// ConflictCheckRequest asks whether an employee is already lodged
// anywhere in [check_in, check_out). exclude_bill_id carries the bill
// being edited so its own nights don't conflict with themselves.
type ConflictCheckRequest struct {
	EmployeeID    string `json:"employee_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	ExcludeBillID string `json:"exclude_bill_id,omitempty"`
}

// ConflictDTO is one already-occupied night.
type ConflictDTO struct {
	Date        string `json:"date"`
	BillID      string `json:"bill_id"`
	InvoiceNo   string `json:"invoice_no"`
	HotelName   string `json:"hotel_name"`
	Location    string `json:"location,omitempty"`
	CheckIn     string `json:"bill_check_in"`
	CheckOut    string `json:"bill_check_out"`
	RoomCount   int    `json:"bill_room_count"`
	Total       string `json:"bill_total_amount"`
	SubmittedBy string `json:"submitted_by"`
}

// ConflictCheckResponse is the advisory answer. It is informational
// only; the commit path re-checks everything authoritatively.
type ConflictCheckResponse struct {
	Conflicts     []ConflictDTO `json:"conflicts"`
	ConflictCount int           `json:"conflict_count"`
	HasConflicts  bool          `json:"has_conflicts"`
}

// =============================================================================
// BILLS
// =============================================================================

// EmployeeStayRequest is one employee's sub-range on a submission.
type EmployeeStayRequest struct {
	EmployeeID string `json:"employee_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
}

// SubmitBillRequest is the body for bill create and edit.
type SubmitBillRequest struct {
	InvoiceNo string                `json:"invoice_no"`
	HotelID   string                `json:"hotel_id"`
	CheckIn   string                `json:"check_in"`
	CheckOut  string                `json:"check_out"`
	RoomCount int                   `json:"room_count"`
	Water     string                `json:"water"`
	Washing   string                `json:"washing"`
	Service   string                `json:"service"`
	Misc      string                `json:"misc"`
	MiscNote  string                `json:"misc_note,omitempty"`
	Employees []EmployeeStayRequest `json:"employees"`
}

// BillDTO represents a bill header in API responses.
type BillDTO struct {
	ID          string `json:"id"`
	InvoiceNo   string `json:"invoice_no"`
	HotelID     string `json:"hotel_id"`
	RateID      string `json:"rate_id"`
	CheckIn     string `json:"check_in"`
	CheckOut    string `json:"check_out"`
	RoomCount   int    `json:"room_count"`
	Water       string `json:"water"`
	Washing     string `json:"washing"`
	Service     string `json:"service"`
	Misc        string `json:"misc"`
	MiscNote    string `json:"misc_note,omitempty"`
	BaseAmount  string `json:"base_amount"`
	TotalAmount string `json:"total_amount"`
	Status      string `json:"status"`
	SubmittedBy string `json:"submitted_by"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// StayDTO is one ledger row under a bill.
type StayDTO struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
}

// BillDetailResponse is a header plus its ledger rows.
type BillDetailResponse struct {
	Bill  BillDTO   `json:"bill"`
	Stays []StayDTO `json:"stays"`
}

// DeleteBillRequest guards deletion behind an explicit confirmation
// flag; the id alone is not enough.
type DeleteBillRequest struct {
	Confirm bool `json:"confirm"`
}

// DeleteBillResponse reports what went away.
type DeleteBillResponse struct {
	DeletedBillID          string `json:"deleted_bill_id"`
	InvoiceNo              string `json:"invoice_no"`
	DeletedAssignmentCount int    `json:"deleted_assignment_count"`
}

// =============================================================================
// REFERENCE DATA AND AUDIT
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Active bool   `json:"active"`
}

// HotelDTO represents a hotel with its current nightly rate, when one
// is configured.
type HotelDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location,omitempty"`
	NightlyRate string `json:"nightly_rate,omitempty"`
}

// AuditEntryDTO is one audit log row.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	RecordID  string         `json:"record_id"`
	Summary   map[string]any `json:"summary,omitempty"`
	Actor     string         `json:"actor"`
	CreatedAt string         `json:"created_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Details  string       `json:"details,omitempty"`
	Conflict *ConflictDTO `json:"conflict,omitempty"`
	Employee string       `json:"employee,omitempty"`
}

func toBillDTO(b *billing.Bill) BillDTO {
	return BillDTO{
		ID:          b.ID,
		InvoiceNo:   b.InvoiceNo,
		HotelID:     b.HotelID,
		RateID:      b.RateID,
		CheckIn:     b.CheckIn.String(),
		CheckOut:    b.CheckOut.String(),
		RoomCount:   b.RoomCount,
		Water:       b.Water.String(),
		Washing:     b.Washing.String(),
		Service:     b.Service.String(),
		Misc:        b.Misc.String(),
		MiscNote:    b.MiscNote,
		BaseAmount:  b.BaseAmount.String(),
		TotalAmount: b.Total.String(),
		Status:      string(b.Status),
		SubmittedBy: b.SubmittedBy,
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
}

func toConflictDTO(c billing.ConflictRecord) ConflictDTO {
	return ConflictDTO{
		Date:        c.Date.String(),
		BillID:      c.BillID,
		InvoiceNo:   c.InvoiceNo,
		HotelName:   c.HotelName,
		Location:    c.Location,
		CheckIn:     c.CheckIn.String(),
		CheckOut:    c.CheckOut.String(),
		RoomCount:   c.RoomCount,
		Total:       c.Total.String(),
		SubmittedBy: c.SubmittedBy,
	}
}
