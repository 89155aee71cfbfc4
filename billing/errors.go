/*
errors.go - Centralized error types for the billing subsystem

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels; the structured
  types carry enough context to resolve the failure without a
  follow-up query.

ERROR CATEGORIES:
  1. Validation errors - malformed input, bad ranges, capacity
  2. Conflict errors   - double-booking found at the authoritative check
  3. Not-found errors  - missing bill/employee/hotel/rate
  4. Policy errors     - mutation of a non-pending bill

PROPAGATION POLICY:
  The Coordinator never partially commits: every error path rolls the
  whole transaction back and returns exactly one of these errors.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all local input failures. Never
	// partially applied.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidRange is returned when a date range is empty or inverted.
	ErrInvalidRange = errors.New("invalid range: check-out must be after check-in")

	// ErrInvalidEmployeeRange is returned when an employee sub-range does
	// not nest inside the bill's range or is itself inverted.
	ErrInvalidEmployeeRange = errors.New("invalid employee stay range")

	// ErrCapacityExceeded is returned when more than two employees per
	// room are assigned.
	ErrCapacityExceeded = errors.New("capacity exceeded: at most two employees per room")

	// ErrDuplicateInvoice is returned when the invoice number is already
	// used by a different bill.
	ErrDuplicateInvoice = errors.New("duplicate invoice number")

	// ErrConflictDetected is returned when an employee is already billed
	// as lodging elsewhere on an overlapping night.
	ErrConflictDetected = errors.New("stay conflict detected")

	// ErrDuplicateStayFact is returned when an identical (employee, date)
	// fact already exists for the same bill. The workflow should never
	// produce this; it is a defined error rather than a silent no-op.
	ErrDuplicateStayFact = errors.New("duplicate stay fact for bill")

	// ErrEmployeeNotFound is returned for unknown or inactive employees.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrHotelNotFound is returned for unknown hotels.
	ErrHotelNotFound = errors.New("hotel not found")

	// ErrBillNotFound is returned for unknown bills.
	ErrBillNotFound = errors.New("bill not found")

	// ErrRateNotConfigured is returned when a hotel has no current rate.
	ErrRateNotConfigured = errors.New("hotel has no current rate configured")

	// ErrNotEditable is returned when mutating a bill that is no longer
	// pending.
	ErrNotEditable = errors.New("bill is not editable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a single bad header field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EmployeeRangeError names the employee whose sub-range failed to nest
// inside the bill's range.
type EmployeeRangeError struct {
	EmployeeID   string
	EmployeeName string
	CheckIn      Date
	CheckOut     Date
	Reason       string
}

func (e *EmployeeRangeError) Error() string {
	return fmt.Sprintf("employee %s (%s): %s [%s, %s)",
		e.EmployeeName, e.EmployeeID, e.Reason, e.CheckIn, e.CheckOut)
}

func (e *EmployeeRangeError) Unwrap() error { return ErrInvalidEmployeeRange }

// ConflictError reports a double-booking found by the authoritative
// re-check. It carries the employee, the conflicting invoice, hotel and
// date so the caller can resolve the conflict without another round trip.
type ConflictError struct {
	EmployeeID   string
	EmployeeName string
	Date         Date
	BillID       string
	InvoiceNo    string
	HotelName    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("employee %s already lodged on %s under invoice %s at %s",
		e.EmployeeName, e.Date, e.InvoiceNo, e.HotelName)
}

func (e *ConflictError) Unwrap() error { return ErrConflictDetected }
