/*
conflict.go - Conflict query service over the stay ledger

PURPOSE:
  Read-only lookup answering one question: which nights in a range is
  this employee already billed as lodging under a different bill?

TWO CALLING MODES:
  1. Advisory: the UI calls Check per candidate employee before
     submission to render warnings. Purely informational; a transient
     failure here degrades to "unknown" and is never a reason to skip
     the authoritative check.
  2. Authoritative: the Coordinator calls Check on the tx-scoped store
     inside the commit transaction. That result is binding.

RESULT SHAPE:
  One ConflictRecord per occupied night, ascending by date. Records are
  deliberately NOT deduplicated across days: if the same other bill
  occupies three consecutive nights, three records come back, because
  each night is independently actionable for the caller.

SEE ALSO:
  - store.go: FindStayOwners contract (exclusion-agnostic)
  - coordinator.go: Authoritative re-check at commit time
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// ConflictRecord explains one already-occupied night to a human: the
// date, the owning bill and enough of its header to resolve the clash.
type ConflictRecord struct {
	Date        Date
	BillID      string
	InvoiceNo   string
	HotelName   string
	Location    string
	CheckIn     Date
	CheckOut    Date
	RoomCount   int
	Total       decimal.Decimal
	SubmittedBy string
}

// ConflictQuery answers day-level occupancy questions. Pure read; safe
// to run concurrently with anything.
type ConflictQuery struct {
	store Store
}

// NewConflictQuery creates a conflict query over the given store. Pass a
// tx-scoped store to make the answer authoritative for that transaction.
func NewConflictQuery(store Store) *ConflictQuery {
	return &ConflictQuery{store: store}
}

// Check returns every night in [rangeStart, rangeEnd) already owned by a
// bill other than excludeBillID for the employee, ascending by date.
// excludeBillID may be empty (create path): then every owner conflicts.
//
// Fails with ErrInvalidRange when the range is empty or inverted and
// with ErrEmployeeNotFound when the employee is unknown or inactive.
func (q *ConflictQuery) Check(ctx context.Context, employeeID string, rangeStart, rangeEnd Date, excludeBillID string) ([]ConflictRecord, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, ErrInvalidRange
	}
	emp, err := q.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if !emp.Active {
		return nil, ErrEmployeeNotFound
	}

	var records []ConflictRecord
	for _, day := range ExpandRange(rangeStart, rangeEnd) {
		owners, err := q.store.FindStayOwners(ctx, employeeID, day)
		if err != nil {
			return nil, err
		}
		for _, owner := range owners {
			if excludeBillID != "" && owner.BillID == excludeBillID {
				continue
			}
			records = append(records, ConflictRecord{
				Date:        day,
				BillID:      owner.BillID,
				InvoiceNo:   owner.InvoiceNo,
				HotelName:   owner.HotelName,
				Location:    owner.Location,
				CheckIn:     owner.CheckIn,
				CheckOut:    owner.CheckOut,
				RoomCount:   owner.RoomCount,
				Total:       owner.Total,
				SubmittedBy: owner.SubmittedBy,
			})
		}
	}
	return records, nil
}
