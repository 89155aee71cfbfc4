/*
coordinator.go - Bill transaction coordinator

PURPOSE:
  The single writer of bill headers and stay assignments. Validates a
  submission, expands every employee's sub-range into nights, re-runs
  the conflict query authoritatively and commits header plus ledger
  rows atomically - or aborts entirely.

COMMIT PROTOCOL (one transaction, in order):
  1. Header validation (fields, range, invoice uniqueness, current
     rate, room capacity)
  2. Amount computation (nights x rooms x rate, plus itemized charges)
  3. Header persist (insert on create, update by id on edit)
  4. Ledger replace (edit only): delete the bill's old facts first -
     edit is a full replace, never an incremental diff
  5. Per-employee validation (sub-range nests inside the bill range)
  6. Authoritative conflict re-check per employee on the tx-scoped
     store; any hit aborts everything
  7. Ledger insert: only after ALL employees pass, every night goes in
  8. Audit entry (side effect, same transaction)

TRUST MODEL:
  Advisory conflict checks the caller may have run beforehand are
  never trusted here. Everything is re-validated from scratch inside
  the transaction; the validate-all-then-insert-all ordering keeps the
  commit all-or-nothing even though checks run employee by employee.
  The ledger's unique (employee, date) index backstops the protocol
  against a concurrent commit that raced past the read.

SEE ALSO:
  - conflict.go: The re-check in step 6
  - store.go: WithTx contract the protocol runs inside
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

// BillInput is a bill submission as received from the workflow layer.
// Amounts and ids are computed here, never supplied by the caller.
type BillInput struct {
	InvoiceNo string
	HotelID   string
	CheckIn   Date
	CheckOut  Date
	RoomCount int
	Water     decimal.Decimal
	Washing   decimal.Decimal
	Service   decimal.Decimal
	Misc      decimal.Decimal
	MiscNote  string
}

// DeleteResult reports what a delete removed, for the caller and the
// audit snapshot.
type DeleteResult struct {
	Bill         Bill
	DeletedStays int
}

// Coordinator owns all bill mutations. Every operation runs inside one
// storage transaction: nothing persists unless everything does.
type Coordinator struct {
	store TxStore
}

// NewCoordinator creates a coordinator over a transactional store.
func NewCoordinator(store TxStore) *Coordinator {
	return &Coordinator{store: store}
}

// =============================================================================
// CREATE / EDIT
// =============================================================================

// CommitBill validates and persists a bill with its stay assignments.
// An empty excludeBillID means create; otherwise the bill with that id
// is edited as a full replace of its ledger rows. actor is the
// authenticated user id, carried explicitly rather than read from any
// ambient state; it becomes SubmittedBy on create and the audit actor
// always.
func (c *Coordinator) CommitBill(ctx context.Context, in BillInput, stays []EmployeeStay, excludeBillID, actor string) (*Bill, error) {
	var committed *Bill
	err := c.store.WithTx(ctx, func(tx Store) error {
		bill, err := c.commitBillTx(ctx, tx, in, stays, excludeBillID, actor)
		if err != nil {
			return err
		}
		committed = bill
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (c *Coordinator) commitBillTx(ctx context.Context, tx Store, in BillInput, stays []EmployeeStay, excludeBillID, actor string) (*Bill, error) {
	// Step 1: header validation.
	if err := validateHeader(in); err != nil {
		return nil, err
	}
	if len(stays) > 0 && len(stays) > in.RoomCount*2 {
		return nil, fmt.Errorf("%w: %d employees for %d rooms (max %d)",
			ErrCapacityExceeded, len(stays), in.RoomCount, in.RoomCount*2)
	}
	inUse, err := tx.InvoiceInUse(ctx, in.InvoiceNo, excludeBillID)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInvoice, in.InvoiceNo)
	}
	if _, err := tx.GetHotel(ctx, in.HotelID); err != nil {
		return nil, err
	}
	rate, err := tx.CurrentRate(ctx, in.HotelID)
	if err != nil {
		return nil, err
	}

	// Step 2: amounts. nights x rooms x nightly rate, plus charges.
	nights := DaysBetween(in.CheckIn, in.CheckOut)
	base := rate.Nightly.
		Mul(decimal.NewFromInt(int64(nights))).
		Mul(decimal.NewFromInt(int64(in.RoomCount)))
	total := base.Add(in.Water).Add(in.Washing).Add(in.Service).Add(in.Misc)

	// Step 3: header persist.
	now := time.Now().UTC()
	var bill *Bill
	var prior *Bill
	if excludeBillID == "" {
		bill = &Bill{
			ID:          uuid.NewString(),
			Status:      StatusPending,
			SubmittedBy: actor,
			CreatedAt:   now,
		}
	} else {
		prior, err = tx.GetBill(ctx, excludeBillID)
		if err != nil {
			return nil, err
		}
		if prior.Status != StatusPending {
			return nil, fmt.Errorf("%w: status is %s", ErrNotEditable, prior.Status)
		}
		// The date range is immutable after creation. Shifting it would
		// re-derive every employee's nights mid-edit; only rooms, charges
		// and assignments may change.
		if !prior.CheckIn.Equal(in.CheckIn) || !prior.CheckOut.Equal(in.CheckOut) {
			return nil, &ValidationError{Field: "check_in", Message: "date range cannot change after creation"}
		}
		cp := *prior
		bill = &cp
	}
	bill.InvoiceNo = in.InvoiceNo
	bill.HotelID = in.HotelID
	bill.RateID = rate.ID
	bill.CheckIn = in.CheckIn
	bill.CheckOut = in.CheckOut
	bill.RoomCount = in.RoomCount
	bill.Water = in.Water
	bill.Washing = in.Washing
	bill.Service = in.Service
	bill.Misc = in.Misc
	bill.MiscNote = in.MiscNote
	bill.BaseAmount = base
	bill.Total = total
	bill.UpdatedAt = now

	if excludeBillID == "" {
		if err := tx.SaveBill(ctx, bill); err != nil {
			return nil, err
		}
	} else {
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return nil, err
		}
	}

	// Step 4: ledger replace (edit only). Full replace by design; the
	// old rows go away before any re-check so the bill never conflicts
	// with its own previous self.
	if excludeBillID != "" {
		if _, err := tx.DeleteStaysByBill(ctx, excludeBillID); err != nil {
			return nil, err
		}
	}

	// Step 5: per-employee validation.
	employees := make(map[string]*Employee, len(stays))
	seen := make(map[string]bool, len(stays))
	for _, stay := range stays {
		emp, err := tx.GetEmployee(ctx, stay.EmployeeID)
		if err != nil {
			return nil, err
		}
		if !emp.Active {
			return nil, fmt.Errorf("%w: %s is inactive", ErrEmployeeNotFound, emp.Name)
		}
		if seen[stay.EmployeeID] {
			return nil, &EmployeeRangeError{
				EmployeeID:   emp.ID,
				EmployeeName: emp.Name,
				CheckIn:      stay.CheckIn,
				CheckOut:     stay.CheckOut,
				Reason:       "employee assigned more than once",
			}
		}
		seen[stay.EmployeeID] = true
		employees[stay.EmployeeID] = emp

		if !stay.CheckOut.After(stay.CheckIn) {
			return nil, &EmployeeRangeError{
				EmployeeID:   emp.ID,
				EmployeeName: emp.Name,
				CheckIn:      stay.CheckIn,
				CheckOut:     stay.CheckOut,
				Reason:       "check-out must be after check-in",
			}
		}
		if stay.CheckIn.Before(in.CheckIn) || stay.CheckOut.After(in.CheckOut) {
			return nil, &EmployeeRangeError{
				EmployeeID:   emp.ID,
				EmployeeName: emp.Name,
				CheckIn:      stay.CheckIn,
				CheckOut:     stay.CheckOut,
				Reason:       "stay must fall inside the bill's range",
			}
		}
	}

	// Step 6: authoritative conflict re-check, employee by employee, on
	// the tx-scoped store. Advisory results from before submission are
	// never trusted here.
	query := NewConflictQuery(tx)
	for _, stay := range stays {
		conflicts, err := query.Check(ctx, stay.EmployeeID, stay.CheckIn, stay.CheckOut, excludeBillID)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			first := conflicts[0]
			return nil, &ConflictError{
				EmployeeID:   stay.EmployeeID,
				EmployeeName: employees[stay.EmployeeID].Name,
				Date:         first.Date,
				BillID:       first.BillID,
				InvoiceNo:    first.InvoiceNo,
				HotelName:    first.HotelName,
			}
		}
	}

	// Step 7: ledger insert. Reached only when every employee passed;
	// a unique-index hit here means a concurrent commit won the race,
	// and the whole transaction rolls back.
	for _, stay := range stays {
		for _, day := range ExpandRange(stay.CheckIn, stay.CheckOut) {
			if err := tx.PutStay(ctx, StayAssignment{
				BillID:     bill.ID,
				EmployeeID: stay.EmployeeID,
				Date:       day,
			}); err != nil {
				return nil, err
			}
		}
	}

	// Step 8: audit entry.
	action := "bill.create"
	if excludeBillID != "" {
		action = "bill.update"
	}
	entry := AuditEntry{
		ID:       uuid.NewString(),
		Action:   action,
		RecordID: bill.ID,
		Summary:  auditSummary(prior, bill, stays),
		Actor:    actor,
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	return bill, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteBill removes a bill header and all of its ledger rows in one
// transaction, recording a pre-deletion snapshot in the audit log.
func (c *Coordinator) DeleteBill(ctx context.Context, billID, actor string) (*DeleteResult, error) {
	var result *DeleteResult
	err := c.store.WithTx(ctx, func(tx Store) error {
		bill, err := tx.GetBill(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status != StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotEditable, bill.Status)
		}
		stays, err := tx.ListStaysByBill(ctx, billID)
		if err != nil {
			return err
		}
		deleted, err := tx.DeleteStaysByBill(ctx, billID)
		if err != nil {
			return err
		}
		if err := tx.DeleteBill(ctx, billID); err != nil {
			return err
		}
		entry := AuditEntry{
			ID:       uuid.NewString(),
			Action:   "bill.delete",
			RecordID: billID,
			Summary:  deleteSnapshot(bill, stays),
			Actor:    actor,
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		result = &DeleteResult{Bill: *bill, DeletedStays: deleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateHeader(in BillInput) error {
	if strings.TrimSpace(in.InvoiceNo) == "" {
		return &ValidationError{Field: "invoice_no", Message: "required"}
	}
	if strings.TrimSpace(in.HotelID) == "" {
		return &ValidationError{Field: "hotel_id", Message: "required"}
	}
	if in.CheckIn.IsZero() || in.CheckOut.IsZero() {
		return &ValidationError{Field: "check_in", Message: "check-in and check-out are required"}
	}
	if !in.CheckOut.After(in.CheckIn) {
		return ErrInvalidRange
	}
	if in.RoomCount < 1 {
		return &ValidationError{Field: "room_count", Message: "must be at least 1"}
	}
	for field, amount := range map[string]decimal.Decimal{
		"water":   in.Water,
		"washing": in.Washing,
		"service": in.Service,
		"misc":    in.Misc,
	} {
		if amount.IsNegative() {
			return &ValidationError{Field: field, Message: "cannot be negative"}
		}
	}
	return nil
}

// auditSummary records created fields, or changed fields against prior
// values on edit.
func auditSummary(prior, bill *Bill, stays []EmployeeStay) map[string]any {
	assignments := make([]map[string]string, 0, len(stays))
	for _, s := range stays {
		assignments = append(assignments, map[string]string{
			"employee_id": s.EmployeeID,
			"check_in":    s.CheckIn.String(),
			"check_out":   s.CheckOut.String(),
		})
	}
	if prior == nil {
		return map[string]any{
			"invoice_no":  bill.InvoiceNo,
			"hotel_id":    bill.HotelID,
			"check_in":    bill.CheckIn.String(),
			"check_out":   bill.CheckOut.String(),
			"room_count":  bill.RoomCount,
			"total":       bill.Total.String(),
			"assignments": assignments,
		}
	}
	changes := map[string]any{}
	if prior.InvoiceNo != bill.InvoiceNo {
		changes["invoice_no"] = map[string]string{"from": prior.InvoiceNo, "to": bill.InvoiceNo}
	}
	if prior.RoomCount != bill.RoomCount {
		changes["room_count"] = map[string]int{"from": prior.RoomCount, "to": bill.RoomCount}
	}
	for field, pair := range map[string][2]decimal.Decimal{
		"water":   {prior.Water, bill.Water},
		"washing": {prior.Washing, bill.Washing},
		"service": {prior.Service, bill.Service},
		"misc":    {prior.Misc, bill.Misc},
		"total":   {prior.Total, bill.Total},
	} {
		if !pair[0].Equal(pair[1]) {
			changes[field] = map[string]string{"from": pair[0].String(), "to": pair[1].String()}
		}
	}
	if prior.MiscNote != bill.MiscNote {
		changes["misc_note"] = map[string]string{"from": prior.MiscNote, "to": bill.MiscNote}
	}
	changes["assignments"] = assignments
	return changes
}

// deleteSnapshot captures the header and its ledger rows before removal.
func deleteSnapshot(bill *Bill, stays []StayAssignment) map[string]any {
	rows := make([]map[string]string, 0, len(stays))
	for _, s := range stays {
		rows = append(rows, map[string]string{
			"employee_id": s.EmployeeID,
			"date":        s.Date.String(),
		})
	}
	return map[string]any{
		"invoice_no": bill.InvoiceNo,
		"hotel_id":   bill.HotelID,
		"check_in":   bill.CheckIn.String(),
		"check_out":  bill.CheckOut.String(),
		"room_count": bill.RoomCount,
		"total":      bill.Total.String(),
		"status":     string(bill.Status),
		"stays":      rows,
	}
}
