package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lodging-ledger/billing"
	"github.com/warp/lodging-ledger/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestCoordinator(t *testing.T) (*billing.Coordinator, *store.Memory) {
	t.Helper()
	m := newTestStore(t)
	return billing.NewCoordinator(m), m
}

// harborBill is a valid submission against hotel-a (280/night) for
// Jan 1-4 (3 nights).
func harborBill() billing.BillInput {
	return billing.BillInput{
		InvoiceNo: "INV-100",
		HotelID:   "hotel-a",
		CheckIn:   jan(1),
		CheckOut:  jan(4),
		RoomCount: 2,
		Water:     dec("12.50"),
		Washing:   dec("0"),
		Service:   dec("30"),
		Misc:      dec("7.50"),
		MiscNote:  "parking",
	}
}

func fullStay(employeeID string, in billing.BillInput) billing.EmployeeStay {
	return billing.EmployeeStay{EmployeeID: employeeID, CheckIn: in.CheckIn, CheckOut: in.CheckOut}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCommitBill_Create_ComputesAmountsAndPersists(t *testing.T) {
	// GIVEN: A 3-night, 2-room bill at 280/night with 50.00 of charges
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()

	// WHEN: Committing with two full-range employees
	bill, err := coord.CommitBill(ctx, in,
		[]billing.EmployeeStay{fullStay("emp-x", in), fullStay("emp-y", in)}, "", "clerk-1")

	// THEN: Base is 3 x 2 x 280 = 1680, total 1730, header and ledger persisted
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.NotEmpty(t, bill.ID)
	assert.True(t, bill.BaseAmount.Equal(dec("1680")), "base = %s", bill.BaseAmount)
	assert.True(t, bill.Total.Equal(dec("1730")), "total = %s", bill.Total)
	assert.Equal(t, billing.StatusPending, bill.Status)
	assert.Equal(t, "clerk-1", bill.SubmittedBy)
	assert.Equal(t, "rate-a", bill.RateID)

	stays, err := m.ListStaysByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, stays, 6, "2 employees x 3 nights")

	entries := m.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "bill.create", entries[0].Action)
	assert.Equal(t, bill.ID, entries[0].RecordID)
	assert.Equal(t, "clerk-1", entries[0].Actor)
}

func TestCommitBill_Create_PartialEmployeeRange(t *testing.T) {
	// An employee may stay for a sub-range of the bill's nights.
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()

	bill, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{
		{EmployeeID: "emp-x", CheckIn: jan(1), CheckOut: jan(4)},
		{EmployeeID: "emp-y", CheckIn: jan(2), CheckOut: jan(3)},
	}, "", "clerk-1")
	require.NoError(t, err)

	stays, err := m.ListStaysByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, stays, 4, "3 nights for emp-x, 1 for emp-y")
}

func TestCommitBill_CapacityExceeded_NothingPersists(t *testing.T) {
	// 2 rooms hold at most 4 lodgers.
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	m.SeedEmployee(billing.Employee{ID: "emp-3", Name: "Three", Active: true})
	m.SeedEmployee(billing.Employee{ID: "emp-4", Name: "Four", Active: true})
	m.SeedEmployee(billing.Employee{ID: "emp-5", Name: "Five", Active: true})
	in := harborBill()

	_, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{
		fullStay("emp-x", in), fullStay("emp-y", in), fullStay("emp-3", in),
		fullStay("emp-4", in), fullStay("emp-5", in),
	}, "", "clerk-1")

	assert.ErrorIs(t, err, billing.ErrCapacityExceeded)
	bills, lerr := m.ListBills(ctx)
	require.NoError(t, lerr)
	assert.Empty(t, bills)
	assert.Empty(t, m.AuditEntries())
}

func TestCommitBill_DuplicateInvoice(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	_, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
	require.NoError(t, err)

	// Same invoice number, different dates: still rejected.
	in2 := in
	in2.CheckIn, in2.CheckOut = jan(10), jan(12)
	_, err = coord.CommitBill(ctx, in2, nil, "", "clerk-1")
	assert.ErrorIs(t, err, billing.ErrDuplicateInvoice)
}

func TestCommitBill_HeaderValidation(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*billing.BillInput)
		want   error
	}{
		{"missing invoice", func(in *billing.BillInput) { in.InvoiceNo = " " }, billing.ErrValidation},
		{"missing hotel", func(in *billing.BillInput) { in.HotelID = "" }, billing.ErrValidation},
		{"inverted range", func(in *billing.BillInput) { in.CheckIn, in.CheckOut = jan(4), jan(1) }, billing.ErrInvalidRange},
		{"zero-night range", func(in *billing.BillInput) { in.CheckOut = in.CheckIn }, billing.ErrInvalidRange},
		{"zero rooms", func(in *billing.BillInput) { in.RoomCount = 0 }, billing.ErrValidation},
		{"negative charge", func(in *billing.BillInput) { in.Water = dec("-1") }, billing.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := harborBill()
			tc.mutate(&in)
			_, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCommitBill_UnknownHotelAndMissingRate(t *testing.T) {
	coord, m := newTestCoordinator(t)
	ctx := context.Background()

	in := harborBill()
	in.HotelID = "hotel-missing"
	_, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
	assert.ErrorIs(t, err, billing.ErrHotelNotFound)

	m.SeedHotel(billing.Hotel{ID: "hotel-bare", Name: "No Rate Inn", Location: "Nowhere"})
	in.HotelID = "hotel-bare"
	_, err = coord.CommitBill(ctx, in, nil, "", "clerk-1")
	assert.ErrorIs(t, err, billing.ErrRateNotConfigured)
}

func TestCommitBill_EmployeeRangeMustNestInsideBill(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()

	_, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{
		{EmployeeID: "emp-x", CheckIn: jan(1), CheckOut: jan(5)},
	}, "", "clerk-1")

	var rangeErr *billing.EmployeeRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "emp-x", rangeErr.EmployeeID)
	assert.ErrorIs(t, err, billing.ErrInvalidEmployeeRange)
}

func TestCommitBill_EmployeeListedTwice(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()

	_, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{
		{EmployeeID: "emp-x", CheckIn: jan(1), CheckOut: jan(2)},
		{EmployeeID: "emp-x", CheckIn: jan(2), CheckOut: jan(3)},
	}, "", "clerk-1")

	assert.ErrorIs(t, err, billing.ErrInvalidEmployeeRange)
}

func TestCommitBill_InactiveEmployee(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()

	_, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{fullStay("emp-gone", in)}, "", "clerk-1")
	assert.ErrorIs(t, err, billing.ErrEmployeeNotFound)
}

// =============================================================================
// CROSS-BILL CONFLICTS
// =============================================================================

func TestCommitBill_CrossBillConflict_AbortsWholeSubmission(t *testing.T) {
	// GIVEN: emp-x already lodged Jan 1-3 under bill A
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	inA := harborBill()
	inA.CheckOut = jan(3)
	billA, err := coord.CommitBill(ctx, inA, []billing.EmployeeStay{fullStay("emp-x", inA)}, "", "clerk-1")
	require.NoError(t, err)

	// WHEN: Bill B claims emp-y (clean) and emp-x for Jan 2-4
	inB := harborBill()
	inB.InvoiceNo = "INV-200"
	inB.CheckIn, inB.CheckOut = jan(2), jan(4)
	_, err = coord.CommitBill(ctx, inB, []billing.EmployeeStay{
		fullStay("emp-y", inB),
		fullStay("emp-x", inB),
	}, "", "clerk-2")

	// THEN: The overlap night surfaces as a structured conflict and NOTHING
	// from bill B persists, emp-y's clean nights included
	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "emp-x", conflict.EmployeeID)
	assert.Equal(t, jan(2), conflict.Date)
	assert.Equal(t, billA.ID, conflict.BillID)
	assert.Equal(t, "INV-100", conflict.InvoiceNo)
	assert.Equal(t, "Harbor View", conflict.HotelName)

	bills, lerr := m.ListBills(ctx)
	require.NoError(t, lerr)
	assert.Len(t, bills, 1, "only bill A survives")

	owners, oerr := m.FindStayOwners(ctx, "emp-y", jan(2))
	require.NoError(t, oerr)
	assert.Empty(t, owners, "emp-y's rows must have rolled back")
}

func TestCommitBill_AdjacentStaysDoNotConflict(t *testing.T) {
	// Check-out day is free: Jan 1-3 then Jan 3-5 share no night.
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	inA := harborBill()
	inA.CheckOut = jan(3)
	_, err := coord.CommitBill(ctx, inA, []billing.EmployeeStay{fullStay("emp-x", inA)}, "", "clerk-1")
	require.NoError(t, err)

	inB := harborBill()
	inB.InvoiceNo = "INV-200"
	inB.CheckIn, inB.CheckOut = jan(3), jan(5)
	_, err = coord.CommitBill(ctx, inB, []billing.EmployeeStay{fullStay("emp-x", inB)}, "", "clerk-1")
	assert.NoError(t, err)
}

// =============================================================================
// EDIT
// =============================================================================

func TestCommitBill_Edit_SelfOverlapAllowed(t *testing.T) {
	// Re-submitting a bill with the same employees must not conflict
	// with its own prior rows.
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{fullStay("emp-x", in)}, "", "clerk-1")
	require.NoError(t, err)

	in.Service = dec("45")
	updated, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{fullStay("emp-x", in)}, bill.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, bill.ID, updated.ID)
	assert.True(t, updated.Total.Equal(dec("1745")), "total = %s", updated.Total)

	stays, err := m.ListStaysByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, stays, 3)

	entries := m.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "bill.update", entries[1].Action)
}

func TestCommitBill_Edit_FullReplaceLeavesNoStaleRows(t *testing.T) {
	// GIVEN: A bill lodging emp-x and emp-y
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in,
		[]billing.EmployeeStay{fullStay("emp-x", in), fullStay("emp-y", in)}, "", "clerk-1")
	require.NoError(t, err)

	// WHEN: The edit drops emp-y entirely
	_, err = coord.CommitBill(ctx, in, []billing.EmployeeStay{fullStay("emp-x", in)}, bill.ID, "clerk-1")
	require.NoError(t, err)

	// THEN: emp-y's nights are gone and another bill may claim them
	owners, oerr := m.FindStayOwners(ctx, "emp-y", jan(2))
	require.NoError(t, oerr)
	assert.Empty(t, owners)

	in2 := harborBill()
	in2.InvoiceNo = "INV-200"
	_, err = coord.CommitBill(ctx, in2, []billing.EmployeeStay{fullStay("emp-y", in2)}, "", "clerk-2")
	assert.NoError(t, err)
}

func TestCommitBill_Edit_SameInvoiceNumberAllowed(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
	require.NoError(t, err)

	// Uniqueness excludes the bill being edited.
	_, err = coord.CommitBill(ctx, in, nil, bill.ID, "clerk-1")
	assert.NoError(t, err)
}

func TestCommitBill_Edit_DateRangeImmutable(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
	require.NoError(t, err)

	in.CheckOut = jan(5)
	_, err = coord.CommitBill(ctx, in, nil, bill.ID, "clerk-1")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestCommitBill_Edit_RejectedWhenNotPending(t *testing.T) {
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in, nil, "", "clerk-1")
	require.NoError(t, err)

	bill.Status = billing.StatusApproved
	require.NoError(t, m.UpdateBill(ctx, bill))

	_, err = coord.CommitBill(ctx, in, nil, bill.ID, "clerk-1")
	assert.ErrorIs(t, err, billing.ErrNotEditable)
}

func TestCommitBill_Edit_UnknownBill(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.CommitBill(context.Background(), harborBill(), nil, "bill-missing", "clerk-1")
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteBill_RemovesLedgerRowsAndAudits(t *testing.T) {
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in,
		[]billing.EmployeeStay{fullStay("emp-x", in), fullStay("emp-y", in)}, "", "clerk-1")
	require.NoError(t, err)

	result, err := coord.DeleteBill(ctx, bill.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, bill.ID, result.Bill.ID)
	assert.Equal(t, 6, result.DeletedStays)

	_, err = m.GetBill(ctx, bill.ID)
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
	owners, oerr := m.FindStayOwners(ctx, "emp-x", jan(1))
	require.NoError(t, oerr)
	assert.Empty(t, owners)

	entries := m.AuditEntries()
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, "bill.delete", last.Action)
	assert.Equal(t, "admin-1", last.Actor)
	assert.Equal(t, "INV-100", last.Summary["invoice_no"])
}

func TestDeleteBill_RejectedWhenNotPending(t *testing.T) {
	coord, m := newTestCoordinator(t)
	ctx := context.Background()
	in := harborBill()
	bill, err := coord.CommitBill(ctx, in, []billing.EmployeeStay{fullStay("emp-x", in)}, "", "clerk-1")
	require.NoError(t, err)

	bill.Status = billing.StatusRejected
	require.NoError(t, m.UpdateBill(ctx, bill))

	_, err = coord.DeleteBill(ctx, bill.ID, "admin-1")
	assert.ErrorIs(t, err, billing.ErrNotEditable)

	// The ledger rows survive a refused delete.
	owners, oerr := m.FindStayOwners(ctx, "emp-x", jan(1))
	require.NoError(t, oerr)
	assert.Len(t, owners, 1)
}

func TestDeleteBill_Unknown(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.DeleteBill(context.Background(), "bill-missing", "admin-1")
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
}
