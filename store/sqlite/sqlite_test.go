package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lodging-ledger/billing"
	"github.com/warp/lodging-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, billing.Employee{ID: "emp-x", Name: "Xavier Lin", Email: "x@example.com", Active: true}))
	require.NoError(t, s.SaveEmployee(ctx, billing.Employee{ID: "emp-y", Name: "Yuki Tanaka", Active: true}))
	require.NoError(t, s.SaveHotel(ctx, billing.Hotel{ID: "hotel-a", Name: "Harbor View", Location: "Qingdao"}))
	require.NoError(t, s.SaveRate(ctx, billing.RoomRate{ID: "rate-a", HotelID: "hotel-a", Nightly: dec("280"), Current: true}))
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func jan(day int) billing.Date { return billing.NewDate(2025, time.January, day) }

func testBill(invoiceNo string) *billing.Bill {
	return &billing.Bill{
		ID:          uuid.NewString(),
		InvoiceNo:   invoiceNo,
		HotelID:     "hotel-a",
		RateID:      "rate-a",
		CheckIn:     jan(1),
		CheckOut:    jan(4),
		RoomCount:   2,
		Water:       dec("12.50"),
		Washing:     dec("0"),
		Service:     dec("30"),
		Misc:        dec("7.50"),
		MiscNote:    "parking",
		BaseAmount:  dec("1680"),
		Total:       dec("1730"),
		Status:      billing.StatusPending,
		SubmittedBy: "clerk-1",
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestEmployeeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emp, err := s.GetEmployee(ctx, "emp-x")
	require.NoError(t, err)
	assert.Equal(t, "Xavier Lin", emp.Name)
	assert.Equal(t, "x@example.com", emp.Email)
	assert.True(t, emp.Active)

	_, err = s.GetEmployee(ctx, "emp-missing")
	assert.ErrorIs(t, err, billing.ErrEmployeeNotFound)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveRate_DemotesPriorCurrent(t *testing.T) {
	// GIVEN: hotel-a with a current 280 rate
	s := newTestStore(t)
	ctx := context.Background()

	// WHEN: A new current rate is saved
	require.NoError(t, s.SaveRate(ctx, billing.RoomRate{
		ID: "rate-a2", HotelID: "hotel-a", Nightly: dec("320"), Current: true,
	}))

	// THEN: CurrentRate returns the new one; the partial unique index
	// would have rejected two concurrent current rows
	rate, err := s.CurrentRate(ctx, "hotel-a")
	require.NoError(t, err)
	assert.Equal(t, "rate-a2", rate.ID)
	assert.True(t, rate.Nightly.Equal(dec("320")))
}

func TestCurrentRate_Missing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHotel(ctx, billing.Hotel{ID: "hotel-bare", Name: "No Rate Inn"}))

	_, err := s.CurrentRate(ctx, "hotel-bare")
	assert.ErrorIs(t, err, billing.ErrRateNotConfigured)
}

// =============================================================================
// BILL HEADERS
// =============================================================================

func TestBillRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")

	require.NoError(t, s.SaveBill(ctx, bill))
	got, err := s.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-001", got.InvoiceNo)
	assert.Equal(t, jan(1), got.CheckIn)
	assert.Equal(t, jan(4), got.CheckOut)
	assert.True(t, got.Water.Equal(dec("12.50")), "water = %s", got.Water)
	assert.True(t, got.Total.Equal(dec("1730")), "total = %s", got.Total)
	assert.Equal(t, "parking", got.MiscNote)
	assert.Equal(t, billing.StatusPending, got.Status)

	got.Service = dec("45")
	got.Total = dec("1745")
	require.NoError(t, s.UpdateBill(ctx, got))
	again, err := s.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.True(t, again.Total.Equal(dec("1745")))

	require.NoError(t, s.DeleteBill(ctx, bill.ID))
	_, err = s.GetBill(ctx, bill.ID)
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
}

func TestInvoiceInUse_ExcludesGivenBill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")
	require.NoError(t, s.SaveBill(ctx, bill))

	inUse, err := s.InvoiceInUse(ctx, "INV-001", "")
	require.NoError(t, err)
	assert.True(t, inUse)

	// The bill being edited does not count against itself.
	inUse, err = s.InvoiceInUse(ctx, "INV-001", bill.ID)
	require.NoError(t, err)
	assert.False(t, inUse)

	inUse, err = s.InvoiceInUse(ctx, "INV-999", "")
	require.NoError(t, err)
	assert.False(t, inUse)
}

// =============================================================================
// STAY LEDGER
// =============================================================================

func TestPutStay_RejectsSecondOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	billA := testBill("INV-001")
	billB := testBill("INV-002")
	require.NoError(t, s.SaveBill(ctx, billA))
	require.NoError(t, s.SaveBill(ctx, billB))

	require.NoError(t, s.PutStay(ctx, billing.StayAssignment{BillID: billA.ID, EmployeeID: "emp-x", Date: jan(2)}))

	// Same bill, same night: duplicate fact.
	err := s.PutStay(ctx, billing.StayAssignment{BillID: billA.ID, EmployeeID: "emp-x", Date: jan(2)})
	assert.ErrorIs(t, err, billing.ErrDuplicateStayFact)

	// Another bill claiming the night: conflict.
	err = s.PutStay(ctx, billing.StayAssignment{BillID: billB.ID, EmployeeID: "emp-x", Date: jan(2)})
	assert.ErrorIs(t, err, billing.ErrConflictDetected)

	// Another employee on the same night is fine.
	assert.NoError(t, s.PutStay(ctx, billing.StayAssignment{BillID: billB.ID, EmployeeID: "emp-y", Date: jan(2)}))
}

func TestFindStayOwners_JoinsBillAndHotel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")
	require.NoError(t, s.SaveBill(ctx, bill))
	require.NoError(t, s.PutStay(ctx, billing.StayAssignment{BillID: bill.ID, EmployeeID: "emp-x", Date: jan(2)}))

	owners, err := s.FindStayOwners(ctx, "emp-x", jan(2))
	require.NoError(t, err)
	require.Len(t, owners, 1)
	o := owners[0]
	assert.Equal(t, bill.ID, o.BillID)
	assert.Equal(t, "INV-001", o.InvoiceNo)
	assert.Equal(t, "Harbor View", o.HotelName)
	assert.Equal(t, "Qingdao", o.Location)
	assert.Equal(t, jan(1), o.CheckIn)
	assert.Equal(t, jan(4), o.CheckOut)
	assert.Equal(t, 2, o.RoomCount)
	assert.True(t, o.Total.Equal(dec("1730")))
	assert.Equal(t, "clerk-1", o.SubmittedBy)

	// A free night has no owners.
	owners, err = s.FindStayOwners(ctx, "emp-x", jan(3))
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestDeleteStaysByBill_ReportsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")
	require.NoError(t, s.SaveBill(ctx, bill))
	for _, day := range billing.ExpandRange(jan(1), jan(4)) {
		require.NoError(t, s.PutStay(ctx, billing.StayAssignment{BillID: bill.ID, EmployeeID: "emp-x", Date: day}))
	}

	n, err := s.DeleteStaysByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stays, err := s.ListStaysByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Empty(t, stays)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx billing.Store) error {
		if err := tx.SaveBill(ctx, bill); err != nil {
			return err
		}
		if err := tx.PutStay(ctx, billing.StayAssignment{BillID: bill.ID, EmployeeID: "emp-x", Date: jan(1)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetBill(ctx, bill.ID)
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
	owners, oerr := s.FindStayOwners(ctx, "emp-x", jan(1))
	require.NoError(t, oerr)
	assert.Empty(t, owners)
}

func TestWithTx_ReadsSeeTxWrites(t *testing.T) {
	// The authoritative conflict re-check depends on tx-scoped reads
	// observing the edit's own deletes before commit.
	s := newTestStore(t)
	ctx := context.Background()
	bill := testBill("INV-001")
	require.NoError(t, s.SaveBill(ctx, bill))
	require.NoError(t, s.PutStay(ctx, billing.StayAssignment{BillID: bill.ID, EmployeeID: "emp-x", Date: jan(1)}))

	err := s.WithTx(ctx, func(tx billing.Store) error {
		if _, err := tx.DeleteStaysByBill(ctx, bill.ID); err != nil {
			return err
		}
		owners, err := tx.FindStayOwners(ctx, "emp-x", jan(1))
		if err != nil {
			return err
		}
		assert.Empty(t, owners, "tx read must see the tx delete")
		return tx.PutStay(ctx, billing.StayAssignment{BillID: bill.ID, EmployeeID: "emp-x", Date: jan(1)})
	})
	require.NoError(t, err)
}

// =============================================================================
// COORDINATOR END TO END
// =============================================================================

func TestCoordinator_OnSQLiteStore(t *testing.T) {
	// GIVEN: The coordinator wired to the real store
	s := newTestStore(t)
	ctx := context.Background()
	coord := billing.NewCoordinator(s)

	in := billing.BillInput{
		InvoiceNo: "INV-100",
		HotelID:   "hotel-a",
		CheckIn:   jan(1),
		CheckOut:  jan(4),
		RoomCount: 1,
		Water:     dec("0"),
		Washing:   dec("0"),
		Service:   dec("0"),
		Misc:      dec("0"),
	}
	stays := []billing.EmployeeStay{{EmployeeID: "emp-x", CheckIn: jan(1), CheckOut: jan(4)}}

	// WHEN: Committing, then re-submitting an overlapping bill
	bill, err := coord.CommitBill(ctx, in, stays, "", "clerk-1")
	require.NoError(t, err)
	assert.True(t, bill.Total.Equal(dec("840")), "3 nights x 280")

	in2 := in
	in2.InvoiceNo = "INV-200"
	in2.CheckIn, in2.CheckOut = jan(3), jan(5)
	_, err = coord.CommitBill(ctx, in2,
		[]billing.EmployeeStay{{EmployeeID: "emp-x", CheckIn: jan(3), CheckOut: jan(5)}}, "", "clerk-2")

	// THEN: The Jan 3 overlap aborts the second bill entirely
	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, jan(3), conflict.Date)
	assert.Equal(t, "INV-100", conflict.InvoiceNo)

	bills, err := s.ListBills(ctx)
	require.NoError(t, err)
	assert.Len(t, bills, 1)

	// Deleting the first frees the nights for the second.
	_, err = coord.DeleteBill(ctx, bill.ID, "admin-1")
	require.NoError(t, err)
	_, err = coord.CommitBill(ctx, in2,
		[]billing.EmployeeStay{{EmployeeID: "emp-x", CheckIn: jan(3), CheckOut: jan(5)}}, "", "clerk-2")
	assert.NoError(t, err)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAuditLog_AppendAndListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := billing.AuditEntry{
		ID: uuid.NewString(), Action: "bill.create", RecordID: "bill-1",
		Summary: map[string]any{"invoice_no": "INV-001"}, Actor: "clerk-1",
	}
	second := billing.AuditEntry{
		ID: uuid.NewString(), Action: "bill.delete", RecordID: "bill-1",
		Summary: map[string]any{"invoice_no": "INV-001"}, Actor: "admin-1",
	}
	require.NoError(t, s.AppendAudit(ctx, first))
	require.NoError(t, s.AppendAudit(ctx, second))

	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bill.delete", entries[0].Action)
	assert.Equal(t, "admin-1", entries[0].Actor)
	assert.Equal(t, "INV-001", entries[0].Summary["invoice_no"])
	assert.Equal(t, "bill.create", entries[1].Action)

	limited, err := s.ListAudit(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
