/*
Package sqlite provides the SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.Store and billing.TxStore using SQLite. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  employees:        Reference data (read-mostly)
  hotels:           Reference data
  room_rates:       Nightly rates; partial unique index keeps exactly
                    one current rate per hotel
  bills:            Bill headers (UNIQUE invoice_no)
  stay_assignments: The occupancy ledger, one row per employee-night
  audit_log:        Append-only; no UPDATE or DELETE statements exist

THE CRITICAL INDEX:
  idx_unique_employee_day on stay_assignments(employee_id, stay_date)
  backs the double-booking invariant at the storage level. The
  Coordinator's check-then-insert protocol is the first line of
  defense; this index catches the race where two concurrent commits
  both read "no conflict" before either inserted. The later committer
  fails at insert time and its whole transaction rolls back.

DATE AND MONEY ENCODING:
  Calendar days are stored as YYYY-MM-DD strings, decimals as their
  canonical string form. Comparisons stay lexicographic-safe.

WAL MODE:
  Opened with WAL and foreign keys on: multiple readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/bills.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  coord := billing.NewCoordinator(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lodging-ledger/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reference data
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hotels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_rates (
		id TEXT PRIMARY KEY,
		hotel_id TEXT NOT NULL REFERENCES hotels(id),
		nightly TEXT NOT NULL,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		effective_from TEXT,
		created_at TEXT NOT NULL
	);

	-- Exactly one current rate per hotel
	CREATE UNIQUE INDEX IF NOT EXISTS idx_room_rates_current
		ON room_rates(hotel_id) WHERE is_current;

	-- Bill headers
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		invoice_no TEXT NOT NULL,
		hotel_id TEXT NOT NULL REFERENCES hotels(id),
		rate_id TEXT NOT NULL,
		check_in TEXT NOT NULL,
		check_out TEXT NOT NULL,
		room_count INTEGER NOT NULL,
		water TEXT NOT NULL,
		washing TEXT NOT NULL,
		service TEXT NOT NULL,
		misc TEXT NOT NULL,
		misc_note TEXT,
		base_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		submitted_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_invoice
		ON bills(invoice_no);
	CREATE INDEX IF NOT EXISTS idx_bills_hotel
		ON bills(hotel_id);

	-- The occupancy ledger: one row per employee-night
	CREATE TABLE IF NOT EXISTS stay_assignments (
		bill_id TEXT NOT NULL REFERENCES bills(id),
		employee_id TEXT NOT NULL REFERENCES employees(id),
		stay_date TEXT NOT NULL,
		PRIMARY KEY (bill_id, employee_id, stay_date)
	);

	-- CRITICAL: backs the double-booking invariant. A race between two
	-- concurrent commits surfaces here as a unique violation and rolls
	-- the later transaction back.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_employee_day
		ON stay_assignments(employee_id, stay_date);
	CREATE INDEX IF NOT EXISTS idx_stays_bill
		ON stay_assignments(bill_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		record_id TEXT NOT NULL,
		summary_json TEXT,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record
		ON audit_log(record_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query can run
// either standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STAY LEDGER (billing.StayLedger interface)
// =============================================================================

// PutStay inserts one occupancy fact.
func (s *Store) PutStay(ctx context.Context, stay billing.StayAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putStay(ctx, s.db, stay)
}

func putStay(ctx context.Context, db dbtx, stay billing.StayAssignment) error {
	// Resolve same-bill duplicates explicitly so they surface as
	// ErrDuplicateStayFact rather than a generic unique violation.
	var owner string
	err := db.QueryRowContext(ctx,
		`SELECT bill_id FROM stay_assignments WHERE employee_id = ? AND stay_date = ?`,
		stay.EmployeeID, stay.Date.String(),
	).Scan(&owner)
	switch {
	case err == nil && owner == stay.BillID:
		return fmt.Errorf("%w: employee %s on %s", billing.ErrDuplicateStayFact, stay.EmployeeID, stay.Date)
	case err == nil:
		return fmt.Errorf("%w: employee %s on %s", billing.ErrConflictDetected, stay.EmployeeID, stay.Date)
	case err != sql.ErrNoRows:
		return fmt.Errorf("failed to check stay owner: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO stay_assignments (bill_id, employee_id, stay_date) VALUES (?, ?, ?)`,
		stay.BillID, stay.EmployeeID, stay.Date.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost race: another transaction claimed the night between
			// our read and this insert.
			return fmt.Errorf("%w: employee %s on %s", billing.ErrConflictDetected, stay.EmployeeID, stay.Date)
		}
		return fmt.Errorf("failed to insert stay: %w", err)
	}
	return nil
}

// DeleteStaysByBill removes all facts for a bill.
func (s *Store) DeleteStaysByBill(ctx context.Context, billID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteStaysByBill(ctx, s.db, billID)
}

func deleteStaysByBill(ctx context.Context, db dbtx, billID string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM stay_assignments WHERE bill_id = ?`, billID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stays: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FindStayOwners returns the bill(s) owning an employee's night, joined
// with enough header and hotel context to explain the conflict.
func (s *Store) FindStayOwners(ctx context.Context, employeeID string, day billing.Date) ([]billing.StayOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findStayOwners(ctx, s.db, employeeID, day)
}

func findStayOwners(ctx context.Context, db dbtx, employeeID string, day billing.Date) ([]billing.StayOwner, error) {
	const q = `
		SELECT b.id, b.invoice_no, h.name, COALESCE(h.location, ''),
		       b.check_in, b.check_out, b.room_count, b.total_amount, b.submitted_by
		FROM stay_assignments sa
		JOIN bills b ON b.id = sa.bill_id
		JOIN hotels h ON h.id = b.hotel_id
		WHERE sa.employee_id = ? AND sa.stay_date = ?`
	rows, err := db.QueryContext(ctx, q, employeeID, day.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stay owners: %w", err)
	}
	defer rows.Close()

	var owners []billing.StayOwner
	for rows.Next() {
		var o billing.StayOwner
		var checkIn, checkOut, total string
		if err := rows.Scan(&o.BillID, &o.InvoiceNo, &o.HotelName, &o.Location,
			&checkIn, &checkOut, &o.RoomCount, &total, &o.SubmittedBy); err != nil {
			return nil, fmt.Errorf("failed to scan stay owner: %w", err)
		}
		o.CheckIn, _ = billing.ParseDate(checkIn)
		o.CheckOut, _ = billing.ParseDate(checkOut)
		o.Total = mustDecimal(total)
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// ListStaysByBill returns a bill's facts ordered by employee then date.
func (s *Store) ListStaysByBill(ctx context.Context, billID string) ([]billing.StayAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStaysByBill(ctx, s.db, billID)
}

func listStaysByBill(ctx context.Context, db dbtx, billID string) ([]billing.StayAssignment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT bill_id, employee_id, stay_date FROM stay_assignments
		 WHERE bill_id = ? ORDER BY employee_id, stay_date`, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stays: %w", err)
	}
	defer rows.Close()

	var stays []billing.StayAssignment
	for rows.Next() {
		var stay billing.StayAssignment
		var day string
		if err := rows.Scan(&stay.BillID, &stay.EmployeeID, &day); err != nil {
			return nil, fmt.Errorf("failed to scan stay: %w", err)
		}
		stay.Date, _ = billing.ParseDate(day)
		stays = append(stays, stay)
	}
	return stays, rows.Err()
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// SaveEmployee upserts an employee record (fixtures and dev seeding).
func (s *Store) SaveEmployee(ctx context.Context, e billing.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			active = excluded.active`,
		e.ID, e.Name, nullString(e.Email), e.Active, now())
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*billing.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, db dbtx, id string) (*billing.Employee, error) {
	var e billing.Employee
	var email sql.NullString
	var createdAt string
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, active, created_at FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &email, &e.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", billing.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	e.Email = email.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]billing.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, active, created_at FROM employees ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []billing.Employee
	for rows.Next() {
		var e billing.Employee
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Name, &email, &e.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.Email = email.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// SaveHotel upserts a hotel record.
func (s *Store) SaveHotel(ctx context.Context, h billing.Hotel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hotels (id, name, location, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location`,
		h.ID, h.Name, nullString(h.Location), now())
	return err
}

func (s *Store) GetHotel(ctx context.Context, id string) (*billing.Hotel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getHotel(ctx, s.db, id)
}

func getHotel(ctx context.Context, db dbtx, id string) (*billing.Hotel, error) {
	var h billing.Hotel
	var location sql.NullString
	var createdAt string
	err := db.QueryRowContext(ctx,
		`SELECT id, name, location, created_at FROM hotels WHERE id = ?`, id,
	).Scan(&h.ID, &h.Name, &location, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", billing.ErrHotelNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hotel: %w", err)
	}
	h.Location = location.String
	h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &h, nil
}

func (s *Store) ListHotels(ctx context.Context) ([]billing.Hotel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, created_at FROM hotels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hotels: %w", err)
	}
	defer rows.Close()

	var hotels []billing.Hotel
	for rows.Next() {
		var h billing.Hotel
		var location sql.NullString
		var createdAt string
		if err := rows.Scan(&h.ID, &h.Name, &location, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan hotel: %w", err)
		}
		h.Location = location.String
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		hotels = append(hotels, h)
	}
	return hotels, rows.Err()
}

// SaveRate inserts a rate. When the rate is current, any previously
// current rate for the hotel is demoted first so the partial unique
// index holds.
func (s *Store) SaveRate(ctx context.Context, r billing.RoomRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if r.Current {
		if _, err := tx.ExecContext(ctx,
			`UPDATE room_rates SET is_current = FALSE WHERE hotel_id = ? AND is_current`,
			r.HotelID); err != nil {
			return fmt.Errorf("failed to demote current rate: %w", err)
		}
	}
	var effectiveFrom any
	if !r.EffectiveFrom.IsZero() {
		effectiveFrom = r.EffectiveFrom.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_rates (id, hotel_id, nightly, is_current, effective_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.HotelID, r.Nightly.String(), r.Current, effectiveFrom, now()); err != nil {
		return fmt.Errorf("failed to insert rate: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CurrentRate(ctx context.Context, hotelID string) (*billing.RoomRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentRate(ctx, s.db, hotelID)
}

func currentRate(ctx context.Context, db dbtx, hotelID string) (*billing.RoomRate, error) {
	var r billing.RoomRate
	var nightly string
	var effectiveFrom sql.NullString
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, hotel_id, nightly, is_current, effective_from, created_at
		FROM room_rates WHERE hotel_id = ? AND is_current`, hotelID,
	).Scan(&r.ID, &r.HotelID, &nightly, &r.Current, &effectiveFrom, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: hotel %s", billing.ErrRateNotConfigured, hotelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rate: %w", err)
	}
	r.Nightly = mustDecimal(nightly)
	if effectiveFrom.Valid {
		r.EffectiveFrom, _ = billing.ParseDate(effectiveFrom.String)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

// =============================================================================
// BILL HEADERS
// =============================================================================

const billColumns = `id, invoice_no, hotel_id, rate_id, check_in, check_out, room_count,
	water, washing, service, misc, misc_note, base_amount, total_amount,
	status, submitted_by, created_at, updated_at`

func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBill(ctx, s.db, id)
}

func getBill(ctx context.Context, db dbtx, id string) (*billing.Bill, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	bill, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bill: %w", err)
	}
	return bill, nil
}

func (s *Store) ListBills(ctx context.Context) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, *bill)
	}
	return bills, rows.Err()
}

func (s *Store) InvoiceInUse(ctx context.Context, invoiceNo, excludeBillID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return invoiceInUse(ctx, s.db, invoiceNo, excludeBillID)
}

func invoiceInUse(ctx context.Context, db dbtx, invoiceNo, excludeBillID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bills WHERE invoice_no = ? AND id != ?`,
		invoiceNo, excludeBillID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check invoice: %w", err)
	}
	return count > 0, nil
}

func (s *Store) SaveBill(ctx context.Context, bill *billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBill(ctx, s.db, bill)
}

func saveBill(ctx context.Context, db dbtx, bill *billing.Bill) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.ID, bill.InvoiceNo, bill.HotelID, bill.RateID,
		bill.CheckIn.String(), bill.CheckOut.String(), bill.RoomCount,
		bill.Water.String(), bill.Washing.String(), bill.Service.String(), bill.Misc.String(),
		nullString(bill.MiscNote), bill.BaseAmount.String(), bill.Total.String(),
		string(bill.Status), bill.SubmittedBy,
		bill.CreatedAt.UTC().Format(time.RFC3339), bill.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", billing.ErrDuplicateInvoice, bill.InvoiceNo)
		}
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return nil
}

func (s *Store) UpdateBill(ctx context.Context, bill *billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBill(ctx, s.db, bill)
}

func updateBill(ctx context.Context, db dbtx, bill *billing.Bill) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bills SET
			invoice_no = ?, hotel_id = ?, rate_id = ?, check_in = ?, check_out = ?,
			room_count = ?, water = ?, washing = ?, service = ?, misc = ?, misc_note = ?,
			base_amount = ?, total_amount = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		bill.InvoiceNo, bill.HotelID, bill.RateID,
		bill.CheckIn.String(), bill.CheckOut.String(),
		bill.RoomCount, bill.Water.String(), bill.Washing.String(),
		bill.Service.String(), bill.Misc.String(), nullString(bill.MiscNote),
		bill.BaseAmount.String(), bill.Total.String(), string(bill.Status),
		bill.UpdatedAt.UTC().Format(time.RFC3339), bill.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", billing.ErrDuplicateInvoice, bill.InvoiceNo)
		}
		return fmt.Errorf("failed to update bill: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", billing.ErrBillNotFound, bill.ID)
	}
	return nil
}

func (s *Store) DeleteBill(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteBill(ctx, s.db, id)
}

func deleteBill(ctx context.Context, db dbtx, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM bills WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	return nil
}

func scanBill(row interface{ Scan(...any) error }) (*billing.Bill, error) {
	var b billing.Bill
	var checkIn, checkOut, water, washing, service, misc, base, total string
	var miscNote sql.NullString
	var status, createdAt, updatedAt string
	err := row.Scan(
		&b.ID, &b.InvoiceNo, &b.HotelID, &b.RateID, &checkIn, &checkOut, &b.RoomCount,
		&water, &washing, &service, &misc, &miscNote, &base, &total,
		&status, &b.SubmittedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CheckIn, _ = billing.ParseDate(checkIn)
	b.CheckOut, _ = billing.ParseDate(checkOut)
	b.Water = mustDecimal(water)
	b.Washing = mustDecimal(washing)
	b.Service = mustDecimal(service)
	b.Misc = mustDecimal(misc)
	b.MiscNote = miscNote.String
	b.BaseAmount = mustDecimal(base)
	b.Total = mustDecimal(total)
	b.Status = billing.BillStatus(status)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit writes one audit entry. Append-only: no update or delete
// for audit rows exists anywhere in this package.
func (s *Store) AppendAudit(ctx context.Context, entry billing.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db dbtx, entry billing.AuditEntry) error {
	summaryJSON, _ := json.Marshal(entry.Summary)
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, record_id, summary_json, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.RecordID, string(summaryJSON), entry.Actor, now())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]billing.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, record_id, summary_json, actor, created_at
		FROM audit_log ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []billing.AuditEntry
	for rows.Next() {
		var e billing.AuditEntry
		var summaryJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.RecordID, &summaryJSON, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if summaryJSON.Valid && summaryJSON.String != "" {
			json.Unmarshal([]byte(summaryJSON.String), &e.Summary)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Reads inside fn see
// the transaction's own writes; an error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through a single *sql.Tx so that the
// authoritative conflict re-check observes the transaction's own
// deletes and inserts.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) PutStay(ctx context.Context, stay billing.StayAssignment) error {
	return putStay(ctx, ts.tx, stay)
}

func (ts *txStore) DeleteStaysByBill(ctx context.Context, billID string) (int, error) {
	return deleteStaysByBill(ctx, ts.tx, billID)
}

func (ts *txStore) FindStayOwners(ctx context.Context, employeeID string, day billing.Date) ([]billing.StayOwner, error) {
	return findStayOwners(ctx, ts.tx, employeeID, day)
}

func (ts *txStore) ListStaysByBill(ctx context.Context, billID string) ([]billing.StayAssignment, error) {
	return listStaysByBill(ctx, ts.tx, billID)
}

func (ts *txStore) GetEmployee(ctx context.Context, id string) (*billing.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ListEmployees(ctx context.Context) ([]billing.Employee, error) {
	return nil, fmt.Errorf("ListEmployees is not available inside a transaction")
}

func (ts *txStore) GetHotel(ctx context.Context, id string) (*billing.Hotel, error) {
	return getHotel(ctx, ts.tx, id)
}

func (ts *txStore) ListHotels(ctx context.Context) ([]billing.Hotel, error) {
	return nil, fmt.Errorf("ListHotels is not available inside a transaction")
}

func (ts *txStore) CurrentRate(ctx context.Context, hotelID string) (*billing.RoomRate, error) {
	return currentRate(ctx, ts.tx, hotelID)
}

func (ts *txStore) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	return getBill(ctx, ts.tx, id)
}

func (ts *txStore) ListBills(ctx context.Context) ([]billing.Bill, error) {
	return nil, fmt.Errorf("ListBills is not available inside a transaction")
}

func (ts *txStore) InvoiceInUse(ctx context.Context, invoiceNo, excludeBillID string) (bool, error) {
	return invoiceInUse(ctx, ts.tx, invoiceNo, excludeBillID)
}

func (ts *txStore) SaveBill(ctx context.Context, bill *billing.Bill) error {
	return saveBill(ctx, ts.tx, bill)
}

func (ts *txStore) UpdateBill(ctx context.Context, bill *billing.Bill) error {
	return updateBill(ctx, ts.tx, bill)
}

func (ts *txStore) DeleteBill(ctx context.Context, id string) error {
	return deleteBill(ctx, ts.tx, id)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry billing.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
