/*
store.go - Persistence interfaces for the occupancy ledger and bills

PURPOSE:
  Defines the interface between the domain logic and the database.
  The stay ledger, bill headers, reference data and the audit log all
  sit behind Store so the Coordinator can run against SQLite in
  production and an in-memory store in tests.

KEY INTERFACES:
  StayLedger:  Durable storage and point lookup of occupancy facts
  Store:       StayLedger plus bills, reference data and audit writes
  TxStore:     Transactional Store (atomic multi-table writes)

LEDGER CONTRACT:
  PutStay() fails with ErrDuplicateStayFact only when the identical
  (employee, date) pair already exists for the SAME bill. A collision
  with a DIFFERENT bill is a lost race under concurrent commits; the
  storage layer surfaces it as ErrConflictDetected so the later
  transaction rolls back (the unique index is the second line of
  defense behind the Coordinator's check-then-insert protocol).

  FindStayOwners() is exclusion-agnostic: it reports every owner of a
  night and leaves exclude-bill filtering to the caller.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - conflict.go: Read-only consumer of StayLedger
  - coordinator.go: The only writer, always inside WithTx
*/
package billing

import "context"

// =============================================================================
// STAY LEDGER - Occupancy facts
// =============================================================================

// StayLedger stores day-level occupancy facts.
type StayLedger interface {
	// PutStay inserts one occupancy fact. Fails with ErrDuplicateStayFact
	// if the same bill already owns the (employee, date) pair, and with
	// ErrConflictDetected if a different bill does.
	PutStay(ctx context.Context, stay StayAssignment) error

	// DeleteStaysByBill removes all facts for a bill and reports how many
	// rows went away. Used by edit-before-reinsert and by delete.
	DeleteStaysByBill(ctx context.Context, billID string) (int, error)

	// FindStayOwners returns the bill(s) owning the employee's night, or
	// an empty slice. Exclusion is the caller's concern.
	FindStayOwners(ctx context.Context, employeeID string, day Date) ([]StayOwner, error)

	// ListStaysByBill returns a bill's facts ordered by employee then date.
	ListStaysByBill(ctx context.Context, billID string) ([]StayAssignment, error)
}

// =============================================================================
// STORE - Full persistence surface
// =============================================================================

// Store is the persistence surface the Coordinator and the conflict
// query operate on.
type Store interface {
	StayLedger

	// Reference data (read-only for this subsystem).
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	GetHotel(ctx context.Context, id string) (*Hotel, error)
	ListHotels(ctx context.Context) ([]Hotel, error)
	// CurrentRate returns the single current rate for a hotel, or
	// ErrRateNotConfigured when none is flagged.
	CurrentRate(ctx context.Context, hotelID string) (*RoomRate, error)

	// Bill headers.
	GetBill(ctx context.Context, id string) (*Bill, error)
	ListBills(ctx context.Context) ([]Bill, error)
	// InvoiceInUse reports whether a different bill than excludeBillID
	// already carries the invoice number.
	InvoiceInUse(ctx context.Context, invoiceNo, excludeBillID string) (bool, error)
	SaveBill(ctx context.Context, bill *Bill) error
	UpdateBill(ctx context.Context, bill *Bill) error
	DeleteBill(ctx context.Context, id string) error

	// AppendAudit writes one append-only audit entry. No update or
	// delete exists for audit rows.
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. fn receives a Store whose
	// reads and writes all belong to that transaction; an error from fn
	// rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
