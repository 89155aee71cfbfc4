/*
types.go - Core domain types for the lodging billing subsystem

PURPOSE:
  Defines the value types shared across the occupancy ledger, the
  conflict query service and the bill transaction coordinator:
  employees, hotels, nightly rates, bill headers and the per-night
  stay assignment that carries the double-booking invariant.

DESIGN DECISIONS:
  1. Day granularity: stays are sets of calendar nights. Date is a
     dedicated value type pinned to UTC midnight so that "same day"
     comparisons never depend on wall-clock time or zone.
  2. Half-open ranges: a stay covers [CheckIn, CheckOut). The
     check-out day is a departure, not an occupied night.
  3. Precision: all money fields use decimal.Decimal. Nightly rates
     multiplied by room counts must not accumulate float error.

USAGE:
  in := billing.NewDate(2025, time.March, 10)
  out := billing.NewDate(2025, time.March, 13)
  nights := billing.DaysBetween(in, out)        // 3
  days := billing.ExpandRange(in, out)          // 10th, 11th, 12th

SEE ALSO:
  - errors.go: Error taxonomy for these types
  - coordinator.go: The only writer of Bill and StayAssignment
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALENDAR DATES
// =============================================================================

// DateFormat is the canonical wire and storage format for calendar days.
const DateFormat = "2006-01-02"

// Date is a calendar day. The underlying time is always UTC midnight.
type Date struct {
	Time time.Time
}

// NewDate creates a Date for the given calendar day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t.UTC()}, nil
}

// DateOf truncates an arbitrary time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func (d Date) String() string      { return d.Time.Format(DateFormat) }
func (d Date) IsZero() bool        { return d.Time.IsZero() }
func (d Date) Before(o Date) bool  { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool   { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool   { return d.Time.Equal(o.Time) }
func (d Date) AddDays(n int) Date  { return Date{Time: d.Time.AddDate(0, 0, n)} }

// DaysBetween returns the number of nights in the half-open range [from, to).
// A negative count means the range is inverted.
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// ExpandRange enumerates every night in [from, to). The check-out day is
// excluded: a three-night stay yields exactly three dates. An inverted or
// empty range yields nil.
func ExpandRange(from, to Date) []Date {
	n := DaysBetween(from, to)
	if n <= 0 {
		return nil
	}
	days := make([]Date, 0, n)
	for d := from; d.Before(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// =============================================================================
// REFERENCE DATA (read-only inputs)
// =============================================================================

// Employee is an identity the ledger bills nights against. Read-only for
// this subsystem; the surrounding HR system owns the records.
type Employee struct {
	ID        string
	Name      string
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Hotel is a lodging provider.
type Hotel struct {
	ID        string
	Name      string
	Location  string
	CreatedAt time.Time
}

// RoomRate is a nightly rate for a hotel. Exactly one rate per hotel is
// flagged Current at any time; bills snapshot the rate id they were
// computed with rather than following the live pointer.
type RoomRate struct {
	ID            string
	HotelID       string
	Nightly       decimal.Decimal
	Current       bool
	EffectiveFrom Date
	CreatedAt     time.Time
}

// =============================================================================
// BILLS AND STAY ASSIGNMENTS
// =============================================================================

// BillStatus is the workflow state of a bill header.
type BillStatus string

const (
	StatusPending  BillStatus = "pending"
	StatusApproved BillStatus = "approved"
	StatusRejected BillStatus = "rejected"
)

// Bill is one hotel invoice covering a date range, a room count and
// itemized charges. Mutated only through the Coordinator.
type Bill struct {
	ID         string
	InvoiceNo  string
	HotelID    string
	RateID     string // snapshot of the rate used, not a live pointer
	CheckIn    Date
	CheckOut   Date // half-open: stay covers [CheckIn, CheckOut)
	RoomCount  int
	Water      decimal.Decimal
	Washing    decimal.Decimal
	Service    decimal.Decimal
	Misc       decimal.Decimal
	MiscNote   string
	BaseAmount decimal.Decimal
	Total      decimal.Decimal
	Status     BillStatus
	SubmittedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Nights returns the number of occupied nights the header covers.
func (b *Bill) Nights() int { return DaysBetween(b.CheckIn, b.CheckOut) }

// StayAssignment is one occupancy fact: a single night an employee is
// billed as lodging under a bill. This triple is the atomic unit of the
// double-booking invariant.
type StayAssignment struct {
	BillID     string
	EmployeeID string
	Date       Date
}

// EmployeeStay is one employee's sub-range on a bill submission. Modeled
// as an ordered list element rather than a keyed map so validation and
// iteration order stay deterministic.
type EmployeeStay struct {
	EmployeeID string
	CheckIn    Date
	CheckOut   Date
}

// StayOwner describes the bill currently owning an (employee, date)
// night, with enough context to explain the collision to a human.
type StayOwner struct {
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

// AuditEntry is one append-only audit record. Corrections are new
// entries, never edits.
type AuditEntry struct {
	ID        string
	Action    string
	RecordID  string
	Summary   map[string]any
	Actor     string
	CreatedAt time.Time
}
