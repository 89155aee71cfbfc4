// Package store provides an in-memory billing.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/lodging-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type stayKey struct {
	EmployeeID string
	Day        string
}

// Memory keeps everything in maps guarded by a mutex. Transactions are
// serialized: WithTx runs fn against a deep copy and swaps the copy in
// on success, so a failing transaction leaves no trace.
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	employees map[string]billing.Employee
	hotels    map[string]billing.Hotel
	rates     map[string][]billing.RoomRate
	bills     map[string]billing.Bill
	stays     map[stayKey]billing.StayAssignment
	audit     []billing.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		employees: make(map[string]billing.Employee),
		hotels:    make(map[string]billing.Hotel),
		rates:     make(map[string][]billing.RoomRate),
		bills:     make(map[string]billing.Bill),
		stays:     make(map[stayKey]billing.StayAssignment),
	}
}

// SeedEmployee registers reference data for tests and dev fixtures.
func (m *Memory) SeedEmployee(e billing.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
}

func (m *Memory) SeedHotel(h billing.Hotel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotels[h.ID] = h
}

func (m *Memory) SeedRate(r billing.RoomRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Current {
		// Exactly one current rate per hotel.
		rates := m.rates[r.HotelID]
		for i := range rates {
			rates[i].Current = false
		}
	}
	m.rates[r.HotelID] = append(m.rates[r.HotelID], r)
}

// =============================================================================
// STAY LEDGER
// =============================================================================

func (m *Memory) PutStay(_ context.Context, stay billing.StayAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := stayKey{EmployeeID: stay.EmployeeID, Day: stay.Date.String()}
	if existing, ok := m.stays[k]; ok {
		if existing.BillID == stay.BillID {
			return fmt.Errorf("%w: employee %s on %s", billing.ErrDuplicateStayFact, stay.EmployeeID, stay.Date)
		}
		// Same behavior as the SQLite unique index: a different bill
		// already owns the night.
		return fmt.Errorf("%w: employee %s on %s", billing.ErrConflictDetected, stay.EmployeeID, stay.Date)
	}
	m.stays[k] = stay
	return nil
}

func (m *Memory) DeleteStaysByBill(_ context.Context, billID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for k, s := range m.stays {
		if s.BillID == billID {
			delete(m.stays, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) FindStayOwners(_ context.Context, employeeID string, day billing.Date) ([]billing.StayOwner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stay, ok := m.stays[stayKey{EmployeeID: employeeID, Day: day.String()}]
	if !ok {
		return nil, nil
	}
	bill, ok := m.bills[stay.BillID]
	if !ok {
		return nil, nil
	}
	hotel := m.hotels[bill.HotelID]
	return []billing.StayOwner{{
		BillID:      bill.ID,
		InvoiceNo:   bill.InvoiceNo,
		HotelName:   hotel.Name,
		Location:    hotel.Location,
		CheckIn:     bill.CheckIn,
		CheckOut:    bill.CheckOut,
		RoomCount:   bill.RoomCount,
		Total:       bill.Total,
		SubmittedBy: bill.SubmittedBy,
	}}, nil
}

func (m *Memory) ListStaysByBill(_ context.Context, billID string) ([]billing.StayAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stays []billing.StayAssignment
	for _, s := range m.stays {
		if s.BillID == billID {
			stays = append(stays, s)
		}
	}
	sort.Slice(stays, func(i, j int) bool {
		if stays[i].EmployeeID != stays[j].EmployeeID {
			return stays[i].EmployeeID < stays[j].EmployeeID
		}
		return stays[i].Date.Before(stays[j].Date)
	})
	return stays, nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id string) (*billing.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrEmployeeNotFound, id)
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]billing.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	employees := make([]billing.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		employees = append(employees, e)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].ID < employees[j].ID })
	return employees, nil
}

func (m *Memory) GetHotel(_ context.Context, id string) (*billing.Hotel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hotels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrHotelNotFound, id)
	}
	return &h, nil
}

func (m *Memory) ListHotels(_ context.Context) ([]billing.Hotel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hotels := make([]billing.Hotel, 0, len(m.hotels))
	for _, h := range m.hotels {
		hotels = append(hotels, h)
	}
	sort.Slice(hotels, func(i, j int) bool { return hotels[i].ID < hotels[j].ID })
	return hotels, nil
}

func (m *Memory) CurrentRate(_ context.Context, hotelID string) (*billing.RoomRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rates[hotelID] {
		if r.Current {
			rate := r
			return &rate, nil
		}
	}
	return nil, fmt.Errorf("%w: hotel %s", billing.ErrRateNotConfigured, hotelID)
}

// =============================================================================
// BILL HEADERS
// =============================================================================

func (m *Memory) GetBill(_ context.Context, id string) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bills[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	return &b, nil
}

func (m *Memory) ListBills(_ context.Context) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bills := make([]billing.Bill, 0, len(m.bills))
	for _, b := range m.bills {
		bills = append(bills, b)
	}
	sort.Slice(bills, func(i, j int) bool {
		if !bills[i].CreatedAt.Equal(bills[j].CreatedAt) {
			return bills[i].CreatedAt.Before(bills[j].CreatedAt)
		}
		return bills[i].ID < bills[j].ID
	})
	return bills, nil
}

func (m *Memory) InvoiceInUse(_ context.Context, invoiceNo, excludeBillID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.bills {
		if b.InvoiceNo == invoiceNo && b.ID != excludeBillID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SaveBill(_ context.Context, bill *billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[bill.ID] = *bill
	return nil
}

func (m *Memory) UpdateBill(_ context.Context, bill *billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[bill.ID]; !ok {
		return fmt.Errorf("%w: %s", billing.ErrBillNotFound, bill.ID)
	}
	m.bills[bill.ID] = *bill
	return nil
}

func (m *Memory) DeleteBill(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[id]; !ok {
		return fmt.Errorf("%w: %s", billing.ErrBillNotFound, id)
	}
	delete(m.bills, id)
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry billing.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit log, oldest first.
func (m *Memory) AuditEntries() []billing.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// ListAudit returns the most recent audit entries, newest first.
func (m *Memory) ListAudit(_ context.Context, limit int) ([]billing.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.audit)
	if limit > n {
		limit = n
	}
	out := make([]billing.AuditEntry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a deep copy of the store and swaps the copy in
// only when fn succeeds. Transactions serialize on txMu.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	clone := m.clone()
	if err := fn(clone); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees = clone.employees
	m.hotels = clone.hotels
	m.rates = clone.rates
	m.bills = clone.bills
	m.stays = clone.stays
	m.audit = clone.audit
	return nil
}

func (m *Memory) clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := NewMemory()
	for k, v := range m.employees {
		c.employees[k] = v
	}
	for k, v := range m.hotels {
		c.hotels[k] = v
	}
	for k, v := range m.rates {
		rates := make([]billing.RoomRate, len(v))
		copy(rates, v)
		c.rates[k] = rates
	}
	for k, v := range m.bills {
		c.bills[k] = v
	}
	for k, v := range m.stays {
		c.stays[k] = v
	}
	c.audit = make([]billing.AuditEntry, len(m.audit))
	copy(c.audit, m.audit)
	return c
}
