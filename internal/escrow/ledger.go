package escrow

import (
	"errors"
	"fmt"
	"sync"

	"ticketing-escrow/internal/models"
)

// ErrOverdraw is returned when a refund debit exceeds what is still held in
// escrow for the event.
var ErrOverdraw = errors.New("refund exceeds escrowed balance")

type balance struct {
	collected       int64
	refundedTotal   int64
	organizerPayout int64
	released        bool
}

func (b *balance) held() int64 {
	return b.collected - b.refundedTotal - b.organizerPayout
}

// Ledger tracks escrowed funds per event plus the running balance disbursed
// to each party (refunds to buyers, payouts to organizers). It is pure
// bookkeeping: only Event Instances call the mutating methods, and every
// mutation keeps collected == refundedTotal + organizerPayout + held.
type Ledger struct {
	mu       sync.Mutex
	balances map[int64]*balance
	accounts map[string]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[int64]*balance),
		accounts: make(map[string]int64),
	}
}

func (l *Ledger) bucket(eventID int64) *balance {
	b, ok := l.balances[eventID]
	if !ok {
		b = &balance{}
		l.balances[eventID] = b
	}
	return b
}

// Credit records a fee-inclusive purchase payment entering escrow.
func (l *Ledger) Credit(eventID, amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bucket(eventID).collected += amount
}

// DebitForRefund moves amount from the event's held balance into the refund
// bucket. The caller records the payee separately via CreditAccount.
func (l *Ledger) DebitForRefund(eventID, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(eventID)
	if amount > b.held() {
		return fmt.Errorf("event %d: debit %d with %d held: %w", eventID, amount, b.held(), ErrOverdraw)
	}
	b.refundedTotal += amount
	return nil
}

// Release moves the entire remaining held balance into the organizer payout
// bucket and returns it. The releasable balance is zeroed exactly once; any
// later call returns 0.
func (l *Ledger) Release(eventID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(eventID)
	if b.released {
		return 0
	}
	amount := b.held()
	b.organizerPayout += amount
	b.released = true
	return amount
}

// CreditAccount records funds leaving the engine toward a party.
func (l *Ledger) CreditAccount(party string, amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[party] += amount
}

// AccountBalance returns the total disbursed to a party so far.
func (l *Ledger) AccountBalance(party string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[party]
}

// Balance returns the per-event escrow view.
func (l *Ledger) Balance(eventID int64) models.EscrowBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(eventID)
	return models.EscrowBalance{
		EventID:         eventID,
		Collected:       b.collected,
		RefundedTotal:   b.refundedTotal,
		OrganizerPayout: b.organizerPayout,
		Held:            b.held(),
	}
}
