package event

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"ticketing-escrow/internal/escrow"
	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
	"ticketing-escrow/internal/notify"
)

// Quoter converts a fiat reference amount into settlement units.
type Quoter interface {
	Quote(ctx context.Context, referenceAmount int64) (models.Quote, error)
}

// Config carries the immutable attributes and collaborators of one event.
type Config struct {
	EventID          int64
	Name             string
	Location         string
	Date             time.Time
	PriceReference   int64
	TicketsAvailable int64
	Organizer        string

	ServiceFeeBps int64
	RefundExcess  bool

	Quoter Quoter
	Ledger *escrow.Ledger
	Log    *notify.Log
	Logger *logger.Logger
	Clock  func() time.Time
}

// Instance owns one event's ticket inventory, lifecycle and fund movement.
// Every public method is serialized behind the instance mutex: an operation
// either applies all of its effects (state change, ledger movement,
// notification append) or none of them.
type Instance struct {
	mu sync.Mutex

	id             int64
	name           string
	location       string
	date           time.Time
	priceReference int64
	organizer      string

	ticketsAvailable int64
	cancelled        bool
	fundsWithdrawn   bool

	nextTicketID int64
	tickets      map[int64]*models.Ticket

	serviceFeeBps int64
	refundExcess  bool

	quoter Quoter
	ledger *escrow.Ledger
	log    *notify.Log
	logger *logger.Logger
	clock  func() time.Time
}

func NewInstance(cfg Config) *Instance {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Instance{
		id:               cfg.EventID,
		name:             cfg.Name,
		location:         cfg.Location,
		date:             cfg.Date,
		priceReference:   cfg.PriceReference,
		organizer:        cfg.Organizer,
		ticketsAvailable: cfg.TicketsAvailable,
		nextTicketID:     1,
		tickets:          make(map[int64]*models.Ticket),
		serviceFeeBps:    cfg.ServiceFeeBps,
		refundExcess:     cfg.RefundExcess,
		quoter:           cfg.Quoter,
		ledger:           cfg.Ledger,
		log:              cfg.Log,
		logger:           log,
		clock:            clock,
	}
}

func (i *Instance) ID() int64         { return i.id }
func (i *Instance) Organizer() string { return i.organizer }

// completed is the derived terminal-for-sales predicate: the date has passed
// and the organizer never cancelled. It is evaluated on demand, never stored.
func (i *Instance) completed() bool {
	return !i.cancelled && !i.clock().Before(i.date)
}

// referenceTotal computes quantity*priceReference with the same care the
// settlement conversion takes: a non-positive price or an overflowing
// product must never reach the quoter, where it would collapse to a free
// purchase.
func (i *Instance) referenceTotal(quantity int64) (int64, error) {
	if i.priceReference <= 0 {
		return 0, fmt.Errorf("price %d: %w", i.priceReference, ErrInvalidPrice)
	}
	if quantity > math.MaxInt64/i.priceReference {
		return 0, fmt.Errorf("quantity %d at price %d: %w", quantity, i.priceReference, ErrAmountOverflow)
	}
	return quantity * i.priceReference, nil
}

func (i *Instance) serviceFee(base int64) (int64, error) {
	if i.serviceFeeBps <= 0 {
		return 0, nil
	}
	if base > math.MaxInt64/i.serviceFeeBps {
		return 0, fmt.Errorf("base %d at %d bps: %w", base, i.serviceFeeBps, ErrAmountOverflow)
	}
	return base * i.serviceFeeBps / 10_000, nil
}

// BuyTickets quotes quantity tickets at the current rate, adds the service
// fee, and on sufficient payment mints the tickets and credits escrow. Any
// payment above the total due is retained unless the refund-excess policy is
// on, in which case the excess goes straight back to the buyer's account
// without entering escrow.
func (i *Instance) BuyTickets(ctx context.Context, caller string, quantity, payment int64) (*models.PurchaseReceipt, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cancelled {
		return nil, fmt.Errorf("event %d: %w", i.id, ErrEventCancelled)
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity > i.ticketsAvailable {
		return nil, fmt.Errorf("requested %d with %d remaining: %w", quantity, i.ticketsAvailable, ErrSoldOut)
	}

	refTotal, err := i.referenceTotal(quantity)
	if err != nil {
		return nil, err
	}
	quote, err := i.quoter.Quote(ctx, refTotal)
	if err != nil {
		return nil, fmt.Errorf("price quote failed: %w", err)
	}

	base := quote.SettlementAmount
	fee, err := i.serviceFee(base)
	if err != nil {
		return nil, err
	}
	if base > math.MaxInt64-fee {
		return nil, fmt.Errorf("base %d fee %d: %w", base, fee, ErrAmountOverflow)
	}
	totalDue := base + fee
	if payment < totalDue {
		return nil, fmt.Errorf("payment %d, total due %d: %w", payment, totalDue, ErrInsufficientFunds)
	}

	collected := payment
	var excess int64
	if i.refundExcess && payment > totalDue {
		excess = payment - totalDue
		collected = totalDue
	}

	now := i.clock()
	i.ledger.Credit(i.id, collected)
	if excess > 0 {
		i.ledger.CreditAccount(caller, excess)
	}

	// Each ticket carries its exact share of the fee-inclusive total; the
	// integer remainder lands on the lowest ticket ids so the shares always
	// sum to totalDue.
	share := totalDue / quantity
	remainder := totalDue % quantity

	ticketIDs := make([]int64, 0, quantity)
	for n := int64(0); n < quantity; n++ {
		id := i.nextTicketID
		i.nextTicketID++

		paid := share
		if n < remainder {
			paid++
		}

		i.tickets[id] = &models.Ticket{
			EventID:   i.id,
			TicketID:  id,
			Owner:     caller,
			Valid:     true,
			PricePaid: paid,
			IssuedAt:  now,
		}
		ticketIDs = append(ticketIDs, id)

		i.log.Append(models.Notification{
			Kind:       models.KindTicketPurchased,
			EventID:    i.id,
			TicketID:   id,
			Party:      caller,
			Amount:     paid,
			OccurredAt: now,
		})
	}
	i.ticketsAvailable -= quantity

	i.logger.LogEvent("PURCHASE", i.id, fmt.Sprintf("%s bought %d tickets for %d", caller, quantity, totalDue))

	return &models.PurchaseReceipt{
		EventID:        i.id,
		Buyer:          caller,
		Quantity:       quantity,
		TicketIDs:      ticketIDs,
		BasePrice:      base,
		ServiceFee:     fee,
		TotalDue:       totalDue,
		Payment:        payment,
		Collected:      collected,
		ExcessReturned: excess,
		Rate:           quote.Rate,
		PurchasedAt:    now,
	}, nil
}

// TicketPriceInSettlement quotes one ticket at the current rate, fee
// excluded. Pure read.
func (i *Instance) TicketPriceInSettlement(ctx context.Context) (int64, error) {
	ref, err := i.referenceTotal(1)
	if err != nil {
		return 0, err
	}
	quote, err := i.quoter.Quote(ctx, ref)
	if err != nil {
		return 0, err
	}
	return quote.SettlementAmount, nil
}

// TotalPriceWithFee quotes quantity tickets fee-inclusive, using the same
// rounding and overflow guards as BuyTickets.
func (i *Instance) TotalPriceWithFee(ctx context.Context, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	refTotal, err := i.referenceTotal(quantity)
	if err != nil {
		return 0, err
	}
	quote, err := i.quoter.Quote(ctx, refTotal)
	if err != nil {
		return 0, err
	}
	fee, err := i.serviceFee(quote.SettlementAmount)
	if err != nil {
		return 0, err
	}
	if quote.SettlementAmount > math.MaxInt64-fee {
		return 0, fmt.Errorf("base %d fee %d: %w", quote.SettlementAmount, fee, ErrAmountOverflow)
	}
	return quote.SettlementAmount + fee, nil
}

// TransferTicket reassigns ownership. Transfers close at the event date and
// are never allowed on a cancelled event's tickets.
func (i *Instance) TransferTicket(caller string, ticketID int64, to string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	t, ok := i.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotFound)
	}
	if t.Owner != caller {
		return fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotOwned)
	}
	if !t.Valid || t.Refunded {
		return fmt.Errorf("ticket %d: %w", ticketID, ErrTicketInvalid)
	}
	if !i.clock().Before(i.date) {
		return ErrTransferWindowClosed
	}
	if i.cancelled {
		return fmt.Errorf("event %d: %w", i.id, ErrEventCancelled)
	}

	from := t.Owner
	t.Owner = to

	i.log.Append(models.Notification{
		Kind:       models.KindTicketTransferred,
		EventID:    i.id,
		TicketID:   ticketID,
		From:       from,
		To:         to,
		OccurredAt: i.clock(),
	})
	i.logger.LogEvent("TRANSFER", i.id, fmt.Sprintf("ticket %d: %s -> %s", ticketID, from, to))
	return nil
}

// InvalidateTicket revokes a single ticket's admission right.
func (i *Instance) InvalidateTicket(caller string, ticketID int64) error {
	return i.InvalidateTickets(caller, []int64{ticketID})
}

// InvalidateTickets revokes a batch atomically: every id must name a valid
// ticket or the whole call fails with the first offending id, applying
// nothing.
func (i *Instance) InvalidateTickets(caller string, ticketIDs []int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if caller != i.organizer {
		return ErrUnauthorized
	}

	for _, id := range ticketIDs {
		t, ok := i.tickets[id]
		if !ok {
			return fmt.Errorf("ticket %d: %w", id, ErrTicketNotFound)
		}
		if !t.Valid {
			return fmt.Errorf("ticket %d: %w", id, ErrTicketInvalid)
		}
	}

	now := i.clock()
	for _, id := range ticketIDs {
		i.tickets[id].Valid = false
		i.log.Append(models.Notification{
			Kind:       models.KindTicketInvalidated,
			EventID:    i.id,
			TicketID:   id,
			OccurredAt: now,
		})
	}
	i.logger.LogEvent("INVALIDATE", i.id, fmt.Sprintf("%d tickets invalidated", len(ticketIDs)))
	return nil
}

// CancelEvent halts sales and opens the refund path. Cancellation is legal
// before and after the event date as long as funds have not been withdrawn.
func (i *Instance) CancelEvent(caller string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if caller != i.organizer {
		return ErrUnauthorized
	}
	if i.cancelled {
		return fmt.Errorf("event %d: %w", i.id, ErrAlreadyCancelled)
	}
	if i.fundsWithdrawn {
		return fmt.Errorf("event %d: %w", i.id, ErrAlreadyWithdrawn)
	}

	i.cancelled = true
	i.log.Append(models.Notification{
		Kind:       models.KindEventCancelled,
		EventID:    i.id,
		OccurredAt: i.clock(),
	})
	i.logger.LogEvent("CANCEL", i.id, "event cancelled by organizer")
	return nil
}

// RefundTicket pays the ticket holder back exactly what the ticket cost, fee
// included. Only reachable once the event is cancelled; each ticket refunds
// at most once.
func (i *Instance) RefundTicket(caller string, ticketID int64) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.cancelled {
		return 0, fmt.Errorf("event %d: %w", i.id, ErrEventNotCancelled)
	}
	t, ok := i.tickets[ticketID]
	if !ok {
		return 0, fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotFound)
	}
	if t.Owner != caller {
		return 0, fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotOwned)
	}
	if !t.Valid {
		return 0, fmt.Errorf("ticket %d: %w", ticketID, ErrTicketInvalid)
	}
	if t.Refunded {
		return 0, fmt.Errorf("ticket %d: %w", ticketID, ErrAlreadyRefunded)
	}

	amount := t.PricePaid
	if err := i.ledger.DebitForRefund(i.id, amount); err != nil {
		return 0, err
	}
	t.Refunded = true
	i.ledger.CreditAccount(caller, amount)

	i.log.Append(models.Notification{
		Kind:       models.KindTicketRefunded,
		EventID:    i.id,
		TicketID:   ticketID,
		Party:      caller,
		Amount:     amount,
		OccurredAt: i.clock(),
	})
	i.logger.LogLedger("REFUND", i.id, amount)
	return amount, nil
}

// WithdrawFunds releases the escrowed balance to the organizer. Blocked
// after cancellation; the release happens at most once.
func (i *Instance) WithdrawFunds(caller string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if caller != i.organizer {
		return 0, ErrUnauthorized
	}
	if i.cancelled {
		return 0, fmt.Errorf("event %d: %w", i.id, ErrEventCancelled)
	}
	if i.fundsWithdrawn {
		return 0, fmt.Errorf("event %d: %w", i.id, ErrAlreadyWithdrawn)
	}

	amount := i.ledger.Release(i.id)
	i.fundsWithdrawn = true
	i.ledger.CreditAccount(i.organizer, amount)

	i.log.Append(models.Notification{
		Kind:       models.KindFundsWithdrawn,
		EventID:    i.id,
		Party:      i.organizer,
		Amount:     amount,
		OccurredAt: i.clock(),
	})
	i.logger.LogLedger("WITHDRAW", i.id, amount)
	return amount, nil
}

// EventDetails returns a snapshot of the event. Pure read.
func (i *Instance) EventDetails() models.EventDetails {
	i.mu.Lock()
	defer i.mu.Unlock()

	return models.EventDetails{
		EventID:          i.id,
		Name:             i.name,
		Location:         i.location,
		Date:             i.date,
		PriceReference:   i.priceReference,
		TicketsAvailable: i.ticketsAvailable,
		TicketsMinted:    i.nextTicketID - 1,
		Organizer:        i.organizer,
		Cancelled:        i.cancelled,
		FundsWithdrawn:   i.fundsWithdrawn,
		Completed:        i.completed(),
	}
}

// TicketDetails returns the read-model view of one ticket. Pure read.
func (i *Instance) TicketDetails(ticketID int64) (models.TicketDetails, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	t, ok := i.tickets[ticketID]
	if !ok {
		return models.TicketDetails{}, fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotFound)
	}
	return models.TicketDetails{
		EventID:    i.id,
		TicketID:   t.TicketID,
		Owner:      t.Owner,
		Valid:      t.Valid,
		Refunded:   t.Refunded,
		Refundable: i.cancelled && t.Valid && !t.Refunded,
		PricePaid:  t.PricePaid,
	}, nil
}

// TicketsOfOwner lists the ids currently held by owner, ascending. Pure read.
func (i *Instance) TicketsOfOwner(owner string) []int64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	var ids []int64
	for id, t := range i.tickets {
		if t.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
