package models

import (
	"time"
)

// Ticket is one right of admission minted against an event's inventory.
// IDs are sequential per event, starting at 1, never reused. PricePaid is the
// ticket's exact share of its purchase transaction, service fee included;
// refunds pay back this amount and nothing else.
type Ticket struct {
	EventID   int64     `json:"event_id"`
	TicketID  int64     `json:"ticket_id"`
	Owner     string    `json:"owner"`
	Valid     bool      `json:"valid"`
	Refunded  bool      `json:"refunded"`
	PricePaid int64     `json:"price_paid"`
	IssuedAt  time.Time `json:"issued_at"`
}

// TicketDetails is the read-model view of a ticket. Refundable is derived:
// the owning event is cancelled and the ticket is still valid and unrefunded.
type TicketDetails struct {
	EventID    int64  `json:"event_id"`
	TicketID   int64  `json:"ticket_id"`
	Owner      string `json:"owner"`
	Valid      bool   `json:"valid"`
	Refunded   bool   `json:"refunded"`
	Refundable bool   `json:"refundable"`
	PricePaid  int64  `json:"price_paid"`
}
