package models

import (
	"time"
)

type NotificationKind string

const (
	KindEventCreated      NotificationKind = "event.created"
	KindTicketPurchased   NotificationKind = "ticket.purchased"
	KindTicketTransferred NotificationKind = "ticket.transferred"
	KindTicketInvalidated NotificationKind = "ticket.invalidated"
	KindEventCancelled    NotificationKind = "event.cancelled"
	KindTicketRefunded    NotificationKind = "ticket.refunded"
	KindFundsWithdrawn    NotificationKind = "funds.withdrawn"
)

// Notification is one entry of the ordered domain-event log. Entries are
// appended atomically with the state mutation that caused them; subscribers
// observe them, the engine never consumes its own log.
type Notification struct {
	Seq        uint64           `json:"seq"`
	Kind       NotificationKind `json:"kind"`
	EventID    int64            `json:"event_id"`
	TicketID   int64            `json:"ticket_id,omitempty"`
	Party      string           `json:"party,omitempty"`
	From       string           `json:"from,omitempty"`
	To         string           `json:"to,omitempty"`
	Amount     int64            `json:"amount,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
