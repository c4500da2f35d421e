package models

import (
	"time"
)

// PurchaseReceipt summarizes one successful buyTickets call. TotalDue is the
// fee-inclusive amount owed; Collected is what actually entered escrow (equal
// to the payment when excess is retained). ExcessReturned is non-zero only
// when the overpayment policy refunds excess to the buyer.
type PurchaseReceipt struct {
	EventID        int64     `json:"event_id"`
	Buyer          string    `json:"buyer"`
	Quantity       int64     `json:"quantity"`
	TicketIDs      []int64   `json:"ticket_ids"`
	BasePrice      int64     `json:"base_price"`
	ServiceFee     int64     `json:"service_fee"`
	TotalDue       int64     `json:"total_due"`
	Payment        int64     `json:"payment"`
	Collected      int64     `json:"collected"`
	ExcessReturned int64     `json:"excess_returned"`
	Rate           int64     `json:"rate"`
	PurchasedAt    time.Time `json:"purchased_at"`
}
