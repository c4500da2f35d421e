package models

// EscrowBalance is the per-event view of the ledger. Held is what remains in
// escrow awaiting resolution; Collected == RefundedTotal + OrganizerPayout + Held
// holds at all times.
type EscrowBalance struct {
	EventID         int64 `json:"event_id"`
	Collected       int64 `json:"collected"`
	RefundedTotal   int64 `json:"refunded_total"`
	OrganizerPayout int64 `json:"organizer_payout"`
	Held            int64 `json:"held"`
}
