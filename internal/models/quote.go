package models

import (
	"time"
)

// Quote is an ephemeral price conversion produced for a single purchase.
// Rate is reference units per whole settlement coin, scaled by the oracle's
// rate decimals. Quotes are never persisted.
type Quote struct {
	ReferenceAmount  int64     `json:"reference_amount"`
	SettlementAmount int64     `json:"settlement_amount"`
	Rate             int64     `json:"rate"`
	ObservedAt       time.Time `json:"observed_at"`
}
