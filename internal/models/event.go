package models

import (
	"time"
)

// EventDetails is a point-in-time snapshot of a single event. Completed is
// derived from the clock at snapshot time, it is never stored.
type EventDetails struct {
	EventID          int64     `json:"event_id"`
	Name             string    `json:"name"`
	Location         string    `json:"location"`
	Date             time.Time `json:"date"`
	PriceReference   int64     `json:"price_reference"`
	TicketsAvailable int64     `json:"tickets_available"`
	TicketsMinted    int64     `json:"tickets_minted"`
	Organizer        string    `json:"organizer"`
	Cancelled        bool      `json:"cancelled"`
	FundsWithdrawn   bool      `json:"funds_withdrawn"`
	Completed        bool      `json:"completed"`
}
