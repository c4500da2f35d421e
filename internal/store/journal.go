package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ticketing-escrow/internal/models"
)

// NotificationRecord is the persisted form of one log entry.
type NotificationRecord struct {
	bun.BaseModel `bun:"table:notifications"`

	ID         string    `bun:"id,pk"`
	Seq        uint64    `bun:"seq"`
	Kind       string    `bun:"kind"`
	EventID    int64     `bun:"event_id"`
	TicketID   int64     `bun:"ticket_id"`
	Party      string    `bun:"party"`
	FromParty  string    `bun:"from_party"`
	ToParty    string    `bun:"to_party"`
	Amount     int64     `bun:"amount"`
	OccurredAt time.Time `bun:"occurred_at"`
}

// ReceiptRecord is the persisted form of one purchase receipt.
type ReceiptRecord struct {
	bun.BaseModel `bun:"table:purchase_receipts"`

	ID             string    `bun:"id,pk"`
	EventID        int64     `bun:"event_id"`
	Buyer          string    `bun:"buyer"`
	Quantity       int64     `bun:"quantity"`
	TicketIDs      string    `bun:"ticket_ids"`
	BasePrice      int64     `bun:"base_price"`
	ServiceFee     int64     `bun:"service_fee"`
	TotalDue       int64     `bun:"total_due"`
	Payment        int64     `bun:"payment"`
	Collected      int64     `bun:"collected"`
	ExcessReturned int64     `bun:"excess_returned"`
	Rate           int64     `bun:"rate"`
	PurchasedAt    time.Time `bun:"purchased_at"`
}

// Journal is the durable audit trail: every notification appended to the log
// and every purchase receipt lands here. The in-memory engine stays
// authoritative; the journal serves history reads.
type Journal struct {
	Bun *bun.DB
}

func NewJournal(bunDB *bun.DB) *Journal {
	return &Journal{Bun: bunDB}
}

// Init creates the journal tables if they are missing.
func (j *Journal) Init(ctx context.Context) error {
	if _, err := j.Bun.NewCreateTable().Model((*NotificationRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := j.Bun.NewCreateTable().Model((*ReceiptRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Deliver implements notify.Sink.
func (j *Journal) Deliver(n models.Notification) error {
	record := NotificationRecord{
		ID:         uuid.NewString(),
		Seq:        n.Seq,
		Kind:       string(n.Kind),
		EventID:    n.EventID,
		TicketID:   n.TicketID,
		Party:      n.Party,
		FromParty:  n.From,
		ToParty:    n.To,
		Amount:     n.Amount,
		OccurredAt: n.OccurredAt,
	}
	_, err := j.Bun.NewInsert().Model(&record).Exec(context.Background())
	return err
}

// Notifications returns the persisted log for one event, seq ascending,
// restricted to entries after the given cursor.
func (j *Journal) Notifications(ctx context.Context, eventID int64, afterSeq uint64) ([]models.Notification, error) {
	var records []NotificationRecord
	err := j.Bun.NewSelect().
		Model(&records).
		Where("event_id = ?", eventID).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Notification, 0, len(records))
	for _, r := range records {
		out = append(out, models.Notification{
			Seq:        r.Seq,
			Kind:       models.NotificationKind(r.Kind),
			EventID:    r.EventID,
			TicketID:   r.TicketID,
			Party:      r.Party,
			From:       r.FromParty,
			To:         r.ToParty,
			Amount:     r.Amount,
			OccurredAt: r.OccurredAt,
		})
	}
	return out, nil
}

// RecordReceipt persists a purchase receipt.
func (j *Journal) RecordReceipt(ctx context.Context, receipt models.PurchaseReceipt) error {
	ids, err := json.Marshal(receipt.TicketIDs)
	if err != nil {
		return err
	}
	record := ReceiptRecord{
		ID:             uuid.NewString(),
		EventID:        receipt.EventID,
		Buyer:          receipt.Buyer,
		Quantity:       receipt.Quantity,
		TicketIDs:      string(ids),
		BasePrice:      receipt.BasePrice,
		ServiceFee:     receipt.ServiceFee,
		TotalDue:       receipt.TotalDue,
		Payment:        receipt.Payment,
		Collected:      receipt.Collected,
		ExcessReturned: receipt.ExcessReturned,
		Rate:           receipt.Rate,
		PurchasedAt:    receipt.PurchasedAt,
	}
	_, err = j.Bun.NewInsert().Model(&record).Exec(ctx)
	return err
}

// ReceiptsByBuyer returns a buyer's purchase history, newest first.
func (j *Journal) ReceiptsByBuyer(ctx context.Context, buyer string) ([]models.PurchaseReceipt, error) {
	var records []ReceiptRecord
	err := j.Bun.NewSelect().
		Model(&records).
		Where("buyer = ?", buyer).
		Order("purchased_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.PurchaseReceipt, 0, len(records))
	for _, r := range records {
		var ids []int64
		if err := json.Unmarshal([]byte(r.TicketIDs), &ids); err != nil {
			return nil, err
		}
		out = append(out, models.PurchaseReceipt{
			EventID:        r.EventID,
			Buyer:          r.Buyer,
			Quantity:       r.Quantity,
			TicketIDs:      ids,
			BasePrice:      r.BasePrice,
			ServiceFee:     r.ServiceFee,
			TotalDue:       r.TotalDue,
			Payment:        r.Payment,
			Collected:      r.Collected,
			ExcessReturned: r.ExcessReturned,
			Rate:           r.Rate,
			PurchasedAt:    r.PurchasedAt,
		})
	}
	return out, nil
}
