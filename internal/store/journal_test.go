package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketing-escrow/internal/models"
	"ticketing-escrow/internal/store"
)

func setupTestJournal(t *testing.T) (*store.Journal, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	journal := store.NewJournal(bunDB)
	if err := journal.Init(context.Background()); err != nil {
		t.Fatalf("Failed to create journal tables: %v", err)
	}
	return journal, bunDB
}

func TestDeliverAndListNotifications(t *testing.T) {
	journal, bunDB := setupTestJournal(t)
	defer bunDB.Close()

	entries := []models.Notification{
		{Seq: 1, Kind: models.KindEventCreated, EventID: 0, Party: "organizer", OccurredAt: time.Now()},
		{Seq: 2, Kind: models.KindTicketPurchased, EventID: 0, TicketID: 1, Party: "buyer1", Amount: 40800, OccurredAt: time.Now()},
		{Seq: 3, Kind: models.KindEventCreated, EventID: 1, Party: "organizer", OccurredAt: time.Now()},
	}
	for _, n := range entries {
		require.NoError(t, journal.Deliver(n))
	}

	got, err := journal.Notifications(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.KindEventCreated, got[0].Kind)
	assert.Equal(t, models.KindTicketPurchased, got[1].Kind)
	assert.Equal(t, int64(40800), got[1].Amount)
	assert.Equal(t, "buyer1", got[1].Party)

	// Cursor skips already-seen entries.
	got, err = journal.Notifications(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)

	// Unknown event has an empty log, not an error.
	got, err = journal.Notifications(context.Background(), 9, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTransferPartiesRoundTrip(t *testing.T) {
	journal, bunDB := setupTestJournal(t)
	defer bunDB.Close()

	require.NoError(t, journal.Deliver(models.Notification{
		Seq: 1, Kind: models.KindTicketTransferred, EventID: 2, TicketID: 1,
		From: "buyer1", To: "buyer2", OccurredAt: time.Now(),
	}))

	got, err := journal.Notifications(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "buyer1", got[0].From)
	assert.Equal(t, "buyer2", got[0].To)
}

func TestRecordAndListReceipts(t *testing.T) {
	journal, bunDB := setupTestJournal(t)
	defer bunDB.Close()

	receipt := models.PurchaseReceipt{
		EventID:     0,
		Buyer:       "buyer1",
		Quantity:    2,
		TicketIDs:   []int64{1, 2},
		BasePrice:   80000,
		ServiceFee:  1600,
		TotalDue:    81600,
		Payment:     81600,
		Collected:   81600,
		Rate:        250000000000,
		PurchasedAt: time.Now(),
	}
	require.NoError(t, journal.RecordReceipt(context.Background(), receipt))

	got, err := journal.ReceiptsByBuyer(context.Background(), "buyer1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []int64{1, 2}, got[0].TicketIDs)
	assert.Equal(t, int64(81600), got[0].TotalDue)

	got, err = journal.ReceiptsByBuyer(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}
