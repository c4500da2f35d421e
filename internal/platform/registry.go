package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ticketing-escrow/internal/escrow"
	"ticketing-escrow/internal/event"
	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
	"ticketing-escrow/internal/notify"
)

var (
	ErrInvalidDate     = errors.New("event date must be in the future")
	ErrInvalidQuantity = errors.New("tickets available must be at least one")
	ErrInvalidPrice    = errors.New("ticket price must be positive")
	ErrNotFound        = errors.New("event does not exist")
)

// Config wires the collaborators shared by every event the registry creates.
type Config struct {
	Quoter        event.Quoter
	Ledger        *escrow.Ledger
	Log           *notify.Log
	Logger        *logger.Logger
	Clock         func() time.Time
	ServiceFeeBps int64
	RefundExcess  bool
}

// Registry is the platform directory: it allocates sequential event ids,
// owns the id-to-instance arena, and hands out instance handles. Instances
// never outlive the registry that created them.
type Registry struct {
	mu     sync.Mutex
	events map[int64]*event.Instance
	nextID int64

	cfg Config
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.ServiceFeeBps == 0 {
		cfg.ServiceFeeBps = 200
	}
	return &Registry{
		events: make(map[int64]*event.Instance),
		cfg:    cfg,
	}
}

// CreateEvent validates the event attributes, allocates the next sequential
// id (starting at 0) and instantiates the event with the caller as organizer.
func (r *Registry) CreateEvent(caller, name, location string, date time.Time, referencePrice, ticketsAvailable int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !date.After(r.cfg.Clock()) {
		return 0, fmt.Errorf("date %s: %w", date, ErrInvalidDate)
	}
	if ticketsAvailable <= 0 {
		return 0, ErrInvalidQuantity
	}
	if referencePrice <= 0 {
		return 0, fmt.Errorf("price %d: %w", referencePrice, ErrInvalidPrice)
	}

	id := r.nextID
	r.nextID++

	r.events[id] = event.NewInstance(event.Config{
		EventID:          id,
		Name:             name,
		Location:         location,
		Date:             date,
		PriceReference:   referencePrice,
		TicketsAvailable: ticketsAvailable,
		Organizer:        caller,
		ServiceFeeBps:    r.cfg.ServiceFeeBps,
		RefundExcess:     r.cfg.RefundExcess,
		Quoter:           r.cfg.Quoter,
		Ledger:           r.cfg.Ledger,
		Log:              r.cfg.Log,
		Logger:           r.cfg.Logger,
		Clock:            r.cfg.Clock,
	})

	r.cfg.Log.Append(models.Notification{
		Kind:       models.KindEventCreated,
		EventID:    id,
		Party:      caller,
		OccurredAt: r.cfg.Clock(),
	})
	r.cfg.Logger.LogEvent("CREATE", id, fmt.Sprintf("%q at %q by %s", name, location, caller))

	return id, nil
}

// Resolve returns the instance handle for an allocated id.
func (r *Registry) Resolve(eventID int64) (*event.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	return inst, nil
}

// NextEventID reports how many events have been created so far, which is
// also the id the next creation will receive. Pure read.
func (r *Registry) NextEventID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Events returns a snapshot of every event, id ascending.
func (r *Registry) Events() []models.EventDetails {
	r.mu.Lock()
	instances := make([]*event.Instance, 0, len(r.events))
	for id := int64(0); id < r.nextID; id++ {
		instances = append(instances, r.events[id])
	}
	r.mu.Unlock()

	out := make([]models.EventDetails, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.EventDetails())
	}
	return out
}
