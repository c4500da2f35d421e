package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketing-escrow/internal/auth"
	"ticketing-escrow/internal/escrow"
	"ticketing-escrow/internal/event"
	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
	"ticketing-escrow/internal/notify"
	"ticketing-escrow/internal/passes"
	"ticketing-escrow/internal/platform"
	"ticketing-escrow/internal/pricing"
	"ticketing-escrow/internal/store"
	"ticketing-escrow/internal/utils"
)

// Handler exposes the engine over HTTP. All mutating routes sit behind the
// auth middleware and take the caller identity from the request context; the
// handler itself holds no business rules.
type Handler struct {
	Registry *platform.Registry
	Ledger   *escrow.Ledger
	Log      *notify.Log
	Journal  *store.Journal // optional; in-memory log serves reads when nil
	Passes   *passes.Generator
	Logger   *logger.Logger
}

// Router assembles the full route table. Mutating routes and owner-scoped
// reads are wrapped with authMw.
func (h *Handler) Router(authMw func(http.Handler) http.Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = logger.NewNop()
	}

	r := chi.NewRouter()
	r.Use(h.requestLogger)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.ListEvents)
		r.Get("/events/{eventID}", h.GetEvent)
		r.Get("/events/{eventID}/price", h.GetPrice)
		r.Get("/events/{eventID}/tickets", h.GetTicketsOfOwner)
		r.Get("/events/{eventID}/tickets/{ticketID}", h.GetTicket)
		r.Get("/events/{eventID}/tickets/{ticketID}/pass", h.GetPass)
		r.Get("/events/{eventID}/notifications", h.GetNotifications)
		r.Get("/events/{eventID}/notifications/stream", h.StreamNotifications)
		r.Get("/accounts/{party}/balance", h.GetAccountBalance)
		r.Get("/accounts/{party}/receipts", h.GetReceipts)

		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Post("/events", h.CreateEvent)
			r.Post("/events/{eventID}/purchase", h.Purchase)
			r.Post("/events/{eventID}/tickets/{ticketID}/transfer", h.Transfer)
			r.Post("/events/{eventID}/tickets/invalidate", h.Invalidate)
			r.Post("/events/{eventID}/cancel", h.Cancel)
			r.Post("/events/{eventID}/tickets/{ticketID}/refund", h.Refund)
			r.Post("/events/{eventID}/withdraw", h.Withdraw)
		})
	})
	return r
}

// statusWriter records the response code for the request log. Flush is
// forwarded so the SSE endpoint keeps streaming through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start).String())
	})
}

// statusForError maps engine sentinels onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, platform.ErrNotFound), errors.Is(err, event.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, event.ErrUnauthorized), errors.Is(err, event.ErrTicketNotOwned):
		return http.StatusForbidden
	case errors.Is(err, event.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, event.ErrInvalidQuantity),
		errors.Is(err, event.ErrInvalidPrice),
		errors.Is(err, event.ErrAmountOverflow),
		errors.Is(err, platform.ErrInvalidDate),
		errors.Is(err, platform.ErrInvalidQuantity),
		errors.Is(err, platform.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrStaleQuote):
		return http.StatusServiceUnavailable
	case errors.Is(err, event.ErrSoldOut),
		errors.Is(err, event.ErrEventCancelled),
		errors.Is(err, event.ErrEventNotCancelled),
		errors.Is(err, event.ErrAlreadyCancelled),
		errors.Is(err, event.ErrAlreadyWithdrawn),
		errors.Is(err, event.ErrTicketInvalid),
		errors.Is(err, event.ErrAlreadyRefunded),
		errors.Is(err, event.ErrTransferWindowClosed),
		errors.Is(err, escrow.ErrOverdraw):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	utils.WriteJSON(w, statusForError(err), utils.ErrorResponse(message, err.Error()))
}

func (h *Handler) resolveEvent(w http.ResponseWriter, r *http.Request) (*event.Instance, bool) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", err.Error()))
		return nil, false
	}
	inst, err := h.Registry.Resolve(eventID)
	if err != nil {
		h.writeError(w, "Event not found", err)
		return nil, false
	}
	return inst, true
}

func ticketIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ticketID, err := strconv.ParseInt(chi.URLParam(r, "ticketID"), 10, 64)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket id", err.Error()))
		return 0, false
	}
	return ticketID, true
}

type createEventRequest struct {
	Name             string    `json:"name"`
	Location         string    `json:"location"`
	Date             time.Time `json:"date"`
	PriceReference   int64     `json:"price_reference"`
	TicketsAvailable int64     `json:"tickets_available"`
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	caller := auth.Caller(r.Context())
	id, err := h.Registry.CreateEvent(caller, req.Name, req.Location, req.Date, req.PriceReference, req.TicketsAvailable)
	if err != nil {
		h.writeError(w, "Could not create event", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Event created", map[string]interface{}{
		"event_id": id,
	}))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Events listed", map[string]interface{}{
		"next_event_id": h.Registry.NextEventID(),
		"events":        h.Registry.Events(),
	}))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	details := inst.EventDetails()
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event details", map[string]interface{}{
		"event":  details,
		"escrow": h.Ledger.Balance(details.EventID),
	}))
}

type purchaseRequest struct {
	Quantity int64 `json:"quantity"`
	Payment  int64 `json:"payment"`
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	caller := auth.Caller(r.Context())
	receipt, err := inst.BuyTickets(r.Context(), caller, req.Quantity, req.Payment)
	if err != nil {
		h.writeError(w, "Purchase failed", err)
		return
	}

	if h.Journal != nil {
		if err := h.Journal.RecordReceipt(r.Context(), *receipt); err != nil {
			h.Logger.Error("JOURNAL", fmt.Sprintf("Failed to persist receipt for event %d: %v", receipt.EventID, err))
		}
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Tickets purchased", receipt))
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}

	if q := r.URL.Query().Get("quantity"); q != "" {
		quantity, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid quantity", err.Error()))
			return
		}
		total, err := inst.TotalPriceWithFee(r.Context(), quantity)
		if err != nil {
			h.writeError(w, "Price quote failed", err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Total price quoted", map[string]interface{}{
			"quantity":           quantity,
			"total_due":          total,
			"includes_fee":       true,
			"settlement_per_usd": pricing.SettlementUnitsPerWhole,
		}))
		return
	}

	price, err := inst.TicketPriceInSettlement(r.Context())
	if err != nil {
		h.writeError(w, "Price quote failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket price quoted", map[string]interface{}{
		"price":              price,
		"includes_fee":       false,
		"settlement_per_usd": pricing.SettlementUnitsPerWhole,
	}))
}

type transferRequest struct {
	To string `json:"to"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.To == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "recipient cannot be empty"))
		return
	}

	if err := inst.TransferTicket(auth.Caller(r.Context()), ticketID, req.To); err != nil {
		h.writeError(w, "Transfer failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket transferred", nil))
}

type invalidateRequest struct {
	TicketIDs []int64 `json:"ticket_ids"`
}

func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if len(req.TicketIDs) == 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "ticket_ids cannot be empty"))
		return
	}

	if err := inst.InvalidateTickets(auth.Caller(r.Context()), req.TicketIDs); err != nil {
		h.writeError(w, "Invalidation failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets invalidated", map[string]interface{}{
		"ticket_ids": req.TicketIDs,
	}))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	if err := inst.CancelEvent(auth.Caller(r.Context())); err != nil {
		h.writeError(w, "Cancellation failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event cancelled", nil))
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}

	amount, err := inst.RefundTicket(auth.Caller(r.Context()), ticketID)
	if err != nil {
		h.writeError(w, "Refund failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket refunded", map[string]interface{}{
		"ticket_id": ticketID,
		"amount":    amount,
	}))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	amount, err := inst.WithdrawFunds(auth.Caller(r.Context()))
	if err != nil {
		h.writeError(w, "Withdrawal failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Funds withdrawn", map[string]interface{}{
		"amount": amount,
	}))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}

	details, err := inst.TicketDetails(ticketID)
	if err != nil {
		h.writeError(w, "Ticket not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket details", details))
}

func (h *Handler) GetTicketsOfOwner(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing owner", "owner query parameter is required"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets listed", map[string]interface{}{
		"owner":      owner,
		"ticket_ids": inst.TicketsOfOwner(owner),
	}))
}

// GetPass renders the encrypted admission QR for a valid ticket.
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}

	details, err := inst.TicketDetails(ticketID)
	if err != nil {
		h.writeError(w, "Ticket not found", err)
		return
	}
	if !details.Valid || details.Refunded {
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Pass unavailable", event.ErrTicketInvalid.Error()))
		return
	}

	png, err := h.Passes.GeneratePass(passes.Claim{
		EventID:  details.EventID,
		TicketID: details.TicketID,
		Owner:    details.Owner,
		IssuedAt: time.Now(),
	})
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Pass generation failed", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GetNotifications serves the audit history for one event. Reads come from
// the durable journal when one is wired, otherwise from the in-memory log.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}

	var afterSeq uint64
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid cursor", err.Error()))
			return
		}
		afterSeq = parsed
	}

	var (
		entries []models.Notification
		err     error
	)
	if h.Journal != nil {
		entries, err = h.Journal.Notifications(r.Context(), inst.ID(), afterSeq)
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Journal read failed", err.Error()))
			return
		}
	} else {
		entries = h.Log.Entries(inst.ID(), afterSeq)
	}
	if entries == nil {
		entries = []models.Notification{}
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Notifications listed", map[string]interface{}{
		"event_id":      inst.ID(),
		"notifications": entries,
	}))
}

// StreamNotifications pushes an event's notifications over SSE until the
// client disconnects.
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.resolveEvent(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Log.Subscribe(r.Context(), inst.ID())
	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	party := chi.URLParam(r, "party")
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Account balance", map[string]interface{}{
		"party":   party,
		"balance": h.Ledger.AccountBalance(party),
	}))
}

// GetReceipts serves a buyer's purchase history from the journal.
func (h *Handler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Receipts unavailable", "no journal configured"))
		return
	}

	party := chi.URLParam(r, "party")
	receipts, err := h.Journal.ReceiptsByBuyer(r.Context(), party)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Journal read failed", err.Error()))
		return
	}
	if receipts == nil {
		receipts = []models.PurchaseReceipt{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Receipts listed", map[string]interface{}{
		"party":    party,
		"receipts": receipts,
	}))
}
