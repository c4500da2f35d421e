package event

import "errors"

// Every operation either completes in full or fails with one of these and
// leaves all state untouched.
var (
	// input validation
	ErrInvalidQuantity   = errors.New("quantity must be at least one")
	ErrInvalidPrice      = errors.New("ticket price must be positive")
	ErrAmountOverflow    = errors.New("amount exceeds the representable range")
	ErrSoldOut           = errors.New("not enough tickets available")
	ErrInsufficientFunds = errors.New("payment does not cover the total price")

	// authorization
	ErrUnauthorized   = errors.New("caller is not the event organizer")
	ErrTicketNotOwned = errors.New("caller does not own this ticket")

	// state conflict
	ErrEventCancelled       = errors.New("event is cancelled")
	ErrEventNotCancelled    = errors.New("event is not cancelled")
	ErrAlreadyCancelled     = errors.New("event is already cancelled")
	ErrAlreadyWithdrawn     = errors.New("funds have already been withdrawn")
	ErrTicketInvalid        = errors.New("ticket is not valid")
	ErrAlreadyRefunded      = errors.New("ticket has already been refunded")
	ErrTransferWindowClosed = errors.New("cannot transfer tickets after the event date")
	ErrTicketNotFound       = errors.New("ticket does not exist")
)
