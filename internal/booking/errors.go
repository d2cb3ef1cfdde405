package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrSlotUnavailable   = errors.New("selected start time is no longer available")
	ErrNoSlotsAvailable  = errors.New("no 4-hour slots available between 7 AM and 6 PM")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrNoDraft           = errors.New("no booking is being edited")
	ErrNoBookingHeld     = errors.New("no booking is open")
)

// Store operations, used in error and journal records.
const (
	OpList   = "list"
	OpInsert = "insert"
	OpDelete = "delete"
	OpRead   = "read"
	OpAppend = "append"
	OpUpdate = "update"
	OpBlank  = "blank"
)

// CalendarStoreError is a failure listing, inserting or deleting a calendar event.
type CalendarStoreError struct {
	Op  string
	Err error
}

func (e *CalendarStoreError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *CalendarStoreError) Unwrap() error {
	return e.Err
}

// RecordStoreError is a failure reading or writing booking rows.
type RecordStoreError struct {
	Op  string
	Err error
}

func (e *RecordStoreError) Error() string {
	return fmt.Sprintf("record store %s: %v", e.Op, e.Err)
}

func (e *RecordStoreError) Unwrap() error {
	return e.Err
}

// ValidationError reports a draft field the staff member has to fix.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// UserMessage renders err as a short message for staff.
func UserMessage(err error) string {
	var (
		calErr *CalendarStoreError
		recErr *RecordStoreError
		valErr *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "Not found. You can create a new booking."
	case errors.Is(err, ErrNoBookingHeld):
		return "That booking is no longer open. Search for it again."
	case errors.Is(err, ErrSlotUnavailable):
		return "That start time was just taken. Pick another slot."
	case errors.Is(err, ErrNoSlotsAvailable):
		return "No 4-hour slots available between 7 AM and 6 PM. Choose another date."
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoDraft):
		return "That action is not available right now. Use /start to begin again."
	case errors.As(err, &valErr):
		return valErr.Error()
	case errors.As(err, &calErr):
		switch calErr.Op {
		case OpDelete:
			return fmt.Sprintf("Could not delete the calendar event: %v", calErr.Err)
		case OpList:
			return fmt.Sprintf("Could not read the calendar: %v", calErr.Err)
		default:
			return fmt.Sprintf("Could not create the calendar event, nothing was saved: %v", calErr.Err)
		}
	case errors.As(err, &recErr):
		return fmt.Sprintf("Could not update the bookings sheet: %v", recErr.Err)
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}
