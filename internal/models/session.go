package models

import "time"

// CalendarEvent is a single (non-recurring) event read from the calendar store.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
}

// State is the lifecycle controller state of a staff session.
type State string

const (
	StateSearch        State = "search"
	StateView          State = "view"
	StateConfirmCancel State = "confirm_cancel"
	StateEditing       State = "editing"
)

// Mode tells whether the draft being edited is a new booking or a rebook.
type Mode string

const (
	ModeNone   Mode = ""
	ModeNew    Mode = "new"
	ModeRebook Mode = "rebook"
)

// Session is the per-chat state of one staff member working the booking flow.
type Session struct {
	ChatID    int64     `json:"chat_id"`
	State     State     `json:"state"`
	Mode      Mode      `json:"mode,omitempty"`
	Current   *Booking  `json:"current,omitempty"`
	Draft     *Booking  `json:"draft,omitempty"`
	Step      string    `json:"step,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession starts a session on the search screen.
func NewSession(chatID int64) *Session {
	return &Session{
		ChatID:    chatID,
		State:     StateSearch,
		UpdatedAt: time.Now(),
	}
}

// Reset drops the held booking and any draft and returns to search.
func (s *Session) Reset() {
	s.State = StateSearch
	s.Mode = ModeNone
	s.Current = nil
	s.Draft = nil
	s.Step = ""
	s.UpdatedAt = time.Now()
}

// IsExpired checks if the session has been idle longer than timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	return timeout > 0 && time.Since(s.UpdatedAt) > timeout
}
