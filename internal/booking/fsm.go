// Package booking drives the booking lifecycle: search, view, new, rebook and
// cancel, keeping the bookings sheet and the jobs calendar in step.
package booking

import (
	"fmt"
	"time"

	"movingmen/internal/models"
)

// Action is a staff request that may move a session to another state.
type Action string

const (
	ActionSearchHit  Action = "search_hit"
	ActionSearchMiss Action = "search_miss"
	ActionNew        Action = "new"
	ActionSelect     Action = "select"
	ActionRebook     Action = "rebook"
	ActionCancel     Action = "cancel"
	ActionConfirm    Action = "confirm"
	ActionDecline    Action = "decline"
	ActionSubmit     Action = "submit"
	ActionBack       Action = "back"
)

// FSM holds the action -> transition table of the booking lifecycle.
type FSM struct {
	transitions map[models.State]map[Action]models.State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.State]map[Action]models.State{
			models.StateSearch: {
				ActionSearchHit:  models.StateView,
				ActionSearchMiss: models.StateEditing,
				ActionNew:        models.StateEditing,
				ActionSelect:     models.StateView,
				ActionBack:       models.StateSearch,
			},
			models.StateView: {
				ActionRebook: models.StateEditing,
				ActionCancel: models.StateConfirmCancel,
				ActionBack:   models.StateSearch,
			},
			models.StateConfirmCancel: {
				ActionConfirm: models.StateSearch,
				ActionDecline: models.StateView,
				ActionBack:    models.StateSearch,
			},
			models.StateEditing: {
				ActionSubmit: models.StateSearch,
				ActionBack:   models.StateSearch,
			},
		},
	}
}

// Next returns the state reached from 'from' by action.
func (f *FSM) Next(from models.State, action Action) (models.State, bool) {
	allowed, ok := f.transitions[from]
	if !ok {
		return "", false
	}
	to, ok := allowed[action]
	return to, ok
}

// CanTransition checks if action is allowed in state.
func (f *FSM) CanTransition(from models.State, action Action) bool {
	_, ok := f.Next(from, action)
	return ok
}

// Apply moves the session along action or returns ErrInvalidTransition.
func (f *FSM) Apply(s *models.Session, action Action) error {
	to, ok := f.Next(s.State, action)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, action, s.State)
	}
	s.State = to
	s.UpdatedAt = time.Now()
	return nil
}
