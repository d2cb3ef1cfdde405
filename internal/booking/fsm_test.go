package booking

import (
	"errors"
	"testing"

	"movingmen/internal/models"
)

func TestFSMTransitions(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		name        string
		from        models.State
		action      Action
		to          models.State
		shouldAllow bool
	}{
		{"search hit to view", models.StateSearch, ActionSearchHit, models.StateView, true},
		{"search miss to editing", models.StateSearch, ActionSearchMiss, models.StateEditing, true},
		{"new to editing", models.StateSearch, ActionNew, models.StateEditing, true},
		{"select to view", models.StateSearch, ActionSelect, models.StateView, true},
		{"view rebook", models.StateView, ActionRebook, models.StateEditing, true},
		{"view cancel", models.StateView, ActionCancel, models.StateConfirmCancel, true},
		{"confirm cancel", models.StateConfirmCancel, ActionConfirm, models.StateSearch, true},
		{"decline cancel", models.StateConfirmCancel, ActionDecline, models.StateView, true},
		{"submit", models.StateEditing, ActionSubmit, models.StateSearch, true},
		// Back transitions
		{"editing back", models.StateEditing, ActionBack, models.StateSearch, true},
		{"view back", models.StateView, ActionBack, models.StateSearch, true},
		{"confirm back", models.StateConfirmCancel, ActionBack, models.StateSearch, true},
		{"search back", models.StateSearch, ActionBack, models.StateSearch, true},
		// Invalid transitions
		{"search submit", models.StateSearch, ActionSubmit, "", false},
		{"search cancel", models.StateSearch, ActionCancel, "", false},
		{"editing confirm", models.StateEditing, ActionConfirm, "", false},
		{"view submit", models.StateView, ActionSubmit, "", false},
		{"confirm rebook", models.StateConfirmCancel, ActionRebook, "", false},
		{"unknown state", models.State("bogus"), ActionBack, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed := fsm.CanTransition(tt.from, tt.action)
			if allowed != tt.shouldAllow {
				t.Errorf("%s in %s: expected allowed=%v, got %v", tt.action, tt.from, tt.shouldAllow, allowed)
			}
			if !tt.shouldAllow {
				return
			}
			to, _ := fsm.Next(tt.from, tt.action)
			if to != tt.to {
				t.Errorf("%s in %s: expected %s, got %s", tt.action, tt.from, tt.to, to)
			}
		})
	}
}

func TestFSMApply(t *testing.T) {
	fsm := NewFSM()
	s := models.NewSession(1)

	if err := fsm.Apply(s, ActionSubmit); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.State != models.StateSearch {
		t.Errorf("state changed on rejected action: %s", s.State)
	}

	if err := fsm.Apply(s, ActionNew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != models.StateEditing {
		t.Errorf("expected editing, got %s", s.State)
	}
}

func TestPOCounter(t *testing.T) {
	c := NewPOCounter(0)
	if got := c.Peek(); got != "E000001" {
		t.Errorf("expected E000001, got %s", got)
	}

	prev, _ := models.ParsePO(c.Peek())
	for i := 0; i < 5; i++ {
		c.Advance()
		n, ok := models.ParsePO(c.Peek())
		if !ok || n <= prev {
			t.Fatalf("counter not strictly increasing: %s after E%06d", c.Peek(), prev)
		}
		prev = n
	}

	c.SeedAtLeast(3)
	if got := c.Peek(); got != "E000006" {
		t.Errorf("lower seed must not move the counter back, got %s", got)
	}
	c.SeedAtLeast(41)
	if got := c.Peek(); got != "E000042" {
		t.Errorf("expected E000042, got %s", got)
	}
}

func TestPOCounterSeed(t *testing.T) {
	tests := []struct {
		name    string
		records []models.Booking
		want    string
	}{
		{"empty sheet", nil, "E000001"},
		{"row count wins", []models.Booking{{PONumber: "E000001"}, {}, {}}, "E000004"},
		{"highest PO wins", []models.Booking{{PONumber: "E000010"}, {PONumber: "E000002"}}, "E000011"},
		{"garbage PO ignored", []models.Booking{{PONumber: "X12"}}, "E000002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPOCounter(1)
			c.Seed(tt.records)
			if got := c.Peek(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
