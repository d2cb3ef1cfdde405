package booking

import (
	"sync"

	"movingmen/internal/models"
)

// POCounter hands out PO numbers for the lifetime of the process.
// It is re-derived from the sheet and the journal on every start.
type POCounter struct {
	mu   sync.Mutex
	next int
}

// NewPOCounter starts the sequence at next.
func NewPOCounter(next int) *POCounter {
	if next < 1 {
		next = 1
	}
	return &POCounter{next: next}
}

// Seed positions the counter after every row ever written. Blank (cancelled)
// rows still count so their numbers are never handed out again.
func (p *POCounter) Seed(records []models.Booking) {
	highest := len(records)
	for i := range records {
		if n, ok := models.ParsePO(records[i].PONumber); ok && n > highest {
			highest = n
		}
	}

	p.SeedAtLeast(highest)
}

// SeedAtLeast moves the counter past n if it is not already.
func (p *POCounter) SeedAtLeast(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n+1 > p.next {
		p.next = n + 1
	}
}

// Peek returns the PO number the next created booking will get.
func (p *POCounter) Peek() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.FormatPO(p.next)
}

// Advance consumes the current number.
func (p *POCounter) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
}
