package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"movingmen/internal/metrics"
	"movingmen/internal/models"

	"github.com/rs/zerolog"
)

const primaryRetryInterval = time.Minute

// FailoverSessionRepository serves sessions from the primary store and
// switches to the fallback while the primary is failing. The primary is
// retried once per minute.
type FailoverSessionRepository struct {
	primary  SessionRepository
	fallback SessionRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverSessionRepository(primary, fallback SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{primary: primary, fallback: fallback, logger: logger}
}

func (r *FailoverSessionRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) >= primaryRetryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverSessionRepository) markDown(op string, err error) {
	if !r.isDown.Swap(true) {
		r.logger.Warn().Err(err).Str("op", op).Msg("Session store primary failed, using fallback")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
	metrics.IncSessionFailover()
}

func (r *FailoverSessionRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Session store primary recovered")
	}
}

func (r *FailoverSessionRepository) Get(ctx context.Context, chatID int64) (*models.Session, error) {
	if r.usePrimary() {
		s, err := r.primary.Get(ctx, chatID)
		if err == nil {
			r.markUp()
			return s, nil
		}
		r.markDown("get", err)
	}
	return r.fallback.Get(ctx, chatID)
}

func (r *FailoverSessionRepository) Save(ctx context.Context, s *models.Session) error {
	if r.usePrimary() {
		err := r.primary.Save(ctx, s)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown("save", err)
	}
	return r.fallback.Save(ctx, s)
}

func (r *FailoverSessionRepository) Delete(ctx context.Context, chatID int64) error {
	// clear both so a stale fallback copy cannot resurface after recovery
	_ = r.fallback.Delete(ctx, chatID)
	if r.usePrimary() {
		err := r.primary.Delete(ctx, chatID)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown("delete", err)
	}
	return nil
}
