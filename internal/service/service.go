// Package service implements the bed occupancy operations on top of the
// repository Store.  Every exported operation takes the calling model.Actor
// explicitly and rejects callers without administrative privilege.  Mutations
// run inside a single Store unit of work; cache invalidation and event
// publishing happen only after the unit of work commits and never fail the
// operation.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/queue"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

// EventPublisher delivers occupancy events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.OccupancyEvent) error
}

// CacheInvalidator drops cached read responses after a mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Option configures the optional collaborators of a service.
type Option func(*hooks)

// WithEvents publishes occupancy events through p after each commit.
func WithEvents(p EventPublisher) Option { return func(h *hooks) { h.events = p } }

// WithCacheInvalidator invalidates cached reads after each commit.
func WithCacheInvalidator(c CacheInvalidator) Option { return func(h *hooks) { h.cache = c } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(h *hooks) { h.logger = l } }

// WithClock overrides the time source used for admission and discharge stamps.
func WithClock(now func() time.Time) Option { return func(h *hooks) { h.now = now } }

const afterCommitTimeout = 3 * time.Second

type hooks struct {
	events EventPublisher
	cache  CacheInvalidator
	logger zerolog.Logger
	now    func() time.Time
}

func newHooks(opts []Option) hooks {
	h := hooks{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h hooks) clock() time.Time { return h.now().UTC().Truncate(time.Second) }

// committed runs the post-commit side effects.  Failures are logged only.
func (h hooks) committed(ctx context.Context, ev *queue.OccupancyEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("cache invalidation failed")
		}
	}
	if ev != nil && h.events != nil {
		if err := h.events.Publish(ctx, *ev); err != nil {
			h.logger.Warn().Err(err).Str("event", ev.Type).Uint64("occupancy_id", ev.OccupancyID).
				Msg("occupancy event not published")
		}
	}
}

func authorize(a model.Actor) error {
	if !a.IsAdmin() {
		return repository.ErrNotAdmin
	}
	return nil
}
