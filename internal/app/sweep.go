/**
 * @description
 * Periodic timeout sweep. Sessions are not expired by per-session timers;
 * a cron job scans for non-terminal sessions past their deadline and
 * declines them through the same compare-and-swap path message handling
 * uses, so a reply racing the sweep can never act on a flow the sweep
 * already closed.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Schedule parsing and job execution.
 */
package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
	"github.com/cyrax/conversation-service/pkg/rabbitmq"
)

// Sweeper expires overdue sessions on a cron schedule.
type Sweeper struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	exchange  string
	batchSize int
	cron      *cron.Cron
}

func NewSweeper(repo store.Repository, publisher rabbitmq.Publisher, exchange string, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		exchange:  exchange,
		batchSize: batchSize,
	}
}

// Start registers the sweep on the given cron schedule and begins running.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.SweepOnce(context.Background()); err != nil {
			log.Printf("level=error component=sweeper msg=\"sweep failed\" err=%v", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"sweep scheduled\" schedule=%q", schedule)
	return nil
}

// Stop halts the cron scheduler, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepOnce expires every overdue session it can claim. Sessions whose CAS
// write conflicts are skipped: an inbound message got there first and its
// lazy-expiry check handles them.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := time.Now().UTC()
	sessions, err := s.repo.ListExpiredSessions(ctx, now, s.batchSize)
	if err != nil {
		return err
	}

	expired := 0
	for i := range sessions {
		session := &sessions[i]
		expectedVersion := session.Version

		session.ResetToIdle()
		session.LastActivityAt = now
		if err := s.repo.UpdateSessionCAS(ctx, session, expectedVersion); err != nil {
			if errors.Is(err, store.ErrSessionConflict) {
				continue
			}
			log.Printf("level=error component=sweeper msg=\"failed to expire session\" user_id=%s err=%v", session.UserID, err)
			continue
		}

		expired++
		sweepExpiredSessions.Inc()
		stateTransitionsTotal.WithLabelValues(string(domain.StateDeclined)).Inc()

		if s.publisher != nil {
			notice := &domain.OutboundMessage{UserID: session.UserID, Text: replyExpired}
			if err := s.publisher.Publish(ctx, s.exchange, rabbitmq.ExpiryNoticeRoutingKey, notice); err != nil {
				log.Printf("level=warn component=sweeper msg=\"failed to publish expiry notice\" user_id=%s err=%v", session.UserID, err)
			}
		}
	}

	if expired > 0 {
		log.Printf("level=info component=sweeper msg=\"sweep complete\" scanned=%d expired=%d", len(sessions), expired)
	}
	return nil
}
