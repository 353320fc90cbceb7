package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/config"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ledger records which schedule slots have been delivered.
type Ledger interface {
	ClaimDigest(ctx context.Context, slot time.Time, owner string, timeout time.Duration) (*models.DigestRun, error)
	FinishDigest(ctx context.Context, id uint, sendErr error) error
}

// Scheduler sends a digest to every notifier on a cron schedule.
type Scheduler struct {
	src       Source
	notifiers []Notifier
	schedule  string
	limit     int
	log       zerolog.Logger
	now       func() time.Time

	ledger Ledger
	owner  string
}

// NewScheduler returns a scheduler for the given notifiers.
func NewScheduler(src Source, cfg config.DigestConfig, log zerolog.Logger, notifiers ...Notifier) *Scheduler {
	return &Scheduler{
		src:       src,
		notifiers: notifiers,
		schedule:  cfg.Schedule,
		limit:     cfg.Limit,
		log:       log.With().Str("component", "digest").Logger(),
		now:       time.Now,
	}
}

// UseLedger makes scheduled runs claim their slot in l first, so only one of
// several replicas delivers each digest. owner identifies this process.
func (s *Scheduler) UseLedger(l Ledger, owner string) {
	s.ledger, s.owner = l, owner
}

// Notifiers builds the notifiers cfg names.
func Notifiers(cfg config.DigestConfig) ([]Notifier, error) {
	var out []Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordBotToken != "" {
		d, err := NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Run fires Send on the schedule until ctx is cancelled, then waits for a
// digest in flight to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.fire(ctx, s.now()); err != nil {
			s.log.Error().Err(err).Msg("digest failed")
		}
	}); err != nil {
		return fmt.Errorf("digest: schedule %q: %w", s.schedule, err)
	}

	s.log.Info().Str("schedule", s.schedule).Int("notifiers", len(s.notifiers)).Msg("digest scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// fire runs the digest for the slot starting at t.
func (s *Scheduler) fire(ctx context.Context, t time.Time) error {
	if s.ledger == nil {
		return s.Send(ctx)
	}

	run, err := s.ledger.ClaimDigest(ctx, t, s.owner, store.DefaultClaimTimeout)
	if errors.Is(err, store.ErrDigestClaimed) {
		s.log.Debug().Time("slot", t).Msg("digest claimed by another instance")
		return nil
	}
	if err != nil {
		return err
	}

	sendErr := s.Send(ctx)
	if err := s.ledger.FinishDigest(ctx, run.ID, sendErr); err != nil {
		s.log.Warn().Err(err).Uint("run", run.ID).Msg("record digest run")
	}
	return sendErr
}

// Send builds the digest and delivers it to every notifier. A failing
// notifier does not stop the others. Nothing is sent while the leaderboard
// is empty.
func (s *Scheduler) Send(ctx context.Context) error {
	report, err := Build(ctx, s.src, s.limit, s.now())
	if err != nil {
		return err
	}
	if report == nil {
		s.log.Debug().Msg("no sessions recorded, digest skipped")
		return nil
	}

	msg := Format(report)
	var errs []error
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Info().Str("notifier", n.Name()).Msg("digest sent")
	}
	return errors.Join(errs...)
}
