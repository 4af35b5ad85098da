// Package reminders runs the periodic jobs that nudge the user: an hourly
// due-review scan and a daily streak-at-risk check. Notifications are only
// sent inside a configurable local-time window.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/notify"
	"github.com/learnloop/learnloop-core/internal/store"
	"github.com/learnloop/learnloop-core/pkg/logger"
)

// Default notification window, hours in UTC.
const (
	DefaultWindowStartHour = 8
	DefaultWindowEndHour   = 22
)

// Config controls scheduling cadence and the notification window.
type Config struct {
	// WindowStartHour and WindowEndHour bound when notifications may fire,
	// inclusive, 0-23.
	WindowStartHour int
	WindowEndHour   int

	// ReviewScanInterval is how often due reviews are counted.
	ReviewScanInterval time.Duration

	// StreakCheckHour is the UTC hour of the daily streak-at-risk check.
	StreakCheckHour int
}

// DefaultConfig returns the production cadence: hourly review scans and an
// evening streak check.
func DefaultConfig() Config {
	return Config{
		WindowStartHour:    DefaultWindowStartHour,
		WindowEndHour:      DefaultWindowEndHour,
		ReviewScanInterval: time.Hour,
		StreakCheckHour:    19,
	}
}

// Validate checks the window and cadence.
func (c Config) Validate() error {
	if c.WindowStartHour < 0 || c.WindowStartHour > 23 ||
		c.WindowEndHour < 0 || c.WindowEndHour > 23 {
		return fmt.Errorf("%w: notification window hours must be 0-23", shared.ErrValidation)
	}
	if c.WindowStartHour > c.WindowEndHour {
		return fmt.Errorf("%w: notification window start is after end", shared.ErrValidation)
	}
	if c.ReviewScanInterval < time.Minute {
		return fmt.Errorf("%w: review scan interval below one minute", shared.ErrValidation)
	}
	if c.StreakCheckHour < 0 || c.StreakCheckHour > 23 {
		return fmt.Errorf("%w: streak check hour must be 0-23", shared.ErrValidation)
	}
	return nil
}

// Scheduler owns the gocron instance and the two reminder jobs.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	notifier notify.Notifier
	log      *logger.Logger
	now      func() time.Time

	scheduler *gocron.Scheduler
}

// Options wires a Scheduler.
type Options struct {
	Config   Config
	Store    *store.Store
	Notifier notify.Notifier
	Logger   *logger.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// New creates a stopped scheduler.
func New(opts Options) (*Scheduler, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: reminders need a store", shared.ErrValidation)
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("%w: reminders need a notifier", shared.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		cfg:       opts.Config,
		store:     opts.Store,
		notifier:  opts.Notifier,
		log:       opts.Logger.With(logger.Component("reminders")),
		now:       opts.Now,
		scheduler: gocron.NewScheduler(time.UTC),
	}, nil
}

// Start registers both jobs and runs the scheduler asynchronously.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.cfg.ReviewScanInterval).Do(s.scanDueReviews); err != nil {
		return fmt.Errorf("schedule review scan: %w", err)
	}
	streakAt := fmt.Sprintf("%02d:00", s.cfg.StreakCheckHour)
	if _, err := s.scheduler.Every(1).Day().At(streakAt).Do(s.checkStreak); err != nil {
		return fmt.Errorf("schedule streak check: %w", err)
	}

	s.scheduler.StartAsync()
	s.log.Info("reminder jobs started",
		logger.Duration("review_scan_interval", s.cfg.ReviewScanInterval),
		logger.String("streak_check_at", streakAt))
	return nil
}

// Stop halts both jobs. Running jobs finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// RunDueReviewCheck forces one due-review scan, ignoring the notification
// window. Used by the manual "remind me now" path.
func (s *Scheduler) RunDueReviewCheck(ctx context.Context) error {
	due := s.store.DueReviews(s.now())
	if len(due) == 0 {
		return nil
	}
	return s.notifier.NotifyReviewsDue(ctx, s.store.OwnerID(), len(due))
}

// scanDueReviews is the hourly job body.
func (s *Scheduler) scanDueReviews() {
	now := s.now()
	if !s.inWindow(now) {
		return
	}

	due := s.store.DueReviews(now)
	if len(due) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.NotifyReviewsDue(ctx, s.store.OwnerID(), len(due)); err != nil {
		s.log.Warn("due-review notification failed",
			logger.Int("due_count", len(due)), logger.Err(err))
		return
	}
	s.log.Debug("due-review reminder sent", logger.Int("due_count", len(due)))
}

// checkStreak is the daily job body.
func (s *Scheduler) checkStreak() {
	now := s.now()
	if !s.inWindow(now) {
		return
	}

	streak := s.store.Streak()
	if streak == nil || !streak.AtRisk(now) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.NotifyStreakAtRisk(ctx, s.store.OwnerID(), streak.Current); err != nil {
		s.log.Warn("streak-at-risk notification failed", logger.Err(err))
		return
	}
	s.log.Debug("streak-at-risk reminder sent", logger.Int("current", streak.Current))
}

// inWindow reports whether notifications may fire at the given time.
func (s *Scheduler) inWindow(now time.Time) bool {
	h := now.Hour()
	return h >= s.cfg.WindowStartHour && h <= s.cfg.WindowEndHour
}
