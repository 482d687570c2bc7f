package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kkt_deadline_bot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const summaryTimeout = 2 * time.Minute

// DeadlineChecker runs one deadline check.
type DeadlineChecker interface {
	Tick(ctx context.Context) (*app.TickReport, error)
}

// OperatorReporter delivers the run report and the daily summary to staff.
type OperatorReporter interface {
	ReportTick(ctx context.Context, report *app.TickReport) error
	SendDailySummary(ctx context.Context) error
}

type Options struct {
	Location        *time.Location
	CheckSpec       string // e.g. "0 9 * * *" (9 AM daily)
	SummarySpec     string // e.g. "30 9 * * *"; empty disables the summary job
	CheckTimeout    time.Duration
	RunCheckOnStart bool
}

// DeadlineScheduler triggers deadline checks and daily summaries on cron schedules.
// Overlapping runs of the same job are skipped.
type DeadlineScheduler struct {
	cronEngine *cron.Cron
	checker    DeadlineChecker
	reporter   OperatorReporter
	opts       Options
	logger     *logrus.Entry
}

func NewDeadlineScheduler(checker DeadlineChecker, reporter OperatorReporter, opts Options, logger *logrus.Entry) *DeadlineScheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	cronLogger := cron.PrintfLogger(logger)
	return &DeadlineScheduler{
		cronEngine: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		checker:  checker,
		reporter: reporter,
		opts:     opts,
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *DeadlineScheduler) Start() error {
	s.logger.Info("Starting deadline scheduler...")

	if _, err := s.cronEngine.AddFunc(s.opts.CheckSpec, func() {
		s.logger.Info("Cron job triggered for deadline check.")
		s.RunCheck(context.Background())
	}); err != nil {
		return fmt.Errorf("could not add deadline check job %q: %w", s.opts.CheckSpec, err)
	}

	if s.opts.SummarySpec != "" {
		if _, err := s.cronEngine.AddFunc(s.opts.SummarySpec, func() {
			s.logger.Info("Cron job triggered for daily summary.")
			s.RunSummary(context.Background())
		}); err != nil {
			return fmt.Errorf("could not add daily summary job %q: %w", s.opts.SummarySpec, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"check_spec":   s.opts.CheckSpec,
		"summary_spec": s.opts.SummarySpec,
		"location":     s.opts.Location.String(),
	}).Info("Deadline scheduler started with jobs.")

	if s.opts.RunCheckOnStart {
		go s.RunCheck(context.Background())
	}
	return nil
}

// RunCheck performs one check and reports it to admins. A check already in progress is
// logged and skipped.
func (s *DeadlineScheduler) RunCheck(ctx context.Context) {
	if s.opts.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CheckTimeout)
		defer cancel()
	}

	report, err := s.checker.Tick(ctx)
	if errors.Is(err, app.ErrTickInProgress) {
		s.logger.Warn("Deadline check already running, skipping this trigger.")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Error during deadline check")
	}
	if report == nil {
		return
	}
	if err := s.reporter.ReportTick(context.WithoutCancel(ctx), report); err != nil {
		s.logger.WithError(err).Error("Error sending deadline check report")
	}
}

// RunSummary sends the daily summary to staff.
func (s *DeadlineScheduler) RunSummary(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	if err := s.reporter.SendDailySummary(ctx); err != nil {
		s.logger.WithError(err).Error("Error sending daily summary")
	}
}

func (s *DeadlineScheduler) Stop() {
	s.logger.Info("Stopping deadline scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Deadline scheduler gracefully stopped.")
}
