package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	minutesPerHour = 60
	maxHour        = 23

	// pollInterval is the sleep duration between due-time checks.
	pollInterval = 20 * time.Second

	// defaultDailyGracePeriod prevents duplicate runs within the same day.
	defaultDailyGracePeriod = 23 * time.Hour
)

// Static errors for clock validation.
var (
	ErrTimeFormat    = errors.New("time must be HH:MM")
	ErrInvalidHour   = errors.New("invalid hour")
	ErrInvalidMinute = errors.New("invalid minute")
)

// Clock is a time of day in UTC.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrTimeFormat, s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > maxHour {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidHour, s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute >= minutesPerHour {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidMinute, s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// NextAfter returns the next occurrence of the clock time strictly after t,
// in UTC.
func (c Clock) NextAfter(t time.Time) time.Time {
	t = t.UTC()

	next := time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.Add(24 * time.Hour)
	}

	return next
}

// DailyTask runs once per day at a fixed UTC time.
type DailyTask struct {
	// Name identifies the task for logging.
	Name string

	// At is the UTC time of day to run.
	At Clock

	// GracePeriod prevents duplicate runs within this duration (default 23h).
	GracePeriod time.Duration

	// Run executes the task.
	Run func(ctx context.Context, logger *zerolog.Logger) error

	// OnError is called when Run returns an error. If nil, errors are
	// only logged.
	OnError func(err error)

	lastRun time.Time
}

// DailyScheduler drives a collection of daily tasks from a single poll loop.
type DailyScheduler struct {
	tasks  []*DailyTask
	logger *zerolog.Logger
	now    func() time.Time
}

// NewDailyScheduler creates an empty scheduler.
func NewDailyScheduler(logger *zerolog.Logger) *DailyScheduler {
	return &DailyScheduler{
		logger: getLogger(logger),
		now:    time.Now,
	}
}

// AddTask registers a task.
func (s *DailyScheduler) AddTask(task *DailyTask) {
	if task.GracePeriod == 0 {
		task.GracePeriod = defaultDailyGracePeriod
	}

	s.tasks = append(s.tasks, task)
}

// SetLastRun seeds a task's last run time, e.g. from persisted state.
func (s *DailyScheduler) SetLastRun(taskName string, lastRun time.Time) {
	for _, task := range s.tasks {
		if task.Name == taskName {
			task.lastRun = lastRun

			return
		}
	}
}

// Run polls until the context is canceled, firing each task once per day
// at its configured time. Returns a wrapped context error on cancellation.
func (s *DailyScheduler) Run(ctx context.Context) error {
	s.logger.Info().Str(logFieldWorker, "daily_scheduler").Int("tasks", len(s.tasks)).Msg("starting scheduler")

	defer s.logger.Info().Str(logFieldWorker, "daily_scheduler").Msg("scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("daily scheduler: %w", ctx.Err())
		default:
		}

		s.CheckAndRun(ctx)

		if err := Wait(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// CheckAndRun runs every task that is due at the current time.
func (s *DailyScheduler) CheckAndRun(ctx context.Context) {
	for _, task := range s.tasks {
		s.checkAndRunTask(ctx, task)
	}
}

func (s *DailyScheduler) checkAndRunTask(ctx context.Context, task *DailyTask) {
	now := s.now().UTC()

	if !shouldRunDaily(now, task.At, task.lastRun, task.GracePeriod) {
		return
	}

	logger := s.logger.With().Str(logFieldTask, task.Name).Logger()
	logger.Info().Msgf("Starting daily %s", task.Name)

	defer RecoverPanic(&logger, task.Name)

	if err := task.Run(ctx, &logger); err != nil {
		logger.Error().Err(err).Msgf("failed to run daily %s", task.Name)

		if task.OnError != nil {
			task.OnError(err)
		}

		return
	}

	task.lastRun = now
}

// shouldRunDaily reports whether a task scheduled for `at` is due. A task
// is due from its scheduled minute onward, once the grace period since the
// last run has elapsed. Catching up after a missed minute is deliberate so
// a restart does not skip the day's run.
func shouldRunDaily(now time.Time, at Clock, lastRun time.Time, gracePeriod time.Duration) bool {
	if gracePeriod == 0 {
		gracePeriod = defaultDailyGracePeriod
	}

	if !lastRun.IsZero() && now.Sub(lastRun) <= gracePeriod {
		return false
	}

	scheduled := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, time.UTC)

	return !now.Before(scheduled)
}
