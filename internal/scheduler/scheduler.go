// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// MinSweepInterval is the shortest interval between TTL sweeps.
const MinSweepInterval = 15 * time.Second

// SweepInterval returns the sweep period for ttl: max(15s, ttl/6).
func SweepInterval(ttl time.Duration) time.Duration {
	return max(MinSweepInterval, ttl/6)
}

// Every returns a fixed-interval schedule, rounded down to whole seconds.
func Every(d time.Duration) cron.Schedule {
	return cron.Every(d)
}

// Sweeper runs a sweep function on a schedule. A tick that arrives while the
// previous sweep is still running is skipped.
type Sweeper struct {
	cron     *cron.Cron
	schedule cron.Schedule
	sweep    func()
}

// New creates a Sweeper that calls sweep on schedule once started.
func New(schedule cron.Schedule, sweep func()) *Sweeper {
	logger := slogLogger{}
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		schedule: schedule,
		sweep:    sweep,
	}
}

// Start registers the sweep and starts the cron ticker.
func (s *Sweeper) Start() {
	s.cron.Schedule(s.schedule, cron.FuncJob(s.sweep))
	s.cron.Start()
	slog.Debug("sweeper started", "next", s.schedule.Next(time.Now()))
}

// Stop stops the ticker and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// slogLogger routes cron's logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
