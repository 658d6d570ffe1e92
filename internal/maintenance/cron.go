package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultResetSchedule = "0 0 * * *"
	jobTimeout           = time.Minute
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a five-field cron expression or descriptor.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Cron triggers the daily boundary on a UTC schedule.
type Cron struct {
	c     *cron.Cron
	entry cron.EntryID
}

func NewCron(r *Runner, spec string) (*Cron, error) {
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}

	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if err := r.DailyBoundary(ctx); err != nil {
			slog.Error("daily maintenance failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("register daily maintenance: %w", err)
	}

	return &Cron{c: c, entry: id}, nil
}

func (c *Cron) Start() {
	c.c.Start()
	slog.Info("maintenance cron started", "next_run", c.Next())
}

// Stop halts the schedule and returns a context that is done once a
// running job has finished.
func (c *Cron) Stop() context.Context {
	return c.c.Stop()
}

func (c *Cron) Next() time.Time {
	return c.c.Entry(c.entry).Next
}
