package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronSchedule runs a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week). Descriptors such as
// "@hourly" and "@every 10m" are accepted too.
type CronSchedule struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron parses expr into a CronSchedule.
func ParseCron(expr string) (*CronSchedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronSchedule{expr: expr, schedule: s}, nil
}

// Next returns the next activation time strictly after t.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

func (c *CronSchedule) String() string {
	return c.expr
}
