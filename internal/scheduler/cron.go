package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field crontab syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// InvalidCronError wraps a cron expression that failed to parse.
type InvalidCronError struct {
	Expr string
	Err  error
}

func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *InvalidCronError) Unwrap() error { return e.Err }

// NextRunTime evaluates a 5-field cron expression in the task's timezone and
// returns the next fire time after the given instant, in UTC.
func NextRunTime(expr, tz string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, &InvalidCronError{Expr: expr, Err: err}
	}
	loc := time.UTC
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	return schedule.Next(after.In(loc)).UTC(), nil
}
