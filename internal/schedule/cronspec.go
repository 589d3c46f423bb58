package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is used when the deployment does not configure one.
const DefaultTimezone = "Asia/Jakarta"

var ErrInvalidCron = errors.New("invalid cron expression")

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse parses expr into a cron schedule.
//
// Per-expression timezones (CRON_TZ=, TZ=) are rejected: every schedule runs
// in the single deployment timezone handed to the Registry.
func Parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCron)
	}
	if strings.HasPrefix(s, "CRON_TZ=") || strings.HasPrefix(s, "TZ=") {
		return nil, fmt.Errorf("%w: %q: per-schedule timezone not supported", ErrInvalidCron, expr)
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return sched, nil
}

func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextRuns returns the next n activation times of expr after from, in loc.
func NextRuns(expr string, from time.Time, loc *time.Location, n int) ([]time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadLocation resolves an IANA timezone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}
	return time.LoadLocation(name)
}
