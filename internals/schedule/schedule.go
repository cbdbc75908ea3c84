// Package schedule parses task schedule strings and computes when a task is
// next due.
//
// Two forms are accepted:
//   - cron expressions with 5 or 6 fields (seconds optional) or descriptors
//     such as "@hourly" and "@every 90m"
//   - fixed intervals written as "every <amount><unit>" where unit is one of
//     s, m, h or d, e.g. "every 30m" or "every 1d"
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

type Kind int

const (
	KindCron Kind = iota
	KindEvery
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindEvery:
		return "every"
	default:
		return "unknown"
	}
}

// Spec is a parsed schedule. Specs are cheap to build and are re-parsed from
// the stored string on every scheduler tick.
type Spec struct {
	Kind  Kind
	Raw   string
	Every time.Duration
	cron  cron.Schedule
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: schedule required", ErrInvalidSchedule)
	}

	fields := strings.Fields(s)
	if strings.EqualFold(fields[0], "every") {
		every, err := parseEvery(fields)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindEvery, Raw: s, Every: every}, nil
	}

	sched, err := cronParser.Parse(s)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: cron %q: %s", ErrInvalidSchedule, s, err.Error())
	}
	return Spec{Kind: KindCron, Raw: s, cron: sched}, nil
}

// Validate reports whether raw is a schedule Parse accepts.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

func parseEvery(fields []string) (time.Duration, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: expected \"every <amount><unit>\", got %d tokens", ErrInvalidSchedule, len(fields))
	}
	token := fields[1]
	split := strings.IndexFunc(token, func(r rune) bool { return r < '0' || r > '9' })
	if split == -1 {
		return 0, fmt.Errorf("%w: missing unit in %q", ErrInvalidSchedule, token)
	}
	amountRaw, unitRaw := token[:split], token[split:]

	amount, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrInvalidSchedule, amountRaw)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be > 0", ErrInvalidSchedule)
	}
	unit, ok := units[unitRaw]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q (use s, m, h or d)", ErrInvalidSchedule, unitRaw)
	}
	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: interval %q is too large", ErrInvalidSchedule, token)
	}
	return time.Duration(amount) * unit, nil
}

// NextDue returns the next time spec is due strictly after now.
//
// For intervals, lastRun anchors the grid: missed slots collapse into the
// single next future slot. Without a lastRun the task is due one interval from
// now. Cron specs ignore lastRun. The boolean is false when the spec has no
// future occurrence.
func NextDue(spec Spec, lastRun *time.Time, now time.Time) (time.Time, bool) {
	switch spec.Kind {
	case KindCron:
		if spec.cron == nil {
			return time.Time{}, false
		}
		next := spec.cron.Next(now)
		if next.IsZero() || !next.After(now) {
			return time.Time{}, false
		}
		return next, true
	case KindEvery:
		if spec.Every <= 0 {
			return time.Time{}, false
		}
		if lastRun == nil || lastRun.IsZero() {
			return now.Add(spec.Every), true
		}
		next := lastRun.Add(spec.Every)
		if next.After(now) {
			return next, true
		}
		// now.Sub saturates for gaps beyond ~292 years, so jump repeatedly.
		for !next.After(now) {
			missed := now.Sub(next) / spec.Every
			if missed < 1 {
				missed = 1
			}
			next = next.Add(missed * spec.Every)
		}
		return next, true
	default:
		return time.Time{}, false
	}
}
