// Package schedule computes when pipelines are due, drives the polling loop
// and keeps the execution history.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/errors"
)

// Trigger is a parsed recurring schedule. Triggers are comparable, so a
// reload can tell whether a pipeline's schedule changed.
type Trigger struct {
	Kind    string // am.ScheduleHourly, am.ScheduleDaily or am.ScheduleWeekly
	Minute  int
	Hour    int
	Weekday time.Weekday
	Loc     *time.Location
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseTrigger builds the trigger for cfg evaluated in loc. ok is false
// for manual schedules, which register no trigger.
//
// Params: hourly {minute: 0-59, default 0}; daily {time: "HH:MM", default
// "02:00"}; weekly {day: monday..sunday, default monday; time as daily}.
func ParseTrigger(cfg am.ScheduleConfig, loc *time.Location) (trig Trigger, ok bool, err error) {
	if loc == nil {
		loc = time.Local
	}
	trig = Trigger{Kind: cfg.Type, Loc: loc}

	switch cfg.Type {
	case "", am.ScheduleManual:
		return Trigger{}, false, nil

	case am.ScheduleHourly:
		trig.Minute, err = intParam(cfg.Params, "minute", 0)
		if err != nil {
			return Trigger{}, false, err
		}
		if trig.Minute < 0 || trig.Minute > 59 {
			return Trigger{}, false, errors.NewConfigurationError("hourly schedule: minute %d out of range 0-59", trig.Minute)
		}

	case am.ScheduleDaily, am.ScheduleWeekly:
		trig.Hour, trig.Minute, err = clockParam(cfg.Params, "time", "02:00")
		if err != nil {
			return Trigger{}, false, err
		}
		if cfg.Type == am.ScheduleWeekly {
			day := "monday"
			if v, ok := cfg.Params["day"]; ok && v != nil {
				day = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
			}
			wd, ok := weekdays[day]
			if !ok {
				return Trigger{}, false, errors.NewConfigurationError("weekly schedule: unknown day %q", day)
			}
			trig.Weekday = wd
		}

	default:
		return Trigger{}, false, errors.WithHint(
			errors.NewConfigurationError("unknown schedule type %q", cfg.Type),
			"use manual, hourly, daily or weekly")
	}
	return trig, true, nil
}

// Next returns the first fire time strictly after after
func (t Trigger) Next(after time.Time) time.Time {
	local := after.In(t.Loc)
	y, mo, d := local.Date()

	switch t.Kind {
	case am.ScheduleHourly:
		next := time.Date(y, mo, d, local.Hour(), t.Minute, 0, 0, t.Loc)
		for !next.After(after) {
			next = next.Add(time.Hour)
		}
		return next

	case am.ScheduleDaily:
		next := time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, t.Loc)
		for i := 1; !next.After(after); i++ {
			next = time.Date(y, mo, d+i, t.Hour, t.Minute, 0, 0, t.Loc)
		}
		return next

	case am.ScheduleWeekly:
		offset := (int(t.Weekday) - int(local.Weekday()) + 7) % 7
		next := time.Date(y, mo, d+offset, t.Hour, t.Minute, 0, 0, t.Loc)
		if !next.After(after) {
			next = time.Date(y, mo, d+offset+7, t.Hour, t.Minute, 0, 0, t.Loc)
		}
		return next
	}
	return time.Time{}
}

// String renders the trigger for logs and the CLI
func (t Trigger) String() string {
	switch t.Kind {
	case am.ScheduleHourly:
		return fmt.Sprintf("hourly at :%02d", t.Minute)
	case am.ScheduleDaily:
		return fmt.Sprintf("daily at %02d:%02d", t.Hour, t.Minute)
	case am.ScheduleWeekly:
		return fmt.Sprintf("weekly on %s at %02d:%02d", t.Weekday, t.Hour, t.Minute)
	}
	return am.ScheduleManual
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, nil
		}
	}
	return 0, errors.NewConfigurationError("schedule param %s: %v is not an integer", key, v)
}

func clockParam(params map[string]interface{}, key, def string) (hour, minute int, err error) {
	s := def
	if v, ok := params[key]; ok && v != nil {
		s = strings.TrimSpace(fmt.Sprint(v))
	}
	t, perr := time.Parse("15:04", s)
	if perr != nil {
		return 0, 0, errors.NewConfigurationError("schedule param %s: %q is not HH:MM", key, s)
	}
	return t.Hour(), t.Minute(), nil
}

// LoadLocation resolves a timezone name; "" and "Local" mean the host zone
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.MarkConfiguration(errors.Wrapf(err, "unknown timezone %q", name))
	}
	return loc, nil
}
