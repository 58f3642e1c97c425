package clinic

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is how often an automatic backup should run.
type Schedule string

const (
	ScheduleOff     Schedule = "off"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// ParseSchedule accepts the persisted schedule names. An empty string is off.
func ParseSchedule(s string) (Schedule, error) {
	switch sc := Schedule(strings.ToLower(strings.TrimSpace(s))); sc {
	case "", ScheduleOff:
		return ScheduleOff, nil
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return sc, nil
	default:
		return ScheduleOff, fmt.Errorf("unknown backup schedule %q", s)
	}
}

// Next returns when the backup after one taken at last is due.
func (s Schedule) Next(last time.Time) time.Time {
	switch s {
	case ScheduleDaily:
		return last.AddDate(0, 0, 1)
	case ScheduleWeekly:
		return last.AddDate(0, 0, 7)
	case ScheduleMonthly:
		return last.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// BackupDue reports whether a scheduled backup should run at now.
func BackupDue(s Schedule, last, now time.Time) bool {
	if s == ScheduleOff || s == "" {
		return false
	}
	if last.IsZero() {
		return true
	}
	return !now.Before(s.Next(last))
}
