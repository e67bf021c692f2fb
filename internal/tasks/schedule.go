package tasks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts classic 5-field expressions with ranges, steps, lists
// and named months/days, plus @descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// maxLookahead bounds the next-occurrence search.
const maxLookahead = 366 * 24 * time.Hour

var (
	bareNumber   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	intervalExpr = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([smhd])$`)
	timeOfDay    = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:\s+(.+))?$`)
)

// ParseInterval parses "30s", "5m", "2h", "1d", fractional forms like
// "1.5h", and a bare number meaning minutes.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("tasks: empty interval")
	}
	if bareNumber.MatchString(s) {
		mins, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("tasks: bad interval %q: %w", s, err)
		}
		return time.Duration(mins * float64(time.Minute)), nil
	}
	m := intervalExpr.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, fmt.Errorf("tasks: bad interval %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("tasks: bad interval %q: %w", s, err)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	d := time.Duration(n * float64(unit))
	if d <= 0 {
		return 0, fmt.Errorf("tasks: non-positive interval %q", s)
	}
	return d, nil
}

// ParseCron parses a 5-field cron expression or a "HH:MM [day-spec]"
// time-of-day shortcut.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if m := timeOfDay.FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return nil, fmt.Errorf("tasks: bad time of day %q", expr)
		}
		dow := "*"
		if m[3] != "" {
			dow = strings.ToUpper(strings.ReplaceAll(m[3], " ", ""))
		}
		expr = fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("tasks: invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextOccurrence returns the first time matching expr strictly after the
// given time, bounded to 366 days out.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after)
	if next.IsZero() || next.Sub(after) > maxLookahead {
		return time.Time{}, fmt.Errorf("tasks: no occurrence of %q within 366 days", expr)
	}
	return next, nil
}

// BusinessHours restricts execution to an hour range on selected weekdays.
// Overnight ranges (start > end) roll across midnight.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Days      map[time.Weekday]bool
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseBusinessHours parses "9-17", "9-17 mon-fri", "22-6 fri,sat", or the
// token "business" (Mon-Fri 9-17).
func ParseBusinessHours(s string) (*BusinessHours, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, fmt.Errorf("tasks: empty business hours")
	}
	if s == "business" {
		return &BusinessHours{StartHour: 9, EndHour: 17, Days: weekdaySet(time.Monday, time.Friday)}, nil
	}

	fields := strings.SplitN(s, " ", 2)
	start, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return nil, fmt.Errorf("tasks: bad business hours %q", s)
	}
	startHour, err1 := strconv.Atoi(strings.TrimSpace(start))
	endHour, err2 := strconv.Atoi(strings.TrimSpace(end))
	if err1 != nil || err2 != nil || startHour < 0 || startHour > 23 || endHour < 0 || endHour > 24 {
		return nil, fmt.Errorf("tasks: bad business hours %q", s)
	}

	days := weekdaySet(time.Sunday, time.Saturday)
	if len(fields) == 2 {
		days, err1 = parseDayList(fields[1])
		if err1 != nil {
			return nil, err1
		}
	}
	return &BusinessHours{StartHour: startHour, EndHour: endHour, Days: days}, nil
}

// parseDayList parses "mon-fri", "mon,wed,fri", or mixes like "mon-wed,sat".
func parseDayList(s string) (map[time.Weekday]bool, error) {
	days := map[time.Weekday]bool{}
	for _, part := range strings.Split(strings.TrimSpace(s), ",") {
		part = strings.TrimSpace(part)
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, aok := weekdayNames[from]
			b, bok := weekdayNames[to]
			if !aok || !bok {
				return nil, fmt.Errorf("tasks: bad day range %q", part)
			}
			for d := a; ; d = (d + 1) % 7 {
				days[d] = true
				if d == b {
					break
				}
			}
			continue
		}
		d, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("tasks: bad day %q", part)
		}
		days[d] = true
	}
	return days, nil
}

func weekdaySet(from, to time.Weekday) map[time.Weekday]bool {
	days := map[time.Weekday]bool{}
	for d := from; ; d = (d + 1) % 7 {
		days[d] = true
		if d == to {
			break
		}
	}
	return days
}

// Contains reports whether t falls inside the window. For overnight ranges
// the pre-midnight portion anchors the day check.
func (b *BusinessHours) Contains(t time.Time) bool {
	hour := t.Hour()
	if b.StartHour <= b.EndHour {
		return b.Days[t.Weekday()] && hour >= b.StartHour && hour < b.EndHour
	}
	if hour >= b.StartHour {
		return b.Days[t.Weekday()]
	}
	if hour < b.EndHour {
		// Past midnight: the window started yesterday.
		return b.Days[(t.Weekday()+6)%7]
	}
	return false
}

// NextStart returns the next time the window opens at or after t, searching
// up to 8 days.
func (b *BusinessHours) NextStart(t time.Time) (time.Time, bool) {
	if b.Contains(t) {
		return t, true
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(b.StartHour) * time.Hour)
		if candidate.After(t) && b.Days[candidate.Weekday()] {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// CalculateNextRun computes a task's next run time. Cron takes precedence
// over interval; when business hours are set and the computed time falls
// outside them, the run moves to the next window start. Returns nil when the
// task has no schedule.
func CalculateNextRun(intervalMs int64, cronExpr, businessHours string, now time.Time) (*time.Time, error) {
	var next time.Time
	switch {
	case strings.TrimSpace(cronExpr) != "":
		n, err := NextOccurrence(cronExpr, now)
		if err != nil {
			return nil, err
		}
		next = n
	case intervalMs > 0:
		next = now.Add(time.Duration(intervalMs) * time.Millisecond)
	default:
		return nil, nil
	}

	if strings.TrimSpace(businessHours) != "" {
		bh, err := ParseBusinessHours(businessHours)
		if err != nil {
			return nil, err
		}
		if !bh.Contains(next) {
			start, ok := bh.NextStart(next)
			if !ok {
				return nil, fmt.Errorf("tasks: no business-hours window within 8 days of %s", next)
			}
			next = start
		}
	}
	return &next, nil
}
