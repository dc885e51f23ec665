// Package schedule proposes publish slots from a daily cadence and runs the
// periodic sweep and learner jobs.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCadence posts 18 times a day in three bursts.
const DefaultCadence = "11:00x5/1,15:00x8/1,19:30x5/1"

// Burst is a run of Count posts starting at Hour:Minute, Spacing apart.
type Burst struct {
	Hour    int
	Minute  int
	Count   int
	Spacing time.Duration
}

type Cadence []Burst

// ParseCadence reads a comma-separated list of HH:MMxCOUNT/SPACING_MINUTES
// bursts, e.g. "11:00x5/1,19:30x5/1". The spacing part may be omitted and
// defaults to one minute.
func ParseCadence(s string) (Cadence, error) {
	var c Cadence
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b, err := parseBurst(part)
		if err != nil {
			return nil, err
		}
		c = append(c, b)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("cadence %q has no bursts", s)
	}
	return c, nil
}

func parseBurst(s string) (Burst, error) {
	clock, rest, ok := strings.Cut(s, "x")
	if !ok {
		return Burst{}, fmt.Errorf("burst %q: want HH:MMxCOUNT[/SPACING]", s)
	}
	hh, mm, ok := strings.Cut(clock, ":")
	if !ok {
		return Burst{}, fmt.Errorf("burst %q: time must be HH:MM", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return Burst{}, fmt.Errorf("burst %q: hour must be 0-23", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return Burst{}, fmt.Errorf("burst %q: minute must be 0-59", s)
	}

	countStr, spacingStr, hasSpacing := strings.Cut(rest, "/")
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 1 {
		return Burst{}, fmt.Errorf("burst %q: count must be a positive integer", s)
	}
	spacing := 1
	if hasSpacing {
		spacing, err = strconv.Atoi(spacingStr)
		if err != nil || spacing < 0 {
			return Burst{}, fmt.Errorf("burst %q: spacing must be a non-negative number of minutes", s)
		}
	}
	return Burst{Hour: hour, Minute: minute, Count: count, Spacing: time.Duration(spacing) * time.Minute}, nil
}

func (c Cadence) String() string {
	parts := make([]string, len(c))
	for i, b := range c {
		parts[i] = fmt.Sprintf("%02d:%02dx%d/%d", b.Hour, b.Minute, b.Count, int(b.Spacing/time.Minute))
	}
	return strings.Join(parts, ",")
}

// Propose returns the next count slots strictly after now, walking the
// cadence day by day in loc.
func (c Cadence) Propose(now time.Time, loc *time.Location, count int) []time.Time {
	if count <= 0 || len(c) == 0 {
		return nil
	}
	local := now.In(loc)
	out := make([]time.Time, 0, count)
	for day := 0; len(out) < count; day++ {
		for _, b := range c {
			start := time.Date(local.Year(), local.Month(), local.Day()+day, b.Hour, b.Minute, 0, 0, loc)
			for i := 0; i < b.Count; i++ {
				ts := start.Add(time.Duration(i) * b.Spacing)
				if !ts.After(now) {
					continue
				}
				out = append(out, ts)
				if len(out) == count {
					return out
				}
			}
		}
	}
	return out
}

// PickSlot spreads new entries over the proposed slots by queue size.
func PickSlot(slots []time.Time, queueSize int) time.Time {
	return slots[queueSize%len(slots)]
}
