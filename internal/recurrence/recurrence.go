// Package recurrence materializes instances of recurring calendar events
// from their RRULE/EXDATE lines.
package recurrence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultHorizon bounds expansion when no upper bound is given.
const DefaultHorizon = 365 * 24 * time.Hour

// Template is the recurring master event.
type Template struct {
	PublicID   string
	Start      time.Time
	End        time.Time
	AllDay     bool
	Timezone   string   // IANA name the rule is evaluated in; empty means UTC
	Recurrence []string // RRULE, EXDATE, RDATE lines
}

// Length is the duration of one instance.
func (t Template) Length() time.Duration {
	return t.End.Sub(t.Start)
}

// Override replaces the generated instance whose start is OriginalStart.
type Override struct {
	ID            int64
	OriginalStart time.Time
	Start         time.Time
	End           time.Time
	Cancelled     bool
}

// Window restricts instance start times. A nil After falls back to the
// template start. A nil Before falls back to DefaultHorizon past now, or
// past After when After is later than now, so an open-ended window in
// the far future still yields instances.
type Window struct {
	After  *time.Time
	Before *time.Time
}

// Instance is one concrete occurrence. Override is set when a stored
// override replaced the generated occurrence.
type Instance struct {
	PublicID string
	Start    time.Time
	End      time.Time
	Override *Override
}

// ParseLines splits a stored recurrence value into lines. Both a JSON
// array of strings and newline-separated text are accepted.
func ParseLines(stored string) ([]string, error) {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return nil, nil
	}
	if strings.HasPrefix(stored, "[") {
		var lines []string
		if err := json.Unmarshal([]byte(stored), &lines); err != nil {
			return nil, fmt.Errorf("parse recurrence list: %w", err)
		}
		return lines, nil
	}
	var lines []string
	for _, l := range strings.Split(stored, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// StartTimes returns the UTC start times the template's rule generates in
// [after, before], both ends inclusive. A template without an RRULE
// yields only its own start.
func StartTimes(t Template, w Window, now time.Time) ([]time.Time, error) {
	if !hasRule(t.Recurrence) {
		return []time.Time{t.Start.UTC()}, nil
	}

	loc := time.UTC
	if t.Timezone != "" && !t.AllDay {
		l, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", t.Timezone, err)
		}
		loc = l
	}

	set, err := rrule.StrSliceToRRuleSetInLoc(t.Recurrence, loc)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}
	// Expanding in the template's zone keeps wall-clock time across DST.
	set.DTStart(t.Start.In(loc))

	after := t.Start
	if w.After != nil {
		after = *w.After
	}
	horizonBase := now
	if after.After(now) {
		horizonBase = after
	}
	before := horizonBase.Add(DefaultHorizon)
	if w.Before != nil {
		before = *w.Before
	}

	times := set.Between(after.In(loc), before.In(loc), true)
	out := make([]time.Time, len(times))
	for i, st := range times {
		out[i] = st.UTC()
	}
	return out, nil
}

func hasRule(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(strings.ToUpper(l), "RRULE") {
			return true
		}
	}
	return false
}

// Expand materializes the template's instances in w. Overrides whose
// start falls inside w replace the generated instance sharing their
// original start. Cancelled overrides drop that instance unless
// showCancelled is set, in which case the override itself is returned.
// The result is sorted by start.
func Expand(t Template, overrides []Override, w Window, showCancelled bool, now time.Time) ([]Instance, error) {
	starts, err := StartTimes(t, w, now)
	if err != nil {
		return nil, err
	}

	overridden := make(map[int64]bool, len(overrides))
	var out []Instance
	for i := range overrides {
		o := &overrides[i]
		overridden[o.OriginalStart.UTC().Unix()] = true
		if w.After != nil && !o.Start.After(*w.After) {
			continue
		}
		if w.Before != nil && !o.Start.Before(*w.Before) {
			continue
		}
		if o.Cancelled && !showCancelled {
			continue
		}
		out = append(out, Instance{
			PublicID: InstanceID(t.PublicID, o.OriginalStart),
			Start:    o.Start.UTC(),
			End:      o.End.UTC(),
			Override: o,
		})
	}

	length := t.Length()
	for _, st := range starts {
		if overridden[st.Unix()] {
			continue
		}
		out = append(out, Instance{
			PublicID: InstanceID(t.PublicID, st),
			Start:    st,
			End:      st.Add(length),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// InstanceID names one occurrence of a recurring event.
func InstanceID(masterPublicID string, originalStart time.Time) string {
	return masterPublicID + "_" + originalStart.UTC().Format("20060102T150405Z")
}
