package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a validated 7-field cron expression:
//
//	second minute hour day-of-month month day-of-week year
//
// Fields accept "*", numeric literals, ranges "a-b", steps "*/n" and
// "a-b/n", and comma lists of any of those. Ranges: sec 0-59, min 0-59,
// hour 0-23, dom 1-31, month 1-12, dow 0-6 (0 = Sunday), year 1970-2099.
//
// A Schedule is immutable after Parse; per-field admissible sets are
// precomputed so NextAfter never re-parses.
type Schedule struct {
	canon string

	secs   []int
	mins   []int
	hours  []int
	doms   []int
	months []int
	dows   []int
	years  []int

	domHas [32]bool
	dowHas [7]bool
}

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [7]fieldSpec{
	{name: "second", min: 0, max: 59},
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6},
	{name: "year", min: 1970, max: 2099},
}

// Parse validates expr and precomputes its admissible sets.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 7 {
		return nil, &InvalidExpressionError{
			FieldIndex: -1,
			Text:       expr,
			Reason:     fmt.Sprintf("expected 7 fields, got %d", len(fields)),
		}
	}

	var sets [7][]int
	for i, f := range fields {
		vals, err := parseField(i, f)
		if err != nil {
			return nil, err
		}
		sets[i] = vals
	}

	s := &Schedule{
		secs:   sets[0],
		mins:   sets[1],
		hours:  sets[2],
		doms:   sets[3],
		months: sets[4],
		dows:   sets[5],
		years:  sets[6],
	}
	for _, d := range s.doms {
		s.domHas[d] = true
	}
	for _, d := range s.dows {
		s.dowHas[d] = true
	}
	s.canon = canonicalize(sets)
	return s, nil
}

// MustParse is Parse for expressions known valid at compile time.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the canonical form: "*" for a full-range field, otherwise
// the sorted, deduplicated value list.
func (s *Schedule) String() string { return s.canon }

func canonicalize(sets [7][]int) string {
	var b strings.Builder
	for i, vals := range sets {
		if i > 0 {
			b.WriteByte(' ')
		}
		spec := fieldSpecs[i]
		if len(vals) == spec.max-spec.min+1 {
			b.WriteByte('*')
			continue
		}
		for j, v := range vals {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(v))
		}
	}
	return b.String()
}

func parseField(idx int, text string) ([]int, error) {
	spec := fieldSpecs[idx]
	fail := func(reason string) error {
		return &InvalidExpressionError{FieldIndex: idx, Text: text, Reason: reason}
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(text, ",") {
		if part == "" {
			return nil, fail("empty list element")
		}

		body, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			body = part[:i]
			n, err := strconv.Atoi(part[i+1:])
			if err != nil {
				return nil, fail("step is not a number")
			}
			if n < 1 {
				return nil, fail("step must be >= 1")
			}
			step = n
		}

		lo, hi := spec.min, spec.max
		switch {
		case body == "*":
			// full range
		case strings.IndexByte(body, '-') > 0:
			i := strings.IndexByte(body, '-')
			a, err := strconv.Atoi(body[:i])
			if err != nil {
				return nil, fail("range start is not a number")
			}
			b, err := strconv.Atoi(body[i+1:])
			if err != nil {
				return nil, fail("range end is not a number")
			}
			if a > b {
				return nil, fail("range start after end")
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(body)
			if err != nil {
				return nil, fail("not a number")
			}
			if step != 1 {
				return nil, fail("step requires a range or *")
			}
			lo, hi = n, n
		}

		if lo < spec.min || hi > spec.max {
			return nil, fail(fmt.Sprintf("%s out of range %d-%d", spec.name, spec.min, spec.max))
		}
		for v := lo; v <= hi; v += step {
			seen[v] = true
		}
	}

	vals := make([]int, 0, len(seen))
	for v := spec.min; v <= spec.max; v++ {
		if seen[v] {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, fail("no admissible values")
	}
	return vals, nil
}

// NextAfter returns the first instant strictly after t that matches the
// schedule, in t's location. ok is false when no such instant exists on or
// before the schedule's last admissible year (for example a literal year in
// the past).
//
// Day-of-month and day-of-week are both applied: a day fires only when it
// is admissible in both sets.
func (s *Schedule) NextAfter(t time.Time) (next time.Time, ok bool) {
	loc := t.Location()
	start := t.Truncate(time.Second).Add(time.Second)

	for _, y := range s.years {
		if y < start.Year() {
			continue
		}
		for _, mo := range s.months {
			dim := daysIn(y, time.Month(mo), loc)
			for _, d := range s.doms {
				if d > dim {
					break
				}
				dayStart := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
				if !dayStart.AddDate(0, 0, 1).After(start) {
					continue
				}
				if !s.dowHas[int(dayStart.Weekday())] {
					continue
				}
				if cand, found := s.firstInDay(y, time.Month(mo), d, start, loc); found {
					return cand, true
				}
			}
		}
	}
	return time.Time{}, false
}

func (s *Schedule) firstInDay(y int, mo time.Month, d int, start time.Time, loc *time.Location) (time.Time, bool) {
	for _, h := range s.hours {
		for _, mi := range s.mins {
			for _, sec := range s.secs {
				cand := time.Date(y, mo, d, h, mi, sec, 0, loc)
				if !cand.Before(start) {
					return cand, true
				}
			}
		}
	}
	return time.Time{}, false
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
