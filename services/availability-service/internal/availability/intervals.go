// Package availability holds the interval arithmetic used to turn open windows
// and busy intervals into bookable slots. Every interval is half-open
// [Start, End) and all values are expected in UTC.
package availability

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Empty() bool {
	return !iv.End.After(iv.Start)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps uses the half-open test a.start < b.end && b.start < a.end.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func SortByStart(in []Interval) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})
}

// Merge returns the union of in as sorted, disjoint intervals. Adjacent
// intervals are joined. Empty intervals are dropped.
func Merge(in []Interval) []Interval {
	b := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.Empty() {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	SortByStart(b)

	merged := make([]Interval, 0, len(b))
	merged = append(merged, b[0])
	for _, cur := range b[1:] {
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes every busy interval from base and returns the remaining
// free sub-intervals in order.
func Subtract(base Interval, busy []Interval) []Interval {
	if base.Empty() {
		return nil
	}
	var clipped []Interval
	for _, b := range busy {
		if !b.Overlaps(base) {
			continue
		}
		if b.Start.Before(base.Start) {
			b.Start = base.Start
		}
		if b.End.After(base.End) {
			b.End = base.End
		}
		clipped = append(clipped, b)
	}
	blocks := Merge(clipped)
	if len(blocks) == 0 {
		return []Interval{base}
	}

	var out []Interval
	cursor := base.Start
	for _, blk := range blocks {
		if blk.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: blk.Start})
		}
		if blk.End.After(cursor) {
			cursor = blk.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, Interval{Start: cursor, End: base.End})
	}
	return out
}

// Discretize cuts free into consecutive slots of exactly d, anchored at
// free.Start. A trailing remainder shorter than d is dropped.
func Discretize(free Interval, d time.Duration) []Interval {
	if d <= 0 || free.Duration() < d {
		return nil
	}
	var out []Interval
	for t := free.Start; !t.Add(d).After(free.End); t = t.Add(d) {
		out = append(out, Interval{Start: t, End: t.Add(d)})
	}
	return out
}

// Hull returns the smallest interval covering all of in.
func Hull(in []Interval) (Interval, bool) {
	if len(in) == 0 {
		return Interval{}, false
	}
	h := in[0]
	for _, iv := range in[1:] {
		if iv.Start.Before(h.Start) {
			h.Start = iv.Start
		}
		if iv.End.After(h.End) {
			h.End = iv.End
		}
	}
	return h, true
}
