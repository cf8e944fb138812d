// Package rangeset tracks which byte intervals of a file have been
// downloaded, backing PartialFile's random-access reads.
package rangeset

import "sort"

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

func (r Range) empty() bool { return r.Start >= r.End }

// Set is a sorted collection of disjoint, non-adjacent half-open
// intervals over [0, fileLen). It is not safe for concurrent use;
// callers (partialfile.PartialFile) serialize access with a mutex.
type Set struct {
	ranges []Range
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Insert merges [start, end) into the set, coalescing with any
// overlapping or adjacent existing interval. It is a no-op for an
// empty or inverted input.
func (s *Set) Insert(start, end int64) {
	r := Range{Start: start, End: end}
	if r.empty() {
		return
	}

	// Find the first range whose End is >= r.Start: the first candidate
	// that could overlap or be adjacent to r.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End >= r.Start
	})

	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= r.End {
		if s.ranges[j].Start < r.Start {
			r.Start = s.ranges[j].Start
		}
		if s.ranges[j].End > r.End {
			r.End = s.ranges[j].End
		}
		j++
	}

	merged := make([]Range, 0, len(s.ranges)-(j-i)+1)
	merged = append(merged, s.ranges[:i]...)
	merged = append(merged, r)
	merged = append(merged, s.ranges[j:]...)
	s.ranges = merged
}

// Contains reports whether offset falls inside a downloaded interval.
func (s *Set) Contains(offset int64) bool {
	return s.ContainedLengthFrom(offset) > 0
}

// ContainedLengthFrom returns the length of the longest contiguous
// downloaded span starting at offset, or 0 if offset is not covered.
func (s *Set) ContainedLengthFrom(offset int64) int64 {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End > offset
	})
	if i >= len(s.ranges) {
		return 0
	}
	r := s.ranges[i]
	if r.Start > offset {
		return 0
	}
	return r.End - offset
}

// ComplementWithLimit enumerates the gaps in [0, limit) not covered by
// the set, used to drive opportunistic prefetch decisions.
func (s *Set) ComplementWithLimit(limit int64) []Range {
	var gaps []Range
	cursor := int64(0)
	for _, r := range s.ranges {
		if r.Start >= limit {
			break
		}
		end := r.Start
		if end > limit {
			end = limit
		}
		if cursor < end {
			gaps = append(gaps, Range{Start: cursor, End: end})
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	if cursor < limit {
		gaps = append(gaps, Range{Start: cursor, End: limit})
	}
	return gaps
}

// Ranges returns a copy of the current sorted, disjoint interval list.
func (s *Set) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}
