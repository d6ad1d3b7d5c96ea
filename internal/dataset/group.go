package dataset

import (
	"sort"
	"time"
)

// SortByTimestamp orders records by timestamp in place. Records sharing a
// timestamp keep their source order.
func SortByTimestamp(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// Group is a run of records that share one exact timestamp.
type Group struct {
	Timestamp time.Time
	Records   []Record
}

// EachGroup calls fn for each run of identical timestamps in records, which
// must already be sorted. Group.Records aliases the input slice. Iteration
// stops at the first error, which is returned.
func EachGroup(records []Record, fn func(Group) error) error {
	for start := 0; start < len(records); {
		ts := records[start].Timestamp
		end := start + 1
		for end < len(records) && records[end].Timestamp.Equal(ts) {
			end++
		}
		if err := fn(Group{Timestamp: ts, Records: records[start:end]}); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// Groups collects every group of sorted records.
func Groups(records []Record) []Group {
	var groups []Group
	_ = EachGroup(records, func(g Group) error {
		groups = append(groups, g)
		return nil
	})
	return groups
}

// Stats summarizes a sorted dataset.
type Stats struct {
	Records      int           `json:"records"`
	Groups       int           `json:"groups"`
	LargestGroup int           `json:"largest_group"`
	First        time.Time     `json:"first"`
	Last         time.Time     `json:"last"`
	Span         time.Duration `json:"span"`
	MinGap       time.Duration `json:"min_gap"`
	MaxGap       time.Duration `json:"max_gap"`
	Columns      []string      `json:"columns"`
}

// Summarize computes Stats for sorted records.
func Summarize(records []Record) Stats {
	st := Stats{Records: len(records)}
	if len(records) == 0 {
		return st
	}

	cols := map[string]struct{}{TimestampField: {}}
	for _, rec := range records {
		for k := range rec.Fields {
			cols[k] = struct{}{}
		}
	}
	for k := range cols {
		st.Columns = append(st.Columns, k)
	}
	sort.Strings(st.Columns)

	var prev time.Time
	_ = EachGroup(records, func(g Group) error {
		if st.Groups > 0 {
			gap := g.Timestamp.Sub(prev)
			if st.Groups == 1 || gap < st.MinGap {
				st.MinGap = gap
			}
			if gap > st.MaxGap {
				st.MaxGap = gap
			}
		}
		st.Groups++
		if len(g.Records) > st.LargestGroup {
			st.LargestGroup = len(g.Records)
		}
		prev = g.Timestamp
		return nil
	})

	st.First = records[0].Timestamp
	st.Last = records[len(records)-1].Timestamp
	st.Span = st.Last.Sub(st.First)
	return st
}
