package dataset

import (
	"fmt"
	"time"
)

// Filter selects which records a replay includes.
type Filter struct {
	After  time.Time           // Only include records at or after this time (zero = no limit)
	Before time.Time           // Only include records before this time (zero = no limit)
	Fields map[string][]string // Only include records whose field value is in the list (empty = all)
}

// IsZero reports whether the filter lets every record through.
func (f *Filter) IsZero() bool {
	return f == nil || (f.After.IsZero() && f.Before.IsZero() && len(f.Fields) == 0)
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r Record) bool {
	if f == nil {
		return true
	}
	if !f.After.IsZero() && r.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	for name, allowed := range f.Fields {
		if len(allowed) == 0 {
			continue
		}
		v, ok := r.Fields[name]
		if !ok || !contains(allowed, fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

// Apply returns the records that pass the filter, preserving order.
func (f *Filter) Apply(records []Record) []Record {
	if f.IsZero() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
