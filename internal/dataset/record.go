package dataset

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// TimestampField is the column every dataset must carry. Records are grouped
// and paced on its value.
const TimestampField = "timestamp"

// Record is one row of a trade dataset. Fields holds every column other than
// the timestamp, keyed by column name. Its schema is whatever the dataset has.
type Record struct {
	Timestamp time.Time
	Fields    map[string]any
}

// MarshalJSON encodes the record as a single flat object. The timestamp is
// written as RFC 3339 with nanoseconds and always wins over a field of the
// same name. NaN and infinite floats are written as null.
func (r Record) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		obj[k] = finite(v)
	}
	obj[TimestampField] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(obj)
}

func finite(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}

// UnmarshalJSON decodes a flat object, lifting the timestamp field out of
// Fields. Numbers are kept as json.Number so they round-trip unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return err
	}
	rec, err := fromMap(obj)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func fromMap(obj map[string]any) (Record, error) {
	raw, ok := obj[TimestampField]
	if !ok {
		return Record{}, ErrNoTimestamp
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return Record{}, err
	}
	delete(obj, TimestampField)
	return Record{Timestamp: ts, Fields: obj}, nil
}
