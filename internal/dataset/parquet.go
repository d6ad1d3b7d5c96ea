package dataset

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"
	"github.com/parquet-go/parquet-go/format"
	"github.com/shopspring/decimal"
)

const parquetReadBatch = 256

// julian day number of 1970-01-01, used to decode legacy INT96 timestamps.
const julianUnixEpoch = 2440588

type parquetColumn struct {
	name    string
	logical *format.LogicalType
}

// LoadParquet reads every row of a flat Parquet file. Each leaf column
// becomes one field; nested columns are named by their dotted path.
// Timestamp logical types and INT96 values decode to time.Time. Decimal
// columns decode to strings carrying the column's full scale.
func LoadParquet(r io.ReaderAt, size int64) ([]Record, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening parquet: %w", err)
	}

	schema := pf.Schema()
	paths := schema.Columns()
	columns := make([]parquetColumn, len(paths))
	hasTimestamp := false
	for _, path := range paths {
		leaf, ok := schema.Lookup(path...)
		if !ok {
			return nil, fmt.Errorf("parquet column %q not found in schema", strings.Join(path, "."))
		}
		name := strings.Join(path, ".")
		if name == TimestampField {
			hasTimestamp = true
		}
		columns[leaf.ColumnIndex] = parquetColumn{
			name:    name,
			logical: leaf.Node.Type().LogicalType(),
		}
	}
	if !hasTimestamp {
		return nil, fmt.Errorf("parquet schema: %w", ErrNoTimestamp)
	}

	records := make([]Record, 0, pf.NumRows())
	buf := make([]parquet.Row, parquetReadBatch)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec, convErr := recordFromRow(row, columns)
				if convErr != nil {
					rows.Close()
					return nil, fmt.Errorf("row %d: %w", len(records), convErr)
				}
				records = append(records, rec)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				rows.Close()
				return nil, fmt.Errorf("reading parquet rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("closing parquet rows: %w", err)
		}
	}
	return records, nil
}

func recordFromRow(row parquet.Row, columns []parquetColumn) (Record, error) {
	fields := make(map[string]any, len(columns))
	for _, v := range row {
		idx := v.Column()
		if idx < 0 || idx >= len(columns) {
			continue
		}
		col := columns[idx]
		fields[col.name] = parquetValue(v, col.logical)
	}
	return fromMap(fields)
}

func parquetValue(v parquet.Value, logical *format.LogicalType) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if logical != nil && logical.Decimal != nil {
			return scaledDecimal(big.NewInt(int64(v.Int32())), logical.Decimal.Scale)
		}
		if logical != nil && logical.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
		return v.Int32()
	case parquet.Int64:
		if logical != nil && logical.Decimal != nil {
			return scaledDecimal(big.NewInt(v.Int64()), logical.Decimal.Scale)
		}
		if logical != nil && logical.Timestamp != nil {
			return timestampFromUnit(v.Int64(), logical.Timestamp.Unit)
		}
		return v.Int64()
	case parquet.Int96:
		return timeFromInt96(v.Int96())
	case parquet.Float:
		return v.Float()
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if logical != nil && logical.Decimal != nil {
			return scaledDecimal(unscaledFromBytes(v.ByteArray()), logical.Decimal.Scale)
		}
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// scaledDecimal renders unscaled * 10^-scale with exactly scale fractional
// digits, so DECIMAL(18,4) 123.45 becomes "123.4500".
func scaledDecimal(unscaled *big.Int, scale int32) string {
	d := decimal.NewFromBigInt(unscaled, -scale)
	if scale <= 0 {
		return d.String()
	}
	return d.StringFixed(scale)
}

// unscaledFromBytes decodes a big-endian two's complement integer.
func unscaledFromBytes(b []byte) *big.Int {
	n := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8))
	}
	return n
}

func timestampFromUnit(n int64, unit format.TimeUnit) time.Time {
	switch {
	case unit.Millis != nil:
		return time.UnixMilli(n).UTC()
	case unit.Micros != nil:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func timeFromInt96(x deprecated.Int96) time.Time {
	nanos := int64(uint64(x[1])<<32 | uint64(x[0]))
	days := int64(x[2]) - julianUnixEpoch
	return time.Unix(days*86400, nanos).UTC()
}
