package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies an on-disk dataset encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
)

// FormatFromPath picks the dataset format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatNDJSON, nil
	default:
		return "", fmt.Errorf("unknown dataset format for %q (want .parquet, .json or .jsonl)", path)
	}
}

// LoadFile reads every record from the dataset at path. Errors opening the
// file wrap the underlying *fs.PathError, so callers can test for
// fs.ErrNotExist.
func LoadFile(path string) ([]Record, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatParquet:
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat dataset: %w", err)
		}
		return LoadParquet(f, info.Size())
	case FormatNDJSON:
		return LoadNDJSON(f)
	default:
		return LoadJSON(f)
	}
}

// LoadJSON reads records from a JSON array of objects.
func LoadJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding json dataset: %w", err)
	}
	return records, nil
}

// LoadNDJSON reads records from newline-delimited JSON objects. Blank lines
// are skipped.
func LoadNDJSON(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("decoding line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ndjson dataset: %w", err)
	}
	return records, nil
}

// WriteJSON writes records to w as an indented JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []Record{}
	}
	return enc.Encode(records)
}

// WriteNDJSON writes one JSON object per line.
func WriteNDJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
