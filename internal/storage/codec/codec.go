// Package codec reads and writes record sets as JSON Lines, JSON arrays, CSV
// or Parquet.
package codec

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

// Format names a record-set encoding.
type Format string

// Supported formats.
const (
	FormatJSONL   Format = "jsonl"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ErrUnknownFormat is returned for unsupported format names or extensions.
var ErrUnknownFormat = errors.New("unknown format")

// maxLineBytes bounds a single JSON Lines record.
const maxLineBytes = 16 << 20

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSONL, FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownFormat, name)
	}
}

// DetectFormat infers the format from a path's extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// ContentType returns the MIME type used when storing f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// Decode reads every record from r.
func Decode(r io.Reader, f Format) ([]*record.Record, error) {
	switch f {
	case FormatJSONL:
		return decodeJSONL(r)
	case FormatJSON:
		return decodeJSON(r)
	case FormatCSV:
		return decodeCSV(r)
	case FormatParquet:
		return decodeParquet(r)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}

// Encode writes recs to w.
func Encode(w io.Writer, f Format, recs []*record.Record) error {
	switch f {
	case FormatJSONL:
		return encodeJSONL(w, recs)
	case FormatJSON:
		return encodeJSON(w, recs)
	case FormatCSV:
		return encodeCSV(w, recs)
	case FormatParquet:
		return encodeParquet(w, recs)
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}

func decodeJSONL(r io.Reader) ([]*record.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var out []*record.Record
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		rec := record.New()
		if err := rec.UnmarshalJSON(text); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return out, nil
}

func decodeJSON(r io.Reader) ([]*record.Record, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	out := make([]*record.Record, 0, len(raw))
	for i, msg := range raw {
		rec := record.New()
		if err := rec.UnmarshalJSON(msg); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeCSV maps each row onto the header. Cells are kept as strings; an
// empty cell is stored as "" and treated as missing downstream.
func decodeCSV(r io.Reader) ([]*record.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	var out []*record.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(row) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("csv line %d has %d cells for %d columns", line, len(row), len(header))
		}
		rec := record.New()
		for i, name := range header {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			rec.Set(name, cell)
		}
		out = append(out, rec)
	}
}

func encodeJSONL(w io.Writer, recs []*record.Record) error {
	bw := bufio.NewWriter(w)
	for i, rec := range recs {
		data, err := rec.MarshalJSON()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return nil
}

func encodeJSON(w io.Writer, recs []*record.Record) error {
	if recs == nil {
		recs = []*record.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("encode json array: %w", err)
	}
	return nil
}

func encodeCSV(w io.Writer, recs []*record.Record) error {
	header := Columns(recs)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for i, rec := range recs {
		for j, name := range header {
			v, _ := rec.Get(name)
			cell, err := FormatCell(v)
			if err != nil {
				return fmt.Errorf("record %d field %q: %w", i, name, err)
			}
			row[j] = cell
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Columns returns the union of field names across recs in first-seen order.
func Columns(recs []*record.Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, rec := range recs {
		for _, f := range rec.Fields() {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			cols = append(cols, f)
		}
	}
	return cols
}

// FormatCell renders a value as flat text. Strings pass through, nil becomes
// empty, and composite values are encoded as JSON.
func FormatCell(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	case float64:
		if math.IsNaN(val) {
			return "", nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}
