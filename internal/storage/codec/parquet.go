package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

// columnsMetadataKey stores the writer's column order. parquet.Group sorts
// its fields by name, so the order is restored from this entry on read.
const columnsMetadataKey = "productdedup.columns"

// parquetBatch is the number of rows read per ReadRows call.
const parquetBatch = 256

type parquetLeaf struct {
	path     []string
	repeated bool
	nullDef  int
	logical  *format.LogicalType
}

// decodeParquet reads every row group into records. Top-level fields keep
// the file schema's order; repeated leaves become []any and nested groups
// become maps. An empty input decodes to no records.
func decodeParquet(r io.Reader) ([]*record.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	schema := f.Schema()
	fields := topLevelOrder(f, schema)
	optional := make(map[string]bool, len(schema.Fields()))
	for _, field := range schema.Fields() {
		optional[field.Name()] = field.Optional()
	}
	leaves := make(map[int]parquetLeaf)
	for _, path := range schema.Columns() {
		col, ok := schema.Lookup(path...)
		if !ok {
			continue
		}
		leaf := parquetLeaf{
			path:     col.Path,
			repeated: col.MaxRepetitionLevel > 0,
			logical:  col.Node.Type().LogicalType(),
		}
		if optional[col.Path[0]] {
			leaf.nullDef = 1
		}
		leaves[col.ColumnIndex] = leaf
	}

	var out []*record.Record
	buf := make([]parquet.Row, parquetBatch)
	for gi, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				out = append(out, parquetRecord(row, fields, leaves))
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("row group %d: %w", gi, err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close row group %d: %w", gi, err)
		}
	}
	return out, nil
}

// topLevelOrder returns the file's top-level field names, reordered by the
// stored column list when the file was written by encodeParquet.
func topLevelOrder(f *parquet.File, schema *parquet.Schema) []string {
	names := make([]string, 0, len(schema.Fields()))
	present := make(map[string]bool, len(schema.Fields()))
	for _, field := range schema.Fields() {
		names = append(names, field.Name())
		present[field.Name()] = true
	}
	raw, ok := f.Lookup(columnsMetadataKey)
	if !ok {
		return names
	}
	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || len(stored) != len(names) {
		return names
	}
	for _, name := range stored {
		if !present[name] {
			return names
		}
	}
	return stored
}

func parquetRecord(row parquet.Row, fields []string, leaves map[int]parquetLeaf) *record.Record {
	rec := record.New()
	for _, name := range fields {
		rec.Set(name, nil)
	}
	for _, v := range row {
		leaf, ok := leaves[v.Column()]
		if !ok {
			continue
		}
		top := leaf.path[0]
		switch {
		case leaf.repeated:
			cur, _ := rec.Get(top)
			list, _ := cur.([]any)
			if v.IsNull() {
				if v.DefinitionLevel() < leaf.nullDef {
					continue
				}
				if list == nil {
					rec.Set(top, []any{})
				}
				continue
			}
			rec.Set(top, append(list, parquetValue(v, leaf.logical)))
		case len(leaf.path) > 1:
			if v.IsNull() {
				continue
			}
			cur, _ := rec.Get(top)
			m, _ := cur.(map[string]any)
			if m == nil {
				m = map[string]any{}
			}
			setNested(m, leaf.path[1:], parquetValue(v, leaf.logical))
			rec.Set(top, m)
		default:
			if v.IsNull() {
				continue
			}
			rec.Set(top, parquetValue(v, leaf.logical))
		}
	}
	return rec
}

func setNested(m map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, _ := m[key].(map[string]any)
		if next == nil {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func parquetValue(v parquet.Value, logical *format.LogicalType) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if logical != nil && logical.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC().Format(time.DateOnly)
		}
		return int64(v.Int32())
	case parquet.Int64:
		if logical != nil && logical.Timestamp != nil {
			return parquetTimestamp(v.Int64(), logical.Timestamp.Unit)
		}
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

func parquetTimestamp(n int64, unit format.TimeUnit) string {
	var ts time.Time
	switch {
	case unit.Millis != nil:
		ts = time.UnixMilli(n)
	case unit.Nanos != nil:
		ts = time.Unix(0, n)
	default:
		ts = time.UnixMicro(n)
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

type parquetKind int

const (
	parquetString parquetKind = iota
	parquetBool
	parquetInt
	parquetDouble
)

// encodeParquet writes recs as a snappy-compressed file with one optional
// column per field. Columns holding only integers, floats or booleans keep a
// native type; everything else, lists and maps included, is stored as the
// same text the CSV writer produces. No columns writes nothing.
func encodeParquet(w io.Writer, recs []*record.Record) error {
	cols := Columns(recs)
	if len(cols) == 0 {
		return nil
	}
	kinds := make([]parquetKind, len(cols))
	group := make(parquet.Group, len(cols))
	for i, c := range cols {
		kinds[i] = inferParquetKind(recs, c)
		group[c] = parquet.Optional(parquetNode(kinds[i]))
	}
	schema := parquet.NewSchema("product", group)
	colIdx := make([]int, len(cols))
	for i, c := range cols {
		leaf, ok := schema.Lookup(c)
		if !ok {
			return fmt.Errorf("parquet schema missing column %q", c)
		}
		colIdx[i] = leaf.ColumnIndex
	}

	order, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("marshal column order: %w", err)
	}
	writer := parquet.NewWriter(w, schema,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(columnsMetadataKey, string(order)),
	)

	for i, rec := range recs {
		row := make(parquet.Row, len(cols))
		for j, c := range cols {
			v, _ := rec.Get(c)
			pv, err := parquetCell(v, kinds[j])
			if err != nil {
				return fmt.Errorf("record %d field %q: %w", i, c, err)
			}
			row[colIdx[j]] = pv.Level(0, definitionLevel(pv), colIdx[j])
		}
		if _, err := writer.WriteRows([]parquet.Row{row}); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func definitionLevel(v parquet.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}

func parquetNode(k parquetKind) parquet.Node {
	switch k {
	case parquetBool:
		return parquet.Leaf(parquet.BooleanType)
	case parquetInt:
		return parquet.Int(64)
	case parquetDouble:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

// inferParquetKind picks the narrowest native type that holds every
// non-empty value of col. Integers mixed with floats widen to double.
func inferParquetKind(recs []*record.Record, col string) parquetKind {
	var sawBool, sawInt, sawFloat, sawOther bool
	for _, rec := range recs {
		v, _ := rec.Get(col)
		if v == nil {
			continue
		}
		switch v.(type) {
		case bool:
			sawBool = true
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			sawInt = true
		case float32, float64:
			sawFloat = true
		default:
			sawOther = true
		}
	}
	switch {
	case sawOther:
		return parquetString
	case sawBool && !sawInt && !sawFloat:
		return parquetBool
	case sawBool:
		return parquetString
	case sawFloat:
		return parquetDouble
	case sawInt:
		return parquetInt
	default:
		return parquetString
	}
}

func parquetCell(v any, k parquetKind) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch k {
	case parquetBool:
		return parquet.BooleanValue(v.(bool)), nil
	case parquetInt:
		return parquet.Int64Value(toInt64(v)), nil
	case parquetDouble:
		switch n := v.(type) {
		case float64:
			return parquet.DoubleValue(n), nil
		case float32:
			return parquet.DoubleValue(float64(n)), nil
		default:
			return parquet.DoubleValue(float64(toInt64(v))), nil
		}
	}
	s, err := FormatCell(v)
	if err != nil {
		return parquet.Value{}, err
	}
	return parquet.ByteArrayValue([]byte(s)), nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return 0
}
