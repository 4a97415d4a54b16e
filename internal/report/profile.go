package report

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/codec"
)

// ColumnProfile summarises one column across the dataset.
type ColumnProfile struct {
	Name           string   `json:"name"`
	Types          []string `json:"types"`
	Missing        int      `json:"missing"`
	MissingPercent float64  `json:"missing_percent"`
}

// Profile is a quick overview of a record set.
type Profile struct {
	TotalRows    int              `json:"total_rows"`
	TotalColumns int              `json:"total_columns"`
	Columns      []ColumnProfile  `json:"columns"`
	Sample       []*record.Record `json:"sample"`
}

// BuildProfile inspects recs. A record lacking a column counts as missing
// for it, as does any value record.IsEmpty reports empty. Columns keep
// first-seen order and the sample holds the first sampleRows records.
func BuildProfile(recs []*record.Record, sampleRows int) Profile {
	cols := codec.Columns(recs)
	p := Profile{
		TotalRows:    len(recs),
		TotalColumns: len(cols),
		Columns:      make([]ColumnProfile, 0, len(cols)),
	}
	for _, name := range cols {
		types := make(map[string]struct{})
		missing := 0
		for _, r := range recs {
			v, ok := r.Get(name)
			if !ok || record.IsEmpty(v) {
				missing++
			}
			if ok && v != nil {
				types[TypeName(v)] = struct{}{}
			}
		}
		col := ColumnProfile{Name: name, Missing: missing, Types: make([]string, 0, len(types))}
		for t := range types {
			col.Types = append(col.Types, t)
		}
		sort.Strings(col.Types)
		if len(recs) > 0 {
			col.MissingPercent = Round2(float64(missing) / float64(len(recs)) * 100)
		}
		p.Columns = append(p.Columns, col)
	}
	if sampleRows > len(recs) {
		sampleRows = len(recs)
	}
	if sampleRows > 0 {
		p.Sample = recs[:sampleRows]
	}
	return p
}

// MissingColumns returns only the columns with at least one missing value.
func (p Profile) MissingColumns() []ColumnProfile {
	var out []ColumnProfile
	for _, c := range p.Columns {
		if c.Missing > 0 {
			out = append(out, c)
		}
	}
	return out
}

// TypeName names the kind of a decoded value.
func TypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case []any, []string:
		return "list"
	case map[string]any, *record.Record:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
