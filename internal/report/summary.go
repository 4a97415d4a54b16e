// Package report builds the run summary and the dataset profile.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

// BrandField is counted for unique_brands when present.
const BrandField = "brand"

// Output describes one written copy of the deduplicated records.
type Output struct {
	URI    string `json:"uri"`
	Format string `json:"format"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Summary is the machine-readable outcome of a deduplication run.
type Summary struct {
	OriginalRecords          int       `json:"original_records"`
	DeduplicatedRecords      int       `json:"deduplicated_records"`
	DuplicatesRemoved        int       `json:"duplicates_removed"`
	DeduplicationRatePercent float64   `json:"deduplication_rate_percent"`
	UniqueURLs               int       `json:"unique_urls"`
	UniqueBrands             *int      `json:"unique_brands,omitempty"`
	Method                   string    `json:"method"`
	RunID                    string    `json:"run_id,omitempty"`
	StartedAt                time.Time `json:"started_at"`
	FinishedAt               time.Time `json:"finished_at"`
	OutputSHA256             string    `json:"output_sha256,omitempty"`
	Outputs                  []Output  `json:"outputs,omitempty"`
}

// Method describes the key strategy for a description prefix length.
func Method(prefixLength int) string {
	return fmt.Sprintf("URL + First %d characters of description", prefixLength)
}

// NewSummary computes the record counts for a run. Timing, identity and
// output fields are filled in by the caller.
func NewSummary(input, output []*record.Record, urlField string, prefixLength int) Summary {
	s := Summary{
		OriginalRecords:     len(input),
		DeduplicatedRecords: len(output),
		DuplicatesRemoved:   len(input) - len(output),
		UniqueURLs:          DistinctValues(output, urlField),
		Method:              Method(prefixLength),
	}
	if len(input) > 0 {
		s.DeduplicationRatePercent = Round2(float64(s.DuplicatesRemoved) / float64(len(input)) * 100)
	}
	if hasField(output, BrandField) {
		brands := DistinctValues(output, BrandField)
		s.UniqueBrands = &brands
	}
	return s
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DistinctValues counts distinct values of field, ignoring absent fields,
// nil and NaN. Non-string values are compared by their printed form.
func DistinctValues(recs []*record.Record, field string) int {
	seen := make(map[string]struct{})
	for _, r := range recs {
		v, ok := r.Get(field)
		if !ok || v == nil {
			continue
		}
		if f, isFloat := v.(float64); isFloat && math.IsNaN(f) {
			continue
		}
		var key string
		if s, isString := v.(string); isString {
			key = s
		} else {
			key = fmt.Sprintf("%T:%v", v, v)
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}

func hasField(recs []*record.Record, field string) bool {
	for _, r := range recs {
		if r.Has(field) {
			return true
		}
	}
	return false
}
