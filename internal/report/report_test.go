package report

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

func rec(kv ...any) *record.Record {
	r := record.New()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func TestNewSummaryCounts(t *testing.T) {
	t.Parallel()

	input := []*record.Record{
		rec("page_url", "a", "brand", "Acme"),
		rec("page_url", "a", "brand", "Acme"),
		rec("page_url", "b", "brand", nil),
	}
	output := []*record.Record{
		rec("page_url", "a", "brand", "Acme"),
		rec("page_url", "b", "brand", nil),
	}
	s := NewSummary(input, output, "page_url", 20)
	assert.Equal(t, 3, s.OriginalRecords)
	assert.Equal(t, 2, s.DeduplicatedRecords)
	assert.Equal(t, 1, s.DuplicatesRemoved)
	assert.Equal(t, 33.33, s.DeduplicationRatePercent)
	assert.Equal(t, 2, s.UniqueURLs)
	require.NotNil(t, s.UniqueBrands)
	assert.Equal(t, 1, *s.UniqueBrands)
	assert.Equal(t, "URL + First 20 characters of description", s.Method)
}

func TestNewSummaryEmptyInput(t *testing.T) {
	t.Parallel()

	s := NewSummary(nil, nil, "page_url", 20)
	assert.Zero(t, s.DeduplicationRatePercent)
	assert.False(t, math.IsNaN(s.DeduplicationRatePercent))
	assert.Nil(t, s.UniqueBrands)
}

func TestSummaryJSONShape(t *testing.T) {
	t.Parallel()

	s := NewSummary([]*record.Record{rec("page_url", "a")}, []*record.Record{rec("page_url", "a")}, "page_url", 20)
	s.RunID = "run-1"
	s.StartedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.FinishedAt = s.StartedAt.Add(time.Second)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.NotContains(t, got, "unique_brands")
	assert.NotContains(t, got, "outputs")
	assert.Equal(t, "2024-01-02T03:04:05Z", got["started_at"])
	for _, key := range []string{"original_records", "deduplicated_records", "duplicates_removed", "deduplication_rate_percent", "unique_urls", "method"} {
		assert.Contains(t, got, key)
	}
}

func TestRound2(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 12.35, Round2(12.346))
	assert.Equal(t, 50.0, Round2(50))
	assert.Equal(t, 66.67, Round2(200.0/3))
}

func TestDistinctValues(t *testing.T) {
	t.Parallel()

	recs := []*record.Record{
		rec("v", "x"),
		rec("v", ""),
		rec("v", math.NaN()),
		rec("v", int64(1)),
		rec("v", "1"),
		rec("other", "y"),
		rec("v", nil),
		rec("v", "x"),
	}
	assert.Equal(t, 4, DistinctValues(recs, "v"))
	assert.Zero(t, DistinctValues(recs, "missing"))
}

func TestBuildProfile(t *testing.T) {
	t.Parallel()

	recs := []*record.Record{
		rec("page_url", "a", "price", 9.5, "brand", "Acme"),
		rec("page_url", "b", "price", int64(3), "brand", ""),
		rec("page_url", "c", "tags", []any{"x"}),
		rec("page_url", "d", "price", nil, "tags", []any{}),
	}
	p := BuildProfile(recs, 2)
	assert.Equal(t, 4, p.TotalRows)
	assert.Equal(t, 4, p.TotalColumns)
	require.Len(t, p.Sample, 2)

	byName := make(map[string]ColumnProfile)
	for _, c := range p.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, []string{"page_url", "price", "brand", "tags"}, []string{p.Columns[0].Name, p.Columns[1].Name, p.Columns[2].Name, p.Columns[3].Name})
	assert.Equal(t, []string{"float", "integer"}, byName["price"].Types)
	assert.Equal(t, 2, byName["price"].Missing)
	assert.Equal(t, 50.0, byName["price"].MissingPercent)
	assert.Equal(t, 3, byName["brand"].Missing)
	assert.Equal(t, 75.0, byName["brand"].MissingPercent)
	assert.Equal(t, []string{"list"}, byName["tags"].Types)
	assert.Zero(t, byName["page_url"].Missing)

	missing := p.MissingColumns()
	assert.Len(t, missing, 3)
}

func TestBuildProfileSampleBounds(t *testing.T) {
	t.Parallel()

	p := BuildProfile([]*record.Record{rec("a", 1)}, 20)
	assert.Len(t, p.Sample, 1)
	p = BuildProfile(nil, 20)
	assert.Empty(t, p.Sample)
	assert.Empty(t, p.Columns)
}
