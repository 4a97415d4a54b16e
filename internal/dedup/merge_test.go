package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

func runMerger(t *testing.T, cfg Config, input []*record.Record) ([]*record.Record, Stats) {
	t.Helper()
	out, stats, err := NewMerger(cfg).Run(context.Background(), input)
	require.NoError(t, err)
	return out, stats
}

func TestMergerScenarios(t *testing.T) {
	t.Parallel()

	t.Run("whitespace and case variants merge", func(t *testing.T) {
		t.Parallel()
		input := []*record.Record{
			newRecord("page_url", "http://a.com/p1", "product_name", "Blue Widget", "price", ""),
			newRecord("page_url", "http://a.com/p1", "product_name", "blue   widget", "price", "9.99"),
		}
		out, stats := runMerger(t, Config{}, input)
		require.Len(t, out, 1)
		assert.Equal(t, 1, stats.MergedGroups)
		price, _ := out[0].Get("price")
		assert.Equal(t, "9.99", price)
	})

	t.Run("no description fills from more complete record", func(t *testing.T) {
		t.Parallel()
		a := newRecord("page_url", "http://a.com/p1", "description", "", "brand", "Acme")
		b := newRecord("page_url", "http://a.com/p1", "description", "", "brand", "")
		out, _ := runMerger(t, Config{}, []*record.Record{b, a})
		require.Len(t, out, 1)
		brand, _ := out[0].Get("brand")
		assert.Equal(t, "Acme", brand)
		assert.Equal(t, []string{"page_url", "description", "brand"}, out[0].Fields())
	})

	t.Run("distinct urls stay separate", func(t *testing.T) {
		t.Parallel()
		input := []*record.Record{
			newRecord("page_url", "http://a.com/1", "product_name", "One"),
			newRecord("page_url", "http://a.com/2", "product_name", "Two"),
			newRecord("page_url", "http://a.com/3", "product_name", "Three"),
		}
		out, stats := runMerger(t, Config{}, input)
		require.Len(t, out, 3)
		assert.Equal(t, 0, stats.MergedGroups)
		for i := range input {
			assert.Equal(t, input[i].Map(), out[i].Map())
		}
	})

	t.Run("missing url aborts", func(t *testing.T) {
		t.Parallel()
		input := []*record.Record{
			newRecord("page_url", "http://a.com/1"),
			newRecord("product_name", "orphan"),
		}
		out, _, err := NewMerger(Config{}).Run(context.Background(), input)
		require.ErrorIs(t, err, ErrMissingKeyField)
		var recErr *RecordError
		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, 1, recErr.Index)
		assert.Equal(t, "page_url", recErr.Field)
		assert.Nil(t, out)
	})

	t.Run("all empty single record passes through", func(t *testing.T) {
		t.Parallel()
		rec := newRecord("page_url", "", "brand", nil, "tags", []any{})
		out, _ := runMerger(t, Config{}, []*record.Record{rec})
		require.Len(t, out, 1)
		assert.Equal(t, rec.Fields(), out[0].Fields())
		assert.Equal(t, rec.Map(), out[0].Map())
	})
}

func TestMergeGroupTieBreaksOnFirstRecord(t *testing.T) {
	t.Parallel()

	first := newRecord("page_url", "u", "brand", "First", "color", "")
	second := newRecord("page_url", "u", "brand", "Second", "color", "red")
	third := newRecord("page_url", "u", "brand", "", "color", "blue", "size", "")

	merged, filled := MergeGroup(Group{Records: []*record.Record{first, second, third}})
	// second is strictly most complete (3), so it is the base.
	brand, _ := merged.Get("brand")
	color, _ := merged.Get("color")
	assert.Equal(t, "Second", brand)
	assert.Equal(t, "red", color)
	assert.Equal(t, 0, filled)

	a := newRecord("page_url", "u", "brand", "A", "color", "")
	b := newRecord("page_url", "u", "brand", "", "color", "green")
	c := newRecord("page_url", "u", "brand", "C", "color", "teal")
	merged, filled = MergeGroup(Group{Records: []*record.Record{a, b, c}})
	// c is the strict winner; a and b tie below it.
	brand, _ = merged.Get("brand")
	color, _ = merged.Get("color")
	assert.Equal(t, "C", brand)
	assert.Equal(t, "teal", color)
	assert.Equal(t, 0, filled)

	x := newRecord("page_url", "u", "brand", "X", "color", "")
	y := newRecord("page_url", "u", "brand", "", "color", "Y")
	merged, filled = MergeGroup(Group{Records: []*record.Record{x, y}})
	brand, _ = merged.Get("brand")
	color, _ = merged.Get("color")
	assert.Equal(t, "X", brand, "equal counts keep the first record as base")
	assert.Equal(t, "Y", color)
	assert.Equal(t, 1, filled)
}

func TestMergeGroupFirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	base := newRecord("page_url", "u", "a", "1", "b", "2", "c", "")
	o1 := newRecord("page_url", "u", "c", "from-o1")
	o2 := newRecord("page_url", "u", "c", "from-o2", "d", "extra")

	merged, filled := MergeGroup(Group{Records: []*record.Record{base, o1, o2}})
	c, _ := merged.Get("c")
	d, _ := merged.Get("d")
	assert.Equal(t, "from-o1", c)
	assert.Equal(t, "extra", d)
	assert.Equal(t, 2, filled)
	assert.Equal(t, []string{"page_url", "a", "b", "c", "d"}, merged.Fields())
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	a := newRecord("page_url", "u", "brand", "", "name", "Widget")
	b := newRecord("page_url", "u", "brand", "Acme", "name", "")
	before := []map[string]any{a.Map(), b.Map()}

	_, _ = runMerger(t, Config{}, []*record.Record{a, b})
	assert.Equal(t, before[0], a.Map())
	assert.Equal(t, before[1], b.Map())
	assert.Equal(t, []string{"page_url", "brand", "name"}, a.Fields())
}

func TestMergeKeepsZeroAndFalse(t *testing.T) {
	t.Parallel()

	a := newRecord("page_url", "u", "price", 0, "in_stock", false, "brand", "Acme", "rating", nil)
	b := newRecord("page_url", "u", "price", 12, "in_stock", true, "rating", 4.5)
	merged, _ := MergeGroup(Group{Records: []*record.Record{a, b}})

	price, _ := merged.Get("price")
	stock, _ := merged.Get("in_stock")
	rating, _ := merged.Get("rating")
	assert.Equal(t, 0, price)
	assert.Equal(t, false, stock)
	assert.Equal(t, 4.5, rating)
}

func sampleCatalog() []*record.Record {
	var recs []*record.Record
	for i := range 40 {
		url := fmt.Sprintf("http://shop.example/p%d", i%7)
		r := record.New()
		r.Set("page_url", url)
		if i%3 != 0 {
			r.Set("product_name", fmt.Sprintf("Product %d", i%7))
		}
		if i%2 == 0 {
			r.Set("brand", fmt.Sprintf("Brand %d", i%5))
		} else {
			r.Set("brand", "")
		}
		if i%4 == 0 {
			r.Set("images", []any{fmt.Sprintf("img-%d.png", i)})
		}
		r.Set("price", float64(i))
		recs = append(recs, r)
	}
	return recs
}

func TestMergerProperties(t *testing.T) {
	t.Parallel()

	input := sampleCatalog()
	groups, err := GroupRecords(input, DefaultKeyOptions())
	require.NoError(t, err)

	out, stats := runMerger(t, Config{}, input)

	t.Run("conservation", func(t *testing.T) {
		total := 0
		for _, g := range groups {
			total += len(g.Records)
		}
		assert.Equal(t, len(input), total)
		assert.Len(t, out, len(groups))
		assert.Equal(t, len(groups), stats.Groups)
		assert.Equal(t, len(input), stats.InputRecords)
	})

	t.Run("completeness monotonicity", func(t *testing.T) {
		for i, g := range groups {
			maxCount := 0
			for _, r := range g.Records {
				maxCount = max(maxCount, record.CountNonEmpty(r))
			}
			assert.GreaterOrEqual(t, record.CountNonEmpty(out[i]), maxCount)
		}
	})

	t.Run("no data invention", func(t *testing.T) {
		for i, g := range groups {
			for _, field := range out[i].Fields() {
				v, _ := out[i].Get(field)
				if record.IsEmpty(v) {
					continue
				}
				found := false
				for _, src := range g.Records {
					if sv, ok := src.Get(field); ok && assert.ObjectsAreEqual(sv, v) {
						found = true
						break
					}
				}
				assert.True(t, found, "field %s value %v not in group sources", field, v)
			}
		}
	})

	t.Run("idempotence", func(t *testing.T) {
		again, _, err := NewMerger(Config{}).Run(context.Background(), out)
		require.NoError(t, err)
		require.Len(t, again, len(out))
		for i := range out {
			assert.Equal(t, out[i].Map(), again[i].Map())
		}
	})
}

func TestMergerConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	input := sampleCatalog()
	seq, seqStats := runMerger(t, Config{}, input)
	par, parStats := runMerger(t, Config{Workers: 4}, input)

	require.Equal(t, seqStats, parStats)
	require.Len(t, par, len(seq))
	for i := range seq {
		assert.Equal(t, seq[i].Fields(), par[i].Fields())
		assert.Equal(t, seq[i].Map(), par[i].Map())
	}
}

func TestMergerNotifiesObserver(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls [][2]int
	obs := ObserverFunc(func(processed, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{processed, total})
	})

	input := []*record.Record{
		newRecord("page_url", "a"),
		newRecord("page_url", "b"),
		newRecord("page_url", "a"),
	}
	_, _ = runMerger(t, Config{Observer: obs}, input)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestMergerHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{0, 4} {
		out, _, err := NewMerger(Config{Workers: workers}).Run(ctx, sampleCatalog())
		require.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, out)
	}
}

func TestMergerEmptyInput(t *testing.T) {
	t.Parallel()

	out, stats := runMerger(t, Config{}, nil)
	assert.Empty(t, out)
	assert.Equal(t, Stats{}, stats)
}
