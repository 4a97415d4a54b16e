package record

import (
	"database/sql"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	r := New()
	r.Set("page_url", "http://a.com/p1")
	r.Set("brand", "Acme")
	r.Set("product_name", "Widget")
	r.Set("brand", "Acme Corp")

	require.Equal(t, []string{"page_url", "brand", "product_name"}, r.Fields())
	v, ok := r.Get("brand")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", v)
	assert.True(t, r.Has("product_name"))
	assert.False(t, r.Has("price"))
}

func TestRecordCloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := New()
	orig.Set("a", 1)
	orig.Set("b", "x")

	clone := orig.Clone()
	clone.Set("c", true)
	clone.Set("a", 2)

	assert.Equal(t, []string{"a", "b"}, orig.Fields())
	v, _ := orig.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a", "b", "c"}, clone.Fields())
}

func TestRecordJSONRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()

	input := `{"page_url":"http://a.com","zeta":1,"alpha":[1,2.5],"nested":{"k":"v"},"missing":null}`
	var r Record
	require.NoError(t, json.Unmarshal([]byte(input), &r))

	require.Equal(t, []string{"page_url", "zeta", "alpha", "nested", "missing"}, r.Fields())
	zeta, _ := r.Get("zeta")
	assert.Equal(t, int64(1), zeta)
	alpha, _ := r.Get("alpha")
	assert.Equal(t, []any{int64(1), 2.5}, alpha)

	out, err := json.Marshal(&r)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
	assert.Equal(t, `{"page_url":"http://a.com","zeta":1,"alpha":[1,2.5],"nested":{"k":"v"},"missing":null}`, string(out))
}

func TestRecordUnmarshalRejectsNonObject(t *testing.T) {
	t.Parallel()

	var r Record
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	var nilPtr *string
	var nilSlice []int
	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"whitespace string", "  \t\n", true},
		{"text", "Acme", false},
		{"zero int", 0, false},
		{"false", false, false},
		{"NaN", math.NaN(), true},
		{"float", 1.5, false},
		{"empty any slice", []any{}, true},
		{"empty string slice", []string{}, true},
		{"non-empty slice", []any{"x"}, false},
		{"nil typed slice", nilSlice, true},
		{"empty map", map[string]any{}, true},
		{"nil pointer", nilPtr, true},
		{"null sql string", sql.NullString{}, true},
		{"valid sql string", sql.NullString{String: "x", Valid: true}, false},
		{"blank sql string", sql.NullString{String: " ", Valid: true}, true},
		{"time", time.Unix(0, 0), false},
		{"struct", struct{ A int }{}, false},
		{"empty array", [0]int{}, true},
		{"channel", make(chan int), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsEmpty(tc.value))
		})
	}
}

func TestCountNonEmpty(t *testing.T) {
	t.Parallel()

	r := New()
	r.Set("page_url", "http://a.com")
	r.Set("brand", "")
	r.Set("price", 0)
	r.Set("images", []any{})
	r.Set("in_stock", false)

	assert.Equal(t, 3, CountNonEmpty(r))
	assert.Equal(t, 0, CountNonEmpty(New()))
}
