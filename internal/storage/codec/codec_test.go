package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"out/records.jsonl":  FormatJSONL,
		"gs://b/x.ndjson":    FormatJSONL,
		"data/products.JSON": FormatJSON,
		"sample.csv":         FormatCSV,
		"x.snappy.parquet":   FormatParquet,
	}
	for path, want := range cases {
		got, err := DetectFormat(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := DetectFormat("products.xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
	_, err = DetectFormat("noext")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDecodeJSONL(t *testing.T) {
	t.Parallel()

	input := `{"page_url":"http://a.com/1","price":9.99,"qty":3}

{"page_url":"http://a.com/2","tags":["x","y"]}
`
	recs, err := Decode(strings.NewReader(input), FormatJSONL)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"page_url", "price", "qty"}, recs[0].Fields())
	qty, _ := recs[0].Get("qty")
	assert.Equal(t, int64(3), qty)
	tags, _ := recs[1].Get("tags")
	assert.Equal(t, []any{"x", "y"}, tags)
}

func TestDecodeJSONLReportsLine(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("{\"a\":1}\n[1,2]\n"), FormatJSONL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()

	input := `[{"z":"last","a":"first"},{"page_url":"u","n":null}]`
	recs, err := Decode(strings.NewReader(input), FormatJSON)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"z", "a"}, recs[0].Fields())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSONL, recs))
	assert.Equal(t, "{\"z\":\"last\",\"a\":\"first\"}\n{\"page_url\":\"u\",\"n\":null}\n", buf.String())
}

func TestEncodeJSONEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestCSVRoundTrip(t *testing.T) {
	t.Parallel()

	a := record.New()
	a.Set("page_url", "http://a.com/1")
	a.Set("price", 9.5)
	a.Set("images", []any{"a.png", "b.png"})
	b := record.New()
	b.Set("page_url", "http://a.com/2")
	b.Set("brand", "Acme, Inc.")
	b.Set("in_stock", true)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatCSV, []*record.Record{a, b}))
	want := "page_url,price,images,brand,in_stock\n" +
		"http://a.com/1,9.5,\"[\"\"a.png\"\",\"\"b.png\"\"]\",,\n" +
		"http://a.com/2,,,\"Acme, Inc.\",true\n"
	assert.Equal(t, want, buf.String())

	recs, err := Decode(&buf, FormatCSV)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"page_url", "price", "images", "brand", "in_stock"}, recs[1].Fields())
	brand, _ := recs[1].Get("brand")
	assert.Equal(t, "Acme, Inc.", brand)
	price, _ := recs[1].Get("price")
	assert.Equal(t, "", price)
}

func TestDecodeCSVEdgeCases(t *testing.T) {
	t.Parallel()

	recs, err := Decode(strings.NewReader(""), FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = Decode(strings.NewReader("\ufeffpage_url,name\nu1\n"), FormatCSV)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"page_url", "name"}, recs[0].Fields())

	_, err = Decode(strings.NewReader("a\n1,2\n"), FormatCSV)
	require.Error(t, err)
}

func TestFormatCell(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{int64(42), "42"},
		{3.25, "3.25"},
		{1e21, "1000000000000000000000"},
		{false, "false"},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}
	for _, tc := range cases {
		got, err := FormatCell(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader(""), Format("xml"))
	require.ErrorIs(t, err, ErrUnknownFormat)
	require.ErrorIs(t, Encode(&bytes.Buffer{}, Format("xml"), nil), ErrUnknownFormat)
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
}
