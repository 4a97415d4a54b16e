package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

const productSchema = `{
  "type": "object",
  "required": ["page_url"],
  "properties": {
    "page_url": {"type": "string", "minLength": 1},
    "price": {"type": ["string", "number", "null"]}
  }
}`

func rec(kv ...any) *record.Record {
	r := record.New()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func TestValidatorAcceptsConformingRecords(t *testing.T) {
	t.Parallel()

	v, err := Compile([]byte(productSchema))
	require.NoError(t, err)
	err = v.Validate([]*record.Record{
		rec("page_url", "http://a.com/1", "price", "9.99"),
		rec("page_url", "http://a.com/2", "price", int64(12), "brand", "Acme"),
		rec("page_url", "http://a.com/3", "price", nil),
	})
	assert.NoError(t, err)
}

func TestValidatorReportsFirstFailure(t *testing.T) {
	t.Parallel()

	v, err := Compile([]byte(productSchema))
	require.NoError(t, err)
	err = v.Validate([]*record.Record{
		rec("page_url", "http://a.com/1"),
		rec("product_name", "orphan", "price", true),
		rec("page_url", ""),
	})
	require.ErrorIs(t, err, ErrInvalidRecord)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 1, vErr.Index)
	assert.Len(t, vErr.Problems, 2)
	assert.Contains(t, vErr.Error(), "page_url")
}

func TestCompileRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	_, err := Compile(nil)
	require.Error(t, err)
	_, err = Compile([]byte(`{"type": 12}`))
	require.Error(t, err)
	_, err = Compile([]byte(`not json`))
	require.Error(t, err)
}
