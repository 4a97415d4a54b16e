package dedup

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

const (
	// DefaultURLField is the field carrying the scraped page URL.
	DefaultURLField = "page_url"
	// KeyDelimiter separates the URL from the description prefix.
	KeyDelimiter = "|||"
	// NoDescription replaces the prefix when no usable description exists.
	NoDescription = "NO_DESC"
	// DefaultPrefixLength is the number of runes of normalized description kept in the key.
	DefaultPrefixLength = 20
	// MinDescriptionLength is the shortest trimmed text accepted as a description.
	MinDescriptionLength = 3
)

// DefaultDescriptionFields lists description candidates by preference.
var DefaultDescriptionFields = []string{"product_summary", "description", "product_title", "product_name"}

// KeyOptions selects the fields used to build grouping keys.
type KeyOptions struct {
	URLField          string
	DescriptionFields []string
	PrefixLength      int
}

// DefaultKeyOptions returns the stock product-page key layout.
func DefaultKeyOptions() KeyOptions {
	return KeyOptions{
		URLField:          DefaultURLField,
		DescriptionFields: append([]string(nil), DefaultDescriptionFields...),
		PrefixLength:      DefaultPrefixLength,
	}
}

func (o KeyOptions) withDefaults() KeyOptions {
	if o.URLField == "" {
		o.URLField = DefaultURLField
	}
	if len(o.DescriptionFields) == 0 {
		o.DescriptionFields = DefaultDescriptionFields
	}
	if o.PrefixLength <= 0 {
		o.PrefixLength = DefaultPrefixLength
	}
	return o
}

// Key holds the derived values computed for one record. None of them are
// written back into the record.
type Key struct {
	Description string
	Normalized  string
	Value       string
}

// ExtractDescription returns the first candidate field holding a string whose
// trimmed length is at least MinDescriptionLength. Missing fields and
// non-string values are skipped.
func ExtractDescription(r *record.Record, candidates []string) string {
	for _, field := range candidates {
		v, ok := r.Get(field)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if len([]rune(s)) >= MinDescriptionLength {
			return s
		}
	}
	return ""
}

// NormalizeDescription lower-cases s and collapses whitespace runs to a single
// space. Empty input yields an empty string.
func NormalizeDescription(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DeriveKey computes the grouping key for r. It fails with ErrMissingKeyField
// when the URL field is absent or not a string.
func DeriveKey(r *record.Record, opts KeyOptions) (Key, error) {
	opts = opts.withDefaults()
	raw, ok := r.Get(opts.URLField)
	if !ok || raw == nil {
		return Key{}, fmt.Errorf("field %q: %w", opts.URLField, ErrMissingKeyField)
	}
	url, ok := raw.(string)
	if !ok {
		return Key{}, fmt.Errorf("field %q has type %T: %w", opts.URLField, raw, ErrMissingKeyField)
	}

	desc := ExtractDescription(r, opts.DescriptionFields)
	norm := NormalizeDescription(desc)
	prefix := NoDescription
	if norm != "" {
		prefix = truncateRunes(norm, opts.PrefixLength)
	}
	return Key{
		Description: desc,
		Normalized:  norm,
		Value:       url + KeyDelimiter + prefix,
	}, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
