// Package dedup collapses duplicate product records into one maximally
// complete record per product.
//
// Records are grouped by a composite key built from the page URL and the first
// characters of a normalized description (see DeriveKey). Within a group the
// record with the most non-empty fields becomes the base, and its empty fields
// are filled from the other members in input order (see MergeGroup).
//
// Groups are emitted in the order their key first appears in the input, so the
// tie-break between equally complete records is always "earliest in input".
// The package has no I/O; progress is reported through an injected Observer.
package dedup
