package dedup

import "github.com/JakeFAU/realtime-cpi-dedup/internal/record"

// Group is the set of input records that share one key, in input order.
type Group struct {
	Key     string
	Records []*record.Record
}

// GroupRecords derives a key for every record and partitions the input into
// groups ordered by the first appearance of each key. Any key failure aborts
// the whole partition.
func GroupRecords(records []*record.Record, opts KeyOptions) ([]Group, error) {
	opts = opts.withDefaults()
	index := make(map[string]int)
	groups := make([]Group, 0)
	for i, r := range records {
		key, err := DeriveKey(r, opts)
		if err != nil {
			return nil, &RecordError{Index: i, Field: opts.URLField, Err: err}
		}
		pos, ok := index[key.Value]
		if !ok {
			pos = len(groups)
			index[key.Value] = pos
			groups = append(groups, Group{Key: key.Value})
		}
		groups[pos].Records = append(groups[pos].Records, r)
	}
	return groups, nil
}
