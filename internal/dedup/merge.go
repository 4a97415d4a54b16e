package dedup

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

// Config wires a Merger.
//   - Key: field layout used to derive grouping keys.
//   - Workers: groups merged concurrently; values below 2 run sequentially.
//   - Observer: optional progress callback.
//   - Logger: optional structured logger.
type Config struct {
	Key      KeyOptions
	Workers  int
	Observer Observer
	Logger   *zap.Logger
}

// Stats summarises one merge run.
type Stats struct {
	InputRecords  int
	OutputRecords int
	Groups        int
	MergedGroups  int
	FieldsFilled  int
}

// Merger groups records by key and merges each group.
type Merger struct {
	key      KeyOptions
	workers  int
	observer Observer
	logger   *zap.Logger
}

// NewMerger builds a Merger from cfg.
func NewMerger(cfg Config) *Merger {
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		key:      cfg.Key.withDefaults(),
		workers:  cfg.Workers,
		observer: observer,
		logger:   logger,
	}
}

// Run deduplicates records and returns one merged record per distinct key, in
// order of each key's first appearance. The input records are not modified.
// On error no records are returned.
func (m *Merger) Run(ctx context.Context, records []*record.Record) ([]*record.Record, Stats, error) {
	groups, err := GroupRecords(records, m.key)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("group records: %w", err)
	}
	m.logger.Debug("records grouped",
		zap.Int("records", len(records)),
		zap.Int("groups", len(groups)),
	)

	merged := make([]*record.Record, len(groups))
	filled := make([]int, len(groups))
	if m.workers > 1 {
		err = m.mergeConcurrent(ctx, groups, merged, filled)
	} else {
		err = m.mergeSequential(ctx, groups, merged, filled)
	}
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{
		InputRecords:  len(records),
		OutputRecords: len(merged),
		Groups:        len(groups),
	}
	for i, g := range groups {
		if len(g.Records) > 1 {
			stats.MergedGroups++
		}
		stats.FieldsFilled += filled[i]
	}
	return merged, stats, nil
}

func (m *Merger) mergeSequential(ctx context.Context, groups []Group, merged []*record.Record, filled []int) error {
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("merge groups: %w", err)
		}
		merged[i], filled[i] = MergeGroup(g)
		m.observer.OnGroupProcessed(i+1, len(groups))
	}
	return nil
}

func (m *Merger) mergeConcurrent(ctx context.Context, groups []Group, merged []*record.Record, filled []int) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.workers)
	var processed atomic.Int64
	for i, g := range groups {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			merged[i], filled[i] = MergeGroup(g)
			m.observer.OnGroupProcessed(int(processed.Add(1)), len(groups))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("merge groups: %w", err)
	}
	return nil
}

// MergeGroup collapses g into one record and reports how many fields were
// filled from non-base members. The most complete record is the base (first
// one wins on ties); each empty base field takes the first non-empty value
// found among the other records in group order. Source records are cloned,
// never modified.
func MergeGroup(g Group) (*record.Record, int) {
	switch len(g.Records) {
	case 0:
		return record.New(), 0
	case 1:
		return g.Records[0].Clone(), 0
	}

	baseIdx, best := 0, -1
	for i, r := range g.Records {
		if count := record.CountNonEmpty(r); count > best {
			best = count
			baseIdx = i
		}
	}

	merged := g.Records[baseIdx].Clone()
	filled := 0
	for i, other := range g.Records {
		if i == baseIdx {
			continue
		}
		for _, field := range other.Fields() {
			current, _ := merged.Get(field)
			if !record.IsEmpty(current) {
				continue
			}
			candidate, _ := other.Get(field)
			if record.IsEmpty(candidate) {
				continue
			}
			merged.Set(field, candidate)
			filled++
		}
	}
	return merged, filled
}
