// Package pipeline runs one deduplication job end to end: load, merge, write,
// summarise, and announce.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/config"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/dedup"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/hash/sha256"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/metrics"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/progress"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/progress/sinks"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/publisher"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/report"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/schema"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/codec"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/sqlite"
)

const tracerName = "github.com/JakeFAU/realtime-cpi-dedup/internal/pipeline"

// SummaryEvent is the event_type attribute attached to published summaries.
const SummaryEvent = "dedup.summary"

// sampleFields are logged for the first records of the output.
var sampleFields = []string{"product_name", "brand", "page_url"}

// Clock supplies run timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// TableStore reads and writes records held in Postgres.
type TableStore interface {
	ReadTable(ctx context.Context, table, orderBy string) ([]*record.Record, error)
	ReadRun(ctx context.Context, runID string) ([]*record.Record, error)
	WriteRecords(ctx context.Context, runID string, recs []*record.Record) error
}

// Deps carries the collaborators a Runner needs. Blobs, Clock and IDs are
// required; the rest are optional.
type Deps struct {
	Logger    *zap.Logger
	Blobs     *storage.Resolver
	Postgres  TableStore
	Publisher publisher.Publisher
	Registry  *prometheus.Registry
	Clock     Clock
	IDs       IDGenerator
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Runner executes deduplication jobs described by a config.
type Runner struct {
	cfg       config.Config
	logger    *zap.Logger
	blobs     *storage.Resolver
	postgres  TableStore
	publisher publisher.Publisher
	recorder  *metrics.Recorder
	promSink  *sinks.PrometheusSink
	clock     Clock
	ids       IDGenerator
	hasher    *sha256.Hasher
	tracer    trace.Tracer
}

// NewRunner validates deps and registers the run collectors.
func NewRunner(cfg config.Config, deps Deps) (*Runner, error) {
	if deps.Blobs == nil {
		return nil, errors.New("blob resolver is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if (cfg.Input.Source == config.SourcePostgres || cfg.Output.Sink == config.SourcePostgres) && deps.Postgres == nil {
		return nil, errors.New("postgres store is required for the configured source or sink")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Runner{
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
		blobs:     deps.Blobs,
		postgres:  deps.Postgres,
		publisher: deps.Publisher,
		recorder:  metrics.NewRecorder(reg),
		promSink:  promSink,
		clock:     deps.Clock,
		ids:       deps.IDs,
		hasher:    sha256.New(),
		tracer:    tracer,
	}, nil
}

// Run executes one job. Nothing is written when loading, validation or merging fails.
func (r *Runner) Run(ctx context.Context) (_ report.Summary, err error) {
	runID, err := r.ids.NewRunID()
	if err != nil {
		return report.Summary{}, fmt.Errorf("new run id: %w", err)
	}
	started := r.clock.Now()
	logger := r.logger.With(zap.String("run_id", runID.String()))

	ctx, span := r.tracer.Start(ctx, "dedup.run", trace.WithAttributes(attribute.String("dedup.run_id", runID.String())))
	defer func() { endSpan(span, err) }()

	input, err := r.tracedLoad(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("load records: %w", err)
	}
	logger.Info("records loaded", zap.Int("records", len(input)), zap.Int("columns", len(codec.Columns(input))))
	if err := r.validate(ctx, input); err != nil {
		return report.Summary{}, fmt.Errorf("validate records: %w", err)
	}

	output, stats, err := r.merge(ctx, runID, input, logger)
	if err != nil {
		return report.Summary{}, err
	}
	span.SetAttributes(
		attribute.Int("dedup.input_records", len(input)),
		attribute.Int("dedup.output_records", len(output)),
	)

	summary := report.NewSummary(input, output, r.cfg.Dedup.URLField, r.cfg.Dedup.PrefixLength)
	summary.RunID = runID.String()
	summary.StartedAt = started

	outputs, err := r.write(ctx, runID, output)
	if err != nil {
		return report.Summary{}, fmt.Errorf("write records: %w", err)
	}
	summary.Outputs = outputs
	if len(outputs) > 0 {
		summary.OutputSHA256 = outputs[0].SHA256
	}
	summary.FinishedAt = r.clock.Now()

	if err := r.writeSummary(ctx, summary); err != nil {
		return report.Summary{}, err
	}
	r.recordMetrics(input, output, summary, logger)
	r.announce(ctx, summary, logger)

	logger.Info("deduplication complete",
		zap.Int("original_records", summary.OriginalRecords),
		zap.Int("deduplicated_records", summary.DeduplicatedRecords),
		zap.Int("duplicates_removed", summary.DuplicatesRemoved),
		zap.Float64("deduplication_rate_percent", summary.DeduplicationRatePercent),
		zap.Int("unique_urls", summary.UniqueURLs),
		zap.Int("merged_groups", stats.MergedGroups),
		zap.Int("fields_filled", stats.FieldsFilled),
	)
	if summary.UniqueBrands != nil {
		logger.Info("brand coverage", zap.Int("unique_brands", *summary.UniqueBrands))
	}
	r.logSample(output, logger)
	return summary, nil
}

func (r *Runner) tracedLoad(ctx context.Context) (_ []*record.Record, err error) {
	ctx, span := r.tracer.Start(ctx, "dedup.load", trace.WithAttributes(attribute.String("dedup.source", r.cfg.Input.Source)))
	defer func() { endSpan(span, err) }()
	return r.Load(ctx)
}

// Load reads the configured input record set.
func (r *Runner) Load(ctx context.Context) ([]*record.Record, error) {
	in := r.cfg.Input
	switch in.Source {
	case config.SourceSQLite:
		store, err := sqlite.Open(in.URI)
		if err != nil {
			return nil, err
		}
		defer store.Close() //nolint:errcheck // read-only handle
		return store.ReadTable(ctx, in.Table)
	case config.SourcePostgres:
		if in.RunID != "" {
			return r.postgres.ReadRun(ctx, in.RunID)
		}
		return r.postgres.ReadTable(ctx, in.Table, in.OrderBy)
	default:
		format, err := r.inputFormat()
		if err != nil {
			return nil, err
		}
		rc, err := r.blobs.Open(ctx, in.URI)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck // read-only stream
		return codec.Decode(rc, format)
	}
}

// validate checks input against the configured JSON Schema, if any.
func (r *Runner) validate(ctx context.Context, input []*record.Record) error {
	uri := r.cfg.Input.SchemaURI
	if uri == "" {
		return nil
	}
	rc, err := r.blobs.Open(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // read-only stream
	doc, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", uri, err)
	}
	v, err := schema.Compile(doc)
	if err != nil {
		return err
	}
	return v.Validate(input)
}

func (r *Runner) inputFormat() (codec.Format, error) {
	if r.cfg.Input.Format != "" {
		return codec.ParseFormat(r.cfg.Input.Format)
	}
	return codec.DetectFormat(r.cfg.Input.URI)
}

func (r *Runner) merge(ctx context.Context, runID uuid.UUID, input []*record.Record, logger *zap.Logger) (_ []*record.Record, _ dedup.Stats, err error) {
	ctx, span := r.tracer.Start(ctx, "dedup.merge")
	defer func() { endSpan(span, err) }()

	var emitter progress.Emitter
	var hub *progress.Hub
	if r.cfg.Progress.Enabled {
		hub = progress.NewHub(progress.Config{
			BufferSize:     r.cfg.Progress.BufferSize,
			MaxBatchEvents: r.cfg.Progress.MaxBatchEvents,
			MaxBatchWait:   r.cfg.Progress.MaxBatchWait(),
			Logger:         logger,
		}, sinks.NewLogSink(logger.Named("progress")), r.promSink)
		emitter = hub
	}
	observer := progress.NewGroupObserver(emitter, runID, r.cfg.Progress.Every)

	merger := dedup.NewMerger(dedup.Config{
		Key: dedup.KeyOptions{
			URLField:          r.cfg.Dedup.URLField,
			DescriptionFields: r.cfg.Dedup.DescriptionFields,
			PrefixLength:      r.cfg.Dedup.PrefixLength,
		},
		Workers:  r.cfg.Dedup.Workers,
		Observer: observer,
		Logger:   logger.Named("dedup"),
	})

	began := time.Now()
	observer.Start(len(input))
	output, stats, err := merger.Run(ctx, input)
	if err != nil {
		observer.Fail(err, time.Since(began))
	} else {
		observer.Done(len(output), time.Since(began))
	}
	if hub != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if closeErr := hub.Close(closeCtx); closeErr != nil {
			logger.Warn("progress hub close failed", zap.Error(closeErr))
		}
		cancel()
	}
	if err != nil {
		return nil, dedup.Stats{}, fmt.Errorf("deduplicate: %w", err)
	}
	return output, stats, nil
}

// write encodes every output before storing any of them so an encoding
// failure leaves no partial results behind.
func (r *Runner) write(ctx context.Context, runID uuid.UUID, output []*record.Record) (_ []report.Output, err error) {
	out := r.cfg.Output
	ctx, span := r.tracer.Start(ctx, "dedup.write", trace.WithAttributes(attribute.String("dedup.sink", out.Sink)))
	defer func() { endSpan(span, err) }()

	switch out.Sink {
	case config.SourceSQLite:
		store, err := sqlite.Open(out.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer store.Close() //nolint:errcheck // closed after commit
		if err := store.WriteTable(ctx, out.Table, output); err != nil {
			return nil, err
		}
		return []report.Output{{URI: "sqlite://" + out.SQLitePath + "#" + out.Table, Format: "sqlite"}}, nil
	case config.SourcePostgres:
		if err := r.postgres.WriteRecords(ctx, runID.String(), output); err != nil {
			return nil, err
		}
		return []report.Output{{URI: "postgres://" + out.Table + "/" + runID.String(), Format: "postgres"}}, nil
	}

	type encoded struct {
		uri    string
		format codec.Format
		data   []byte
		sum    string
	}
	pending := make([]encoded, 0, len(out.URIs))
	for _, uri := range out.URIs {
		format, err := codec.DetectFormat(uri)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		w := r.hasher.NewWriter(&buf)
		if err := codec.Encode(w, format, output); err != nil {
			return nil, fmt.Errorf("encode %s: %w", uri, err)
		}
		pending = append(pending, encoded{uri: uri, format: format, data: buf.Bytes(), sum: w.Sum()})
	}

	results := make([]report.Output, 0, len(pending))
	for _, p := range pending {
		stored, err := r.blobs.Put(ctx, p.uri, p.format.ContentType(), bytes.NewReader(p.data))
		if err != nil {
			return nil, err
		}
		r.logger.Info("saved records", zap.String("uri", stored), zap.String("format", string(p.format)))
		results = append(results, report.Output{URI: stored, Format: string(p.format), Bytes: int64(len(p.data)), SHA256: p.sum})
	}
	return results, nil
}

func (r *Runner) writeSummary(ctx context.Context, summary report.Summary) error {
	if r.cfg.Output.SummaryURI == "" {
		return nil
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	uri, err := r.blobs.Put(ctx, r.cfg.Output.SummaryURI, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	r.logger.Info("saved summary", zap.String("uri", uri))
	return nil
}

func (r *Runner) recordMetrics(input, output []*record.Record, summary report.Summary, logger *zap.Logger) {
	r.recorder.ObserveRun(metrics.Run{
		InputRecords:     summary.OriginalRecords,
		OutputRecords:    summary.DeduplicatedRecords,
		UniqueURLs:       summary.UniqueURLs,
		RatePercent:      summary.DeduplicationRatePercent,
		FinishedAt:       summary.FinishedAt,
		DuplicatesBySite: metrics.DuplicatesBySite(stringValues(input, r.cfg.Dedup.URLField), stringValues(output, r.cfg.Dedup.URLField)),
	})
	if path := r.cfg.Metrics.TextfilePath; path != "" {
		if err := r.recorder.WriteTextfile(path); err != nil {
			logger.Warn("metrics textfile not written", zap.Error(err))
		}
	}
}

// announce publishes the summary. Failures are logged; the records are
// already stored at this point.
func (r *Runner) announce(ctx context.Context, summary report.Summary, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	id, err := r.publisher.Publish(ctx, SummaryEvent, summary)
	if err != nil {
		logger.Warn("summary not published", zap.Error(err))
		return
	}
	logger.Info("summary published", zap.String("message_id", id))
}

func (r *Runner) logSample(output []*record.Record, logger *zap.Logger) {
	n := min(r.cfg.Dedup.SampleSize, len(output))
	for i := range n {
		fields := make([]zap.Field, 0, len(sampleFields)+1)
		fields = append(fields, zap.Int("index", i))
		for _, name := range sampleFields {
			if v, ok := output[i].Get(name); ok {
				fields = append(fields, zap.Any(name, v))
			}
		}
		logger.Info("sample record", fields...)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func stringValues(recs []*record.Record, field string) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Get(field); ok {
			if s, isString := v.(string); isString {
				out = append(out, s)
			}
		}
	}
	return out
}
