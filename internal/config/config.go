// Package config loads and validates deduplication job configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/codec"
)

// Record sources and sinks.
const (
	SourceBlob     = "blob"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config captures all job configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Input    InputConfig    `mapstructure:"input"`
	Output   OutputConfig   `mapstructure:"output"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// InputConfig locates the source record set.
// For blob sources URI is a file path, file://, gs:// or memory:// location;
// for sqlite it is the database path. Table names the sqlite or postgres table.
// SchemaURI optionally points at a JSON Schema every record must satisfy.
// For postgres, OrderBy names the column that fixes row order, and RunID
// reads back a run earlier written to output.table instead of Table.
type InputConfig struct {
	Source    string `mapstructure:"source"`
	URI       string `mapstructure:"uri"`
	Format    string `mapstructure:"format"`
	Table     string `mapstructure:"table"`
	OrderBy   string `mapstructure:"order_by"`
	RunID     string `mapstructure:"run_id"`
	SchemaURI string `mapstructure:"schema_uri"`
}

// OutputConfig locates where deduplicated records and the summary go.
// Each blob URI is encoded in the format implied by its extension.
type OutputConfig struct {
	Sink       string   `mapstructure:"sink"`
	URIs       []string `mapstructure:"uris"`
	Table      string   `mapstructure:"table"`
	SQLitePath string   `mapstructure:"sqlite_path"`
	SummaryURI string   `mapstructure:"summary_uri"`
}

// DedupConfig governs key derivation and merge parallelism.
type DedupConfig struct {
	URLField          string   `mapstructure:"url_field"`
	DescriptionFields []string `mapstructure:"description_fields"`
	PrefixLength      int      `mapstructure:"prefix_length"`
	Workers           int      `mapstructure:"workers"`
	SampleSize        int      `mapstructure:"sample_size"`
}

// ProgressConfig controls progress event emission.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Every          int  `mapstructure:"every"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// MaxBatchWait converts the millisecond setting into a duration.
func (p ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(p.MaxBatchWaitMs) * time.Millisecond
}

// MetricsConfig controls the node-exporter textfile written after each run.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// ProfileConfig controls the dataset overview.
type ProfileConfig struct {
	SampleRows int    `mapstructure:"sample_rows"`
	SampleCSV  string `mapstructure:"sample_csv"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RedisConfig selects a Redis stream for summaries. It takes precedence over
// Pub/Sub when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig tunes the Cloud Storage client, mainly for emulators.
type GCSConfig struct {
	Endpoint              string `mapstructure:"endpoint"`
	WithoutAuthentication bool   `mapstructure:"without_authentication"`
}

// TracingConfig controls OpenTelemetry span recording.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("input.source", SourceBlob)
	v.SetDefault("input.uri", "products.jsonl")
	v.SetDefault("input.format", "")
	v.SetDefault("input.table", "products")
	v.SetDefault("input.order_by", "")
	v.SetDefault("input.run_id", "")
	v.SetDefault("input.schema_uri", "")
	v.SetDefault("output.sink", SourceBlob)
	v.SetDefault("output.uris", []string{"deduplicated_products.jsonl", "deduplicated_products.csv"})
	v.SetDefault("output.table", "deduplicated_products")
	v.SetDefault("output.sqlite_path", "")
	v.SetDefault("output.summary_uri", "deduplication_summary.json")
	v.SetDefault("dedup.url_field", "page_url")
	v.SetDefault("dedup.description_fields", []string{"product_summary", "description", "product_title", "product_name"})
	v.SetDefault("dedup.prefix_length", 20)
	v.SetDefault("dedup.workers", 1)
	v.SetDefault("dedup.sample_size", 5)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.every", 500)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("profile.sample_rows", 20)
	v.SetDefault("profile.sample_csv", "sample_products.csv")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("gcs.endpoint", "")
	v.SetDefault("gcs.without_authentication", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "dedup-summaries")
	v.SetDefault("redis.max_len", 1000)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "productdedup")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Input.Source {
	case SourceBlob:
		if strings.TrimSpace(c.Input.URI) == "" {
			return fmt.Errorf("input.uri is required")
		}
		if c.Input.Format != "" {
			if _, err := codec.ParseFormat(c.Input.Format); err != nil {
				return fmt.Errorf("input.format: %w", err)
			}
		}
	case SourceSQLite:
		if strings.TrimSpace(c.Input.URI) == "" || c.Input.Table == "" {
			return fmt.Errorf("input.uri and input.table are required for sqlite input")
		}
	case SourcePostgres:
		if c.Input.Table == "" && c.Input.RunID == "" {
			return fmt.Errorf("input.table or input.run_id is required for postgres input")
		}
		if c.Input.OrderBy != "" && !identifier.MatchString(c.Input.OrderBy) {
			return fmt.Errorf("input.order_by %q is not a column name", c.Input.OrderBy)
		}
	default:
		return fmt.Errorf("input.source must be one of blob, sqlite, postgres; got %q", c.Input.Source)
	}

	switch c.Output.Sink {
	case SourceBlob:
		if len(c.Output.URIs) == 0 {
			return fmt.Errorf("output.uris must list at least one location")
		}
		for _, uri := range c.Output.URIs {
			if _, err := codec.DetectFormat(uri); err != nil {
				return fmt.Errorf("output.uris: %w", err)
			}
		}
	case SourceSQLite:
		if c.Output.SQLitePath == "" || c.Output.Table == "" {
			return fmt.Errorf("output.sqlite_path and output.table are required for sqlite output")
		}
	case SourcePostgres:
		if c.Output.Table == "" {
			return fmt.Errorf("output.table is required for postgres output")
		}
	default:
		return fmt.Errorf("output.sink must be one of blob, sqlite, postgres; got %q", c.Output.Sink)
	}

	if c.Input.Source != SourcePostgres && (c.Input.OrderBy != "" || c.Input.RunID != "") {
		return fmt.Errorf("input.order_by and input.run_id apply only to postgres input")
	}
	if (c.Input.Source == SourcePostgres || c.Output.Sink == SourcePostgres) && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is used")
	}
	if c.Dedup.URLField == "" {
		return fmt.Errorf("dedup.url_field is required")
	}
	if c.Dedup.PrefixLength <= 0 {
		return fmt.Errorf("dedup.prefix_length must be > 0")
	}
	if c.Dedup.Workers < 0 {
		return fmt.Errorf("dedup.workers must be >= 0")
	}
	if c.Progress.Enabled && c.Progress.Every <= 0 {
		return fmt.Errorf("progress.every must be > 0 when progress is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Redis.Addr != "" && c.Redis.Stream == "" {
		return fmt.Errorf("redis.stream must be set when redis.addr is set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}
