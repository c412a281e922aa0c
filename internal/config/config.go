package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read from the working directory when no --config is given.
const DefaultConfigFile = "config.yaml"

// Upload modes accepted by api.mode.
const (
	ModeMultipart    = "multipart"
	ModeJSONBase64   = "json_base64"
	ModeLookupEnrich = "lookup_enrich"
)

// Config holds the full application configuration.
type Config struct {
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Files      FilesConfig      `yaml:"files" mapstructure:"files"`
	Transform  TransformConfig  `yaml:"transform" mapstructure:"transform"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Loop       LoopConfig       `yaml:"loop" mapstructure:"loop"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Lookup     LookupConfig     `yaml:"lookup" mapstructure:"lookup"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ExtractionConfig describes the external extractor invocation.
type ExtractionConfig struct {
	Executable    string            `yaml:"executable" mapstructure:"executable"`
	Subcommand    string            `yaml:"subcommand" mapstructure:"subcommand"`
	Args          []string          `yaml:"args" mapstructure:"args"`
	Env           map[string]string `yaml:"env" mapstructure:"env"`
	SettleDelayMs int               `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
}

// SettleDelay is the pause between extractor exit and file discovery.
func (c ExtractionConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// FilesConfig configures newest-file discovery and the stability gate.
type FilesConfig struct {
	OutputDir               string `yaml:"output_dir" mapstructure:"output_dir"`
	FileGlob                string `yaml:"file_glob" mapstructure:"file_glob"`
	FilenameTimestampPrefix bool   `yaml:"filename_timestamp_prefix" mapstructure:"filename_timestamp_prefix"`
	StableSizeCheckSecs     int    `yaml:"stable_size_check_secs" mapstructure:"stable_size_check_secs"`
}

// TransformConfig configures the report reshaper.
type TransformConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Format           string `yaml:"format" mapstructure:"format"`
	HeaderRowsToSkip int    `yaml:"header_rows_to_skip" mapstructure:"header_rows_to_skip"`
	HeaderMatch      string `yaml:"header_match" mapstructure:"header_match"`
	DedupeRows       bool   `yaml:"dedupe_rows" mapstructure:"dedupe_rows"`
	TrimWhitespace   bool   `yaml:"trim_whitespace" mapstructure:"trim_whitespace"`
	OutputLineEnding string `yaml:"output_line_ending" mapstructure:"output_line_ending"`
}

// APIConfig configures the upload endpoint.
type APIConfig struct {
	Endpoint        string            `yaml:"endpoint" mapstructure:"endpoint"`
	Mode            string            `yaml:"mode" mapstructure:"mode"`
	FieldName       string            `yaml:"field_name" mapstructure:"field_name"`
	ExtraFields     map[string]string `yaml:"extra_fields" mapstructure:"extra_fields"`
	JSONFilenameKey string            `yaml:"json_filename_key" mapstructure:"json_filename_key"`
	JSONDataKey     string            `yaml:"json_data_key" mapstructure:"json_data_key"`
	Auth            string            `yaml:"auth" mapstructure:"auth"`
	BearerToken     string            `yaml:"bearer_token" mapstructure:"bearer_token"`
	BasicUsername   string            `yaml:"basic_username" mapstructure:"basic_username"`
	BasicPassword   string            `yaml:"basic_password" mapstructure:"basic_password"`
	TimeoutSecs     int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig configures upload retry. CircuitThreshold of 0 disables the
// cross-cycle circuit breaker.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs int `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     int `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	CircuitThreshold   int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
}

// LoopConfig configures repeated runs. An interval of 0 means run once.
type LoopConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds" mapstructure:"interval_seconds"`
	AllowNested     bool `yaml:"allow_nested" mapstructure:"allow_nested"`
}

// Interval returns the loop interval as a duration.
func (c LoopConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ArchiveConfig configures post-upload archival of the source file.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	AppendTimestamp bool   `yaml:"append_timestamp" mapstructure:"append_timestamp"`
}

// LookupConfig configures the part-number enrichment service.
type LookupConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	URL         string  `yaml:"url" mapstructure:"url"`
	PostURL     string  `yaml:"post_url" mapstructure:"post_url"`
	ChunkSize   int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	Cookie      string  `yaml:"cookie" mapstructure:"cookie"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures metrics and failure alerts for loop mode.
type MonitoringConfig struct {
	MetricsAddr      string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// Load reads configuration from file and environment. An empty path reads
// DefaultConfigFile if it exists; an explicit path must exist. Files ending in
// .toml are read as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	v.SetConfigType(fileFormat(path))

	v.SetEnvPrefix("EXTRACT_RUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		default:
			return nil, eris.Wrapf(err, "config: read file %s", path)
		}
	}

	mapLegacyLoop(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := restoreMapKeys(v.ConfigFileUsed(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fileFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extraction.executable", "")
	v.SetDefault("extraction.subcommand", "run-sequence")
	v.SetDefault("extraction.settle_delay_ms", 500)
	v.SetDefault("files.output_dir", "")
	v.SetDefault("files.file_glob", "*.txt")
	v.SetDefault("files.filename_timestamp_prefix", true)
	v.SetDefault("files.stable_size_check_secs", 2)
	v.SetDefault("transform.enabled", false)
	v.SetDefault("transform.format", "tsv")
	v.SetDefault("transform.header_rows_to_skip", 6)
	v.SetDefault("transform.header_match", "Plant\tDelivery\tMaterial")
	v.SetDefault("transform.dedupe_rows", false)
	v.SetDefault("transform.trim_whitespace", true)
	v.SetDefault("transform.output_line_ending", "crlf")
	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.mode", ModeMultipart)
	v.SetDefault("api.field_name", "file")
	v.SetDefault("api.json_filename_key", "filename")
	v.SetDefault("api.json_data_key", "data")
	v.SetDefault("api.auth", "none")
	v.SetDefault("api.bearer_token", "")
	v.SetDefault("api.basic_username", "")
	v.SetDefault("api.basic_password", "")
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_secs", 3)
	v.SetDefault("retry.max_backoff_secs", 30)
	v.SetDefault("retry.circuit_threshold", 0)
	v.SetDefault("loop.interval_seconds", 300)
	v.SetDefault("loop.allow_nested", false)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.append_timestamp", true)
	v.SetDefault("lookup.enabled", false)
	v.SetDefault("lookup.url", "")
	v.SetDefault("lookup.post_url", "")
	v.SetDefault("lookup.chunk_size", 100)
	v.SetDefault("lookup.cookie", "")
	v.SetDefault("lookup.timeout_secs", 30)
	v.SetDefault("lookup.rate_per_sec", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.metrics_addr", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_threshold", 3)
}

// mapLegacyLoop accepts the older loop_config table, either at the root or
// misplaced under extraction, as an alias for loop.
func mapLegacyLoop(v *viper.Viper) {
	for _, key := range []string{"loop_config", "extraction.loop_config"} {
		if !v.IsSet(key) {
			continue
		}
		for k, val := range v.GetStringMap(key) {
			v.Set("loop."+k, val)
		}
	}
}

// restoreMapKeys re-reads the free-form maps from the raw file because viper
// lower-cases map keys, and environment variable names and form field names
// are case-sensitive.
func restoreMapKeys(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "config: read file %s", path)
	}

	var raw struct {
		Extraction struct {
			Env map[string]string `yaml:"env" toml:"env"`
		} `yaml:"extraction" toml:"extraction"`
		API struct {
			ExtraFields map[string]string `yaml:"extra_fields" toml:"extra_fields"`
		} `yaml:"api" toml:"api"`
	}
	if fileFormat(path) == "toml" {
		if err := toml.Unmarshal(data, &raw); err != nil {
			return eris.Wrap(err, "config: parse toml maps")
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "config: parse yaml maps")
	}

	if raw.Extraction.Env != nil {
		cfg.Extraction.Env = raw.Extraction.Env
	}
	if raw.API.ExtraFields != nil {
		cfg.API.ExtraFields = raw.API.ExtraFields
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Extraction.Executable == "" {
		errs = append(errs, "extraction.executable is required")
	}
	if c.Extraction.Subcommand == "" {
		errs = append(errs, "extraction.subcommand is required")
	}
	if c.Files.OutputDir == "" {
		errs = append(errs, "files.output_dir is required")
	}
	if c.Files.FileGlob == "" {
		errs = append(errs, "files.file_glob is required")
	}
	if c.Files.StableSizeCheckSecs < 0 {
		errs = append(errs, "files.stable_size_check_secs must be >= 0")
	}

	if c.Transform.Format != "tsv" && c.Transform.Format != "csv" {
		errs = append(errs, "transform.format must be 'tsv' or 'csv'")
	}
	if c.Transform.OutputLineEnding != "crlf" && c.Transform.OutputLineEnding != "lf" {
		errs = append(errs, "transform.output_line_ending must be 'crlf' or 'lf'")
	}
	if c.Transform.HeaderRowsToSkip < 0 {
		errs = append(errs, "transform.header_rows_to_skip must be >= 0")
	}

	if c.API.Endpoint == "" && c.API.Mode != ModeLookupEnrich {
		errs = append(errs, "api.endpoint is required")
	}
	switch c.API.Mode {
	case ModeMultipart, ModeJSONBase64, ModeLookupEnrich:
	default:
		errs = append(errs, "api.mode must be 'multipart', 'json_base64', or 'lookup_enrich'")
	}
	switch c.API.Auth {
	case "none", "bearer", "basic":
	default:
		errs = append(errs, "api.auth must be 'none', 'bearer', or 'basic'")
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}
	if c.Retry.CircuitThreshold < 0 {
		errs = append(errs, "retry.circuit_threshold must be >= 0")
	}

	if c.Loop.IntervalSeconds < 0 {
		errs = append(errs, "loop.interval_seconds must be >= 0")
	}
	if c.Extraction.Subcommand == "run-loop" && c.Loop.IntervalSeconds > 0 && !c.Loop.AllowNested {
		errs = append(errs, "extraction.subcommand is 'run-loop' and loop.interval_seconds > 0 but loop.allow_nested is false; this would nest loops")
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		errs = append(errs, "archive.path is required when archive is enabled")
	}

	if c.Lookup.Enabled || c.API.Mode == ModeLookupEnrich {
		if !c.Lookup.Enabled {
			errs = append(errs, "lookup.enabled must be true when api.mode is 'lookup_enrich'")
		}
		if c.Lookup.URL == "" {
			errs = append(errs, "lookup.url is required")
		}
		if c.Lookup.PostURL == "" {
			errs = append(errs, "lookup.post_url is required")
		}
		if c.Lookup.ChunkSize <= 0 {
			errs = append(errs, "lookup.chunk_size must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Render returns the configuration as YAML with credentials masked.
func Render(c *Config) ([]byte, error) {
	masked := *c
	masked.API.BearerToken = mask(c.API.BearerToken)
	masked.API.BasicPassword = mask(c.API.BasicPassword)
	masked.Lookup.Cookie = mask(c.Lookup.Cookie)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "config: render yaml")
	}
	return out, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
