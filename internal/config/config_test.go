package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "run-sequence", cfg.Extraction.Subcommand)
	assert.Equal(t, 500, cfg.Extraction.SettleDelayMs)
	assert.Equal(t, "*.txt", cfg.Files.FileGlob)
	assert.True(t, cfg.Files.FilenameTimestampPrefix)
	assert.Equal(t, 2, cfg.Files.StableSizeCheckSecs)
	assert.Equal(t, "tsv", cfg.Transform.Format)
	assert.Equal(t, 6, cfg.Transform.HeaderRowsToSkip)
	assert.Equal(t, "Plant\tDelivery\tMaterial", cfg.Transform.HeaderMatch)
	assert.True(t, cfg.Transform.TrimWhitespace)
	assert.Equal(t, "crlf", cfg.Transform.OutputLineEnding)
	assert.Equal(t, ModeMultipart, cfg.API.Mode)
	assert.Equal(t, "file", cfg.API.FieldName)
	assert.Equal(t, "filename", cfg.API.JSONFilenameKey)
	assert.Equal(t, "data", cfg.API.JSONDataKey)
	assert.Equal(t, "none", cfg.API.Auth)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Retry.InitialBackoffSecs)
	assert.Equal(t, 30, cfg.Retry.MaxBackoffSecs)
	assert.Equal(t, 300, cfg.Loop.IntervalSeconds)
	assert.True(t, cfg.Archive.AppendTimestamp)
	assert.Equal(t, 100, cfg.Lookup.ChunkSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Monitoring.FailureThreshold)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	dir := chdirTemp(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yml := `
extraction:
  executable: /opt/extract/extract.exe
  args: ["--plant", "149"]
  env:
    SAP_CLIENT: "100"
files:
  output_dir: /data/out
  file_glob: "*_y_149-ALL.txt"
api:
  endpoint: https://intranet.local/upload.php
  mode: json_base64
  extra_fields:
    SourceSystem: sap
log:
  level: debug
  format: console
`
	path := filepath.Join(dir, "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/extract/extract.exe", cfg.Extraction.Executable)
	assert.Equal(t, []string{"--plant", "149"}, cfg.Extraction.Args)
	assert.Equal(t, map[string]string{"SAP_CLIENT": "100"}, cfg.Extraction.Env)
	assert.Equal(t, "/data/out", cfg.Files.OutputDir)
	assert.Equal(t, ModeJSONBase64, cfg.API.Mode)
	assert.Equal(t, map[string]string{"SourceSystem": "sap"}, cfg.API.ExtraFields)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadLegacyLoopConfig(t *testing.T) {
	dir := chdirTemp(t)

	yml := `
loop_config:
  interval_seconds: 60
  allow_nested: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Loop.IntervalSeconds)
	assert.True(t, cfg.Loop.AllowNested)
}

func TestLoadMisplacedLoopConfig(t *testing.T) {
	dir := chdirTemp(t)

	yml := `
extraction:
  executable: extract.exe
  loop_config:
    interval_seconds: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Loop.IntervalSeconds)
}

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[extraction]
executable = "C:/tools/extract.exe"
subcommand = "run-sequence"
args = ["--plant", "149"]

[extraction.env]
SAP_CLIENT = "100"

[files]
output_dir = "C:/exports"
file_glob = "*_y_149-ALL.txt"

[api]
endpoint = "https://ingest.example.com/upload"
mode = "json_base64"

[api.extra_fields]
PlantCode = "149"

[loop_config]
interval_seconds = 120
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "C:/tools/extract.exe", cfg.Extraction.Executable)
	assert.Equal(t, []string{"--plant", "149"}, cfg.Extraction.Args)
	assert.Equal(t, map[string]string{"SAP_CLIENT": "100"}, cfg.Extraction.Env)
	assert.Equal(t, map[string]string{"PlantCode": "149"}, cfg.API.ExtraFields)
	assert.Equal(t, ModeJSONBase64, cfg.API.Mode)
	assert.Equal(t, 120, cfg.Loop.IntervalSeconds)
	assert.Equal(t, 2, cfg.Files.StableSizeCheckSecs, "defaults still apply")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yml := `
api:
  endpoint: https://file.example/upload
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yml), 0o644))

	t.Setenv("EXTRACT_RUNNER_API_ENDPOINT", "https://env.example/upload")
	t.Setenv("EXTRACT_RUNNER_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://env.example/upload", cfg.API.Endpoint)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validConfig returns a Config that passes validation.
func validConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{Executable: "extract.exe", Subcommand: "run-sequence"},
		Files:      FilesConfig{OutputDir: "/data/out", FileGlob: "*.txt", StableSizeCheckSecs: 2},
		Transform:  TransformConfig{Format: "tsv", OutputLineEnding: "crlf", HeaderRowsToSkip: 6},
		API:        APIConfig{Endpoint: "http://localhost/upload", Mode: ModeMultipart, Auth: "none"},
		Retry:      RetryConfig{MaxAttempts: 3, InitialBackoffSecs: 3},
		Loop:       LoopConfig{IntervalSeconds: 300},
		Lookup:     LookupConfig{ChunkSize: 100},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction.executable is required")
	assert.Contains(t, err.Error(), "files.output_dir is required")
	assert.Contains(t, err.Error(), "transform.format must be 'tsv' or 'csv'")
	assert.Contains(t, err.Error(), "api.auth must be")
	assert.Contains(t, err.Error(), "retry.max_attempts must be > 0")
}

func TestValidate_EnumeratedOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad format", func(c *Config) { c.Transform.Format = "xlsx" }, "transform.format"},
		{"bad line ending", func(c *Config) { c.Transform.OutputLineEnding = "cr" }, "output_line_ending"},
		{"bad mode", func(c *Config) { c.API.Mode = "ftp" }, "api.mode"},
		{"bad auth", func(c *Config) { c.API.Auth = "digest" }, "api.auth"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"archive without path", func(c *Config) { c.Archive.Enabled = true }, "archive.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_NestedLoopGuard(t *testing.T) {
	cfg := validConfig()
	cfg.Extraction.Subcommand = "run-loop"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nest loops")

	cfg.Loop.AllowNested = true
	assert.NoError(t, cfg.Validate())

	cfg.Loop.AllowNested = false
	cfg.Loop.IntervalSeconds = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LookupEnrich(t *testing.T) {
	cfg := validConfig()
	cfg.API.Mode = ModeLookupEnrich
	cfg.API.Endpoint = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup.enabled must be true")
	assert.Contains(t, err.Error(), "lookup.url is required")
	assert.Contains(t, err.Error(), "lookup.post_url is required")
	assert.NotContains(t, err.Error(), "api.endpoint")

	cfg.Lookup.Enabled = true
	cfg.Lookup.URL = "http://lookup/parts?p="
	cfg.Lookup.PostURL = "http://lookup/save"
	assert.NoError(t, cfg.Validate())

	cfg.Lookup.ChunkSize = 0
	assert.ErrorContains(t, cfg.Validate(), "lookup.chunk_size")
}

func TestRender_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.API.Auth = "basic"
	cfg.API.BasicUsername = "svc"
	cfg.API.BasicPassword = "hunter2"
	cfg.API.BearerToken = "tok"
	cfg.Lookup.Cookie = "PHPSESSID=abc"

	out, err := Render(cfg)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "basic_username: svc")
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "PHPSESSID")
	assert.Contains(t, s, "********")
	// Render must not mutate the source config.
	assert.Equal(t, "hunter2", cfg.API.BasicPassword)
}
