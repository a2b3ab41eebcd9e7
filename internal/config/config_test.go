package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{LogLevel: "info"},
		Run:         RunConfig{SecurityType: "EquityOption", Market: "usa"},
		DataSource:  DataSourceConfig{ArchiveRoot: "/data/archive"},
		History:     HistoryConfig{Ladder: []string{"daily"}},
		Concurrency: ConcurrencyConfig{Multiplier: 1.5},
		Output:      OutputConfig{Root: "./out"},
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment:
  log_level: info
run:
  security_type: EquityOption
  market: usa
data_source:
  archive_root: /data/archive
history:
  ladder: [daily]
concurrency:
  multiplier: 1.5
output:
  root: ./out
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "usa", cfg.Run.Market)
	assert.Equal(t, "EquityOption", cfg.Run.SecurityType)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	require.Error(t, err)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("DERIVUNIVERSE_TEST_ROOT", "/env/archive")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment:
  log_level: info
run:
  security_type: Equity
  market: usa
data_source:
  archive_root: ${DERIVUNIVERSE_TEST_ROOT}
history:
  ladder: [daily]
output:
  root: ./out
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/archive", cfg.DataSource.ArchiveRoot)
}

func TestNormalize_FillsDefaults(t *testing.T) {
	c := &Config{DataSource: DataSourceConfig{ArchiveRoot: "/data"}}
	c.Normalize()
	assert.Equal(t, "info", c.Environment.LogLevel)
	assert.Equal(t, "usa", c.Run.Market)
	assert.Equal(t, "Equity", c.Run.SecurityType)
	assert.Equal(t, []string{"daily"}, c.History.Ladder)
	assert.Equal(t, defaultConcurrencyMultiplier, c.Concurrency.Multiplier)
	assert.Equal(t, defaultHistoryLookbackBars, c.History.LookbackBars)
	assert.Equal(t, time.Minute, c.History.CacheTTL)
}

func TestValidate_RejectsUnknownSecurityType(t *testing.T) {
	c := validConfig()
	c.Run.SecurityType = "Commodity"
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsMissingArchiveRoot(t *testing.T) {
	c := validConfig()
	c.DataSource.ArchiveRoot = ""
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsBadLadderEntry(t *testing.T) {
	c := validConfig()
	c.History.Ladder = []string{"weekly"}
	assert.Error(t, c.Validate())
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestProcessingDate_DefaultsToToday(t *testing.T) {
	t.Setenv("QC_DATAFLEET_DEPLOYMENT_DATE", "")
	d, err := ProcessingDate()
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format("20060102"), d.Format("20060102"))
}

func TestProcessingDate_FromEnv(t *testing.T) {
	t.Setenv("QC_DATAFLEET_DEPLOYMENT_DATE", "20260315")
	d, err := ProcessingDate()
	require.NoError(t, err)
	assert.Equal(t, "20260315", d.Format("20060102"))
}
