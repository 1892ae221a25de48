package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Sources: config.SourcesConfig{
			HikingProject: config.SourceConfig{Enabled: true, BaseURL: "http://hp.test", CredentialName: "HP_KEY"},
			OpenStreetMap: config.SourceConfig{Enabled: false, BaseURL: "http://osm.test"},
			Parks:         config.SourceConfig{Enabled: true, BaseURL: "http://parks.test", CredentialName: "PARKS_KEY"},
		},
		Fetch: config.FetchConfig{UserAgent: "test-agent"},
		Import: config.ImportDefaults{
			TrailsPerSource:     40,
			BatchSize:           8,
			MinQualityScore:     0.5,
			InterBatchDelay:     100 * time.Millisecond,
			InterSourceDelay:    200 * time.Millisecond,
			MaxRecordedFailures: 25,
		},
		Dedup: config.DedupConfig{BoxDelta: 0.002, Threshold: 0.9},
		Retry: config.RetryConfig{MaxAttempts: 4, BaseDelay: 2 * time.Second},
	}
}

func TestNewRegistry_OnlyEnabledSources(t *testing.T) {
	reg := NewRegistry(testConfig())

	assert.ElementsMatch(t, []types.SourceType{types.SourceHikingProject, types.SourceParks}, reg.Types())

	hp, ok := reg.Get(types.SourceHikingProject)
	require.True(t, ok)
	assert.Equal(t, "HP_KEY", hp.Credential())

	_, ok = reg.Get(types.SourceOpenStreetMap)
	assert.False(t, ok)
}

func TestOptions_MapsConfig(t *testing.T) {
	opts, err := Options(testConfig())
	require.NoError(t, err)

	assert.Equal(t, models.ImportDefaults{TrailsPerSource: 40, BatchSize: 8, MinQualityScore: 0.5}, opts.Defaults)
	assert.Equal(t, 100*time.Millisecond, opts.InterBatchDelay)
	assert.Equal(t, 200*time.Millisecond, opts.InterSourceDelay)
	assert.Equal(t, 25, opts.MaxRecordedFailures)
	assert.Equal(t, 0.002, opts.Dedup.BoxDelta)
	assert.Equal(t, 0.9, opts.Dedup.Threshold)
	assert.Equal(t, 4, opts.Insert.MaxAttempts)

	require.NotNil(t, opts.Insert.Backoff)
	assert.Equal(t, 2*time.Second, opts.Insert.Backoff(1))
	assert.Equal(t, 4*time.Second, opts.Insert.Backoff(2))

	assert.Equal(t, models.DefaultRegions(), opts.Regions)
}

func TestOptions_RegionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`regions:
  - name: Boulder
    lat: 40.01
    lng: -105.27
    radius_miles: 25
`), 0o600))

	cfg := testConfig()
	cfg.Fetch.RegionsFile = path

	opts, err := Options(cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.Region{{Name: "Boulder", Lat: 40.01, Lng: -105.27, RadiusMiles: 25}}, opts.Regions)
}

func TestOptions_BadRegionsFile(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.RegionsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Options(cfg)
	assert.Error(t, err)
}

func TestLoggerConfig(t *testing.T) {
	lc := LoggerConfig(config.LoggingConfig{Level: "debug", Format: "text", File: "/tmp/x.log", MaxSizeMB: 5, MaxBackups: 2, MaxAgeDays: 3, Compress: true})

	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatText, lc.Format)
	assert.Equal(t, "/tmp/x.log", lc.File)
	assert.Equal(t, 5, lc.MaxSizeMB)
	assert.True(t, lc.Compress)
}
