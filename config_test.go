package kvlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate_RejectsOutOfRangeFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"NegativeStaticIntervalDays", Config{StaticIntervalDays: -1}},
		{"ChancesBelowZero", Config{ChancesOfAutoCleanup: -0.1}},
		{"ChancesAboveOne", Config{ChancesOfAutoCleanup: 1.1}},
		{"NegativeMinValueLength", Config{MinValueLengthForCompression: -1}},
		{"NegativeInsertionCount", Config{InsertionCountBeforeAutoClean: -1}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, testCase.cfg.Validate(), ErrInvalidArgument)
		})
	}
}

func TestConfig_StaticIntervalSeconds(t *testing.T) {
	t.Parallel()

	cfg := Config{StaticIntervalDays: 2}
	assert.Equal(t, int64(2*86400), cfg.StaticIntervalSeconds())
}

func TestLoadConfigFile_OverlaysDefaultsAndTolerantsComments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	contents := `{
		// overrides the default partition and the cleanup chance only
		"DefaultPartition": "tenant-a",
		"ChancesOfAutoCleanup": 0.5,
	}`

	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", cfg.DefaultPartition)
	assert.InDelta(t, 0.5, cfg.ChancesOfAutoCleanup, 0.0001)
	assert.Equal(t, DefaultConfig().StaticIntervalDays, cfg.StaticIntervalDays, "unset fields keep the default overlay")
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"NotARealField": 1}`), 0o600))

	_, err := LoadConfigFile(path)
	require.Error(t, err)
}

func TestLoadConfigFile_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"ChancesOfAutoCleanup": 5}`), 0o600))

	_, err := LoadConfigFile(path)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadConfigYAML_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	contents := "defaultpartition: tenant-b\nstaticintervaldays: 7\n"

	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfigYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "tenant-b", cfg.DefaultPartition)
	assert.Equal(t, 7, cfg.StaticIntervalDays)
}
