package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRanges(t *testing.T) {
	t.Run("ordered ranges", func(t *testing.T) {
		ranges, err := ParseRanges("3-9,1-2")
		require.NoError(t, err)
		require.Len(t, ranges, 2)
		assert.Equal(t, SlotRange{Start: 3, End: 9}, ranges[0])
		assert.Equal(t, SlotRange{Start: 1, End: 2}, ranges[1])
	})

	t.Run("single slot is a one-slot range", func(t *testing.T) {
		ranges, err := ParseRanges("7")
		require.NoError(t, err)
		require.Len(t, ranges, 1)
		assert.Equal(t, SlotRange{Start: 7, End: 7}, ranges[0])
	})

	t.Run("whitespace and empty parts are tolerated", func(t *testing.T) {
		ranges, err := ParseRanges(" 1-2 , , 5 - 9 ")
		require.NoError(t, err)
		require.Len(t, ranges, 2)
		assert.Equal(t, SlotRange{Start: 5, End: 9}, ranges[1])
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		_, err := ParseRanges("9-3")
		assert.Error(t, err)
	})

	t.Run("non-numeric is rejected", func(t *testing.T) {
		_, err := ParseRanges("a-b")
		assert.Error(t, err)
	})
}

func TestSlotRange_Contains(t *testing.T) {
	r := SlotRange{Start: 3, End: 9}
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(9))
	assert.False(t, r.Contains(2))
	assert.False(t, r.Contains(10))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Minute, cfg.TempBlockDuration)
	assert.Equal(t, time.Hour, cfg.ExhaustionCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 0, cfg.ResetHourUTC)
	assert.True(t, cfg.EnableMaintenance)
	// An unset JWT secret is replaced with a random one long enough to sign
	assert.GreaterOrEqual(t, len(cfg.JWTSecret), 32)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FAILURE_THRESHOLD", "5")
	t.Setenv("TEMP_BLOCK_SECONDS", "60")
	t.Setenv("PRIORITY_RANGES", "10-19,1-9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.TempBlockDuration)
	require.Len(t, cfg.PriorityRanges, 2)
	assert.Equal(t, SlotRange{Start: 10, End: 19}, cfg.PriorityRanges[0])
}

func TestLoad_InvalidRangesRejected(t *testing.T) {
	t.Setenv("PRIORITY_RANGES", "oops")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credpool.yaml")
	content := []byte(`
priority_ranges:
  - start: 3
    end: 9
  - start: 1
    end: 2
failure_threshold: 4
temp_block_seconds: 900
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CREDPOOL_CONFIG_FILE", path)
	t.Setenv("FAILURE_THRESHOLD", "7")

	cfg, err := Load()
	require.NoError(t, err)

	// The file wins over the env for the options it sets
	assert.Equal(t, 4, cfg.FailureThreshold)
	assert.Equal(t, 15*time.Minute, cfg.TempBlockDuration)
	require.Len(t, cfg.PriorityRanges, 2)
	assert.Equal(t, SlotRange{Start: 3, End: 9}, cfg.PriorityRanges[0])
	// Options the file leaves out keep their env/default values
	assert.Equal(t, time.Hour, cfg.ExhaustionCacheTTL)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("CREDPOOL_CONFIG_FILE", "/nonexistent/credpool.yaml")

	_, err := Load()
	assert.Error(t, err)
}
