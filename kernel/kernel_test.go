package kernel

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbtaylor/gophertos/kthread"
)

func TestInitWiresSharedGateBetweenTableAndTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = zerolog.Disabled
	k := Init(cfg)
	require.NotNil(t, k.Gate)
	require.NotNil(t, k.Table)
	require.NotNil(t, k.Timer)
	assert.Same(t, k.Gate, k.Table.Gate)
	assert.True(t, k.DonationEnabled)
}

func TestStartInstallsMainAndIdleThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = zerolog.Disabled
	k := Init(cfg)
	main := k.Start("main", 31)
	require.NotNil(t, main)
	assert.Equal(t, kthread.Running, main.Status())
	assert.Equal(t, 2, len(k.Table.All())) // main + idle
}

func TestTickAdvancesTheSharedTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = zerolog.Disabled
	k := Init(cfg)
	k.Start("main", 31)
	k.Tick()
	k.Tick()
	assert.Equal(t, uint64(2), k.Timer.Ticks())
}

func TestMLFQSConfigDisablesDonation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = zerolog.Disabled
	cfg.MLFQS = true
	k := Init(cfg)
	assert.False(t, k.DonationEnabled)
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := ParseFlags("test", nil)
	require.NoError(t, err)
	assert.False(t, cfg.MLFQS)
	assert.Equal(t, 4096, cfg.MaxThreads)
	assert.Equal(t, 100, cfg.FrequencyHz)
}

func TestParseFlagsOverridesMLFQSAndFrequency(t *testing.T) {
	cfg, err := ParseFlags("test", []string{"--mlfqs", "--frequency-hz=60", "--log-level=debug"})
	require.NoError(t, err)
	assert.True(t, cfg.MLFQS)
	assert.Equal(t, 60, cfg.FrequencyHz)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestParseFlagsRejectsUnknownLogLevel(t *testing.T) {
	_, err := ParseFlags("test", []string{"--log-level=noisy"})
	assert.Error(t, err)
}
