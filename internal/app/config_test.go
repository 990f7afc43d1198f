package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateFillsDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())

	def := DefaultConfig()
	assert.Equal(t, def.ModCod, cfg.ModCod)
	assert.Equal(t, 4, cfg.OSF)
	assert.Equal(t, []string{"lr", "pf"}, cfg.FineKinds)
	assert.Equal(t, 150, cfg.LearnFrames1)
	assert.Equal(t, 150, cfg.LearnFrames2)
	assert.Equal(t, 200, cfg.LearnFrames3)
	assert.Equal(t, 1e-4, cfg.CoarseBandwidth1)
	assert.Equal(t, 5e-5, cfg.CoarseBandwidth2)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryInterval)
	assert.Zero(t, cfg.Frames)
}

func TestConfigValidateKeepsOverrides(t *testing.T) {
	cfg := Config{ModCod: "8psk-s_3/5", LearnFrames1: 3, FineKinds: []string{"pf"}, Frames: 9}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8psk-s_3/5", cfg.ModCod)
	assert.Equal(t, 3, cfg.LearnFrames1)
	assert.Equal(t, []string{"pf"}, cfg.FineKinds)
	assert.Equal(t, 9, cfg.Frames)
}

func TestConfigValidateRejects(t *testing.T) {
	bad := []Config{
		{ModCod: "BPSK-X"},
		{Rolloff: 1.5},
		{FilterSpan: -1},
		{CoarseBandwidth1: -1e-4},
		{WaitFrames: -1},
		{MaxAcquireAttempts: -2},
		{LearnFrames3: -1},
		{Frames: -1},
		{LockSER: 0.2, DropSER: 0.1},
		{InitRetries: -1},
		{RetryInterval: -time.Second},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, c)
		}
	}
}

func TestTransmitterConfigValidate(t *testing.T) {
	var cfg TransmitterConfig
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.OSF)
	assert.Equal(t, 0.2, cfg.Rolloff)
	assert.Equal(t, 12, cfg.FilterSpan)

	for i, c := range []TransmitterConfig{
		{OSF: -1},
		{Rolloff: 2},
		{FilterSpan: -3},
		{Frames: -1},
		{ModCod: "nope"},
	} {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, c)
		}
	}
}
