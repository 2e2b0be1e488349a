package geolocation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"quick", func(c *Config) { *c = QuickConfig() }, ""},
		{"zero threshold", func(c *Config) { c.AccuracyThreshold = 0 }, "accuracy threshold"},
		{"excellent above threshold", func(c *Config) { c.ExcellentAccuracy = 150 }, "excellent accuracy"},
		{"negative warm-up", func(c *Config) { c.WarmupSamples = -1 }, "warmup"},
		{"window smaller than minimum", func(c *Config) { c.WindowSize = 2 }, "window size"},
		{"soft after hard", func(c *Config) { c.SoftAcceptDeadline = time.Minute }, "soft accept"},
		{"no hard deadline", func(c *Config) { c.HardDeadline = 0 }, "hard deadline"},
	}

	for _, testCase := range testCases {
		cfg := DefaultConfig()
		testCase.mutate(&cfg)
		err := cfg.Validate()
		if testCase.errMsg == "" {
			assert.NoError(t, err, testCase.name)
			continue
		}
		if assert.Error(t, err, testCase.name) {
			assert.Contains(t, err.Error(), testCase.errMsg, testCase.name)
		}
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := strings.Join([]string{
		"quick:",
		"  hard_deadline: 10s",
		"  soft_accept_deadline: 8s",
		"survey:",
		"  warmup_samples: 5",
		"  window_size: 8",
		"  min_window: 5",
		"  excellent_accuracy: 5",
		"  accuracy_threshold: 30",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{ProfilePrecise, ProfileQuick, "survey"}, profiles.Names())

	quick, err := profiles.Get(ProfileQuick)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, quick.HardDeadline)
	assert.Equal(t, 0, quick.WarmupSamples)
	assert.Equal(t, 15.0, quick.ExcellentAccuracy)

	survey, err := profiles.Get("survey")
	require.NoError(t, err)
	assert.Equal(t, 8, survey.WindowSize)
	assert.Equal(t, 30*time.Second, survey.HardDeadline)

	_, err = profiles.Get("missing")
	assert.Error(t, err)
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("precise:\n  min_window: 9\n"), 0o600))
	_, err := LoadProfiles(path)
	assert.Error(t, err)

	profiles, err := LoadProfiles("")
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}
