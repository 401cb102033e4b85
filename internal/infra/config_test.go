package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthos/wellbeingd/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "wellbeingd.sock"), cfg.SocketPath)
	assert.Equal(t, 30, cfg.Enforcement.CountdownSeconds)
	assert.True(t, cfg.Enforcement.ChallengeEnabled)
}

func TestLoadConfig_ParsesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
poll_interval_seconds = 10

[enforcement]
countdown_seconds = 5
challenge_enabled = false
challenge_difficulty = "hard"

[[apps]]
package = "com.social.feed"
label = "Feed"
command = ["/usr/bin/feed"]
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Enforcement.CountdownSeconds)
	assert.False(t, cfg.Enforcement.ChallengeEnabled)
	require.Len(t, cfg.Apps, 1)
	assert.Equal(t, "Feed", cfg.Apps[0].Label)
}

func TestLoadConfig_BadTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "countdown = [not toml")
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestFileSettingsProvider_SnapshotValidates(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[enforcement]
countdown_seconds = -3
challenge_enabled = true
challenge_difficulty = "brutal"
`)

	settings, err := NewFileSettingsProvider(dir).Snapshot()
	require.NoError(t, err)

	// Negative countdown clamps to "skip the countdown phase"; an unknown
	// difficulty falls back to medium.
	assert.Equal(t, 0, settings.CountdownSeconds)
	assert.Equal(t, domain.DifficultyMedium, settings.ChallengeDifficulty)
}

func TestFileSettingsProvider_PicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileSettingsProvider(dir)

	settings, err := provider.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 30, settings.CountdownSeconds)

	writeConfig(t, dir, "[enforcement]\ncountdown_seconds = 7\n")
	settings, err = provider.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 7, settings.CountdownSeconds)
}

func TestConfigCatalog_Lookup(t *testing.T) {
	catalog := NewConfigCatalog(Config{Apps: []AppEntry{
		{PackageID: "com.social.feed", Label: "Feed", Command: []string{"/usr/bin/feed"}},
	}})

	app := catalog.Lookup("com.social.feed")
	require.NotNil(t, app)
	assert.Equal(t, "Feed", app.Label)

	assert.Nil(t, catalog.Lookup("com.unknown"))
}
