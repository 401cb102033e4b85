package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hearthos/wellbeingd/internal/domain"
)

const configFileName = "config.toml"

// Config is the on-disk daemon configuration: data locations, scan cadence,
// enforcement settings and the flagged-app list.
type Config struct {
	DataDir             string      `toml:"data_dir"`
	SocketPath          string      `toml:"socket_path"`
	PollIntervalSeconds int         `toml:"poll_interval_seconds"`
	Enforcement         Enforcement `toml:"enforcement"`
	Apps                []AppEntry  `toml:"apps"`
}

// Enforcement holds the user-facing enforcement settings.
type Enforcement struct {
	CountdownSeconds    int    `toml:"countdown_seconds"`
	ChallengeEnabled    bool   `toml:"challenge_enabled"`
	ChallengeDifficulty string `toml:"challenge_difficulty"`
}

// AppEntry is one flagged app in the config file.
type AppEntry struct {
	PackageID string   `toml:"package"`
	Label     string   `toml:"label"`
	Command   []string `toml:"command"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:             dataDir,
		SocketPath:          filepath.Join(dataDir, "wellbeingd.sock"),
		PollIntervalSeconds: 30,
		Enforcement: Enforcement{
			CountdownSeconds:    30,
			ChallengeEnabled:    true,
			ChallengeDifficulty: string(domain.DifficultyMedium),
		},
	}
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "wellbeingd")
	}
	return filepath.Join(home, ".wellbeingd")
}

// LoadConfig reads config.toml from the data directory, falling back to
// defaults if the file is missing.
func LoadConfig(dataDir string) (Config, error) {
	cfg := DefaultConfig(dataDir)
	path := filepath.Join(dataDir, configFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.DataDir, "wellbeingd.sock")
	}
	return cfg, nil
}

// PollInterval returns the scan cadence as a duration.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FileSettingsProvider implements domain.SettingsProvider by re-reading the
// config file on every snapshot, so mid-flight settings edits take effect on
// the next enforcement cycle.
type FileSettingsProvider struct {
	dataDir string
}

// NewFileSettingsProvider creates a provider rooted at the data directory.
func NewFileSettingsProvider(dataDir string) *FileSettingsProvider {
	return &FileSettingsProvider{dataDir: dataDir}
}

// Snapshot reads the current enforcement settings.
func (p *FileSettingsProvider) Snapshot() (domain.EnforcementSettings, error) {
	cfg, err := LoadConfig(p.dataDir)
	if err != nil {
		return domain.EnforcementSettings{}, err
	}
	settings := domain.EnforcementSettings{
		CountdownSeconds:    cfg.Enforcement.CountdownSeconds,
		ChallengeEnabled:    cfg.Enforcement.ChallengeEnabled,
		ChallengeDifficulty: domain.ChallengeDifficulty(cfg.Enforcement.ChallengeDifficulty),
	}
	if settings.CountdownSeconds < 0 {
		settings.CountdownSeconds = 0
	}
	switch settings.ChallengeDifficulty {
	case domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
	default:
		settings.ChallengeDifficulty = domain.DifficultyMedium
	}
	return settings, nil
}

// ConfigCatalog implements domain.AppCatalog over the config's app list.
type ConfigCatalog struct {
	apps map[string]domain.LimitedApp
}

// NewConfigCatalog builds a catalog from the loaded config.
func NewConfigCatalog(cfg Config) *ConfigCatalog {
	apps := make(map[string]domain.LimitedApp, len(cfg.Apps))
	for _, a := range cfg.Apps {
		apps[a.PackageID] = domain.LimitedApp{
			PackageID: a.PackageID,
			Label:     a.Label,
			Command:   a.Command,
		}
	}
	return &ConfigCatalog{apps: apps}
}

// Lookup returns the flagged-app entry, or nil if not on the list.
func (c *ConfigCatalog) Lookup(packageID string) *domain.LimitedApp {
	app, ok := c.apps[packageID]
	if !ok {
		return nil
	}
	return &app
}

var (
	_ domain.SettingsProvider = (*FileSettingsProvider)(nil)
	_ domain.AppCatalog       = (*ConfigCatalog)(nil)
)
