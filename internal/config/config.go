// Package config assembles runtime settings for the sync core. Values come
// from defaults, then an optional JSON file (-c/-config), then command-line
// flags, with later sources winning.
package config

import "time"

// Config holds runtime settings for one workspace.
type Config struct {
	// LocalDBPath is the sqlite cache file.
	LocalDBPath string
	// MediaDir holds locally captured photos awaiting upload.
	MediaDir string

	// OwnerID identifies the account when no token is supplied.
	OwnerID string
	// AccountToken is the signed account token; empty means local-only.
	AccountToken string
	// TokenSecret verifies AccountToken signatures.
	TokenSecret string

	// Remote backend credentials. All empty is the normal free-tier state.
	DatabaseDSN   string
	S3Endpoint    string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	PublicBaseURL string

	SyncInterval      time.Duration
	SyncPassTimeout   time.Duration
	ReconcileInterval time.Duration

	UploadWorkers      int
	UploadMaxRetries   int
	UploadPollInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalDBPath = "stashkeep.db"
	c.MediaDir = "media"
	c.OwnerID = "local"
	c.S3Region = "us-east-1"
	c.SyncInterval = 30 * time.Second
	c.SyncPassTimeout = 20 * time.Second
	c.ReconcileInterval = 5 * time.Minute
	c.UploadWorkers = 3
	c.UploadMaxRetries = 5
	c.UploadPollInterval = 10 * time.Second
}

// Load constructs a Config, applies defaults, then overlays values from JSON
// (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func Load() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
