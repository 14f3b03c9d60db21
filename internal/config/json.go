package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mkalinina/stashkeep/internal/flagx"
)

// duration accepts JSON durations either as strings like "30s" or as integer
// nanoseconds.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	d.Duration = time.Duration(n)
	return nil
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent fields
// keep whatever value the Config already has.
type JsonConfig struct {
	LocalDBPath  *string `json:"local_db_path"`
	MediaDir     *string `json:"media_dir"`
	OwnerID      *string `json:"owner_id"`
	AccountToken *string `json:"account_token"`
	TokenSecret  *string `json:"token_secret"`

	DatabaseDSN   *string `json:"database_dsn"`
	S3Endpoint    *string `json:"s3_endpoint"`
	S3Region      *string `json:"s3_region"`
	S3AccessKey   *string `json:"s3_access_key"`
	S3SecretKey   *string `json:"s3_secret_key"`
	PublicBaseURL *string `json:"public_base_url"`

	SyncInterval      *duration `json:"sync_interval"`
	SyncPassTimeout   *duration `json:"sync_pass_timeout"`
	ReconcileInterval *duration `json:"reconcile_interval"`

	UploadWorkers      *int      `json:"upload_workers"`
	UploadMaxRetries   *int      `json:"upload_max_retries"`
	UploadPollInterval *duration `json:"upload_poll_interval"`
}

// parseJson overlays cfg with values from the file named by -c/-config.
// Missing flag means no JSON is loaded. Read or unmarshal errors panic;
// a broken config file should stop startup, not be silently ignored.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}
	if err := overlayJsonFile(cfg, path); err != nil {
		panic(err)
	}
}

func overlayJsonFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}

	setString(&cfg.LocalDBPath, jc.LocalDBPath)
	setString(&cfg.MediaDir, jc.MediaDir)
	setString(&cfg.OwnerID, jc.OwnerID)
	setString(&cfg.AccountToken, jc.AccountToken)
	setString(&cfg.TokenSecret, jc.TokenSecret)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.PublicBaseURL, jc.PublicBaseURL)

	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.SyncPassTimeout, jc.SyncPassTimeout)
	setDuration(&cfg.ReconcileInterval, jc.ReconcileInterval)
	setDuration(&cfg.UploadPollInterval, jc.UploadPollInterval)

	setInt(&cfg.UploadWorkers, jc.UploadWorkers)
	setInt(&cfg.UploadMaxRetries, jc.UploadMaxRetries)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = src.Duration
	}
}
