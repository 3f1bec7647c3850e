package ingest

import "time"

// Config contains configuration options that allow
// customization of how the publisher detects files to auto-submit.
type Config struct {
	Enabled bool `yaml:"enabled" env:"INGEST_ENABLED" env-default:"false"`

	// The ingest service uses a directory watcher, but a
	// 'force' sync is performed on a regular interval
	// to protect against the watcher failing.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"INGEST_FORCE_SYNC_SECONDS" env-default:"300" validate:"gte=1"`

	// The path to the directory the service should monitor
	// for new videos
	IngestPath string `yaml:"path" env:"INGEST_PATH" env-default:"./ingest"`

	// An array of regular expressions that can be used to RESTRICT
	// the files processed by this service. If any expression matches
	// the name of the file, it is ignored.
	Blacklist []string `yaml:"blacklist" env:"INGEST_BLACKLIST" env-separator:","`

	// File extensions (including the leading '.') which are considered
	// videos. Files with any other extension are ignored.
	Extensions []string `yaml:"extensions" env:"INGEST_EXTENSIONS" env-separator:"," env-default:".mp4,.mov,.mkv,.m4v,.webm,.avi"`

	// When a new file is detected, it's likely to be an in-progress
	// copy from external software. As we cannot KNOW when the
	// copy is complete, we instead wait for the 'modtime' of
	// the item to be at least this long in the past before processing
	RequiredModTimeAgeSeconds int `yaml:"required_modtime_age_seconds" env:"INGEST_MODTIME_AGE_SECONDS" env-default:"120" validate:"gte=0"`

	// Controls the number of workers that submit ingested files
	IngestionParallelism int `yaml:"parallelism" env:"INGEST_PARALLELISM" env-default:"1" validate:"gte=1"`

	// Transport and account used for jobs submitted from the drop folder.
	// Empty values defer to the job services defaults.
	Transport string `yaml:"transport" env:"INGEST_TRANSPORT"`
	Account   string `yaml:"account" env:"INGEST_ACCOUNT"`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}

func (config *Config) ForceSyncDuration() time.Duration {
	return time.Duration(config.ForceSyncSeconds) * time.Second
}
