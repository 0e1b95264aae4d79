package schema

import "time"

// ServiceConfig defines defaults and limits for the gallery service.
type ServiceConfig struct {
	// UploadDelay simulates the upload round-trip before records are committed.
	UploadDelay time.Duration
	// MaxUploadFiles caps the number of files accepted by a single upload.
	MaxUploadFiles int
}

// DefaultUploadDelay matches the delay the gallery UI has always shown.
const DefaultUploadDelay = 1500 * time.Millisecond

// DefaultMaxUploadFiles is the default per-upload file limit.
const DefaultMaxUploadFiles = 64

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.UploadDelay == 0 {
		cfg.UploadDelay = DefaultUploadDelay
	}
	if cfg.UploadDelay < 0 {
		cfg.UploadDelay = 0
	}
	if cfg.MaxUploadFiles <= 0 {
		cfg.MaxUploadFiles = DefaultMaxUploadFiles
	}
	return cfg, nil
}
