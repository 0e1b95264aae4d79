package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/dropgallery/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Auth          AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Storage       StorageConfig `mapstructure:"storage" yaml:"storage"`
	Gallery       GalleryConfig `mapstructure:"gallery" yaml:"gallery"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Auth modes.
const (
	AuthModeStatic = "static"
	AuthModeFile   = "file"
)

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	SessionCookie   string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	BasePath        string `mapstructure:"base_path" yaml:"base_path"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// AuthConfig selects the login gate and configures its credentials.
type AuthConfig struct {
	Mode      string     `mapstructure:"mode" yaml:"mode"`
	Username  string     `mapstructure:"username" yaml:"username"`
	Password  string     `mapstructure:"password" yaml:"password"`
	UserFile  string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds a user record in the auth store.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// StorageConfig selects where gallery lists and image bytes live.
// An empty Path resolves under state_dir.
type StorageConfig struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	Path    string `mapstructure:"path" yaml:"path"`
	BlobDir string `mapstructure:"blob_dir" yaml:"blob_dir"`
}

// GalleryConfig controls the gallery service.
type GalleryConfig struct {
	UploadDelayMS  int `mapstructure:"upload_delay_ms" yaml:"upload_delay_ms"`
	MaxUploadFiles int `mapstructure:"max_upload_files" yaml:"max_upload_files"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".dropgallery", "state"),
		HTTP: HTTPConfig{
			Addr:            ":27580",
			SessionCookie:   "dropgallery_session",
			SessionTTLHours: 720,
			BaseURL:         "",
			BasePath:        "",
			MaxUploadMB:     64,
		},
		Auth: AuthConfig{
			Mode:      AuthModeStatic,
			Username:  "user@example.com",
			Password:  "1Password",
			UserFile:  filepath.Join(home, ".dropgallery", "users.json"),
			SeedUsers: []SeedUser{},
		},
		Storage: StorageConfig{
			Driver:  "badger",
			Path:    "",
			BlobDir: "",
		},
		Gallery: GalleryConfig{
			UploadDelayMS:  int(schema.DefaultUploadDelay / time.Millisecond),
			MaxUploadFiles: schema.DefaultMaxUploadFiles,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dropgallery", "config.yaml"), nil
}

// StoragePath resolves the gallery store location for the configured driver.
func (c Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Driver == "file" {
		return filepath.Join(c.StateDir, "gallery")
	}
	return filepath.Join(c.StateDir, "db")
}

// BlobDir resolves the directory holding uploaded image bytes.
func (c Config) BlobDir() string {
	if c.Storage.BlobDir != "" {
		return c.Storage.BlobDir
	}
	return filepath.Join(c.StateDir, "blobs")
}

// UploadDelay converts the configured delay. Zero keeps the default and
// negative values disable the delay.
func (c Config) UploadDelay() time.Duration {
	return time.Duration(c.Gallery.UploadDelayMS) * time.Millisecond
}
