package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/dropgallery/schema"
)

// EnvPrefix prefixes environment overrides, e.g. DROPGALLERY_HTTP_ADDR.
const EnvPrefix = "DROPGALLERY"

// Load reads configuration from path, or DefaultConfigPath when empty. A
// missing file yields the defaults. Environment variables named after a key
// (EnvPrefix, then the key with dots as underscores) override the file.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := registerDefaults(v, cfg); err != nil {
		return Config{}, err
	}

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// registerDefaults walks the YAML form of cfg so every key has a default,
// which is also what makes AutomaticEnv see keys absent from the file.
func registerDefaults(v *viper.Viper, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		if prefix != "" {
			key = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			setDefaults(v, key, child)
			continue
		}
		v.SetDefault(key, value)
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Auth.Mode)) {
	case AuthModeStatic:
		if strings.TrimSpace(cfg.Auth.Username) == "" || cfg.Auth.Password == "" {
			return fmt.Errorf("auth.username and auth.password are required for auth.mode %q", AuthModeStatic)
		}
		if err := schema.ValidateUserID(schema.UserID(strings.TrimSpace(cfg.Auth.Username))); err != nil {
			return fmt.Errorf("auth.username: %w", err)
		}
	case AuthModeFile:
		if strings.TrimSpace(cfg.Auth.UserFile) == "" {
			return fmt.Errorf("auth.user_file is required for auth.mode %q", AuthModeFile)
		}
	default:
		return fmt.Errorf("unsupported auth.mode %q", cfg.Auth.Mode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "badger", "file", "memory":
	default:
		return fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
	if cfg.HTTP.MaxUploadMB < 0 {
		return fmt.Errorf("http.max_upload_mb must not be negative")
	}
	return validateHTTPConfig(cfg.HTTP)
}

func validateHTTPConfig(cfg HTTPConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.base_url must include scheme and host (e.g. https://example.com)")
		}
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Auth.UserFile = expandEnv(cfg.Auth.UserFile)
	cfg.Auth.Password = expandEnv(cfg.Auth.Password)
	cfg.Storage.Path = expandEnv(cfg.Storage.Path)
	cfg.Storage.BlobDir = expandEnv(cfg.Storage.BlobDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Marshal renders cfg as YAML in the on-disk layout.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
