// Package store persists each user's gallery list under the galleryImages key.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// Driver names accepted by Open.
const (
	DriverBadger = "badger"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Store loads and saves gallery lists. Load reports ok=false when nothing
// has been saved for the user yet.
type Store interface {
	Load(ctx context.Context, userID schema.UserID) ([]schema.Image, bool, error)
	Save(ctx context.Context, userID schema.UserID, images []schema.Image) error
	Close() error
}

// Config selects and locates a storage driver.
type Config struct {
	Driver string
	Path   string
}

// Open constructs the configured driver.
func Open(cfg Config, logger pslog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverBadger
	}
	if logger != nil {
		logger = logger.With("driver", driver)
	}
	switch driver {
	case DriverBadger:
		return NewBadgerStore(cfg.Path, logger)
	case DriverFile:
		return NewFileStore(cfg.Path, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func encode(images []schema.Image) ([]byte, error) {
	if images == nil {
		images = []schema.Image{}
	}
	return json.MarshalIndent(images, "", "  ")
}

func decode(data []byte) ([]schema.Image, error) {
	var images []schema.Image
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema.StorageKey, err)
	}
	if images == nil {
		images = []schema.Image{}
	}
	for i := range images {
		if images[i].Tags == nil {
			images[i].Tags = []string{}
		}
	}
	return images, nil
}

func userDir(root string, userID schema.UserID) string {
	name := sanitize(string(userID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(root, name)
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' || r == '@' || r == '+' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
