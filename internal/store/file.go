package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// FileStore keeps one JSON document per user on disk.
type FileStore struct {
	dir string
	log pslog.Logger
}

// NewFileStore constructs a file store rooted at dir.
func NewFileStore(dir string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("storage_path", dir)
	}
	return &FileStore{dir: dir, log: logger}, nil
}

// Load reads the user's gallery list.
func (s *FileStore) Load(_ context.Context, userID schema.UserID) ([]schema.Image, bool, error) {
	path := s.pathForUser(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("gallery load miss", "user", userID)
			return nil, false, nil
		}
		s.warn("gallery load failed", "user", userID, "err", err)
		return nil, false, err
	}
	images, err := decode(data)
	if err != nil {
		s.warn("gallery load failed", "user", userID, "err", err)
		return nil, false, err
	}
	s.debug("gallery load ok", "user", userID, "images", len(images))
	return images, true, nil
}

// Save replaces the user's gallery list atomically.
func (s *FileStore) Save(_ context.Context, userID schema.UserID, images []schema.Image) error {
	path := s.pathForUser(userID)
	if err := s.write(path, images); err != nil {
		s.warn("gallery save failed", "user", userID, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("gallery save ok", "user", userID, "images", len(images))
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) write(path string, images []schema.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := encode(images)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), schema.StorageKey+"-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) pathForUser(userID schema.UserID) string {
	return filepath.Join(userDir(s.dir, userID), schema.StorageKey+".json")
}

func (s *FileStore) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *FileStore) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}
