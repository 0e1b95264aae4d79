package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// BadgerStore keeps gallery lists in an embedded badger database, one key
// per user.
type BadgerStore struct {
	db  *badger.DB
	log pslog.Logger
}

// NewBadgerStore opens (or creates) a badger database at path.
func NewBadgerStore(path string, logger pslog.Logger) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if logger != nil {
		logger = logger.With("storage_path", path)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

// Load reads the user's gallery list.
func (s *BadgerStore) Load(_ context.Context, userID schema.UserID) ([]schema.Image, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(galleryKey(userID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		if s.log != nil {
			s.log.Debug("gallery load miss", "user", userID)
		}
		return nil, false, nil
	}
	if err != nil {
		if s.log != nil {
			s.log.Warn("gallery load failed", "user", userID, "err", err)
		}
		return nil, false, err
	}
	images, err := decode(data)
	if err != nil {
		if s.log != nil {
			s.log.Warn("gallery load failed", "user", userID, "err", err)
		}
		return nil, false, err
	}
	if s.log != nil {
		s.log.Debug("gallery load ok", "user", userID, "images", len(images))
	}
	return images, true, nil
}

// Save replaces the user's gallery list.
func (s *BadgerStore) Save(_ context.Context, userID schema.UserID, images []schema.Image) error {
	data, err := encode(images)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(galleryKey(userID), data)
	})
	if err != nil {
		if s.log != nil {
			s.log.Warn("gallery save failed", "user", userID, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("gallery save ok", "user", userID, "images", len(images))
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func galleryKey(userID schema.UserID) []byte {
	return []byte("gallery/" + string(userID) + "/" + schema.StorageKey)
}
