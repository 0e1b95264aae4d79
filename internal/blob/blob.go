// Package blob stores uploaded file bytes on disk, addressed by their sha256
// digest and scoped per user.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// sniffLen is how many leading bytes filetype needs to match all of its
// matchers.
const sniffLen = 262

// fallbackContentType is recorded for content filetype does not recognise,
// including empty files.
const fallbackContentType = "application/octet-stream"

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore creates the root directory and returns a store.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("blob_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Put streams r into the store. Identical content for the same user is
// stored once. Any content is accepted, empty files included.
func (s *Store) Put(ctx context.Context, userID schema.UserID, r io.Reader) (schema.BlobInfo, error) {
	if r == nil {
		return schema.BlobInfo{}, schema.ErrInvalidRequest
	}
	dir, err := s.userDir(userID)
	if err != nil {
		return schema.BlobInfo{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return schema.BlobInfo{}, err
	}
	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return schema.BlobInfo{}, err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	hash := sha256.New()
	head := &headBuffer{limit: sniffLen}
	size, err := io.Copy(io.MultiWriter(tmp, hash, head), contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return schema.BlobInfo{}, err
	}
	contentType := sniff(head.buf)
	if err := tmp.Sync(); err != nil {
		cleanup()
		return schema.BlobInfo{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return schema.BlobInfo{}, err
	}

	id := schema.BlobID(hex.EncodeToString(hash.Sum(nil)))
	dest := filepath.Join(dir, string(id))
	if _, err := os.Stat(dest); err == nil {
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Trace("blob dedup", "user", userID, "blob", id)
		}
		return schema.BlobInfo{ID: id, Size: size, ContentType: contentType}, nil
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return schema.BlobInfo{}, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return schema.BlobInfo{}, err
	}
	if s.log != nil {
		s.log.Debug("blob stored", "user", userID, "blob", id, "bytes", size, "content_type", contentType)
	}
	return schema.BlobInfo{ID: id, Size: size, ContentType: contentType}, nil
}

// Open returns a reader for the blob.
func (s *Store) Open(_ context.Context, userID schema.UserID, id schema.BlobID) (io.ReadSeekCloser, error) {
	path, err := s.path(userID, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, schema.ErrBlobNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *Store) Delete(_ context.Context, userID schema.UserID, id schema.BlobID) error {
	path, err := s.path(userID, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if s.log != nil {
		s.log.Debug("blob deleted", "user", userID, "blob", id)
	}
	return nil
}

func (s *Store) userDir(userID schema.UserID) (string, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, string(userID)), nil
}

func (s *Store) path(userID schema.UserID, id schema.BlobID) (string, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return "", err
	}
	if !validBlobID(id) {
		return "", fmt.Errorf("%w: blob id %q", schema.ErrInvalidRequest, id)
	}
	return filepath.Join(dir, string(id)), nil
}

func validBlobID(id schema.BlobID) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(id))
	return err == nil
}

func sniff(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return fallbackContentType
	}
	return kind.MIME.Value
}

type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if c.ctx != nil {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
	}
	return c.r.Read(p)
}
