package core

import (
	"context"
	"io"
	"time"

	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// BlobStore holds uploaded image bytes.
type BlobStore interface {
	Put(ctx context.Context, userID schema.UserID, r io.Reader) (schema.BlobInfo, error)
	Open(ctx context.Context, userID schema.UserID, id schema.BlobID) (io.ReadSeekCloser, error)
	Delete(ctx context.Context, userID schema.UserID, id schema.BlobID) error
}

// ServiceDeps captures dependencies for the core service. Store and Blobs
// are required; the rest fall back to defaults.
type ServiceDeps struct {
	Store     GalleryStore
	Blobs     BlobStore
	EventSink EventSink
	Logger    pslog.Logger
	Now       func() time.Time
	NewID     func() schema.ImageID
}
