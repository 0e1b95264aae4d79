package core

import (
	"context"

	"pkt.systems/dropgallery/schema"
)

// Service is the transport-agnostic API for managing a user's gallery.
type Service interface {
	View(ctx context.Context, req schema.ViewRequest) (schema.ViewResponse, error)
	Upload(ctx context.Context, req schema.UploadRequest) (schema.UploadResponse, error)
	Search(ctx context.Context, req schema.SearchRequest) (schema.SearchResponse, error)
	Reorder(ctx context.Context, req schema.ReorderRequest) (schema.ReorderResponse, error)
	DeleteImage(ctx context.Context, req schema.DeleteImageRequest) (schema.DeleteImageResponse, error)
	UpdateNiceTag(ctx context.Context, req schema.UpdateNiceTagRequest) (schema.UpdateNiceTagResponse, error)
	AddTag(ctx context.Context, req schema.TagRequest) (schema.TagResponse, error)
	RemoveTag(ctx context.Context, req schema.TagRequest) (schema.TagResponse, error)
	ListImages(ctx context.Context, req schema.ListImagesRequest) (schema.ListImagesResponse, error)
	OpenContent(ctx context.Context, req schema.OpenContentRequest) (schema.OpenContentResponse, error)
}

// GalleryStore persists a user's gallery list.
type GalleryStore interface {
	Load(ctx context.Context, userID schema.UserID) ([]schema.Image, bool, error)
	Save(ctx context.Context, userID schema.UserID, images []schema.Image) error
}
