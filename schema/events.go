package schema

// GalleryEventType identifies a gallery change.
type GalleryEventType string

const (
	// GalleryUploadStarted marks an upload entering the pending state.
	GalleryUploadStarted GalleryEventType = "upload_started"
	// GalleryUploadCommitted marks records appended to the list.
	GalleryUploadCommitted GalleryEventType = "upload_committed"
	// GalleryUploadFailed marks an upload that appended nothing.
	GalleryUploadFailed GalleryEventType = "upload_failed"
	// GalleryImageDeleted marks a removed record.
	GalleryImageDeleted GalleryEventType = "image_deleted"
	// GalleryImageUpdated marks an edited record.
	GalleryImageUpdated GalleryEventType = "image_updated"
	// GalleryReordered marks a list reorder.
	GalleryReordered GalleryEventType = "reordered"
	// GallerySearched marks a search.
	GallerySearched GalleryEventType = "searched"
)

// GalleryEvent is emitted by the gallery service after state changes.
type GalleryEvent struct {
	UserID  UserID
	Type    GalleryEventType
	Images  []Image
	Loading bool
	Total   int
	Err     string
}
