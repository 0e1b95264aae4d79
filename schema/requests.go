package schema

import "io"

// Gallery lifecycle.

// ViewRequest asks for the current filtered view.
type ViewRequest struct {
	UserID UserID
}

// ViewResponse reports the filtered view and gallery state.
type ViewResponse struct {
	Images  []Image `json:"images"`
	Query   string  `json:"query"`
	Total   int     `json:"total"`
	Loading bool    `json:"loading"`
}

// UploadFile is one accepted file of an upload.
type UploadFile struct {
	Name string
	Data io.Reader
}

// UploadRequest describes files dropped onto the gallery.
type UploadRequest struct {
	UserID UserID
	Files  []UploadFile
	Tags   []string
}

// UploadResponse reports the committed records.
type UploadResponse struct {
	Images []Image `json:"images"`
}

// SearchRequest sets the active search query.
type SearchRequest struct {
	UserID UserID
	Query  string
}

// SearchResponse reports the view for the query.
type SearchResponse struct {
	View ViewResponse
}

// ReorderRequest moves the record at Source to Destination in the current view.
// A nil Destination means the drop had no target.
type ReorderRequest struct {
	UserID      UserID
	Source      int
	Destination *int
}

// ReorderResponse reports the view after the move.
type ReorderResponse struct {
	View  ViewResponse
	Moved bool
}

// DeleteImageRequest describes a deletion.
type DeleteImageRequest struct {
	UserID  UserID
	ImageID ImageID
}

// DeleteImageResponse reports whether a record was removed.
type DeleteImageResponse struct {
	Deleted bool
}

// UpdateNiceTagRequest replaces the nice tag of a record.
type UpdateNiceTagRequest struct {
	UserID  UserID
	ImageID ImageID
	NiceTag string
}

// UpdateNiceTagResponse reports the updated record.
type UpdateNiceTagResponse struct {
	Image Image
}

// TagRequest adds or removes one tag on a record.
type TagRequest struct {
	UserID  UserID
	ImageID ImageID
	Tag     string
}

// TagResponse reports the updated record.
type TagResponse struct {
	Image Image
}

// ListImagesRequest asks for the authoritative list.
type ListImagesRequest struct {
	UserID UserID
}

// ListImagesResponse reports the authoritative list.
type ListImagesResponse struct {
	Images []Image
}

// OpenContentRequest asks for the stored bytes of a record.
type OpenContentRequest struct {
	UserID  UserID
	ImageID ImageID
}

// OpenContentResponse carries the content stream. Callers close Content.
type OpenContentResponse struct {
	Image   Image
	Content io.ReadSeekCloser
}
