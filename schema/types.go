package schema

import "time"

// UserID identifies a user in the system.
type UserID string

// ImageID identifies an image record.
type ImageID string

// BlobID is the content address of stored image bytes.
type BlobID string

// StorageKey is the slot the gallery list is persisted under.
const StorageKey = "galleryImages"

// Image is the canonical image record. It carries both the editable nice tag
// and the insertion sequence number.
type Image struct {
	ID          ImageID   `json:"id"`
	URL         string    `json:"url"`
	Tags        []string  `json:"tags"`
	NiceTag     string    `json:"niceTag"`
	NumberTag   int       `json:"numberTag"`
	Blob        BlobID    `json:"blob,omitempty"`
	Name        string    `json:"name,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// Clone returns a deep copy of the record.
func (img Image) Clone() Image {
	out := img
	if img.Tags != nil {
		out.Tags = append([]string{}, img.Tags...)
	} else {
		out.Tags = []string{}
	}
	return out
}

// HasTag reports whether the record carries tag, ignoring case.
func (img Image) HasTag(tag string) bool {
	for _, existing := range img.Tags {
		if equalFold(existing, tag) {
			return true
		}
	}
	return false
}

// BlobInfo describes stored image content.
type BlobInfo struct {
	ID          BlobID
	Size        int64
	ContentType string
}

// CloneImages deep-copies a list of records.
func CloneImages(images []Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, img.Clone())
	}
	return out
}

// ImageURL returns the UI-relative content URL for an image.
func ImageURL(id ImageID) string {
	return "api/images/" + string(id) + "/content"
}
