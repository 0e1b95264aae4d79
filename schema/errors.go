package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrImageNotFound indicates a requested image could not be found.
	ErrImageNotFound = errors.New("image not found")
	// ErrInvalidIndex indicates a reorder index outside the current view.
	ErrInvalidIndex = errors.New("index out of range")
	// ErrEmptyUpload indicates an upload without files.
	ErrEmptyUpload = errors.New("no files to upload")
	// ErrInvalidTag indicates an empty or malformed tag.
	ErrInvalidTag = errors.New("invalid tag")
	// ErrBlobNotFound indicates missing image content.
	ErrBlobNotFound = errors.New("image content not found")
)
