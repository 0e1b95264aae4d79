package core

import (
	"github.com/google/uuid"

	"pkt.systems/dropgallery/schema"
)

// newImageID returns a time-ordered identifier so ids sort by upload time.
func newImageID() schema.ImageID {
	id, err := uuid.NewV7()
	if err != nil {
		return schema.ImageID(uuid.NewString())
	}
	return schema.ImageID(id.String())
}
