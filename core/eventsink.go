package core

import "pkt.systems/dropgallery/schema"

// EventSink receives gallery events from the core service.
type EventSink interface {
	OnGalleryEvent(event schema.GalleryEvent)
}
