package dropgallery

import (
	"pkt.systems/dropgallery/core"
	"pkt.systems/dropgallery/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnGalleryEvent(event schema.GalleryEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnGalleryEvent(event)
	}
}

// fanout collapses sinks into a single EventSink, skipping nils.
func fanout(sinks ...core.EventSink) core.EventSink {
	kept := make([]core.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return eventFanout{sinks: kept}
	}
}
