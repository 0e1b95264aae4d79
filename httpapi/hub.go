package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/dropgallery/internal/logx"
	"pkt.systems/dropgallery/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq          uint64               `json:"seq"`
	Type         string               `json:"type"`
	GalleryEvent string               `json:"gallery_event,omitempty"`
	Images       []schema.Image       `json:"images,omitempty"`
	Loading      bool                 `json:"loading"`
	Total        int                  `json:"total"`
	Error        string               `json:"error,omitempty"`
	Snapshot     *schema.ViewResponse `json:"snapshot,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

const (
	streamTypeGallery  = "gallery"
	streamTypeSnapshot = "snapshot"
)

const (
	defaultHubHistory = 1000
	subscriberBuffer  = 256
)

// Hub broadcasts gallery events per user.
type Hub struct {
	mu          sync.Mutex
	users       map[schema.UserID]*userHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = defaultHubHistory
	}
	return &Hub{
		users:       make(map[schema.UserID]*userHub),
		historySize: historySize,
	}
}

// OnGalleryEvent implements core.EventSink. Searches are session-scoped and
// are not broadcast.
func (h *Hub) OnGalleryEvent(event schema.GalleryEvent) {
	log := logx.WithUser(context.Background(), event.UserID)
	if event.Type == schema.GallerySearched {
		log.Trace("hub search event skipped")
		return
	}
	log.Trace("hub gallery event", "type", event.Type, "images", len(event.Images), "loading", event.Loading)
	h.publish(event.UserID, StreamEvent{
		Type:         streamTypeGallery,
		GalleryEvent: string(event.Type),
		Images:       schema.CloneImages(event.Images),
		Loading:      event.Loading,
		Total:        event.Total,
		Error:        event.Err,
		Timestamp:    time.Now(),
	})
}

// Subscribe registers a subscriber for a user.
func (h *Hub) Subscribe(userID schema.UserID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.getOrCreateUserHubLocked(userID)
	ch := make(chan StreamEvent, subscriberBuffer)
	uh.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), uh.history...)
	seq := uh.seq
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "subs", len(uh.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(uh.subs, ch)
			close(ch)
			remaining := len(uh.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(userID schema.UserID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.users[userID]
	if uh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(uh.history))
	for _, event := range uh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithUser(context.Background(), userID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// publish sends under the hub lock so an unsubscribe cannot close a channel
// mid-send. Sends never block: a full subscriber misses the event.
func (h *Hub) publish(userID schema.UserID, event StreamEvent) {
	h.mu.Lock()
	uh := h.getOrCreateUserHubLocked(userID)
	uh.seq++
	event.Seq = uh.seq
	uh.history = append(uh.history, event)
	if len(uh.history) > h.historySize {
		uh.history = uh.history[len(uh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range uh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.WithUser(context.Background(), userID).Warn("hub event dropped", "type", event.GalleryEvent, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateUserHubLocked(userID schema.UserID) *userHub {
	uh := h.users[userID]
	if uh == nil {
		uh = &userHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.users[userID] = uh
	}
	return uh
}

type userHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
