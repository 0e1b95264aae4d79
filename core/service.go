package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"pkt.systems/dropgallery/internal/logx"
	"pkt.systems/dropgallery/internal/sessionprefs"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// service implements the gallery manager.
type service struct {
	cfg    schema.ServiceConfig
	store  GalleryStore
	blobs  BlobStore
	sink   EventSink
	logger pslog.Logger
	now    func() time.Time
	newID  func() schema.ImageID

	mu    sync.Mutex
	users map[schema.UserID]*userState

	// blobGate is held shared while an upload stores and reserves a blob and
	// exclusively while a blob is checked for release and deleted. Acquire
	// it before mu, never while holding mu.
	blobGate sync.RWMutex
}

type userState struct {
	images  []schema.Image
	pending int
	// reserved counts blobs stored by uploads that have not committed or
	// failed yet.
	reserved map[schema.BlobID]int
}

func (u *userState) reserve(id schema.BlobID) {
	u.reserved[id]++
}

func (u *userState) unreserve(infos []schema.BlobInfo) {
	for _, info := range infos {
		if n := u.reserved[info.ID]; n > 1 {
			u.reserved[info.ID] = n - 1
		} else {
			delete(u.reserved, info.ID)
		}
	}
}

// blobInUse reports whether a committed record or an in-flight upload still
// needs the blob.
func (u *userState) blobInUse(id schema.BlobID) bool {
	return u.reserved[id] > 0 || blobReferenced(u.images, id)
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("gallery store is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = newImageID
	}
	return &service{
		cfg:    normalized,
		store:  deps.Store,
		blobs:  deps.Blobs,
		sink:   deps.EventSink,
		logger: logger,
		now:    deps.Now,
		newID:  deps.NewID,
		users:  make(map[schema.UserID]*userState),
	}, nil
}

func (s *service) View(ctx context.Context, req schema.ViewRequest) (schema.ViewResponse, error) {
	if ctx == nil {
		return schema.ViewResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ViewResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		return schema.ViewResponse{}, err
	}
	return viewOf(state, activeQuery(ctx)), nil
}

func (s *service) Upload(ctx context.Context, req schema.UploadRequest) (schema.UploadResponse, error) {
	if ctx == nil {
		return schema.UploadResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.UploadResponse{}, err
	}
	if len(req.Files) == 0 {
		return schema.UploadResponse{}, schema.ErrEmptyUpload
	}
	if len(req.Files) > s.cfg.MaxUploadFiles {
		return schema.UploadResponse{}, fmt.Errorf("%w: at most %d files per upload", schema.ErrInvalidRequest, s.cfg.MaxUploadFiles)
	}
	tags, err := schema.NormalizeTags(req.Tags)
	if err != nil {
		return schema.UploadResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	log.Info("service upload start", "files", len(req.Files), "tags", len(tags))

	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.UploadResponse{}, err
	}
	state.pending++
	started := schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryUploadStarted,
		Loading: true,
		Total:   len(state.images),
	}
	s.mu.Unlock()
	s.emit(started)

	if err := waitDelay(ctx, s.cfg.UploadDelay); err != nil {
		s.failUpload(log, userID, nil, err)
		return schema.UploadResponse{}, err
	}

	infos := make([]schema.BlobInfo, 0, len(req.Files))
	for _, file := range req.Files {
		info, err := s.putReserved(ctx, userID, file.Data)
		if err != nil {
			err = fmt.Errorf("store %q: %w", file.Name, err)
			s.failUpload(log, userID, infos, err)
			return schema.UploadResponse{}, err
		}
		infos = append(infos, info)
	}

	s.mu.Lock()
	state, err = s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		s.failUpload(log, userID, infos, err)
		return schema.UploadResponse{}, err
	}
	now := s.now().UTC()
	number := nextNumberTag(state.images)
	records := make([]schema.Image, 0, len(infos))
	for i, info := range infos {
		id := s.newID()
		records = append(records, schema.Image{
			ID:          id,
			URL:         schema.ImageURL(id),
			Tags:        append([]string{}, tags...),
			NiceTag:     "",
			NumberTag:   number + i,
			Blob:        info.ID,
			Name:        strings.TrimSpace(req.Files[i].Name),
			ContentType: info.ContentType,
			Size:        info.Size,
			CreatedAt:   now,
		})
	}
	next := make([]schema.Image, 0, len(state.images)+len(records))
	next = append(next, state.images...)
	next = append(next, records...)
	if err := s.saveLocked(ctx, log, userID, state, next); err != nil {
		s.mu.Unlock()
		s.failUpload(log, userID, infos, err)
		return schema.UploadResponse{}, err
	}
	state.pending--
	state.unreserve(infos)
	committed := schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryUploadCommitted,
		Images:  schema.CloneImages(records),
		Loading: state.pending > 0,
		Total:   len(state.images),
	}
	s.mu.Unlock()
	s.emit(committed)
	log.Info("service upload committed", "images", len(records), "total", committed.Total)
	return schema.UploadResponse{Images: schema.CloneImages(records)}, nil
}

// putReserved stores one file and reserves its blob for the calling upload
// before any release can look at it.
func (s *service) putReserved(ctx context.Context, userID schema.UserID, r io.Reader) (schema.BlobInfo, error) {
	s.blobGate.RLock()
	defer s.blobGate.RUnlock()
	info, err := s.blobs.Put(ctx, userID, r)
	if err != nil {
		return schema.BlobInfo{}, err
	}
	s.mu.Lock()
	if state := s.users[userID]; state != nil {
		state.reserve(info.ID)
	}
	s.mu.Unlock()
	return info, nil
}

// failUpload ends a pending upload without appending anything and releases
// the blobs the batch stored unless something else still uses them.
func (s *service) failUpload(log pslog.Logger, userID schema.UserID, infos []schema.BlobInfo, cause error) {
	s.mu.Lock()
	state := s.users[userID]
	loading := false
	total := 0
	if state != nil {
		if state.pending > 0 {
			state.pending--
		}
		state.unreserve(infos)
		loading = state.pending > 0
		total = len(state.images)
	}
	s.mu.Unlock()
	ids := make([]schema.BlobID, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	s.releaseBlobs(context.Background(), log, userID, ids)
	log.Warn("service upload failed", "err", cause)
	s.emit(schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryUploadFailed,
		Loading: loading,
		Total:   total,
		Err:     cause.Error(),
	})
}

// releaseBlobs deletes the blobs no record or in-flight upload uses. The
// check and the delete both happen under the exclusive gate so an upload
// cannot reserve a blob in between.
func (s *service) releaseBlobs(ctx context.Context, log pslog.Logger, userID schema.UserID, ids []schema.BlobID) {
	if len(ids) == 0 {
		return
	}
	s.blobGate.Lock()
	defer s.blobGate.Unlock()
	s.mu.Lock()
	state := s.users[userID]
	unused := make([]schema.BlobID, 0, len(ids))
	for _, id := range ids {
		if id == "" || state == nil || state.blobInUse(id) || slices.Contains(unused, id) {
			continue
		}
		unused = append(unused, id)
	}
	s.mu.Unlock()
	for _, id := range unused {
		if err := s.blobs.Delete(ctx, userID, id); err != nil {
			log.Warn("service blob release failed", "blob", id, "err", err)
		}
	}
}

func (s *service) Search(ctx context.Context, req schema.SearchRequest) (schema.SearchResponse, error) {
	if ctx == nil {
		return schema.SearchResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SearchResponse{}, err
	}
	query := strings.TrimSpace(req.Query)
	if prefs := sessionprefs.FromContext(ctx); prefs != nil {
		prefs.SetQuery(query)
	}
	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.SearchResponse{}, err
	}
	view := viewOf(state, query)
	s.mu.Unlock()
	logx.WithUser(ctx, userID).Debug("service search", "query", query, "matches", len(view.Images), "total", view.Total)
	s.emit(schema.GalleryEvent{UserID: userID, Type: schema.GallerySearched, Total: view.Total})
	return schema.SearchResponse{View: view}, nil
}

func (s *service) Reorder(ctx context.Context, req schema.ReorderRequest) (schema.ReorderResponse, error) {
	if ctx == nil {
		return schema.ReorderResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ReorderResponse{}, err
	}
	query := activeQuery(ctx)
	log := logx.WithUser(ctx, userID)

	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.ReorderResponse{}, err
	}
	if req.Destination == nil {
		view := viewOf(state, query)
		s.mu.Unlock()
		return schema.ReorderResponse{View: view}, nil
	}
	dest := *req.Destination
	view := filterImages(state.images, query)
	if req.Source < 0 || req.Source >= len(view) || dest < 0 || dest >= len(view) {
		s.mu.Unlock()
		return schema.ReorderResponse{}, fmt.Errorf("%w: source %d destination %d view %d", schema.ErrInvalidIndex, req.Source, dest, len(view))
	}
	if req.Source == dest {
		resp := schema.ReorderResponse{View: viewOf(state, query)}
		s.mu.Unlock()
		return resp, nil
	}
	moved := view[req.Source].ID
	next := moveInList(state.images, query, moved, dest)
	if err := s.saveLocked(ctx, log, userID, state, next); err != nil {
		s.mu.Unlock()
		return schema.ReorderResponse{}, err
	}
	resp := schema.ReorderResponse{View: viewOf(state, query), Moved: true}
	event := schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryReordered,
		Images:  schema.CloneImages(state.images),
		Loading: state.pending > 0,
		Total:   len(state.images),
	}
	s.mu.Unlock()
	log.Info("service reorder", "image", moved, "source", req.Source, "destination", dest)
	s.emit(event)
	return resp, nil
}

func (s *service) DeleteImage(ctx context.Context, req schema.DeleteImageRequest) (schema.DeleteImageResponse, error) {
	if ctx == nil {
		return schema.DeleteImageResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.DeleteImageResponse{}, err
	}
	log := logx.WithUserImage(ctx, userID, req.ImageID)

	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.DeleteImageResponse{}, err
	}
	idx := indexOfImage(state.images, req.ImageID)
	if idx < 0 {
		s.mu.Unlock()
		log.Debug("service delete skipped", "reason", "unknown image")
		return schema.DeleteImageResponse{}, nil
	}
	removed := state.images[idx]
	next := make([]schema.Image, 0, len(state.images)-1)
	next = append(next, state.images[:idx]...)
	next = append(next, state.images[idx+1:]...)
	if err := s.saveLocked(ctx, log, userID, state, next); err != nil {
		s.mu.Unlock()
		return schema.DeleteImageResponse{}, err
	}
	event := schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryImageDeleted,
		Images:  []schema.Image{removed.Clone()},
		Loading: state.pending > 0,
		Total:   len(state.images),
	}
	s.mu.Unlock()

	s.releaseBlobs(ctx, log, userID, []schema.BlobID{removed.Blob})
	log.Info("service image deleted", "total", event.Total)
	s.emit(event)
	return schema.DeleteImageResponse{Deleted: true}, nil
}

func (s *service) UpdateNiceTag(ctx context.Context, req schema.UpdateNiceTagRequest) (schema.UpdateNiceTagResponse, error) {
	if ctx == nil {
		return schema.UpdateNiceTagResponse{}, errors.New("missing context")
	}
	img, err := s.updateImage(ctx, req.UserID, req.ImageID, func(img *schema.Image) bool {
		if img.NiceTag == req.NiceTag {
			return false
		}
		img.NiceTag = req.NiceTag
		return true
	})
	if err != nil {
		return schema.UpdateNiceTagResponse{}, err
	}
	return schema.UpdateNiceTagResponse{Image: img}, nil
}

func (s *service) AddTag(ctx context.Context, req schema.TagRequest) (schema.TagResponse, error) {
	if ctx == nil {
		return schema.TagResponse{}, errors.New("missing context")
	}
	tag, err := schema.NormalizeTag(req.Tag)
	if err != nil {
		return schema.TagResponse{}, err
	}
	img, err := s.updateImage(ctx, req.UserID, req.ImageID, func(img *schema.Image) bool {
		if img.HasTag(tag) {
			return false
		}
		img.Tags = append(img.Tags, tag)
		return true
	})
	if err != nil {
		return schema.TagResponse{}, err
	}
	return schema.TagResponse{Image: img}, nil
}

func (s *service) RemoveTag(ctx context.Context, req schema.TagRequest) (schema.TagResponse, error) {
	if ctx == nil {
		return schema.TagResponse{}, errors.New("missing context")
	}
	tag, err := schema.NormalizeTag(req.Tag)
	if err != nil {
		return schema.TagResponse{}, err
	}
	img, err := s.updateImage(ctx, req.UserID, req.ImageID, func(img *schema.Image) bool {
		kept := img.Tags[:0]
		for _, existing := range img.Tags {
			if strings.EqualFold(existing, tag) {
				continue
			}
			kept = append(kept, existing)
		}
		changed := len(kept) != len(img.Tags)
		img.Tags = kept
		return changed
	})
	if err != nil {
		return schema.TagResponse{}, err
	}
	return schema.TagResponse{Image: img}, nil
}

// updateImage applies mutate to a copy of the record and persists the list
// when mutate reports a change.
func (s *service) updateImage(ctx context.Context, rawUser schema.UserID, imageID schema.ImageID, mutate func(img *schema.Image) bool) (schema.Image, error) {
	userID, err := normalizeUserID(rawUser)
	if err != nil {
		return schema.Image{}, err
	}
	log := logx.WithUserImage(ctx, userID, imageID)

	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.Image{}, err
	}
	idx := indexOfImage(state.images, imageID)
	if idx < 0 {
		s.mu.Unlock()
		return schema.Image{}, schema.ErrImageNotFound
	}
	updated := state.images[idx].Clone()
	if !mutate(&updated) {
		s.mu.Unlock()
		return updated, nil
	}
	next := schema.CloneImages(state.images)
	next[idx] = updated
	if err := s.saveLocked(ctx, log, userID, state, next); err != nil {
		s.mu.Unlock()
		return schema.Image{}, err
	}
	event := schema.GalleryEvent{
		UserID:  userID,
		Type:    schema.GalleryImageUpdated,
		Images:  []schema.Image{updated.Clone()},
		Loading: state.pending > 0,
		Total:   len(state.images),
	}
	s.mu.Unlock()
	log.Info("service image updated", "nice_tag", updated.NiceTag, "tags", len(updated.Tags))
	s.emit(event)
	return updated.Clone(), nil
}

func (s *service) ListImages(ctx context.Context, req schema.ListImagesRequest) (schema.ListImagesResponse, error) {
	if ctx == nil {
		return schema.ListImagesResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListImagesResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		return schema.ListImagesResponse{}, err
	}
	return schema.ListImagesResponse{Images: schema.CloneImages(state.images)}, nil
}

func (s *service) OpenContent(ctx context.Context, req schema.OpenContentRequest) (schema.OpenContentResponse, error) {
	if ctx == nil {
		return schema.OpenContentResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.OpenContentResponse{}, err
	}
	s.mu.Lock()
	state, err := s.userStateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return schema.OpenContentResponse{}, err
	}
	idx := indexOfImage(state.images, req.ImageID)
	if idx < 0 {
		s.mu.Unlock()
		return schema.OpenContentResponse{}, schema.ErrImageNotFound
	}
	img := state.images[idx].Clone()
	s.mu.Unlock()
	if img.Blob == "" {
		return schema.OpenContentResponse{}, schema.ErrBlobNotFound
	}
	content, err := s.blobs.Open(ctx, userID, img.Blob)
	if err != nil {
		logx.WithImage(logx.WithUser(ctx, userID), img).Warn("service content open failed", "err", err)
		return schema.OpenContentResponse{}, err
	}
	return schema.OpenContentResponse{Image: img, Content: content}, nil
}

// userStateLocked returns the cached state, loading the stored list on first
// use. Load failures are not cached so a later call can retry.
func (s *service) userStateLocked(ctx context.Context, userID schema.UserID) (*userState, error) {
	if state := s.users[userID]; state != nil {
		return state, nil
	}
	log := s.logger.With("user", userID)
	images, ok, err := s.store.Load(ctx, userID)
	if err != nil {
		log.Warn("service state load failed", "err", err)
		return nil, fmt.Errorf("load %s: %w", schema.StorageKey, err)
	}
	if !ok {
		log.Debug("service state missing")
		images = []schema.Image{}
	} else {
		log.Debug("service state loaded", "images", len(images))
	}
	state := &userState{
		images:   schema.CloneImages(images),
		reserved: make(map[schema.BlobID]int),
	}
	s.users[userID] = state
	return state, nil
}

// saveLocked persists next and only then makes it the authoritative list.
func (s *service) saveLocked(ctx context.Context, log pslog.Logger, userID schema.UserID, state *userState, next []schema.Image) error {
	if err := s.store.Save(ctx, userID, next); err != nil {
		log.Warn("service persist failed", "err", err)
		return fmt.Errorf("save %s: %w", schema.StorageKey, err)
	}
	state.images = next
	log.Trace("service state persisted", "images", len(next))
	return nil
}

func (s *service) emit(event schema.GalleryEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnGalleryEvent(event)
}

func viewOf(state *userState, query string) schema.ViewResponse {
	return schema.ViewResponse{
		Images:  filterImages(state.images, query),
		Query:   query,
		Total:   len(state.images),
		Loading: state.pending > 0,
	}
}

func activeQuery(ctx context.Context) string {
	if prefs := sessionprefs.FromContext(ctx); prefs != nil {
		return prefs.Query()
	}
	return ""
}

func waitDelay(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalizeUserID(userID schema.UserID) (schema.UserID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", schema.ErrInvalidUser
	}
	return userID, nil
}
