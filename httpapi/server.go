package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/dropgallery/core"
	"pkt.systems/dropgallery/internal/auth"
	"pkt.systems/dropgallery/internal/logx"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// PasswordChanger is implemented by authenticators backed by a user store.
type PasswordChanger interface {
	ChangePassword(username, currentPassword, totp, newPassword string) error
}

// LoginObserver is notified of every login attempt.
type LoginObserver interface {
	OnLogin(ok bool)
}

// Server serves the HTTP API and UI.
type Server struct {
	cfg      Config
	service  core.Service
	authn    auth.Authenticator
	sessions *sessionStore
	hub      *Hub
	mount    mount
	metrics  http.Handler
	logins   LoginObserver
}

const (
	defaultSessionTTL = 720 * time.Hour
	multipartMemory   = 8 << 20
)

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, authn auth.Authenticator, hub *Hub) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		cfg.SessionCookie = "dropgallery_session"
	}
	if hub == nil {
		hub = NewHub(0)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		authn:    authn,
		sessions: newSessionStore(ttl),
		hub:      hub,
		mount:    newMount(cfg.BaseURL, cfg.BasePath),
	}
}

// SetBaseContext sets the parent context for session lifetimes.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.sessions.setBaseContext(ctx)
}

// SetMetricsHandler exposes h on /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	if s == nil {
		return
	}
	s.metrics = h
}

// SetLoginObserver registers o for login outcomes.
func (s *Server) SetLoginObserver(o LoginObserver) {
	if s == nil {
		return
	}
	s.logins = o
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(uiFS))))

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("POST /api/chpasswd", s.requireSession(s.handleChangePassword))
	mux.HandleFunc("GET /api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("GET /api/images", s.requireSession(s.handleView))
	mux.HandleFunc("POST /api/images", s.requireSession(s.handleUpload))
	mux.HandleFunc("POST /api/search", s.requireSession(s.handleSearch))
	mux.HandleFunc("POST /api/reorder", s.requireSession(s.handleReorder))
	mux.HandleFunc("PATCH /api/images/{id}", s.requireSession(s.handleUpdateNiceTag))
	mux.HandleFunc("DELETE /api/images/{id}", s.requireSession(s.handleDelete))
	mux.HandleFunc("POST /api/images/{id}/tags/{tag}", s.requireSession(s.handleAddTag))
	mux.HandleFunc("DELETE /api/images/{id}/tags/{tag}", s.requireSession(s.handleRemoveTag))
	mux.HandleFunc("GET /api/images/{id}/content", s.requireSession(s.handleContent))
	mux.HandleFunc("GET /api/stream", s.requireSession(s.handleStream))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.mount.wrap(withAccessLog(mux, s.lookupSession))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, modTime, err := renderIndex(s.mount.href)
	if err != nil {
		pslog.Ctx(r.Context()).Error("http index render failed", "err", err)
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", modTime, bytes.NewReader(data))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", remoteAddr(r))
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(payload.Username)
	log = log.With("user", username)
	if s.authn == nil {
		s.observeLogin(false)
		log.Error("http login failed", "err", "no authenticator configured")
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials)
		return
	}
	if err := s.authn.Authenticate(username, payload.Password, payload.TOTP); err != nil {
		s.observeLogin(false)
		log.Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	userID := schema.UserID(username)
	if err := schema.ValidateUserID(userID); err != nil {
		s.observeLogin(false)
		log.Warn("http login rejected", "err", err)
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials)
		return
	}
	s.observeLogin(true)
	token, sess := s.sessions.create(userID)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"username": userID})
	log.Info("http login ok")
}

func (s *Server) observeLogin(ok bool) {
	if s.logins != nil {
		s.logins.OnLogin(ok)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context()).With("remote", remoteAddr(r))
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.userID, "http_session", entry.id)
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	changer, ok := s.authn.(PasswordChanger)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("password changes are not supported by this login gate"))
		return
	}
	var payload struct {
		CurrentPassword string `json:"current_password"`
		TOTP            string `json:"totp"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chpasswd decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case strings.TrimSpace(payload.CurrentPassword) == "":
		writeError(w, http.StatusBadRequest, errors.New("current password is required"))
		return
	case strings.TrimSpace(payload.NewPassword) == "":
		writeError(w, http.StatusBadRequest, errors.New("new password is required"))
		return
	case payload.NewPassword != payload.ConfirmPassword:
		writeError(w, http.StatusBadRequest, errors.New("passwords do not match"))
		return
	}
	if err := changer.ChangePassword(string(userID), payload.CurrentPassword, payload.TOTP, payload.NewPassword); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidTOTP) {
			status = http.StatusUnauthorized
		}
		log.Warn("http chpasswd failed", "err", err, "status", status)
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http chpasswd ok")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{"username": userID})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	resp, err := s.service.View(sessionContext(r.Context()), schema.ViewRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, log, "view", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http view ok", "images", len(resp.Images), "total", resp.Total)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	if s.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Warn("http upload parse failed", "err", err, "status", status)
		writeError(w, status, err)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	headers := r.MultipartForm.File["files"]
	files := make([]schema.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeServiceError(w, log, "upload", err)
			return
		}
		opened = append(opened, f)
		files = append(files, schema.UploadFile{Name: header.Filename, Data: f})
	}
	resp, err := s.service.Upload(sessionContext(r.Context()), schema.UploadRequest{
		UserID: userID,
		Files:  files,
		Tags:   schema.SplitTags(r.FormValue("tags")),
	})
	if err != nil {
		writeServiceError(w, log, "upload", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http upload ok", "images", len(resp.Images))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http search decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Search(sessionContext(r.Context()), schema.SearchRequest{
		UserID: userID,
		Query:  payload.Query,
	})
	if err != nil {
		writeServiceError(w, log, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, resp.View)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		Source      int  `json:"source"`
		Destination *int `json:"destination"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http reorder decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.Reorder(sessionContext(r.Context()), schema.ReorderRequest{
		UserID:      userID,
		Source:      payload.Source,
		Destination: payload.Destination,
	})
	if err != nil {
		writeServiceError(w, log, "reorder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": resp.View, "moved": resp.Moved})
}

func (s *Server) handleUpdateNiceTag(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	imageID := schema.ImageID(r.PathValue("id"))
	log := logx.WithUserImage(r.Context(), userID, imageID)
	var payload struct {
		NiceTag string `json:"niceTag"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http nice tag decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.UpdateNiceTag(sessionContext(r.Context()), schema.UpdateNiceTagRequest{
		UserID:  userID,
		ImageID: imageID,
		NiceTag: payload.NiceTag,
	})
	if err != nil {
		writeServiceError(w, log, "nice tag", err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Image)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	imageID := schema.ImageID(r.PathValue("id"))
	log := logx.WithUserImage(r.Context(), userID, imageID)
	resp, err := s.service.DeleteImage(sessionContext(r.Context()), schema.DeleteImageRequest{
		UserID:  userID,
		ImageID: imageID,
	})
	if err != nil {
		writeServiceError(w, log, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": resp.Deleted})
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	s.handleTag(w, r, userID, s.service.AddTag, "add tag")
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	s.handleTag(w, r, userID, s.service.RemoveTag, "remove tag")
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request, userID schema.UserID, apply func(context.Context, schema.TagRequest) (schema.TagResponse, error), op string) {
	imageID := schema.ImageID(r.PathValue("id"))
	log := logx.WithUserImage(r.Context(), userID, imageID)
	resp, err := apply(sessionContext(r.Context()), schema.TagRequest{
		UserID:  userID,
		ImageID: imageID,
		Tag:     r.PathValue("tag"),
	})
	if err != nil {
		writeServiceError(w, log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Image)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	imageID := schema.ImageID(r.PathValue("id"))
	log := logx.WithUserImage(r.Context(), userID, imageID)
	resp, err := s.service.OpenContent(r.Context(), schema.OpenContentRequest{
		UserID:  userID,
		ImageID: imageID,
	})
	if err != nil {
		writeServiceError(w, log, "content", err)
		return
	}
	defer func() {
		_ = resp.Content.Close()
	}()
	if resp.Image.ContentType != "" {
		w.Header().Set("Content-Type", resp.Image.ContentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, resp.Image.Name, resp.Image.CreatedAt, resp.Content)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())

	snapshot, err := s.service.View(ctx, schema.ViewRequest{UserID: userID})
	if err != nil {
		writeServiceError(w, log, "stream", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	ch, unsubscribe, seq, _ := s.hub.Subscribe(userID)
	defer unsubscribe()

	_ = writeSSEvent(w, StreamEvent{
		Seq:       seq,
		Type:      streamTypeSnapshot,
		Loading:   snapshot.Loading,
		Total:     snapshot.Total,
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 && lastID < seq {
		for _, event := range s.hub.Replay(userID, lastID) {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
		flusher.Flush()
	}

	done := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "images", len(snapshot.Images))
	for {
		select {
		case <-done:
			log.Info("http stream closed")
			return
		case <-ctx.Done():
			log.Info("http stream closed", "reason", "session ended")
			return
		case event, open := <-ch:
			if !open {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", remoteAddr(r))
		token := s.sessionToken(r)
		if token == "" {
			log.Debug("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		log = log.With("user", entry.userID, "http_session", entry.id)
		ctx := logx.ContextWithUserLogger(r.Context(), log, entry.userID)
		ctx = withSessionContext(ctx, entry)
		next(w, r.WithContext(ctx), entry.userID)
	}
}

type sessionContextKey struct{}

func withSessionContext(ctx context.Context, sess session) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// sessionContext swaps the request context for the session's, keeping the
// request logger. Work started from it outlives the request but not a logout.
func sessionContext(ctx context.Context) context.Context {
	if ctx == nil {
		return nil
	}
	sess, ok := ctx.Value(sessionContextKey{}).(session)
	if !ok || sess.ctx == nil {
		return ctx
	}
	logger := pslog.Ctx(ctx)
	return logx.CopyContextFields(pslog.ContextWithLogger(sess.ctx, logger), ctx)
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (schema.UserID, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.userID, entry.id
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, schema.ErrImageNotFound), errors.Is(err, schema.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidUser),
		errors.Is(err, schema.ErrInvalidIndex),
		errors.Is(err, schema.ErrEmptyUpload),
		errors.Is(err, schema.ErrInvalidTag):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, log pslog.Logger, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error("http "+op+" failed", "err", err, "status", status)
	} else {
		log.Warn("http "+op+" failed", "err", err, "status", status)
	}
	writeError(w, status, err)
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
