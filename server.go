package dropgallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/dropgallery/core"
	"pkt.systems/dropgallery/httpapi"
	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/internal/auth"
	"pkt.systems/dropgallery/internal/blob"
	"pkt.systems/dropgallery/internal/metrics"
	"pkt.systems/dropgallery/internal/store"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// Server composes storage, the gallery service, and the HTTP API/UI.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service    schema.ServiceConfig
	HTTP       httpapi.Config
	Auth       AuthConfig
	Storage    store.Config
	BlobDir    string
	HubHistory int
}

// AuthConfig selects the login gate.
type AuthConfig struct {
	// Mode is appconfig.AuthModeStatic or appconfig.AuthModeFile.
	Mode      string
	Username  string
	Password  string
	UserFile  string
	SeedUsers []SeedUser
}

// SeedUser seeds an initial user record.
type SeedUser struct {
	Username     string
	PasswordHash string
	TOTPSecret   string
}

// ServerDeps carries optional overrides. Nil fields are built from config.
type ServerDeps struct {
	Logger        pslog.Logger
	Store         store.Store
	Blobs         core.BlobStore
	Authenticator auth.Authenticator
	EventSink     core.EventSink
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableMetrics bool
}

// WithMetrics registers prometheus collectors and serves /metrics.
func WithMetrics() ServerOption {
	return func(o *serverOptions) { o.enableMetrics = true }
}

// New constructs a composable gallery server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized
	logger := deps.Logger

	authn := deps.Authenticator
	if authn == nil {
		authn, err = buildAuthenticator(cfg.Auth, logger)
		if err != nil {
			return nil, err
		}
	}

	blobs := deps.Blobs
	if blobs == nil {
		blobStore, err := blob.NewStore(cfg.BlobDir, logger)
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		blobs = blobStore
	}

	gallery := deps.Store
	ownsStore := false
	if gallery == nil {
		gallery, err = store.Open(cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("gallery store: %w", err)
		}
		ownsStore = true
	}

	hub := httpapi.NewHub(cfg.HubHistory)
	var m *metrics.Metrics
	sinks := []core.EventSink{deps.EventSink, hub}
	if options.enableMetrics {
		m = metrics.New()
		sinks = append(sinks, m)
	}

	service, err := core.NewService(cfg.Service, core.ServiceDeps{
		Store:     gallery,
		Blobs:     blobs,
		EventSink: fanout(sinks...),
		Logger:    logger,
	})
	if err != nil {
		if ownsStore {
			_ = gallery.Close()
		}
		return nil, err
	}

	httpSrv := httpapi.NewServer(cfg.HTTP, service, authn, hub)
	if m != nil {
		httpSrv.SetMetricsHandler(m.Handler())
		httpSrv.SetLoginObserver(m)
	}

	srv := &compositeServer{
		cfg:     cfg,
		options: options,
		httpSrv: httpSrv,
		service: service,
	}
	if ownsStore {
		srv.store = gallery
	}
	return srv, nil
}

func buildAuthenticator(cfg AuthConfig, logger pslog.Logger) (auth.Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", appconfig.AuthModeStatic:
		static := auth.Static{Username: strings.TrimSpace(cfg.Username), Password: cfg.Password}
		if static.Username == "" {
			static = auth.DefaultStatic()
		}
		return auth.Gate(static), nil
	case appconfig.AuthModeFile:
		users, err := auth.NewStoreWithLogger(cfg.UserFile, toSeedUsers(cfg.SeedUsers), logger)
		if err != nil {
			return nil, fmt.Errorf("user store: %w", err)
		}
		return users, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	httpSrv *httpapi.Server
	service core.Service
	store   store.Store
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
	closed  bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"metrics", s.options.enableMetrics,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
		"storage", s.cfg.Storage.Driver,
		"auth", s.cfg.Auth.Mode,
	)
	s.httpSrv.SetBaseContext(s.ctx)
	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		s.closeStore()
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		s.closeStore()
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	s.closeStore()
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

// closeStore releases a store the compositor opened itself, once.
func (s *compositeServer) closeStore() {
	s.mu.Lock()
	if s.closed || s.store == nil {
		s.closed = true
		s.mu.Unlock()
		return
	}
	s.closed = true
	st := s.store
	log := s.logger
	s.mu.Unlock()
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if err := st.Close(); err != nil {
		log.Warn("server store close failed", "err", err)
		return
	}
	log.Debug("server store closed")
}

func toSeedUsers(users []SeedUser) []appconfig.SeedUser {
	if len(users) == 0 {
		return nil
	}
	out := make([]appconfig.SeedUser, 0, len(users))
	for _, user := range users {
		out = append(out, appconfig.SeedUser{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			TOTPSecret:   user.TOTPSecret,
		})
	}
	return out
}
