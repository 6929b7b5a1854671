// Package server wires the bike map services into one HTTP handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-bikemap/internal/api"
	"github.com/joeblew999/plat-bikemap/internal/api/viewer"
	"github.com/joeblew999/plat-bikemap/internal/cache"
	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/interact"
	"github.com/joeblew999/plat-bikemap/internal/logger"
	"github.com/joeblew999/plat-bikemap/internal/metrics"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port string

	MapboxToken string
	GeocoderURL string // empty uses the Mapbox API
	BaseStyle   string

	Datasets service.DatasetURLs
	Fetch    service.FetchConfig
	Redis    cache.RedisConfig // empty Addr keeps the cache in memory

	SessionIdle   time.Duration
	SweepInterval time.Duration
	WarmCache     bool
}

// DefaultConfig returns a configuration for local use.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          "8086",
		Datasets:      service.DefaultDatasetURLs(),
		Fetch:         service.DefaultFetchConfig(),
		SessionIdle:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Server is the bike map HTTP server.
type Server struct {
	config   Config
	log      *zap.Logger
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	links    *humastar.Links
	metrics  *metrics.Metrics
	bus      *service.EventBus
	sources  *service.SourceService
	sessions *service.SessionStore
	viewer   *viewer.Handler
	redis    *cache.Redis
	renderer *templates.Renderer
	geocoder panel.Geocoder
}

// New creates a bike map server. It fails only when a configured Redis
// cannot be reached.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	m := metrics.New()

	s := &Server{
		config:   cfg,
		log:      log,
		mux:      mux,
		metrics:  m,
		bus:      service.NewEventBus(),
		renderer: templates.Default(),
	}

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-bikemap API", api.Version)
	humaConfig.Info.Description = "Toronto cycling map: sessions, layers, sources, interaction and the control panel."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers,
		humastar.LinkTransformer(func() *humastar.Links { return s.links }))
	s.humaAPI = humago.New(mux, humaConfig)

	var c cache.Cache = cache.NewMemory()
	if cfg.Redis.Addr != "" {
		r, err := cache.NewRedis(cfg.Redis, log.Named("redis"))
		if err != nil {
			return nil, err
		}
		s.redis = r
		c = r
	}
	s.sources = service.NewSourceService(cfg.Fetch, c, log.Named("sources"), m)

	if cfg.MapboxToken != "" {
		s.geocoder = geocode.NewClient(geocode.Config{
			BaseURL:     cfg.GeocoderURL,
			AccessToken: cfg.MapboxToken,
			Country:     "ca",
		}, log.Named("geocode"))
	}

	s.sessions = service.NewSessionStore(service.DefaultSessionConfig(), s.sources, s.build, s.bus, log.Named("session"), m)
	s.viewer = viewer.NewHandler(s.sessions, s.geocoder, s.bus, s.renderer, log.Named("viewer"))

	s.routes()
	s.links = humastar.AutoLinks(s.humaAPI)
	s.handler = logger.Access(log.Named("http"), m.ObserveHTTPRequest)(mux)
	return s, nil
}

// build prepares a new session: sources, layers and interaction handlers.
// Unreachable datasets leave their layers empty rather than failing.
func (s *Server) build(ctx context.Context, ms *service.MapSession) error {
	err := service.SetupBikeMap(ctx, ms, service.BikeMapSources(s.config.Datasets))
	if err != nil {
		if service.IsConfigurationError(err) {
			return err
		}
		s.log.Warn("session started with missing data", zap.String("session", ms.ID()), zap.Error(err))
	}
	_, err = interact.NewDispatcher(s.log.Named("interact")).Bind(ms)
	return err
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the session store.
func (s *Server) Sessions() *service.SessionStore { return s.sessions }

// Close closes server resources.
func (s *Server) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, api.NewAPIHandler(api.Services{
		Sessions: s.sessions,
		Geocoder: s.geocoder,
		Datasets: s.config.Datasets,
	}, s.log.Named("api")))

	// Panel SSE routes using Huma + Datastar SDK
	s.viewer.RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", s.metrics.Handler())

	// Page routes
	s.mux.Handle("/", s.viewer.Page(viewer.PageConfig{
		MapboxToken: s.config.MapboxToken,
		BaseStyle:   s.config.BaseStyle,
		Interactive: interact.NewDispatcher(nil).Layers(),
		Links:       func() []string { return s.links.Root() },
	}))
}

// Run serves on the configured address until ctx is done, sweeping idle
// sessions alongside. The dataset cache is warmed first when enabled.
func (s *Server) Run(ctx context.Context) error {
	if s.config.WarmCache {
		if err := s.sources.Warm(ctx, service.BikeMapSources(s.config.Datasets)); err != nil {
			s.log.Warn("cache warm-up incomplete", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              s.config.Host + ":" + s.config.Port,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweep := s.config.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.sessions.Janitor(ctx, sweep, s.config.SessionIdle)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
