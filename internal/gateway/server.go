// Package gateway serves the encrypted websocket protocol and the auxiliary
// HTTP endpoints, and owns the lifecycle of every shared component.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/audit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/auth"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/backoff"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/cache"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/config"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/keyexchange"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/lookup"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/providers"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/ratelimit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
)

// ServiceName identifies the gateway in traces.
const ServiceName = "hireranker"

// Server is the HireRanker gateway.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	registry       *sessions.Registry
	store          sessions.Store
	directory      lookup.Directory
	router         *router.Router
	tokens         *auth.TokenService
	serverKey      *keyexchange.ServerKey
	codec          *envelopeCodec
	events         *audit.EventLog
	tokenLimiter   *ratelimit.Limiter
	requestLimiter *ratelimit.Limiter
	dispatcher     *dispatcher
	upgrader       websocket.Upgrader

	baseCtx    context.Context
	baseCancel context.CancelFunc

	connMu   sync.Mutex
	conns    map[string]*wsConnection
	connWG   sync.WaitGroup
	draining bool

	cron           *cron.Cron
	httpServer     *http.Server
	httpListener   net.Listener
	shutdownTracer func(context.Context) error
	shutdownOnce   sync.Once
	startTime      time.Time
}

// Option overrides a component that NewServer would otherwise build from
// the configuration.
type Option func(*options)

type options struct {
	store     sessions.Store
	processor providers.Processor
	directory lookup.Directory
	serverKey *keyexchange.ServerKey
	events    *audit.EventLog
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	version   string
}

// WithStore uses store instead of opening the configured SQLite file.
func WithStore(store sessions.Store) Option {
	return func(o *options) { o.store = store }
}

// WithProcessor uses p instead of the configured provider.
func WithProcessor(p providers.Processor) Option {
	return func(o *options) { o.processor = p }
}

// WithDirectory uses d for applicant lookups.
func WithDirectory(d lookup.Directory) Option {
	return func(o *options) { o.directory = d }
}

// WithServerKey uses key instead of loading crypto.private_key_path.
func WithServerKey(key *keyexchange.ServerKey) Option {
	return func(o *options) { o.serverKey = key }
}

// WithEventLog uses log for operational events.
func WithEventLog(log *audit.EventLog) Option {
	return func(o *options) { o.events = log }
}

// WithMetrics registers collectors on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer uses t for spans.
func WithTracer(t *observability.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithVersion sets the service version reported in traces.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// NewServer wires every component from cfg. Components supplied through
// options are used as-is and still closed on Shutdown.
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		registry:       sessions.NewRegistry(),
		tokens:         auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		tokenLimiter:   ratelimit.NewLimiter(cfg.RateLimit.Token),
		requestLimiter: ratelimit.NewLimiter(cfg.RateLimit.Request),
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		conns:          make(map[string]*wsConnection),
		shutdownTracer: func(context.Context) error { return nil },
		startTime:      time.Now(),
	}
	if err := s.build(o); err != nil {
		_ = s.closeComponents(context.Background())
		baseCancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(o options) error {
	cfg := s.cfg

	s.metrics = o.metrics
	if s.metrics == nil {
		s.metrics = observability.NewMetrics()
	}
	s.tracer = o.tracer
	if s.tracer == nil {
		s.tracer, s.shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    ServiceName,
			ServiceVersion: o.version,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			Insecure:       cfg.Tracing.Insecure,
		})
	}

	s.events = o.events
	if s.events == nil {
		events, err := audit.NewEventLog(cfg.Events, s.logger)
		if err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		s.events = events
	}

	s.serverKey = o.serverKey
	if s.serverKey == nil {
		key, err := keyexchange.LoadServerKey(cfg.Crypto.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("load server key (run `hireranker keygen`): %w", err)
		}
		s.serverKey = key
	}
	s.codec = newEnvelopeCodec(s.serverKey, cfg.Crypto.PlaintextMode)
	if cfg.Crypto.PlaintextMode {
		s.logger.Warn("plaintext mode enabled: envelopes are not encrypted")
	}

	s.store = o.store
	if s.store == nil {
		store, err := sessions.NewSQLiteStore(cfg.Sessions.SQLiteConfig)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		s.store = store
	}

	s.directory = o.directory
	if s.directory == nil {
		s.directory = newDirectory(cfg.Lookup, s.logger)
	}

	processor := o.processor
	if processor == nil {
		p, err := providers.New(cfg.Processor)
		if err != nil {
			return fmt.Errorf("processor: %w", err)
		}
		processor = p
	}

	responses := cache.New[router.Payload](cache.Options{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	r, err := router.New(processor, router.Options{
		Directory:        s.directory,
		Store:            s.store,
		Cache:            responses,
		Concurrency:      cfg.Router.Concurrency,
		ProcessorTimeout: cfg.Router.ProcessorTimeout,
		MaxHistory:       cfg.Sessions.MaxHistory,
		LookupLimit:      lookup.DefaultLimit,
		Logger:           s.logger,
		Metrics:          s.metrics,
		Tracer:           s.tracer,
		OnLookup: func(ctx context.Context, req router.Request, query string, rows int, err error) {
			s.events.Lookup(ctx, req.User, query, rows, err)
		},
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	s.router = r
	s.dispatcher = newDispatcher(s.baseCtx, r, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}
	return nil
}

// newDirectory opens the applicant database. A bad DSN degrades lookups
// instead of failing startup.
func newDirectory(cfg config.LookupConfig, logger *slog.Logger) lookup.Directory {
	if !cfg.Enabled {
		return lookup.Unavailable{}
	}
	dir, err := lookup.NewPostgresDirectory(cfg.Postgres)
	if err != nil {
		logger.Warn("applicant lookup disabled", "error", err)
		return lookup.Unavailable{}
	}
	return dir
}

// directoryProbeAttempts bounds the startup connectivity check.
const directoryProbeAttempts = 4

// probeDirectory checks that a configured applicant database is reachable
// so misconfiguration shows up at startup instead of on the first lookup.
// Lookups keep working lazily either way.
func (s *Server) probeDirectory() {
	pinger, ok := s.directory.(interface{ Ping(context.Context) error })
	if !ok {
		return
	}
	err := backoff.Retry(s.baseCtx, backoff.DefaultPolicy(), directoryProbeAttempts, nil, func(attempt int) error {
		err := pinger.Ping(s.baseCtx)
		if err != nil {
			s.logger.Debug("applicant database not reachable", "attempt", attempt, "error", err)
		}
		return err
	})
	switch {
	case err == nil:
		s.logger.Info("applicant database reachable")
	case s.baseCtx.Err() == nil:
		s.logger.Warn("applicant database unreachable; lookups will report unavailable", "error", err)
	}
}

// Start launches the maintenance scheduler and serves HTTP in the
// background. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startMaintenance(); err != nil {
		return err
	}
	if err := s.listen(); err != nil {
		return err
	}
	go s.probeDirectory()
	go func() {
		if err := s.serve(); err != nil {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.startMaintenance(); err != nil {
		return errors.Join(err, s.Shutdown(context.Background()))
	}
	if err := s.listen(); err != nil {
		return errors.Join(err, s.Shutdown(context.Background()))
	}
	go s.probeDirectory()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.serve)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections, closes live ones, waits for
// in-flight requests and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("stopping server")
		s.stopHTTPServer(ctx)
		s.stopMaintenance()

		for _, c := range s.drainConnections() {
			c.close()
		}
		if waitErr := waitGroup(ctx, &s.connWG); waitErr != nil {
			err = errors.Join(err, fmt.Errorf("waiting for connections: %w", waitErr))
		}
		if s.dispatcher != nil {
			if closeErr := s.dispatcher.Close(ctx); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("waiting for requests: %w", closeErr))
			}
		}
		s.baseCancel()
		err = errors.Join(err, s.closeComponents(ctx))
	})
	return err
}

func (s *Server) closeComponents(ctx context.Context) error {
	var err error
	if s.events != nil {
		err = errors.Join(err, s.events.Close())
	}
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	if closer, ok := s.directory.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	if s.shutdownTracer != nil {
		err = errors.Join(err, s.shutdownTracer(ctx))
	}
	return err
}

func (s *Server) track(c *wsConnection) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.draining {
		return false
	}
	s.conns[c.id] = c
	s.connWG.Add(1)
	return true
}

func (s *Server) untrack(c *wsConnection) {
	s.connMu.Lock()
	delete(s.conns, c.id)
	s.connMu.Unlock()
	s.connWG.Done()
}

func (s *Server) drainConnections() []*wsConnection {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.draining = true
	conns := make([]*wsConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Registry exposes live connection state.
func (s *Server) Registry() *sessions.Registry {
	return s.registry
}

// Router exposes the request router.
func (s *Server) Router() *router.Router {
	return s.router
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
