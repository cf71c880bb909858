package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/cache"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/lookup"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/providers"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

const (
	DefaultConcurrency      = 8
	DefaultProcessorTimeout = 60 * time.Second
)

// Options configures a Router. Only the processor is required.
type Options struct {
	// Directory answers applicant lookups. Nil means lookups are unavailable.
	Directory lookup.Directory

	// Store persists conversation history. Nil disables history.
	Store sessions.Store

	// Cache holds finished payloads. Nil creates a 5 minute, 1000 entry cache.
	Cache *cache.TTLCache[Payload]

	Concurrency      int
	ProcessorTimeout time.Duration
	MaxHistory       int
	LookupLimit      int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// OnLookup is called after every lookup attempt.
	OnLookup func(ctx context.Context, req Request, query string, rows int, err error)
}

// Router admits requests under a global semaphore and shapes their payloads.
type Router struct {
	processor   providers.Processor
	directory   lookup.Directory
	store       sessions.Store
	cache       *cache.TTLCache[Payload]
	sem         *semaphore.Weighted
	inflight    singleflight.Group
	maxHistory  int
	lookupLimit int
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	onLookup    func(ctx context.Context, req Request, query string, rows int, err error)
}

// New creates a router around processor.
func New(processor providers.Processor, opts Options) (*Router, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ProcessorTimeout == 0 {
		opts.ProcessorTimeout = DefaultProcessorTimeout
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = sessions.DefaultMaxHistory
	}
	if opts.LookupLimit <= 0 {
		opts.LookupLimit = lookup.DefaultLimit
	}
	if opts.Cache == nil {
		opts.Cache = cache.New[Payload](cache.Options{TTL: 5 * time.Minute, MaxEntries: 1000})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		processor:   providers.WithTimeout(processor, opts.ProcessorTimeout),
		directory:   opts.Directory,
		store:       opts.Store,
		cache:       opts.Cache,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		maxHistory:  opts.MaxHistory,
		lookupLimit: opts.LookupLimit,
		logger:      opts.Logger.With("component", "router"),
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		onLookup:    opts.OnLookup,
	}, nil
}

// Cache exposes the payload cache for maintenance sweeps.
func (r *Router) Cache() *cache.TTLCache[Payload] {
	return r.cache
}

// Route produces the payload for one request. It never returns an error;
// every failure is reported inside the payload.
func (r *Router) Route(ctx context.Context, req Request) Payload {
	ctx, span := r.tracer.TraceRoute(ctx, req.Instruction, req.ConnectionID)
	defer span.End()

	key := CacheKey(req.Instruction, req.Message)
	if payload, ok := r.cache.Get(key); ok {
		r.metrics.RecordCache(true)
		r.tracer.SetAttributes(span, "cache_hit", true)
		return payload
	}
	r.metrics.RecordCache(false)
	r.tracer.SetAttributes(span, "cache_hit", false)

	if !knownInstruction(req.Instruction) {
		payload := ErrorPayload(ErrUnknownInstruction)
		r.cache.Set(key, payload)
		return payload
	}

	// AI requests touch per-connection history, so they are only shared
	// within one connection.
	flightKey := key
	if req.Instruction == InstructionAI {
		flightKey = req.ConnectionID + "\x00" + key
	}
	result, _, _ := r.inflight.Do(flightKey, func() (any, error) {
		if payload, ok := r.cache.Get(key); ok {
			return payload, nil
		}
		payload, cacheable := r.admit(ctx, req)
		if cacheable {
			r.cache.Set(key, payload)
		}
		return payload, nil
	})
	return result.(Payload)
}

func (r *Router) admit(ctx context.Context, req Request) (Payload, bool) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return ErrorPayload(ErrRequestCancelled), false
	}
	r.metrics.SlotAcquired()
	defer func() {
		r.metrics.SlotReleased()
		r.sem.Release(1)
	}()
	return r.handle(ctx, req)
}

// handle runs with a semaphore slot held. At most one lookup and one
// processor call are made.
func (r *Router) handle(ctx context.Context, req Request) (Payload, bool) {
	var annotated Payload
	if query, ok := lookup.FindQuery(req.Message); ok {
		rows, err := r.search(ctx, req, query)
		switch {
		case err != nil:
			annotated.DBLookupUnavailable = true
			annotated.Notice = NoticeLookupUnavailable
		case len(rows) > 0:
			return r.summarize(ctx, req, rows), true
		}
	}

	var (
		payload Payload
		err     error
	)
	switch req.Instruction {
	case InstructionAI:
		payload, err = r.chat(ctx, req)
	case InstructionGrade:
		payload, err = r.grade(ctx, req)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "processor failed",
			"instruction", req.Instruction,
			"connection_id", req.ConnectionID,
			"error", err)
		if ctx.Err() != nil {
			return ErrorPayload(ErrRequestCancelled), false
		}
		payload = Payload{Error: ErrAIUnavailable, AIUnavailable: true}
		payload.DBLookupUnavailable = annotated.DBLookupUnavailable
		payload.Notice = annotated.Notice
		return payload, false
	}
	payload.DBLookupUnavailable = annotated.DBLookupUnavailable
	payload.Notice = annotated.Notice
	return payload, true
}

func (r *Router) search(ctx context.Context, req Request, query string) ([]models.Record, error) {
	ctx, span := r.tracer.TraceLookup(ctx)
	defer span.End()

	var (
		rows []models.Record
		err  = lookup.ErrUnavailable
	)
	if r.directory != nil {
		rows, err = r.directory.Search(ctx, query, r.lookupLimit)
	}
	if r.onLookup != nil {
		r.onLookup(ctx, req, query, len(rows), err)
	}

	switch {
	case err != nil:
		r.tracer.RecordError(span, err)
		r.metrics.RecordLookup("unavailable")
		r.logger.WarnContext(ctx, "applicant lookup failed", "connection_id", req.ConnectionID, "error", err)
	case len(rows) == 0:
		r.metrics.RecordLookup("empty")
	default:
		r.metrics.RecordLookup("rows")
	}
	r.tracer.SetAttributes(span, "rows", len(rows))
	return rows, err
}

// summarize asks the processor to describe rows. The rows are returned even
// when summarising fails.
func (r *Router) summarize(ctx context.Context, req Request, rows []models.Record) Payload {
	encoded, err := json.Marshal(rows)
	if err != nil {
		encoded = []byte(fmt.Sprint(rows))
	}
	prompt := fmt.Sprintf("Records: %s\n\nRequest: %s", encoded, req.Message)
	summary, err := r.process(ctx, providers.Request{Mode: providers.ModeSummary, Message: prompt})
	if err != nil {
		r.logger.WarnContext(ctx, "summary failed", "connection_id", req.ConnectionID, "error", err)
		summary = fmt.Sprintf("Found %d matching applicant record(s).", len(rows))
	}
	return Payload{Message: summary, DBResults: rows}
}

func (r *Router) chat(ctx context.Context, req Request) (Payload, error) {
	history := r.history(ctx, req.ConnectionID)
	reply, err := r.process(ctx, providers.Request{
		Mode:    providers.ModeChat,
		Message: req.Message,
		History: history,
	})
	if err != nil {
		return Payload{}, err
	}
	r.remember(ctx, req.ConnectionID, req.Message, reply)
	return Payload{Message: reply}, nil
}

func (r *Router) grade(ctx context.Context, req Request) (Payload, error) {
	result, err := r.process(ctx, providers.Request{Mode: providers.ModeGrader, Message: req.Message})
	if err != nil {
		return Payload{}, err
	}
	return Payload{Result: result}, nil
}

func (r *Router) process(ctx context.Context, preq providers.Request) (string, error) {
	ctx, span := r.tracer.TraceProcessor(ctx, r.processor.Name(), string(preq.Mode))
	defer span.End()

	start := time.Now()
	out, err := r.processor.Process(ctx, preq)
	status := "success"
	if err != nil {
		status = "error"
		r.tracer.RecordError(span, err)
	}
	r.metrics.RecordProcessor(r.processor.Name(), string(preq.Mode), status, time.Since(start).Seconds())
	return out, err
}

func (r *Router) history(ctx context.Context, connectionID string) []providers.Turn {
	if r.store == nil || connectionID == "" {
		return nil
	}
	entries, err := r.store.GetHistory(ctx, connectionID, r.maxHistory)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load history", "connection_id", connectionID, "error", err)
		return nil
	}
	turns := make([]providers.Turn, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, providers.Turn{Role: e.Role, Text: e.Message})
	}
	return turns
}

// remember persists both sides of an exchange and applies the history cap.
// Failures are logged; the reply is still delivered. A connection that
// closed while the processor ran has no session row, and its exchange is
// dropped.
func (r *Router) remember(ctx context.Context, connectionID, message, reply string) {
	if r.store == nil || connectionID == "" {
		return
	}
	for _, turn := range []struct {
		role models.Role
		text string
	}{{models.RoleUser, message}, {models.RoleAssistant, reply}} {
		err := r.store.AddHistory(ctx, connectionID, turn.role, turn.text)
		if errors.Is(err, sessions.ErrSessionNotFound) {
			r.logger.DebugContext(ctx, "connection closed, history dropped", "connection_id", connectionID)
			return
		}
		if err != nil {
			r.logger.WarnContext(ctx, "failed to persist history", "connection_id", connectionID, "error", err)
			return
		}
	}
	if _, err := r.store.TruncateHistory(ctx, connectionID, r.maxHistory); err != nil {
		r.logger.WarnContext(ctx, "failed to truncate history", "connection_id", connectionID, "error", err)
	}
}
