// Package odoo is a client for the ERP's external RPC API. It authenticates
// once per TTL, retries transient failures with capped exponential backoff and
// offers idempotent ensure helpers on top of the ORM methods.
package odoo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/erp/provisioner/internal/infrastructure/odoo"

// Config holds connection and behaviour settings.
type Config struct {
	URL           string
	DB            string
	Username      string
	Password      string
	MaxRetries    int
	BackoffFactor float64
	MaxBackoff    time.Duration
	BatchSize     int
	SearchLimit   int
	AuthTTL       time.Duration
	RateLimit     float64 // requests per second, 0 = unlimited
}

// DefaultConfig returns the defaults for everything except credentials.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		BackoffFactor: 1.5,
		MaxBackoff:    60 * time.Second,
		BatchSize:     500,
		SearchLimit:   100,
		AuthTTL:       time.Hour,
	}
}

// Client executes ORM calls over a Transport. It is safe for concurrent use.
type Client struct {
	cfg       Config
	transport Transport
	logger    *zap.Logger
	limiter   *rate.Limiter
	metrics   *Metrics
	recorder  CallRecorder
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu     sync.Mutex
	uid    int64
	authAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCallRecorder records every call attempt.
func WithCallRecorder(r CallRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces the clock used for the auth cache, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client. Zero-valued tuning fields take their defaults.
func NewClient(cfg Config, transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("odoo: transport is required")
	}
	if cfg.DB == "" || cfg.Username == "" {
		return nil, errors.New("odoo: database and username are required")
	}
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if cfg.AuthTTL <= 0 {
		cfg.AuthTTL = def.AuthTTL
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		sleep:     sleepContext,
		now:       time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BatchSize returns the configured batch size.
func (c *Client) BatchSize() int { return c.cfg.BatchSize }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// factor^(attempt-1) seconds, capped at MaxBackoff.
func (c *Client) Backoff(attempt int) time.Duration {
	secs := math.Pow(c.cfg.BackoffFactor, float64(attempt-1))
	d := time.Duration(secs * float64(time.Second))
	if d > c.cfg.MaxBackoff || d <= 0 {
		return c.cfg.MaxBackoff
	}
	return d
}

// Version returns the server version info from the common service.
func (c *Client) Version(ctx context.Context) (map[string]any, error) {
	res, err := c.transport.Call(ctx, ServiceCommon, "version", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrClient, err)
	}
	info, _ := res.(map[string]any)
	return info, nil
}

// Authenticate returns the cached uid, logging in again once the TTL expired.
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid != 0 && c.now().Sub(c.authAt) < c.cfg.AuthTTL {
		return c.uid, nil
	}

	authErr := func(err error) error {
		c.metrics.authFailed()
		return &AuthenticationError{URL: c.cfg.URL, DB: c.cfg.DB, User: c.cfg.Username, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		res, err := c.transport.Call(ctx, ServiceCommon, "authenticate",
			[]any{c.cfg.DB, c.cfg.Username, c.cfg.Password, map[string]any{}})
		if err == nil {
			uid := AsInt(res)
			if uid == 0 {
				return 0, authErr(errors.New("invalid credentials"))
			}
			c.uid = uid
			c.authAt = c.now()
			c.logger.Info("authenticated", zap.Int64("uid", uid), zap.String("db", c.cfg.DB))
			return uid, nil
		}
		if isAuthRejection(err) {
			return 0, authErr(err)
		}
		if ctx.Err() != nil {
			return 0, authErr(ctx.Err())
		}
		lastErr = err
		if attempt < c.cfg.MaxRetries {
			wait := c.Backoff(attempt)
			c.logger.Warn("authentication attempt failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			if err := c.sleep(ctx, wait); err != nil {
				return 0, authErr(err)
			}
		}
	}
	return 0, authErr(fmt.Errorf("after %d attempts: %w", c.cfg.MaxRetries, lastErr))
}

// ExecuteKw calls method on model with retries.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	ctx, span := c.tracer.Start(ctx, "odoo."+model+"."+method, trace.WithAttributes(
		attribute.String("odoo.model", model),
		attribute.String("odoo.method", method),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				span.RecordError(err)
				return nil, err
			}
		}

		start := time.Now()
		res, err := c.transport.Call(ctx, ServiceObject, "execute_kw",
			[]any{c.cfg.DB, uid, c.cfg.Password, model, method, args, kwargs})
		elapsed := time.Since(start)

		if err == nil {
			c.record(model, method, StatusSuccess, attempt, elapsed, fmt.Sprintf("%T", res), nil)
			span.SetAttributes(attribute.Int("odoo.attempts", attempt))
			return res, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			c.record(model, method, StatusFailed, attempt, elapsed, "", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable fault")
			return nil, &RPCCallError{Model: model, Method: method, Err: err}
		}
		if ctx.Err() != nil {
			c.record(model, method, StatusFailed, attempt, elapsed, "", err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		}
		if attempt == c.cfg.MaxRetries {
			c.record(model, method, StatusFailed, attempt, elapsed, "", err)
			break
		}

		c.record(model, method, StatusRetry, attempt, elapsed, "", err)
		wait := c.Backoff(attempt)
		c.logger.Warn("rpc attempt failed, retrying",
			zap.String("model", model), zap.String("method", method),
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, &RetryExhaustedError{Model: model, Method: method, Attempts: c.cfg.MaxRetries, Err: lastErr}
}

func (c *Client) record(model, method, status string, attempt int, d time.Duration, resultType string, err error) {
	c.metrics.observe(model, method, status, d)
	if c.recorder == nil {
		return
	}
	entry := CallEntry{
		Timestamp:  c.now(),
		Model:      model,
		Method:     method,
		Status:     status,
		Attempt:    attempt,
		Duration:   d,
		ResultType: resultType,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.recorder.RecordCall(entry)
}

// SearchOptions narrows a search. Limit 0 means the configured SearchLimit.
type SearchOptions struct {
	Offset int
	Limit  int
	Order  string
}

func (c *Client) searchKwargs(opts SearchOptions) map[string]any {
	limit := opts.Limit
	if limit <= 0 {
		limit = c.cfg.SearchLimit
	}
	if limit > c.cfg.BatchSize {
		limit = c.cfg.BatchSize
	}
	kw := map[string]any{"offset": opts.Offset, "limit": limit}
	if opts.Order != "" {
		kw["order"] = opts.Order
	}
	return kw
}

func domainArg(d Domain) []any {
	if d == nil {
		return []any{}
	}
	return []any(d)
}

// Search returns the ids matching domain.
func (c *Client) Search(ctx context.Context, model string, domain Domain, opts SearchOptions) ([]int64, error) {
	res, err := c.ExecuteKw(ctx, model, "search", []any{domainArg(domain)}, c.searchKwargs(opts))
	if err != nil {
		return nil, err
	}
	return AsIDs(res), nil
}

// SearchRead returns fields of the records matching domain.
func (c *Client) SearchRead(ctx context.Context, model string, domain Domain, fields []string, opts SearchOptions) ([]Record, error) {
	kw := c.searchKwargs(opts)
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	res, err := c.ExecuteKw(ctx, model, "search_read", []any{domainArg(domain)}, kw)
	if err != nil {
		return nil, err
	}
	return AsRecords(res), nil
}

// SearchCount returns the number of records matching domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain Domain) (int, error) {
	res, err := c.ExecuteKw(ctx, model, "search_count", []any{domainArg(domain)}, nil)
	if err != nil {
		return 0, err
	}
	return int(AsInt(res)), nil
}

// Read returns fields of ids. No ids means no call.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	kw := map[string]any{}
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	res, err := c.ExecuteKw(ctx, model, "read", []any{int64sToAny(ids)}, kw)
	if err != nil {
		return nil, err
	}
	return AsRecords(res), nil
}

// Create creates one record and returns its id.
func (c *Client) Create(ctx context.Context, model string, values Values) (int64, error) {
	if len(values) == 0 {
		return 0, &ValidationError{Op: "create " + model, Message: "values must not be empty"}
	}
	res, err := c.ExecuteKw(ctx, model, "create", []any{map[string]any(values)}, nil)
	if err != nil {
		return 0, err
	}
	return AsInt(res), nil
}

// CreateBatch creates several records in one call.
func (c *Client) CreateBatch(ctx context.Context, model string, values []Values) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	list := make([]any, len(values))
	for i, v := range values {
		if len(v) == 0 {
			return nil, &ValidationError{Op: "create " + model, Message: fmt.Sprintf("values[%d] must not be empty", i)}
		}
		list[i] = map[string]any(v)
	}
	res, err := c.ExecuteKw(ctx, model, "create", []any{list}, nil)
	if err != nil {
		return nil, err
	}
	return AsIDs(res), nil
}

// Write updates ids with values. No ids means no call and false.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values Values) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	if len(values) == 0 {
		return false, &ValidationError{Op: "write " + model, Message: "values must not be empty"}
	}
	res, err := c.ExecuteKw(ctx, model, "write", []any{int64sToAny(ids), map[string]any(values)}, nil)
	if err != nil {
		return false, err
	}
	return AsBool(res), nil
}

// Unlink deletes ids. No ids means no call and false.
func (c *Client) Unlink(ctx context.Context, model string, ids []int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	res, err := c.ExecuteKw(ctx, model, "unlink", []any{int64sToAny(ids)}, nil)
	if err != nil {
		return false, err
	}
	return AsBool(res), nil
}

// Call invokes an arbitrary model method.
func (c *Client) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	return c.ExecuteKw(ctx, model, method, args, kwargs)
}

// FindOne returns the single id matching domain, ErrRecordNotFound when
// nothing matches and *RecordAmbiguousError when several do.
func (c *Client) FindOne(ctx context.Context, model string, domain Domain) (int64, error) {
	ids, err := c.Search(ctx, model, domain, SearchOptions{Limit: 2})
	if err != nil {
		return 0, err
	}
	switch len(ids) {
	case 0:
		return 0, ErrRecordNotFound
	case 1:
		return ids[0], nil
	default:
		return 0, &RecordAmbiguousError{Model: model, Domain: domain}
	}
}

// EnsureRecord finds the record matching domain, writing updateVals when
// given, or creates it from createVals. It reports whether it created.
func (c *Client) EnsureRecord(ctx context.Context, model string, domain Domain, createVals, updateVals Values) (int64, bool, error) {
	id, err := c.FindOne(ctx, model, domain)
	switch {
	case err == nil:
		if len(updateVals) > 0 {
			if _, err := c.Write(ctx, model, []int64{id}, updateVals); err != nil {
				return id, false, err
			}
		}
		return id, false, nil
	case errors.Is(err, ErrRecordNotFound):
		id, err := c.Create(ctx, model, createVals)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	default:
		return 0, false, err
	}
}

// EnsureRecords ensures each record exists, matching on matchFields. Existing
// records are updated with the full values. It returns the ids created and
// the number of existing records updated.
func (c *Client) EnsureRecords(ctx context.Context, model string, records []Values, matchFields []string) ([]int64, int, error) {
	if len(matchFields) == 0 {
		return nil, 0, &ValidationError{Op: "ensure " + model, Message: "match fields must not be empty"}
	}
	var created []int64
	updated := 0
	for i, rec := range records {
		var domain Domain
		for _, f := range matchFields {
			v, ok := rec[f]
			if !ok {
				return created, updated, &ValidationError{Op: "ensure " + model, Message: fmt.Sprintf("record %d lacks match field %q", i, f)}
			}
			domain = domain.And(f, "=", v)
		}
		id, wasCreated, err := c.EnsureRecord(ctx, model, domain, rec, rec)
		if err != nil {
			return created, updated, err
		}
		if wasCreated {
			created = append(created, id)
		} else {
			updated++
		}
	}
	return created, updated, nil
}
