// Package pizza is a thin client over the Pizza API and the tool
// descriptors built on it.
package pizza

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/cache"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/validation"
)

// RequestIDHeader carries a per-call identifier to the Pizza API
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of a failed response ends up in the error
const maxErrorBody = 2048

// APIError is returned for non-2xx responses
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed: %d %s", e.Method, e.Path, e.Status, e.Body)
}

// Temporary reports whether the status is worth retrying
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsUpstreamFailure decides which errors trip circuit breakers. Client errors
// are the caller's fault and leave the breaker alone.
func IsUpstreamFailure(err error) bool {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Options configures a Client
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RateLimit     float64 // requests per second, 0 disables limiting
	Burst         int
	RetryAttempts int
	RetryBackoff  time.Duration

	HTTPClient  *http.Client
	Cache       *cache.ResponseCache // menu reads; nil disables caching
	Breakers    *errors.CircuitBreakerManager
	Degradation *errors.GracefulDegradationManager
	Tracer      trace.Tracer
	Logger      *logging.StructuredLogger
}

// Client calls the Pizza API
type Client struct {
	baseURL      *url.URL
	http         *http.Client
	limiter      *rate.Limiter
	retries      int
	retryBackoff time.Duration
	cache        *cache.ResponseCache
	breakers     *errors.CircuitBreakerManager
	degradation  *errors.GracefulDegradationManager
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
	logger       *logging.StructuredLogger
}

// NewClient validates opts and builds a client
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("pizza API base URL is not absolute: %q", opts.BaseURL), err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	breakers := opts.Breakers
	if breakers == nil {
		template := errors.DefaultCircuitBreakerConfig("")
		template.IsFailure = IsUpstreamFailure
		breakers = errors.NewCircuitBreakerManager(template)
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewStructuredLogger("pizza_client")
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	return &Client{
		baseURL:      base,
		http:         httpClient,
		limiter:      rate.NewLimiter(limit, burst),
		retries:      max(opts.RetryAttempts, 0),
		retryBackoff: backoff,
		cache:        opts.Cache,
		breakers:     breakers,
		degradation:  opts.Degradation,
		tracer:       tracer,
		propagator:   otel.GetTextMapPropagator(),
		logger:       logger,
	}, nil
}

// request describes one API call. endpoint is the path template used to
// name the circuit breaker and span, path is the concrete path.
type request struct {
	method   string
	endpoint string
	path     string
	query    url.Values
	body     any
	cached   bool
}

func (r request) target() string {
	if len(r.query) == 0 {
		return r.path
	}
	return r.path + "?" + r.query.Encode()
}

func (r request) cacheKey() string {
	return r.method + " " + r.target()
}

// GetMenu reads a menu resource. Responses are cached and, while the Pizza
// API is degraded, stale copies are served when the call fails.
func (c *Client) GetMenu(ctx context.Context, endpoint, path string, query url.Values) (string, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: endpoint, path: path, query: query, cached: true})
}

// Get reads a resource without caching
func (c *Client) Get(ctx context.Context, endpoint, path string, query url.Values) (string, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: endpoint, path: path, query: query})
}

// Post sends body as JSON
func (c *Client) Post(ctx context.Context, endpoint, path string, body any) (string, error) {
	return c.do(ctx, request{method: http.MethodPost, endpoint: endpoint, path: path, body: body})
}

// Delete removes a resource
func (c *Client) Delete(ctx context.Context, endpoint, path string, query url.Values) (string, error) {
	return c.do(ctx, request{method: http.MethodDelete, endpoint: endpoint, path: path, query: query})
}

// Ping checks that the Pizza API answers. It bypasses the cache and the breakers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, request{method: http.MethodGet, endpoint: "/api/pizzas", path: "/api/pizzas"}, 1)
	return err
}

func (c *Client) do(ctx context.Context, req request) (string, error) {
	key := req.cacheKey()
	if req.cached && c.cache != nil {
		if body, err := c.cache.Get(key); err == nil {
			c.logger.LogCacheOperation("get", key, true, nil)
			return string(body), nil
		}
	}

	breaker := c.breakers.GetOrCreate(req.method + " " + req.endpoint)
	fetch := func(ctx context.Context) (string, error) {
		var body string
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			body, err = c.sendWithRetry(ctx, req)
			return err
		})
		return body, err
	}

	if c.degradable(req) {
		return c.fetchMenu(ctx, key, fetch)
	}

	body, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if req.cached && c.cache != nil {
		c.cache.Set(key, []byte(body))
	}
	return body, nil
}

// degradable reports whether req may be answered from the stale cache
func (c *Client) degradable(req request) bool {
	if !req.cached || c.cache == nil || c.degradation == nil {
		return false
	}
	_, registered := c.degradation.GetComponentStatus(errors.ComponentPizzaAPI)
	return registered
}

// fetchMenu runs a menu read under the Pizza API's degradation state. While
// the API is healthy, upstream failures count against it. Once it is degraded
// a failed read is answered from the stale cache entry.
func (c *Client) fetchMenu(ctx context.Context, key string, fetch func(context.Context) (string, error)) (string, error) {
	var (
		body      string
		fresh     bool
		callerErr error
	)

	err := c.degradation.ExecuteWithDegradation(ctx, errors.ComponentPizzaAPI,
		func(ctx context.Context) error {
			b, err := fetch(ctx)
			if err != nil && !IsUpstreamFailure(err) {
				// the API answered, the request was wrong
				callerErr = err
				return nil
			}
			body, fresh = b, err == nil
			return err
		},
		func(ctx context.Context, level errors.DegradationLevel) error {
			b, err := fetch(ctx)
			if err == nil {
				body, fresh = b, true
				return nil
			}
			stale, ok := c.staleFallback(key, err, level)
			if !ok {
				return err
			}
			body = stale
			return nil
		})
	if callerErr != nil {
		var apiErr *APIError
		if stderrors.As(callerErr, &apiErr) && apiErr.Status == http.StatusNotFound {
			// never serve a removed menu item from the stale window
			c.cache.Invalidate(key)
		}
		return "", callerErr
	}
	if err != nil {
		return "", err
	}

	if fresh {
		c.cache.Set(key, []byte(body))
	}
	return body, nil
}

// staleFallback serves an expired menu response while the Pizza API is degraded
func (c *Client) staleFallback(key string, err error, level errors.DegradationLevel) (string, bool) {
	if !IsUpstreamFailure(err) {
		return "", false
	}

	body, age, ok := c.cache.GetStale(key)
	if !ok {
		c.degradation.RecordError(errors.ComponentResponseCache,
			errors.NewCacheError(errors.ErrCodeCacheMiss, "no stale response for "+key, err))
		return "", false
	}
	c.degradation.RecordSuccess(errors.ComponentResponseCache)
	c.logger.WithError(err).
		WithContext("cache_key", key).
		WithContext("age_ms", age.Milliseconds()).
		WithContext("degradation_level", level.String()).
		Warn("Serving stale menu response while Pizza API is degraded")
	return string(body), true
}

// sendWithRetry retries idempotent reads on temporary failures
func (c *Client) sendWithRetry(ctx context.Context, req request) (string, error) {
	attempts := 1
	if req.method == http.MethodGet {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.send(ctx, req, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsUpstreamFailure(err) || ctx.Err() != nil || attempt == attempts {
			break
		}

		wait := c.retryBackoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

// send performs one HTTP round trip
func (c *Client) send(ctx context.Context, req request, attempt int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.NewUpstreamError(errors.ErrCodeRateLimited,
			fmt.Sprintf("%s %s not sent: %v", req.method, req.path, err), err)
	}

	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, req.method+" "+req.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method),
			attribute.String("url.path", req.path),
			attribute.String("server.address", c.baseURL.Host),
			attribute.String("pizza.request_id", requestID),
			attribute.Int("http.request.resend_count", attempt-1),
		))
	defer span.End()

	httpReq, err := c.newRequest(ctx, req, requestID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.LogUpstreamCall(req.method, req.path, 0, time.Since(start), map[string]interface{}{
			"request_id": requestID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s %s failed: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.LogUpstreamCall(req.method, req.path, resp.StatusCode, duration, map[string]interface{}{
		"request_id": requestID,
		"attempt":    attempt,
		"bytes":      len(raw),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%s %s failed: reading response: %w", req.method, req.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Method: req.method,
			Path:   req.path,
			Status: resp.StatusCode,
			Body:   truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
		span.SetStatus(codes.Error, apiErr.Error())
		return "", apiErr
	}

	span.SetStatus(codes.Ok, "")
	return string(raw), nil
}

func (c *Client) newRequest(ctx context.Context, req request, requestID string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.path
	u.RawQuery = req.query.Encode()

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encoding body: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}

// BreakerStats exposes per-endpoint breaker state
func (c *Client) BreakerStats() map[string]errors.CircuitBreakerStats {
	return c.breakers.GetAllStats()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return validation.TruncateUTF8(s, n) + "..."
}
