package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Default raster time series endpoints.
const (
	PointEndpoint   = "https://developer.openet-api.org/raster/timeseries/point"
	PolygonEndpoint = "https://developer.openet-api.org/raster/timeseries/polygon"
)

var (
	ErrRequest = errors.New("error making API request")
	ErrEncode  = errors.New("error encoding request parameters")
)

// Response is the outcome of a request that reached the server.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the server accepted the request.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Config tunes the client. Zero values disable the corresponding feature.
type Config struct {
	Timeout        time.Duration // per request
	RateLimit      float64       // requests per second
	RateLimitBurst int
	CacheSize      int // successful responses kept in memory
}

// Client sends raster time series requests. Each request is attempted
// exactly once.
type Client struct {
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	cache   *lru.Cache
	metrics *Metrics
	logger  *logrus.Entry
}

// NewClient creates a client. metrics may be nil.
func NewClient(cfg Config, logger *logrus.Entry, metrics *Metrics) (*Client, error) {
	if logger == nil {
		logger = discardLogger()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.CheckRetry = noRetry
	rc.Logger = leveledLogger{entry: logger}

	c := &Client{
		http:    rc.StandardClient(),
		timeout: cfg.Timeout,
		metrics: metrics,
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Send posts params as JSON to endpoint. An error means no response was
// received; HTTP error statuses are reported through Response.IsSuccess.
func (c *Client) Send(ctx context.Context, endpoint string, params map[string]any, apiKey string) (*Response, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	key := endpoint + "\x00" + string(body)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			c.metrics.observe(endpoint, outcomeCached, 0)
			return cached.(*Response).clone(), nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequest, err)
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(endpoint, outcomeError, time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.observe(endpoint, outcomeError, time.Since(start))
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRequest, err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	if resp.IsSuccess() {
		c.metrics.observe(endpoint, outcomeSuccess, time.Since(start))
		if c.cache != nil {
			c.cache.Add(key, resp.clone())
		}
	} else {
		c.metrics.observe(endpoint, outcomeFailure, time.Since(start))
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		}).Debug("Request rejected")
	}
	return resp, nil
}

func (r *Response) clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       bytes.Clone(r.Body),
	}
}

// noRetry stops after the first attempt and hands back whatever the server
// answered.
func noRetry(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, err
}

type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) with(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

// Per-request chatter from the transport stays at debug.
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
