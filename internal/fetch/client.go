package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Settings configures the transport.
type Settings struct {
	Retries          int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	Timeout          time.Duration // zero waits forever
	Rate             float64       // requests per second, zero is unlimited
	UserAgent        string
	BreakerThreshold int // zero disables the host breaker
	BreakerCooldown  time.Duration
	Logger           *zap.Logger
}

// DefaultSettings makes exactly one attempt per request with no timeout.
func DefaultSettings() Settings {
	return Settings{
		Retries:          0,
		RetryWaitMin:     time.Second,
		RetryWaitMax:     30 * time.Second,
		UserAgent:        "dismantle/1.0",
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Client wraps resty with rate limiting and a host breaker.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *hostBreaker
	logger  *zap.Logger
}

// NewClient creates a client from settings.
func NewClient(s Settings) *Client {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = s.Retries
	retryClient.RetryWaitMin = s.RetryWaitMin
	retryClient.RetryWaitMax = s.RetryWaitMax
	retryClient.Logger = nil
	// Hand the last response back instead of a "giving up" error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug("retrying request", zap.String("url", req.URL.String()), zap.Int("attempt", attempt))
		}
	}

	restyClient := resty.NewWithClient(retryClient.StandardClient())
	if s.UserAgent != "" {
		restyClient.SetHeader("User-Agent", s.UserAgent)
	}
	if s.Timeout > 0 {
		restyClient.SetTimeout(s.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.Rate > 0 {
		burst := int(s.Rate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.Rate), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: newHostBreaker(s.BreakerThreshold, s.BreakerCooldown),
		logger:  logger,
	}
}

// Get issues a GET whose body is left unread for the caller to stream. The
// caller must close resp.RawBody().
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*resty.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string, headers map[string]string) (*resty.Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, headers)
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string) (*resty.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := c.breaker.allow(u.Host); err != nil {
		return nil, err
	}

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetDoNotParseResponse(true).
		Execute(method, rawURL)

	failed := err != nil || resp.StatusCode() >= http.StatusInternalServerError
	c.breaker.record(u.Host, failed)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}

	c.logger.Debug("remote response",
		zap.String("method", method),
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode()))
	return resp, nil
}
