// Package turnitin implements the browser-emulating clients for the external
// anti-plagiarism platform: session acquisition, document submission, and
// report retrieval. The platform has no public API; everything here scrapes
// server-rendered HTML and undocumented JSON endpoints, so selectors, URLs,
// and poll budgets are reproduced exactly as observed.
package turnitin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/pkg/common"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

// Config carries the endpoints and identity constants for the external
// platform. Zero values fall back to the production endpoints.
type Config struct {
	BaseURL string
	EVURL   string
	SASURL  string

	// UserID is the fixed reference identity whose inbox rows are read back.
	UserID string

	// OrgName and TimeZone are echoed into report-generation requests.
	OrgName  string
	TimeZone string

	// RateLimit is the maximum requests per second against the platform.
	// Zero disables limiting.
	RateLimit float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.EVURL == "" {
		c.EVURL = defaultEVURL
	}
	if c.SASURL == "" {
		c.SASURL = defaultSASURL
	}
	if c.UserID == "" {
		c.UserID = defaultUserID
	}
	if c.TimeZone == "" {
		c.TimeZone = "Asia/Jakarta"
	}
	return c
}

// Client talks to the external platform on behalf of one worker. It is safe
// for concurrent use; per-operation state (cookies, class context) is always
// re-derived rather than cached.
type Client struct {
	cfg Config

	httpClient *http.Client
	cookies    CookieSource
	settings   submission.SettingsRepository
	slots      submission.SlotRepository
	limiter    *common.RateLimiter

	tracer trace.Tracer
	logger *logger.Logger
}

// NewClient creates a platform client. Redirects are handled manually because
// the submit flow must observe the 302 itself.
func NewClient(
	cfg Config,
	cookies CookieSource,
	settings submission.SettingsRepository,
	slots submission.SlotRepository,
	tracer trace.Tracer,
	log *logger.Logger,
) *Client {
	cfg = cfg.withDefaults()

	var limiter *common.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = common.NewRateLimiter(cfg.RateLimit, 1)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cookies:  cookies,
		settings: settings,
		slots:    slots,
		limiter:  limiter,
		tracer:   tracer,
		logger:   log.With("component", "turnitin_client"),
	}
}

// request describes one HTTP round trip against the platform.
type request struct {
	method  string
	url     string
	body    []byte
	headers map[string]string
	timeout time.Duration
}

// do executes a round trip with the platform's required headers and the
// per-call timeout. Transport failures map to ErrTransient; status handling
// is the caller's job because several endpoints use non-2xx meaningfully.
func (c *Client) do(ctx context.Context, r request) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("%w: rate limiter: %v", ErrTransient, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: building request: %v", ErrTransient, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, r.method, r.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading response from %s: %v", ErrTransient, r.url, err)
	}

	return resp, respBody, nil
}

// get is a convenience wrapper for cookie-authenticated GETs.
func (c *Client) get(ctx context.Context, url, cookie string, timeout time.Duration, extra map[string]string) (*http.Response, []byte, error) {
	headers := map[string]string{"Cookie": cookie}
	for k, v := range extra {
		headers[k] = v
	}
	return c.do(ctx, request{method: http.MethodGet, url: url, headers: headers, timeout: timeout})
}
