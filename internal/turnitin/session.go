package turnitin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

// devCookie is the fixed credential bundle used when no secret service is
// wired up (local development only).
const devCookie = "session-id=0442328f5c024323859b6e736bdc87fc;legacy-session-id=0442328f5c024323859b6e736bdc87fc; path=/; secure; HttpOnly"

// CookieSource obtains an authenticated credential bundle for the external
// platform. Callers re-acquire per top-level operation; the source itself
// never retries.
type CookieSource interface {
	Acquire(ctx context.Context) (string, error)
}

// SecretServiceCookieSource fetches the cookie bundle from the trusted
// secret-issuing collaborator.
type SecretServiceCookieSource struct {
	url        string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewSecretServiceCookieSource creates a cookie source backed by the secret
// service endpoint.
func NewSecretServiceCookieSource(url string, log *logger.Logger) *SecretServiceCookieSource {
	return &SecretServiceCookieSource{
		url:        url,
		httpClient: &http.Client{Timeout: 600 * time.Second},
		logger:     log.With("component", "cookie_source"),
	}
}

// Acquire fetches and validates the credential bundle. Both session
// identifiers must be present or the bundle is unusable.
func (s *SecretServiceCookieSource) Acquire(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building cookie request: %v", ErrAuth, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptText)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching cookie bundle: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: cookie service returned HTTP %d", ErrAuth, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading cookie bundle: %v", ErrAuth, err)
	}

	cookie := strings.TrimSpace(string(body))
	if err := validateCookie(cookie); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "Acquired cookie bundle", "prefix", cookie[:min(len(cookie), 20)])
	return cookie, nil
}

// StaticCookieSource returns a fixed credential bundle. Used in development
// mode and tests.
type StaticCookieSource struct{ Cookie string }

// NewDevCookieSource returns a source serving the fixed development bundle.
func NewDevCookieSource() *StaticCookieSource { return &StaticCookieSource{Cookie: devCookie} }

// Acquire returns the fixed bundle after validating it.
func (s *StaticCookieSource) Acquire(context.Context) (string, error) {
	if err := validateCookie(s.Cookie); err != nil {
		return "", err
	}
	return s.Cookie, nil
}

func validateCookie(cookie string) error {
	if cookie == "" || !strings.Contains(cookie, sessionIDKey) || !strings.Contains(cookie, legacySessionIDKey) {
		return fmt.Errorf("%w: cookie bundle missing session identifiers", ErrAuth)
	}
	return nil
}

// extractSessionID pulls the session-id value out of the cookie bundle. The
// bundle is a raw Set-Cookie style string, not parsed cookies.
func extractSessionID(cookie string) (string, error) {
	for _, part := range strings.Split(cookie, cookieSeparator) {
		if strings.HasPrefix(part, sessionIDKey+"=") {
			v := strings.TrimPrefix(part, sessionIDKey+"=")
			// The bundle sometimes glues pairs with a bare semicolon.
			if idx := strings.IndexByte(v, ';'); idx >= 0 {
				v = v[:idx]
			}
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: session-id not present in cookie bundle", ErrAuth)
}
