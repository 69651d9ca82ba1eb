package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/metrics"
)

const (
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
	defaultSessionCookie = "PHPSESSID"
	maxDetailBody        = 512
)

// Config describes the SSO server and the service it issues tickets for.
type Config struct {
	LoginURL      string
	ServiceURL    string
	SessionCookie string
	UserAgent     string
}

// Gateway implements grades.Authenticator.
type Gateway struct {
	cfg       Config
	client    *http.Client
	extractor TokenExtractor
	logger    *zap.Logger
}

var _ grades.Authenticator = (*Gateway)(nil)

// NewGateway builds a Gateway. The client is copied and forced to stop at
// the first redirect.
func NewGateway(cfg Config, client *http.Client, extractor TokenExtractor, logger *zap.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if extractor == nil {
		extractor = NewTokenExtractor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = defaultSessionCookie
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")
	return &Gateway{cfg: cfg, client: &c, extractor: extractor, logger: logger}
}

// LoginURL returns the login-initiation URL with the service parameter set.
func (g *Gateway) LoginURL() string {
	inner := g.cfg.ServiceURL + "/services/doAuth.php?href=" + url.QueryEscape(g.cfg.ServiceURL+"/")
	return g.cfg.LoginURL + "?service=" + url.QueryEscape(inner)
}

// Authenticate runs the handshake. ticketGrantingCookie, when set, is sent on
// the first request so the credential form can be skipped.
func (g *Gateway) Authenticate(
	ctx context.Context,
	creds grades.Credentials,
	ticketGrantingCookie string,
) (*grades.Session, error) {
	location, tgc, err := g.login(ctx, creds, ticketGrantingCookie)
	if err != nil {
		return nil, err
	}
	sessionID, err := g.exchange(ctx, location)
	if err != nil {
		return nil, err
	}
	return &grades.Session{
		SessionID:            sessionID,
		ServiceRootURL:       g.cfg.ServiceURL,
		RedirectURL:          location,
		TicketGrantingCookie: tgc,
	}, nil
}

func (g *Gateway) login(ctx context.Context, creds grades.Credentials, tgc string) (string, string, error) {
	loginURL := g.LoginURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", "", grades.NewError(grades.KindAuthRequestFailed, "build login request", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	if tgc != "" {
		req.Header.Set("Cookie", tgc)
	}
	resp, body, err := g.do(req, "sso_login_page")
	if err != nil {
		return "", "", grades.NewError(grades.KindAuthRequestFailed, "fetch login page", err)
	}

	switch {
	case resp.StatusCode == http.StatusFound && resp.Header.Get("Location") != "":
		g.logger.Debug("ticket-granting cookie still valid")
		return resp.Header.Get("Location"), tgc, nil
	case resp.StatusCode == http.StatusFound:
		return "", "", grades.NewError(grades.KindAuthProtocol, "login redirect has no location", nil).
			WithDetail(describe(resp, body))
	case resp.StatusCode != http.StatusOK:
		return "", "", grades.NewError(grades.KindAuthRequestFailed,
			fmt.Sprintf("login page returned status %d", resp.StatusCode), nil).
			WithDetail(describe(resp, body))
	}

	execution, err := g.extractor.ExtractExecutionToken(body)
	if err != nil {
		return "", "", grades.NewError(grades.KindAuthProtocol, "extract execution token", err).
			WithDetail(describe(resp, body))
	}

	form := url.Values{}
	form.Set("_eventId", "submit")
	form.Set("execution", execution)
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	post, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", grades.NewError(grades.KindAuthRequestFailed, "build credential request", err)
	}
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	post.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, body, err = g.do(post, "sso_login_submit")
	if err != nil {
		return "", "", grades.NewError(grades.KindAuthRequestFailed, "submit credentials", err)
	}
	switch resp.StatusCode {
	case http.StatusFound:
	case http.StatusUnauthorized:
		return "", "", grades.NewError(grades.KindAuthRejected, "invalid credentials", nil)
	default:
		return "", "", grades.NewError(grades.KindAuthProtocol,
			fmt.Sprintf("credential submit returned status %d", resp.StatusCode), nil).
			WithDetail(describe(resp, body))
	}

	location := resp.Header.Get("Location")
	cookies := resp.Header.Values("Set-Cookie")
	if location == "" || len(cookies) == 0 {
		return "", "", grades.NewError(grades.KindAuthProtocol, "credential submit missing location or cookie", nil).
			WithDetail(describe(resp, body))
	}
	newTGC := tgc
	if c, err := http.ParseSetCookie(cookies[len(cookies)-1]); err == nil {
		newTGC = c.Name + "=" + c.Value
	}
	return location, newTGC, nil
}

// exchange trades the service ticket URL for the portal session cookie.
func (g *Gateway) exchange(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", grades.NewError(grades.KindAuthProtocol, "build ticket exchange request", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	resp, body, err := g.do(req, "service_ticket")
	if err != nil {
		return "", grades.NewError(grades.KindAuthRequestFailed, "exchange service ticket", err)
	}
	if resp.StatusCode != http.StatusFound {
		return "", grades.NewError(grades.KindAuthProtocol,
			fmt.Sprintf("ticket exchange returned status %d", resp.StatusCode), nil).
			WithDetail(describe(resp, body))
	}
	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return "", grades.NewError(grades.KindAuthProtocol, "ticket exchange set no cookie", nil).
			WithDetail(describe(resp, body))
	}
	sessionID := sessionValue(cookies[len(cookies)-1], g.cfg.SessionCookie)
	if sessionID == "" {
		return "", grades.NewError(grades.KindAuthProtocol, "ticket exchange returned empty session", nil).
			WithDetail(describe(resp, body))
	}
	return sessionID, nil
}

func (g *Gateway) do(req *http.Request, endpoint string) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObservePortalRequest(endpoint, time.Since(start))
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s body: %w", endpoint, err)
	}
	return resp, body, nil
}

// sessionValue strips attributes and the cookie name from a Set-Cookie line.
func sessionValue(header, name string) string {
	if c, err := http.ParseSetCookie(header); err == nil {
		return c.Value
	}
	pair, _, _ := strings.Cut(header, ";")
	return strings.TrimPrefix(strings.TrimSpace(pair), name+"=")
}

func describe(resp *http.Response, body []byte) string {
	excerpt := string(body)
	if len(excerpt) > maxDetailBody {
		excerpt = excerpt[:maxDetailBody] + "..."
	}
	return fmt.Sprintf("status=%d location=%q set-cookie=%d body=%q",
		resp.StatusCode, resp.Header.Get("Location"), len(resp.Header.Values("Set-Cookie")), excerpt)
}
