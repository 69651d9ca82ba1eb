// Package portal talks to the grade portal's JSON data endpoints using a
// session obtained from the auth package.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/metrics"
)

const (
	dataPath          = "/services/data.php"
	checkPath         = "/services/doAuth.php"
	primaryQuery      = "dataPremièreConnexion"
	termQuery         = "relevéEtudiant"
	defaultCookieName = "PHPSESSID"
	maxDetailBody     = 512
)

// Config holds the portal endpoints.
type Config struct {
	ServiceURL    string
	SessionCookie string
	UserAgent     string
}

// Client implements grades.SnapshotFetcher.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ grades.SnapshotFetcher = (*Client)(nil)

// New builds a Client. Redirects are never followed: a redirect from the data
// endpoint means the session is gone.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = defaultCookieName
	}
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")
	return &Client{cfg: cfg, client: &c, logger: logger}
}

type releve struct {
	Resources json.RawMessage `json:"ressources"`
	Projects  json.RawMessage `json:"saes"`
}

type termDescriptor struct {
	FormTermID int `json:"formsemestre_id"`
	TermID     int `json:"semestre_id"`
}

type dataResponse struct {
	Redirect json.RawMessage  `json:"redirect"`
	Releve   *releve          `json:"relevé"`
	Terms    []termDescriptor `json:"semestres"`
}

// FetchSnapshot returns the merged grades for the session. terms, when
// non-empty, restricts a multi-term account to those term numbers.
func (c *Client) FetchSnapshot(ctx context.Context, sess *grades.Session, terms []int) (grades.Snapshot, error) {
	if !sess.Valid() {
		return nil, grades.NewError(grades.KindSessionExpired, "no session", nil)
	}
	primary, err := c.post(ctx, sess, url.Values{"q": {primaryQuery}}, "data_primary")
	if err != nil {
		return nil, err
	}

	if primary.Releve != nil && len(primary.Releve.Resources) > 0 {
		snap, err := grades.DecodeResources(primary.Releve.Resources)
		if err != nil {
			return nil, err
		}
		dropUngraded(snap)
		return snap, nil
	}
	if primary.Terms == nil {
		return nil, grades.NewError(grades.KindSchemaInvalid, "response has neither resources nor terms", nil)
	}

	merged := make(grades.Snapshot)
	for _, term := range primary.Terms {
		if len(terms) > 0 && !slices.Contains(terms, term.TermID) {
			continue
		}
		snap, err := c.fetchTerm(ctx, sess, term)
		if err != nil {
			return nil, err
		}
		for code, res := range snap {
			merged[code] = res
		}
	}
	return merged, nil
}

func (c *Client) fetchTerm(ctx context.Context, sess *grades.Session, term termDescriptor) (grades.Snapshot, error) {
	query := url.Values{"q": {termQuery}, "semestre": {fmt.Sprint(term.FormTermID)}}
	resp, err := c.post(ctx, sess, query, "data_term")
	if err != nil {
		return nil, err
	}
	if resp.Releve == nil {
		return nil, grades.NewError(grades.KindSchemaInvalid,
			fmt.Sprintf("term %d response has no report", term.TermID), nil)
	}
	resources, err := grades.DecodeResources(resp.Releve.Resources)
	if err != nil {
		return nil, err
	}
	projects := grades.Snapshot{}
	if len(resp.Releve.Projects) > 0 {
		if projects, err = grades.DecodeResources(resp.Releve.Projects); err != nil {
			return nil, err
		}
	}

	out := make(grades.Snapshot, len(resources)+len(projects))
	for _, part := range []grades.Snapshot{resources, projects} {
		for code, res := range part {
			termID := term.TermID
			res.Term = &termID
			res.Evaluations = grades.DropUngraded(res.Evaluations)
			out[code] = res
		}
	}
	return out, nil
}

// CheckSession asks the portal whether the session is still attached to a
// login. A redirect out of the service root means it is not.
func (c *Client) CheckSession(ctx context.Context, sess *grades.Session) (bool, error) {
	if !sess.Valid() {
		return false, nil
	}
	root := c.root(sess)
	target := root + checkPath + "?href=" + url.QueryEscape(root+"/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, grades.NewError(grades.KindRequestFailed, "build session check", err)
	}
	c.decorate(req, sess)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObservePortalRequest("session_check", time.Since(start))
	if err != nil {
		return false, grades.NewError(grades.KindRequestFailed, "check session", err)
	}
	defer c.closeBody(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound {
		return false, grades.NewError(grades.KindRequestFailed,
			fmt.Sprintf("session check returned status %d", resp.StatusCode), nil)
	}
	loc, err := resp.Location()
	if err != nil {
		return true, nil
	}
	return strings.HasPrefix(loc.String(), root), nil
}

func (c *Client) post(ctx context.Context, sess *grades.Session, query url.Values, endpoint string) (*dataResponse, error) {
	target := c.root(sess) + dataPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, http.NoBody)
	if err != nil {
		return nil, grades.NewError(grades.KindRequestFailed, "build data request", err)
	}
	c.decorate(req, sess)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObservePortalRequest(endpoint, time.Since(start))
	if err != nil {
		return nil, grades.NewError(grades.KindRequestFailed, "post "+endpoint, err)
	}
	defer c.closeBody(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, grades.NewError(grades.KindRequestFailed, "read "+endpoint, err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, grades.NewError(grades.KindSessionExpired,
			fmt.Sprintf("%s redirected", endpoint), nil).WithDetail(describe(resp, body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, grades.NewError(grades.KindRequestFailed,
			fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode), nil).WithDetail(describe(resp, body))
	}

	var out dataResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, grades.NewError(grades.KindSchemaInvalid, "decode "+endpoint, err).WithDetail(describe(resp, body))
	}
	if hasValue(out.Redirect) {
		return nil, grades.NewError(grades.KindSessionExpired, "session expired", nil)
	}
	return &out, nil
}

func (c *Client) decorate(req *http.Request, sess *grades.Session) {
	req.Header.Set("Cookie", c.cfg.SessionCookie+"="+sess.SessionID)
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

func (c *Client) root(sess *grades.Session) string {
	if sess.ServiceRootURL != "" {
		return strings.TrimRight(sess.ServiceRootURL, "/")
	}
	return c.cfg.ServiceURL
}

func (c *Client) closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}

func dropUngraded(snap grades.Snapshot) {
	for code, res := range snap {
		res.Evaluations = grades.DropUngraded(res.Evaluations)
		snap[code] = res
	}
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte("false")) &&
		!bytes.Equal(trimmed, []byte(`""`))
}

func describe(resp *http.Response, body []byte) string {
	excerpt := string(body)
	if len(excerpt) > maxDetailBody {
		excerpt = excerpt[:maxDetailBody] + "..."
	}
	return fmt.Sprintf("status=%d content-type=%q body=%q", resp.StatusCode, resp.Header.Get("Content-Type"), excerpt)
}
