// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source fetches recent paper metadata from the arXiv listing API.
package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-digest/internal/httputil"
	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// arxivAPIBase is the arXiv query endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "paper-digest/0.1"

	// arXiv asks clients to leave three seconds between calls.
	defaultRequestsPerSecond = 1.0 / 3
)

// Client queries the arXiv API. It is safe for concurrent use; the rate
// limiter is shared by every Fetch.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	UserAgent string
	Policy    retry.Policy
	Limiter   *rate.Limiter
	Logger    zerolog.Logger
}

// New builds a Client from configuration.
func New(cfg types.SourceConfig, policy retry.Policy, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	base := cfg.BaseURL
	if base == "" {
		base = arxivAPIBase
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		BaseURL:   base,
		UserAgent: ua,
		Policy:    policy,
		Limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		Logger:    logger.With().Str("component", "source").Logger(),
	}
}

// ValidateQuery rejects negative bounds and queries with neither subject
// nor keywords.
func ValidateQuery(q types.Query) error {
	if q.MaxResults < 0 {
		return types.NewConfigError("max_results", "must not be negative, got %d", q.MaxResults)
	}
	if q.MinResults < 0 {
		return types.NewConfigError("min_results", "must not be negative, got %d", q.MinResults)
	}
	if q.Subject == "" && len(nonEmpty(q.Keywords)) == 0 {
		return types.NewConfigError("query", "needs a subject or at least one keyword")
	}
	if q.Operator != "" && q.Operator != types.OperatorAnd && q.Operator != types.OperatorOr {
		return types.NewConfigError("operator", "must be AND or OR, got %q", q.Operator)
	}
	return nil
}

// Fetch returns up to q.MaxResults papers, newest first, in the order the
// API reports them. Network errors, HTTP 429 and 5xx are retried under
// c.Policy; when retries run out the error wraps types.ErrSourceUnavailable.
// Fewer than q.MinResults papers only produces a warning.
func (c *Client) Fetch(ctx context.Context, q types.Query) ([]types.Paper, error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	if q.MaxResults == 0 {
		return []types.Paper{}, nil
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := c.BaseURL + "?" + buildParams(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	policy := c.Policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.Logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).
			Str("subject", q.Subject).Msg("arXiv request failed, retrying")
	}

	resp, err := httputil.DoWithRetry(ctx, c.HTTP, req, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: arXiv API request: %w", types.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: arXiv API returned HTTP %d: %s",
			types.ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: parsing arXiv response: %w", types.ErrSourceUnavailable, err)
	}

	papers := make([]types.Paper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		p, ok := entry.toPaper(q.Subject)
		if !ok {
			continue
		}
		papers = append(papers, p)
		if len(papers) == q.MaxResults {
			break
		}
	}

	if len(papers) < q.MinResults {
		c.Logger.Warn().Str("subject", q.Subject).Int("found", len(papers)).
			Int("min_results", q.MinResults).Msg("fewer papers than requested minimum")
	}
	return papers, nil
}

// Check performs a one-result query to confirm the API is reachable.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.Fetch(ctx, types.Query{Subject: "cs.AI", MaxResults: 1})
	return err
}

// buildParams assembles the query string: subject as a category filter,
// keywords as full-text terms joined by the query operator, newest first.
func buildParams(q types.Query) url.Values {
	v := url.Values{}
	v.Set("search_query", buildSearchQuery(q))
	v.Set("sortBy", "submittedDate")
	v.Set("sortOrder", "descending")
	v.Set("start", "0")
	v.Set("max_results", strconv.Itoa(q.MaxResults))
	return v
}

// buildSearchQuery renders e.g. "cat:astro-ph.GA AND all:dwarf AND all:galaxies".
// Multi-word keywords are split into one term per word. With OR, the
// keyword terms are grouped so the category still applies to all of them.
func buildSearchQuery(q types.Query) string {
	var terms []string
	for _, kw := range nonEmpty(q.Keywords) {
		for _, w := range strings.Fields(kw) {
			terms = append(terms, "all:"+w)
		}
	}

	op := " AND "
	if q.Operator == types.OperatorOr {
		op = " OR "
	}
	kwPart := strings.Join(terms, op)

	switch {
	case q.Subject == "":
		return kwPart
	case kwPart == "":
		return "cat:" + q.Subject
	case q.Operator == types.OperatorOr && len(terms) > 1:
		return "cat:" + q.Subject + " AND (" + kwPart + ")"
	default:
		return "cat:" + q.Subject + " AND " + kwPart
	}
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// toPaper converts an entry, reporting false when the id, title, or
// abstract is missing.
func (e arxivEntry) toPaper(subject string) (types.Paper, bool) {
	id := extractArxivID(e.ID)
	title := collapseSpace(e.Title)
	abstract := collapseSpace(e.Summary)
	if id == "" || title == "" || abstract == "" {
		return types.Paper{}, false
	}

	p := types.Paper{
		ID:       id,
		Title:    title,
		Abstract: abstract,
		Link:     e.absLink(),
		Subject:  subject,
	}
	for _, a := range e.Authors {
		if name := collapseSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		p.Published = t
	}
	return p, true
}

// absLink prefers the HTML alternate link and falls back to the entry id.
func (e arxivEntry) absLink() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" && l.Href != "" {
			return l.Href
		}
	}
	return strings.TrimSpace(e.ID)
}

// collapseSpace trims text and replaces internal whitespace runs with a
// single space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idURL = strings.TrimSpace(idURL)
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
