// Package gateway provides a gateway to the Gerrit REST API,
// hiding the wire protocol's quirks from the rest of the pipeline.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
	"github.com/naka-gawa/gerrit-stats/internal/metrics"
)

// xssiPrefix is the anti-XSSI line Gerrit prepends to every JSON response.
const xssiPrefix = ")]}'\n"

// DefaultPageSize is the number of changes requested per page.
const DefaultPageSize = 100

// gerritTimeLayout matches "2024-03-01 14:22:05.000000000"; Gerrit timestamps are always UTC.
const gerritTimeLayout = "2006-01-02 15:04:05.999999999"

// DefaultDetailOptions are the o= flags sent with every query.
var DefaultDetailOptions = []string{"CURRENT_REVISION", "CURRENT_COMMIT"}

// ReviewDetailOptions are the o= flags sent with reviewer searches.
var ReviewDetailOptions = []string{"MESSAGES"}

// Fetcher defines the behavior of a gateway for fetching changes from one Gerrit host.
type Fetcher interface {
	FetchChanges(ctx context.Context, host domain.HostSpec, query domain.ChangeQuery) ([]domain.ChangeRecord, error)
}

// ReviewFetcher fetches the changes the query's owner reviewed but did not author.
type ReviewFetcher interface {
	FetchReviews(ctx context.Context, host domain.HostSpec, query domain.ChangeQuery) ([]domain.ReviewEvent, error)
}

// GerritGateway is the concrete implementation of the Fetcher interface.
type GerritGateway struct {
	httpClient    *http.Client
	pageSize      int
	qps           float64
	detailOptions []string
	metrics       *metrics.Recorder
	logger        *log.Logger
}

// Option configures a GerritGateway.
type Option func(*GerritGateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *GerritGateway) { g.httpClient = c }
}

// WithPageSize sets the n= page size. Non-positive values keep the default.
func WithPageSize(n int) Option {
	return func(g *GerritGateway) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

// WithRateLimit paces requests to each host at qps requests per second. Zero disables pacing.
func WithRateLimit(qps float64) Option {
	return func(g *GerritGateway) { g.qps = qps }
}

// WithDetailOptions overrides the o= detail flags.
func WithDetailOptions(opts ...string) Option {
	return func(g *GerritGateway) { g.detailOptions = opts }
}

// WithMetrics records request, page and change counts.
func WithMetrics(m *metrics.Recorder) Option {
	return func(g *GerritGateway) { g.metrics = m }
}

// NewGerritGateway is a constructor that creates a new instance of GerritGateway.
func NewGerritGateway(logger *log.Logger, opts ...Option) *GerritGateway {
	g := &GerritGateway{
		httpClient:    &http.Client{},
		pageSize:      DefaultPageSize,
		detailOptions: DefaultDetailOptions,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BuildQuery encodes the change search predicate for q.
func BuildQuery(q domain.ChangeQuery) string {
	parts := []string{operator("owner", q.Owner.String()), "status:merged"}
	if q.After != nil {
		parts = append(parts, "after:"+q.After.UTC().Format(domain.DateLayout))
	}
	return strings.Join(parts, " ")
}

// BuildReviewQuery encodes the reviewer search for q's owner, excluding
// changes the owner authored.
func BuildReviewQuery(q domain.ChangeQuery) string {
	who := q.Owner.String()
	parts := []string{operator("reviewer", who), "-" + operator("owner", who)}
	if q.After != nil {
		parts = append(parts, "after:"+q.After.UTC().Format(domain.DateLayout))
	}
	return strings.Join(parts, " ")
}

// operator renders name:value, quoting values the query parser would
// otherwise split or read as syntax. Values holding a double quote use
// Gerrit's brace form instead.
func operator(name, value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\n\"'(){}[]:") && !strings.HasPrefix(value, "-") {
		return name + ":" + value
	}
	if strings.Contains(value, `"`) && !strings.Contains(value, "}") {
		return name + ":{" + value + "}"
	}
	return name + `:"` + strings.ReplaceAll(value, `"`, "") + `"`
}

// FetchChanges retrieves every change matching query from host, following the
// _more_changes continuation flag until the last page.
func (g *GerritGateway) FetchChanges(ctx context.Context, host domain.HostSpec, query domain.ChangeQuery) ([]domain.ChangeRecord, error) {
	if query.Owner.Kind == domain.OwnerSelf && !host.Authenticated() {
		return nil, &domain.HostError{Host: host.Alias, Kind: domain.ErrAuthRequired}
	}

	q := BuildQuery(query)
	g.logger.Printf("[%s] Fetching changes for query: %s\n", host.Alias, q)

	var records []domain.ChangeRecord
	err := g.walk(ctx, host, q, g.detailOptions, func(ci changeInfo) error {
		rec, err := ci.toRecord(host.Alias)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Printf("[%s] Completed fetching %d changes.\n", host.Alias, len(records))
	return records, nil
}

// FetchReviews retrieves the changes query's owner reviewed on host, with
// their messages so each review can be dated by the owner's first comment.
func (g *GerritGateway) FetchReviews(ctx context.Context, host domain.HostSpec, query domain.ChangeQuery) ([]domain.ReviewEvent, error) {
	if query.Owner.Kind == domain.OwnerSelf && !host.Authenticated() {
		return nil, &domain.HostError{Host: host.Alias, Kind: domain.ErrAuthRequired}
	}

	q := BuildReviewQuery(query)
	g.logger.Printf("[%s] Fetching reviews for query: %s\n", host.Alias, q)

	var events []domain.ReviewEvent
	err := g.walk(ctx, host, q, ReviewDetailOptions, func(ci changeInfo) error {
		ev, err := ci.toReview(host.Alias, query.Owner)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Printf("[%s] Completed fetching %d reviews.\n", host.Alias, len(events))
	return events, nil
}

// walk pages through the search q, following the _more_changes continuation
// flag until the last page, and hands every change to visit.
func (g *GerritGateway) walk(ctx context.Context, host domain.HostSpec, q string, options []string, visit func(changeInfo) error) error {
	client := g.clientFor(host)
	limiter := g.newLimiter()

	start := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return domain.NewHostError(host.Alias, domain.ErrNetwork, "waiting for rate limiter: %w", err)
		}
		page, err := g.fetchPage(ctx, client, host, q, options, start)
		if err != nil {
			return err
		}
		for _, ci := range page {
			if err := visit(ci); err != nil {
				return domain.NewHostError(host.Alias, domain.ErrProtocol, "page at S=%d: %w", start, err)
			}
		}
		// Gerrit sets _more_changes only on the last element of a non-final page.
		if len(page) == 0 || !page[len(page)-1].MoreChanges {
			return nil
		}
		start += len(page)
		g.logger.Printf("[%s]   Fetching next page (S=%d)...\n", host.Alias, start)
	}
}

func (g *GerritGateway) fetchPage(ctx context.Context, client *http.Client, host domain.HostSpec, q string, options []string, start int) ([]changeInfo, error) {
	endpoint := host.BaseURL + "/changes/"
	if host.Authenticated() {
		// Gerrit serves authenticated REST calls under the /a/ prefix.
		endpoint = host.BaseURL + "/a/changes/"
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("n", strconv.Itoa(g.pageSize))
	params.Set("S", strconv.Itoa(start))
	for _, o := range options {
		params.Add("o", o)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.NewHostError(host.Alias, domain.ErrNetwork, "failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c := host.Credentials; c != nil && c.Token == "" && c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		g.metrics.Request(host.Alias, 0)
		return nil, domain.NewHostError(host.Alias, domain.ErrNetwork, "GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	g.metrics.Request(host.Alias, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewHostError(host.Alias, domain.ErrNetwork, "reading response from %s: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewHostError(host.Alias, domain.ErrAuth, "HTTP %d from %s", resp.StatusCode, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, domain.NewHostError(host.Alias, domain.ErrProtocol, "HTTP %d from %s: %s", resp.StatusCode, endpoint, snippet(body, 200))
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, domain.NewHostError(host.Alias, domain.ErrProtocol, "page at S=%d: %w", start, err)
	}
	g.metrics.Page(host.Alias, len(page))
	return page, nil
}

// clientFor wraps the base client in an OAuth2 transport when the host uses a bearer token.
func (g *GerritGateway) clientFor(host domain.HostSpec) *http.Client {
	if host.Credentials == nil || host.Credentials.Token == "" {
		return g.httpClient
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: host.Credentials.Token})
	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   g.httpClient.Transport,
			Source: ts,
		},
		Timeout: g.httpClient.Timeout,
	}
}

func (g *GerritGateway) newLimiter() *rate.Limiter {
	if g.qps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(g.qps), 1)
}

// decodePage strips the XSSI prefix and decodes a JSON array of changes.
func decodePage(body []byte) ([]changeInfo, error) {
	payload, ok := bytes.CutPrefix(body, []byte(xssiPrefix))
	if !ok {
		return nil, fmt.Errorf("response is missing the XSSI prefix; got %q", snippet(body, 12))
	}
	var page []changeInfo
	if err := sonic.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return page, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// changeInfo is the subset of Gerrit's ChangeInfo entity used by the pipeline.
type changeInfo struct {
	ID          string      `json:"id"`
	ChangeID    string      `json:"change_id,omitempty"`
	Number      int         `json:"_number"`
	Project     string      `json:"project"`
	Branch      string      `json:"branch,omitempty"`
	Subject     string      `json:"subject,omitempty"`
	Status      string      `json:"status"`
	Created     gerritTime  `json:"created"`
	Updated     gerritTime  `json:"updated"`
	Submitted   *gerritTime `json:"submitted,omitempty"`
	Insertions  int         `json:"insertions"`
	Deletions   int         `json:"deletions"`
	Messages    []message   `json:"messages,omitempty"`
	MoreChanges bool        `json:"_more_changes,omitempty"`
}

// message is the subset of Gerrit's ChangeMessageInfo entity used to date reviews.
type message struct {
	Author *accountInfo `json:"author,omitempty"`
	Date   gerritTime   `json:"date"`
}

type accountInfo struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

var errMissingID = errors.New("change has no id")

func (ci changeInfo) id() (string, error) {
	id := ci.ID
	if id == "" {
		id = ci.ChangeID
	}
	if id == "" && ci.Number > 0 {
		id = strconv.Itoa(ci.Number)
	}
	if id == "" {
		return "", fmt.Errorf("%w (project %q)", errMissingID, ci.Project)
	}
	return id, nil
}

func (ci changeInfo) toRecord(alias string) (domain.ChangeRecord, error) {
	id, err := ci.id()
	if err != nil {
		return domain.ChangeRecord{}, err
	}

	rec := domain.ChangeRecord{
		HostAlias:  alias,
		Project:    ci.Project,
		Branch:     ci.Branch,
		Subject:    ci.Subject,
		ChangeID:   id,
		Number:     ci.Number,
		Status:     domain.ChangeStatus(ci.Status),
		CreatedAt:  ci.Created.Time,
		Insertions: uint(max(ci.Insertions, 0)),
		Deletions:  uint(max(ci.Deletions, 0)),
	}
	if ci.Submitted != nil && !ci.Submitted.IsZero() {
		t := ci.Submitted.Time
		rec.MergedAt = &t
	}
	return rec, nil
}

// toReview dates the review by the reviewer's earliest message. "self" cannot
// be matched against an author, so it and unmatched reviewers fall back to
// the change's last update.
func (ci changeInfo) toReview(alias string, reviewer domain.OwnerRef) (domain.ReviewEvent, error) {
	id, err := ci.id()
	if err != nil {
		return domain.ReviewEvent{}, err
	}
	ev := domain.ReviewEvent{HostAlias: alias, ChangeID: id, Project: ci.Project, At: ci.Updated.Time}
	var first time.Time
	for _, m := range ci.Messages {
		if !m.by(reviewer) || m.Date.IsZero() {
			continue
		}
		if first.IsZero() || m.Date.Before(first) {
			first = m.Date.Time
		}
	}
	if !first.IsZero() {
		ev.At = first
	}
	return ev, nil
}

func (m message) by(who domain.OwnerRef) bool {
	if m.Author == nil {
		return false
	}
	switch who.Kind {
	case domain.OwnerEmail:
		return strings.EqualFold(m.Author.Email, who.Value)
	case domain.OwnerUsername:
		return m.Author.Username == who.Value
	default:
		return false
	}
}

// gerritTime decodes Gerrit's space-separated UTC timestamp format.
type gerritTime struct {
	time.Time
}

func (t *gerritTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("invalid Gerrit timestamp %s: %w", b, err)
	}
	parsed, err := time.Parse(gerritTimeLayout, s)
	if err != nil {
		return fmt.Errorf("invalid Gerrit timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

func (t gerritTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Format("2006-01-02 15:04:05.000000000"))), nil
}
