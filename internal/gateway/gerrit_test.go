package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
	"github.com/naka-gawa/gerrit-stats/internal/metrics"
)

// setupTestGateway creates a GerritGateway and a HostSpec pointing at a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler, opts ...Option) (*GerritGateway, domain.HostSpec) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := log.New(io.Discard, "", 0)
	opts = append([]Option{WithHTTPClient(server.Client())}, opts...)
	gateway := NewGerritGateway(logger, opts...)

	return gateway, domain.HostSpec{Alias: "test", BaseURL: server.URL}
}

// changeJSON renders one ChangeInfo element as Gerrit would.
func changeJSON(n int, more bool) string {
	s := fmt.Sprintf(`{"id":"proj~main~I%04d","_number":%d,"project":"proj","branch":"main","status":"MERGED",`+
		`"created":"2024-03-01 10:00:00.000000000","updated":"2024-03-02 10:00:00.000000000",`+
		`"submitted":"2024-03-02 10:00:00.000000000","insertions":%d,"deletions":1`, n, n, n)
	if more {
		s += `,"_more_changes":true`
	}
	return s + "}"
}

// pageBody renders count changes numbered from first, flagging the last one when more is set.
func pageBody(first, count int, more bool) string {
	items := make([]string, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, changeJSON(first+i, more && i == count-1))
	}
	return xssiPrefix + "[" + strings.Join(items, ",") + "]"
}

func TestBuildQuery(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		query    domain.ChangeQuery
		expected string
	}{
		{
			name:     "email owner",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("alice@example.com")},
			expected: "owner:alice@example.com status:merged",
		},
		{
			name:     "username owner with after",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("bob"), After: &after},
			expected: "owner:bob status:merged after:2024-01-01",
		},
		{
			name:     "self owner",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("self")},
			expected: "owner:self status:merged",
		},
		{
			name:     "display name is quoted",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("John Doe")},
			expected: `owner:"John Doe" status:merged`,
		},
		{
			name:     "operator characters are quoted",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("a(b)")},
			expected: `owner:"a(b)" status:merged`,
		},
		{
			name:     "leading dash is not a negation",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("-bob")},
			expected: `owner:"-bob" status:merged`,
		},
		{
			name:     "embedded quote uses braces",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner(`Jo "JD" Doe`)},
			expected: `owner:{Jo "JD" Doe} status:merged`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildQuery(tc.query))
		})
	}
}

func TestDecodePage(t *testing.T) {
	testCases := []struct {
		name           string
		body           string
		expectedLen    int
		expectError    bool
		expectedErrMsg string
	}{
		{name: "happy path", body: pageBody(1, 2, true), expectedLen: 2},
		{name: "empty array", body: xssiPrefix + "[]", expectedLen: 0},
		{
			name:           "missing prefix",
			body:           "[" + changeJSON(1, false) + "]",
			expectError:    true,
			expectedErrMsg: "missing the XSSI prefix",
		},
		{
			name:           "html error page",
			body:           "<html>Internal error</html>",
			expectError:    true,
			expectedErrMsg: "missing the XSSI prefix",
		},
		{
			name:           "malformed json",
			body:           xssiPrefix + "[{",
			expectError:    true,
			expectedErrMsg: "failed to decode changes",
		},
		{
			name:           "bad timestamp",
			body:           xssiPrefix + `[{"id":"x","project":"p","status":"MERGED","created":"yesterday"}]`,
			expectError:    true,
			expectedErrMsg: "failed to decode changes",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := decodePage([]byte(tc.body))
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Len(t, page, tc.expectedLen)
		})
	}
}

func TestDecodePage_ParsesFields(t *testing.T) {
	page, err := decodePage([]byte(pageBody(7, 1, true)))
	require.NoError(t, err)
	require.Len(t, page, 1)

	rec, err := page[0].toRecord("go")
	require.NoError(t, err)
	assert.Equal(t, "go", rec.HostAlias)
	assert.Equal(t, "proj~main~I0007", rec.ChangeID)
	assert.Equal(t, "proj", rec.Project)
	assert.Equal(t, domain.StatusMerged, rec.Status)
	assert.Equal(t, uint(7), rec.Insertions)
	assert.Equal(t, uint(1), rec.Deletions)
	require.NotNil(t, rec.MergedAt)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), *rec.MergedAt)
	assert.True(t, page[0].MoreChanges)
}

func TestDecodePage_RoundTrip(t *testing.T) {
	submitted := gerritTime{time.Date(2024, 6, 3, 12, 30, 0, 123000000, time.UTC)}
	original := []changeInfo{
		{
			ID:         "a~main~I1",
			Number:     1,
			Project:    "a",
			Branch:     "main",
			Status:     "MERGED",
			Created:    gerritTime{time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
			Updated:    submitted,
			Submitted:  &submitted,
			Insertions: 42,
			Deletions:  7,
		},
		{
			ID:          "b~main~I2",
			Number:      2,
			Project:     "b",
			Branch:      "main",
			Status:      "NEW",
			Created:     gerritTime{time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)},
			Updated:     gerritTime{time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)},
			MoreChanges: true,
		},
	}

	payload, err := sonic.Marshal(original)
	require.NoError(t, err)

	decoded, err := decodePage(append([]byte(xssiPrefix), payload...))
	require.NoError(t, err)
	require.Len(t, decoded, len(original))
	for i := range original {
		assert.Equal(t, original[i].ID, decoded[i].ID)
		assert.True(t, original[i].Created.Equal(decoded[i].Created.Time))
		assert.Equal(t, original[i].MoreChanges, decoded[i].MoreChanges)
		assert.Equal(t, original[i].Insertions, decoded[i].Insertions)
	}
	require.NotNil(t, decoded[0].Submitted)
	assert.True(t, submitted.Equal(decoded[0].Submitted.Time))
	assert.Nil(t, decoded[1].Submitted)
}

func TestGerritGateway_FetchChanges_Pagination(t *testing.T) {
	var offsets []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/changes/", r.URL.Path)
		assert.Equal(t, "owner:alice@example.com status:merged", r.URL.Query().Get("q"))
		assert.Equal(t, "100", r.URL.Query().Get("n"))
		assert.Equal(t, []string{"CURRENT_REVISION", "CURRENT_COMMIT"}, r.URL.Query()["o"])

		start := r.URL.Query().Get("S")
		offsets = append(offsets, start)
		switch start {
		case "0":
			fmt.Fprint(w, pageBody(0, 100, true))
		case "100":
			fmt.Fprint(w, pageBody(100, 100, true))
		case "200":
			fmt.Fprint(w, pageBody(200, 50, false))
		default:
			t.Errorf("unexpected offset %q", start)
			w.WriteHeader(http.StatusBadRequest)
		}
	}
	gateway, host := setupTestGateway(t, http.HandlerFunc(handler))

	records, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("alice@example.com")})
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "100", "200"}, offsets)
	require.Len(t, records, 250)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("proj~main~I%04d", i), rec.ChangeID, "record %d out of order", i)
	}
}

func TestGerritGateway_FetchChanges_EmptyResult(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, xssiPrefix+"[]")
	}
	gateway, host := setupTestGateway(t, http.HandlerFunc(handler))

	records, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGerritGateway_FetchChanges_Errors(t *testing.T) {
	testCases := []struct {
		name         string
		handlerFunc  func(w http.ResponseWriter, r *http.Request)
		expectedKind error
	}{
		{
			name: "unauthorized",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			expectedKind: domain.ErrAuth,
		},
		{
			name: "forbidden",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			expectedKind: domain.ErrAuth,
		},
		{
			name: "server error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, "Internal Server Error")
			},
			expectedKind: domain.ErrProtocol,
		},
		{
			name: "missing prefix",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "[]")
			},
			expectedKind: domain.ErrProtocol,
		},
		{
			name: "error on second page discards the first",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("S") == "0" {
					fmt.Fprint(w, pageBody(0, 2, true))
					return
				}
				fmt.Fprint(w, "not json")
			},
			expectedKind: domain.ErrProtocol,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, host := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))

			records, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
			assert.Nil(t, records)
			assert.ErrorIs(t, err, tc.expectedKind)

			var hostErr *domain.HostError
			require.ErrorAs(t, err, &hostErr)
			assert.Equal(t, "test", hostErr.Host)
		})
	}
}

func TestGerritGateway_FetchChanges_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	gateway := NewGerritGateway(log.New(io.Discard, "", 0))
	_, err := gateway.FetchChanges(context.Background(), domain.HostSpec{Alias: "down", BaseURL: baseURL}, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Contains(t, err.Error(), "down")
}

func TestGerritGateway_FetchChanges_SelfRequiresCredentials(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, xssiPrefix+"[]")
	}
	gateway, host := setupTestGateway(t, http.HandlerFunc(handler))

	_, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("self")})
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Zero(t, calls.Load(), "no request may be issued without credentials")
}

func TestGerritGateway_FetchChanges_Authentication(t *testing.T) {
	testCases := []struct {
		name         string
		credentials  *domain.Credentials
		expectedPath string
		checkAuth    func(t *testing.T, r *http.Request)
	}{
		{
			name:         "basic auth",
			credentials:  &domain.Credentials{Username: "alice", Password: "secret"},
			expectedPath: "/a/changes/",
			checkAuth: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "alice", user)
				assert.Equal(t, "secret", pass)
			},
		},
		{
			name:         "bearer token",
			credentials:  &domain.Credentials{Token: "tok"},
			expectedPath: "/a/changes/",
			checkAuth: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			},
		},
		{
			name:         "username without password is anonymous",
			credentials:  &domain.Credentials{Username: "alice"},
			expectedPath: "/changes/",
			checkAuth: func(t *testing.T, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tc.expectedPath, r.URL.Path)
				tc.checkAuth(t, r)
				fmt.Fprint(w, xssiPrefix+"[]")
			}
			gateway, host := setupTestGateway(t, http.HandlerFunc(handler))
			host.Credentials = tc.credentials

			_, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
			assert.NoError(t, err)
		})
	}
}

func TestGerritGateway_FetchChanges_PageSizeAndMetrics(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("n"))
		start, err := strconv.Atoi(r.URL.Query().Get("S"))
		require.NoError(t, err)
		fmt.Fprint(w, pageBody(start, 2, start == 0))
	}
	rec := metrics.NewRecorder()
	gateway, host := setupTestGateway(t, http.HandlerFunc(handler), WithPageSize(2), WithMetrics(rec), WithRateLimit(1000))

	records, err := gateway.FetchChanges(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
	require.NoError(t, err)
	assert.Len(t, records, 4)

	assert.Equal(t, 2.0, counterValue(t, rec, "gerrit_stats_pages_total"))
	assert.Equal(t, 4.0, counterValue(t, rec, "gerrit_stats_changes_total"))
	assert.Equal(t, 2.0, counterValue(t, rec, "gerrit_stats_requests_total"))
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, rec *metrics.Recorder, name string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestBuildReviewQuery(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		query    domain.ChangeQuery
		expected string
	}{
		{
			name:     "email reviewer",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("alice@example.com")},
			expected: "reviewer:alice@example.com -owner:alice@example.com",
		},
		{
			name:     "with after",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("bob"), After: &after},
			expected: "reviewer:bob -owner:bob after:2024-01-01",
		},
		{
			name:     "quoted reviewer",
			query:    domain.ChangeQuery{Owner: domain.ParseOwner("John Doe")},
			expected: `reviewer:"John Doe" -owner:"John Doe"`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildReviewQuery(tc.query))
		})
	}
}

// reviewJSON renders a reviewed change whose messages come from the given
// author emails, one per day starting 2024-03-05.
func reviewJSON(n int, more bool, authors ...string) string {
	msgs := make([]string, 0, len(authors))
	for i, a := range authors {
		msgs = append(msgs, fmt.Sprintf(`{"author":{"email":%q,"username":%q},"date":"2024-03-%02d 08:00:00.000000000"}`,
			a, strings.Split(a, "@")[0], 5+i))
	}
	s := fmt.Sprintf(`{"id":"proj~main~R%04d","_number":%d,"project":"proj","status":"NEW",`+
		`"created":"2024-03-01 10:00:00.000000000","updated":"2024-03-20 10:00:00.000000000",`+
		`"insertions":1,"deletions":1,"messages":[%s]`, n, n, strings.Join(msgs, ","))
	if more {
		s += `,"_more_changes":true`
	}
	return s + "}"
}

func TestGerritGateway_FetchReviews(t *testing.T) {
	var offsets []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reviewer:alice@example.com -owner:alice@example.com", r.URL.Query().Get("q"))
		assert.Equal(t, []string{"MESSAGES"}, r.URL.Query()["o"])

		start := r.URL.Query().Get("S")
		offsets = append(offsets, start)
		switch start {
		case "0":
			fmt.Fprint(w, xssiPrefix+"["+reviewJSON(1, true, "bot@example.com", "Alice@Example.com", "alice@example.com")+"]")
		case "1":
			fmt.Fprint(w, xssiPrefix+"["+reviewJSON(2, false, "carol@example.com")+"]")
		default:
			t.Errorf("unexpected offset %q", start)
			w.WriteHeader(http.StatusBadRequest)
		}
	}
	gateway, host := setupTestGateway(t, http.HandlerFunc(handler))

	events, err := gateway.FetchReviews(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("alice@example.com")})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, offsets)
	require.Len(t, events, 2)

	// The earliest message by the reviewer dates the review; email matching ignores case.
	assert.Equal(t, "proj~main~R0001", events[0].ChangeID)
	assert.Equal(t, "test", events[0].HostAlias)
	assert.Equal(t, "proj", events[0].Project)
	assert.Equal(t, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), events[0].At)

	// No message by the reviewer falls back to the last update.
	assert.Equal(t, time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC), events[1].At)
}

func TestChangeInfo_ToReview(t *testing.T) {
	testCases := []struct {
		name     string
		reviewer string
		authors  []string
		expected time.Time
	}{
		{
			name:     "username matches the message author",
			reviewer: "bob",
			authors:  []string{"carol@example.com", "bob@example.com"},
			expected: time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "self falls back to the last update",
			reviewer: "self",
			authors:  []string{"bob@example.com"},
			expected: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "no messages falls back to the last update",
			reviewer: "bob@example.com",
			expected: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := decodePage([]byte(xssiPrefix + "[" + reviewJSON(3, false, tc.authors...) + "]"))
			require.NoError(t, err)
			require.Len(t, page, 1)

			ev, err := page[0].toReview("go", domain.ParseOwner(tc.reviewer))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ev.At)
			assert.Equal(t, "go", ev.HostAlias)
		})
	}
}

func TestGerritGateway_FetchReviews_Errors(t *testing.T) {
	t.Run("self requires credentials", func(t *testing.T) {
		var calls atomic.Int32
		gateway, host := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, xssiPrefix+"[]")
		}))
		_, err := gateway.FetchReviews(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("self")})
		assert.ErrorIs(t, err, domain.ErrAuthRequired)
		assert.Zero(t, calls.Load())
	})

	t.Run("server error", func(t *testing.T) {
		gateway, host := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		events, err := gateway.FetchReviews(context.Background(), host, domain.ChangeQuery{Owner: domain.ParseOwner("bob")})
		assert.Nil(t, events)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
}
