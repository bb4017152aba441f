package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Fetcher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f := New(Config{
		BaseURL:     srv.URL,
		ListingPath: "/users",
		DetailPath:  "/users",
		Token:       "secret",
		UserAgent:   "userdir-test",
		PageSize:    3,
		Timeout:     2 * time.Second,
	})
	return srv, f
}

func TestListDecodesRecordsAndQuota(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	_, f := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Clone())
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "46", r.URL.Query().Get("since"))
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		w.Header().Set(HeaderRemaining, "4998")
		w.Header().Set(HeaderReset, "1700000060")
		_, _ = fmt.Fprint(w, `[{"login":"a","id":47,"avatar_url":"https://x/47"},{"login":"b","id":48,"avatar_url":"https://x/48"}]`)
	})

	resp, err := f.List(context.Background(), 46)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 4998, resp.Rate.Remaining)
	assert.Equal(t, time.Unix(1_700_000_060, 0).UTC(), resp.Rate.Reset)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, crawler.ListingRecord{Login: "b", ID: 48, AvatarURL: "https://x/48"}, resp.Records[1])

	headers, ok := seen.Load().(http.Header)
	require.True(t, ok)
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Accept"))
	assert.Equal(t, "userdir-test", headers.Get("User-Agent"))
}

func TestListReturnsErrorStatusWithoutDecoding(t *testing.T) {
	t.Parallel()

	_, f := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(HeaderRemaining, "0")
		w.Header().Set(HeaderReset, "1700000100")
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	})

	resp, err := f.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, 0, resp.Rate.Remaining)
	assert.Empty(t, resp.Records)
}

func TestListRevisitsSameCursor(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, f := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `[{"login":"a","id":1,"avatar_url":"x"}]`)
	})

	first, err := f.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, first.Status)
	assert.Equal(t, crawler.RemainingUnknown, first.Rate.Remaining)

	second, err := f.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Len(t, second.Records, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListMalformedBody(t *testing.T) {
	t.Parallel()

	_, f := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html>not json</html>`)
	})
	_, err := f.List(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode listing")
}

func TestDetailDecodesNullableFields(t *testing.T) {
	t.Parallel()

	_, f := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/octo":
			_, _ = fmt.Fprint(w, `{"id":9,"login":"octo","created_at":"2011-01-25T18:44:36Z","bio":"hello"}`)
		case "/users/quiet":
			_, _ = fmt.Fprint(w, `{"id":10,"login":"quiet","created_at":null,"bio":null}`)
		default:
			http.NotFound(w, r)
		}
	})

	resp, err := f.Detail(context.Background(), "octo")
	require.NoError(t, err)
	assert.Equal(t, int64(9), resp.Record.ID)
	require.NotNil(t, resp.Record.Bio)
	assert.Equal(t, "hello", *resp.Record.Bio)
	assert.True(t, resp.Record.CreatedAt.Valid)
	assert.Equal(t, 2011, resp.Record.CreatedAt.Time.Year())

	resp, err = f.Detail(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Nil(t, resp.Record.Bio)
	assert.False(t, resp.Record.CreatedAt.Valid)

	resp, err = f.Detail(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, crawler.DetailRecord{}, resp.Record)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	_, f := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.List(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	f := New(Config{BaseURL: srv.URL, ListingPath: "users", Timeout: time.Second})

	_, err := f.List(context.Background(), 0)
	require.Error(t, err)
}

func TestURLs(t *testing.T) {
	t.Parallel()

	f := New(Config{BaseURL: "https://api.example.com/", ListingPath: "/users", DetailPath: "users/", PageSize: 100})
	assert.Equal(t, "https://api.example.com/users?per_page=100&since=46", f.ListingURL(46))
	assert.True(t, strings.HasSuffix(f.DetailURL("a b"), "/users/a%20b"), f.DetailURL("a b"))
}

func TestParseRateState(t *testing.T) {
	t.Parallel()

	state := ParseRateState(nil)
	assert.Equal(t, crawler.RemainingUnknown, state.Remaining)
	assert.True(t, state.Reset.IsZero())

	state = ParseRateState(http.Header{HeaderRemaining: {"abc"}, HeaderReset: {"-5"}})
	assert.Equal(t, crawler.RemainingUnknown, state.Remaining)
	assert.True(t, state.Reset.IsZero())

	state = ParseRateState(http.Header{HeaderRemaining: {" 0 "}, HeaderReset: {"1700000000"}})
	assert.Equal(t, 0, state.Remaining)
	assert.Equal(t, int64(1_700_000_000), state.Reset.Unix())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Token: "tok"})
	var result rawResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "Bearer tok", collyReq.Headers.Get("Authorization"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte("slow down"),
		Headers:    &http.Header{HeaderRemaining: {"12"}},
	})
	assert.Equal(t, http.StatusTooManyRequests, result.status)
	assert.Equal(t, "slow down", string(result.body))
	assert.Equal(t, "12", result.headers.Get(HeaderRemaining))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
