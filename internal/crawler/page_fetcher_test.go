package crawler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	"github.com/JakeFAU/userdir-pipeline/internal/policy/ratelimit"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingSleeper struct {
	clock *fakeClock
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	s.clock.now = s.clock.now.Add(d)
	return nil
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range s.slept {
		sum += d
	}
	return sum
}

// scriptedSource replays listing responses in order and records requested cursors.
type scriptedSource struct {
	responses []crawler.ListingResponse
	errs      []error
	cursors   []crawler.Cursor
}

func (s *scriptedSource) List(_ context.Context, since crawler.Cursor) (crawler.ListingResponse, error) {
	i := len(s.cursors)
	s.cursors = append(s.cursors, since)
	if i < len(s.errs) && s.errs[i] != nil {
		return crawler.ListingResponse{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return crawler.ListingResponse{}, errors.New("script exhausted")
	}
	return s.responses[i], nil
}

type harness struct {
	clock   *fakeClock
	sleeper *recordingSleeper
	limiter *ratelimit.Limiter
}

func newHarness() *harness {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	sleeper := &recordingSleeper{clock: clock}
	return &harness{
		clock:   clock,
		sleeper: sleeper,
		limiter: ratelimit.New(ratelimit.Config{}, clock, sleeper, zap.NewNop()),
	}
}

func (h *harness) fetcher(source crawler.ListingSource) *crawler.PageFetcher {
	return crawler.NewPageFetcher(source, h.limiter, h.sleeper, crawler.PageFetcherConfig{}, zap.NewNop())
}

func okPage(ids ...int64) crawler.ListingResponse {
	records := make([]crawler.ListingRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, crawler.ListingRecord{ID: id, Login: loginFor(id), AvatarURL: "https://avatars.example/" + loginFor(id)})
	}
	return crawler.ListingResponse{
		Status:  http.StatusOK,
		Rate:    crawler.RateState{Remaining: 4999},
		Records: records,
	}
}

func TestFetchPageSuccessReturnsRecordsUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness()
	source := &scriptedSource{responses: []crawler.ListingResponse{okPage(1, 2, 3)}}

	page, err := h.fetcher(source).FetchPage(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, okPage(1, 2, 3).Records, page.Records)
	require.Empty(t, h.sleeper.slept)
	require.Equal(t, 4999, h.limiter.State().Remaining)
}

func TestFetchPageQuotaExhaustedWaitsOnceThenRetriesSameCursor(t *testing.T) {
	t.Parallel()

	h := newHarness()
	reset := h.clock.now.Add(2 * time.Minute)
	source := &scriptedSource{responses: []crawler.ListingResponse{
		{Status: http.StatusForbidden, Rate: crawler.RateState{Remaining: 0, Reset: reset}},
		okPage(11, 12),
	}}

	page, err := h.fetcher(source).FetchPage(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, []crawler.Cursor{10, 10}, source.cursors)
	require.Len(t, h.sleeper.slept, 1)
	require.Equal(t, 2*time.Minute+time.Second, h.sleeper.slept[0])
}

func TestFetchPageForbiddenWithQuotaLeftAborts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	source := &scriptedSource{responses: []crawler.ListingResponse{
		{Status: http.StatusForbidden, Rate: crawler.RateState{Remaining: 30, Reset: h.clock.now.Add(time.Hour)}},
		okPage(1),
	}}

	_, err := h.fetcher(source).FetchPage(context.Background(), 0)
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrUnrecoverableTransport)
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Status)
	require.Empty(t, h.sleeper.slept)
	require.Len(t, source.cursors, 1)
}

func TestFetchPageThrottledCoolsDown(t *testing.T) {
	t.Parallel()

	h := newHarness()
	source := &scriptedSource{responses: []crawler.ListingResponse{
		{Status: http.StatusTooManyRequests, Rate: crawler.RateState{Remaining: 10}},
		okPage(5),
	}}

	_, err := h.fetcher(source).FetchPage(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{60 * time.Second}, h.sleeper.slept)
	require.Equal(t, []crawler.Cursor{4, 4}, source.cursors)
}

func TestFetchPageServerErrorTwiceThenSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness()
	source := &scriptedSource{responses: []crawler.ListingResponse{
		{Status: http.StatusInternalServerError, Rate: crawler.RateState{Remaining: 10}},
		{Status: http.StatusInternalServerError, Rate: crawler.RateState{Remaining: 10}},
		okPage(7, 8),
	}}

	page, err := h.fetcher(source).FetchPage(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Len(t, h.sleeper.slept, 2)
	require.GreaterOrEqual(t, h.sleeper.total(), 60*time.Second)
}

func TestFetchPageOtherClientErrorAborts(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusMovedPermanently} {
		h := newHarness()
		source := &scriptedSource{responses: []crawler.ListingResponse{{Status: status, Rate: crawler.RateState{Remaining: 10}}}}
		_, err := h.fetcher(source).FetchPage(context.Background(), 0)
		require.ErrorIs(t, err, crawler.ErrUnrecoverableTransport, "status %d", status)
		require.Empty(t, h.sleeper.slept)
	}
}

func TestFetchPageTransportErrorAborts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	source := &scriptedSource{errs: []error{errors.New("connection reset")}}

	_, err := h.fetcher(source).FetchPage(context.Background(), 0)
	require.ErrorIs(t, err, crawler.ErrUnrecoverableTransport)
}

func TestFetchPageCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	source := &cancelingSource{cancel: cancel}

	_, err := h.fetcher(source).FetchPage(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

// cancelingSource answers 503 and cancels the caller's context.
type cancelingSource struct {
	cancel context.CancelFunc
}

func (s *cancelingSource) List(context.Context, crawler.Cursor) (crawler.ListingResponse, error) {
	s.cancel()
	return crawler.ListingResponse{Status: http.StatusServiceUnavailable}, nil
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawler.ClassQuota, crawler.Classify(http.StatusForbidden, true))
	require.Equal(t, crawler.ClassFatal, crawler.Classify(http.StatusForbidden, false))
	require.Equal(t, crawler.ClassThrottle, crawler.Classify(http.StatusTooManyRequests, false))
	require.Equal(t, crawler.ClassServer, crawler.Classify(http.StatusBadGateway, false))
	require.Equal(t, crawler.ClassOK, crawler.Classify(http.StatusOK, false))
	require.True(t, crawler.ClassServer.Transient())
	require.False(t, crawler.ClassFatal.Transient())
}
