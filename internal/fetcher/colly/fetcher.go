// Package collyfetcher implements the upstream listing and detail transport
// using gocolly.
package collyfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
)

// Quota headers read from every upstream response.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Config controls collector behavior.
type Config struct {
	BaseURL     string
	ListingPath string
	DetailPath  string
	Token       string
	UserAgent   string
	Accept      string
	PageSize    int
	Timeout     time.Duration
}

// Fetcher implements crawler.ListingSource and crawler.DetailSource. It issues
// exactly one GET per call and never retries.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var (
	_ crawler.ListingSource = (*Fetcher)(nil)
	_ crawler.DetailSource  = (*Fetcher)(nil)
)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// rawResponse is what the collector hooks capture for one request.
type rawResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		// Same-cursor retries revisit the same URL.
		colly.AllowURLRevisit(),
		// Non-2xx bodies and statuses must reach OnResponse for classification.
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// ListingURL returns the listing endpoint for cursor.
func (f *Fetcher) ListingURL(since crawler.Cursor) string {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(int64(since), 10))
	if f.cfg.PageSize > 0 {
		q.Set("per_page", strconv.Itoa(f.cfg.PageSize))
	}
	return joinURL(f.cfg.BaseURL, f.cfg.ListingPath) + "?" + q.Encode()
}

// DetailURL returns the detail endpoint for login.
func (f *Fetcher) DetailURL(login string) string {
	return joinURL(f.cfg.BaseURL, f.cfg.DetailPath) + "/" + url.PathEscape(login)
}

// List fetches one listing page. Records are decoded only on a 2xx status.
func (f *Fetcher) List(ctx context.Context, since crawler.Cursor) (crawler.ListingResponse, error) {
	raw, err := f.get(ctx, f.ListingURL(since))
	if err != nil {
		return crawler.ListingResponse{}, err
	}
	resp := crawler.ListingResponse{Status: raw.status, Rate: ParseRateState(raw.headers)}
	if !success(raw.status) {
		return resp, nil
	}
	if err := json.Unmarshal(raw.body, &resp.Records); err != nil {
		return crawler.ListingResponse{}, fmt.Errorf("decode listing since=%d: %w", since, err)
	}
	return resp, nil
}

// Detail fetches the detail record for login.
func (f *Fetcher) Detail(ctx context.Context, login string) (crawler.DetailResponse, error) {
	raw, err := f.get(ctx, f.DetailURL(login))
	if err != nil {
		return crawler.DetailResponse{}, err
	}
	resp := crawler.DetailResponse{Status: raw.status, Rate: ParseRateState(raw.headers)}
	if !success(raw.status) {
		return resp, nil
	}
	if err := json.Unmarshal(raw.body, &resp.Record); err != nil {
		return crawler.DetailResponse{}, fmt.Errorf("decode detail %s: %w", login, err)
	}
	return resp, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (rawResponse, error) {
	var (
		result   rawResponse
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return rawResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(result *rawResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *rawResponse, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = rawResponse{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	r.Headers.Set("Accept", f.cfg.Accept)
	if f.cfg.Token != "" {
		r.Headers.Set("Authorization", "Bearer "+f.cfg.Token)
	}
}

// ParseRateState reads the quota headers. A missing or invalid remaining count
// becomes crawler.RemainingUnknown; a missing reset stays the zero time.
func ParseRateState(h http.Header) crawler.RateState {
	state := crawler.RateState{Remaining: crawler.RemainingUnknown}
	if h == nil {
		return state
	}
	if v := strings.TrimSpace(h.Get(HeaderRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			state.Remaining = n
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderReset)); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			state.Reset = time.Unix(epoch, 0).UTC()
		}
	}
	return state
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
