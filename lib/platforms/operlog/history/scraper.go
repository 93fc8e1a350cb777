package history

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"operlog-client/internal/components/assert"
	"operlog-client/internal/components/chrono"
	"operlog-client/internal/components/telemetry"
	"operlog-client/lib/platforms/operlog/core"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("operlog.lib.platforms.operlog.history")

const (
	report_scraper_login       = "scraper.login"
	report_scraper_submit      = "scraper.submit"
	report_scraper_parse_table = "scraper.parse-table"
	report_scraper_normalize   = "scraper.normalize"
	report_scraper_range       = "scraper.range"
)

const (
	DefaultTimestampLayout = "2006-01-02 15:04:05"
	DefaultLoginPath       = "/login"
	defaultRateLimit       = 2
	defaultTimeout         = 30 * time.Second
)

type Options struct {
	BaseUrl string
	// optional, when both are set a form login is made before the first search
	Username string
	Password string
	// defaults to DefaultLoginPath
	LoginPath string
	// defaults to DefaultTimestampLayout
	TimestampLayout string
	// requests per second, defaults to 2
	RateLimit float64
	Timeout   time.Duration
	// optional, receives a dump of every request/response pair
	HttpDump telemetry.HttpDumpOutput
}

// Scraper reads the html history view. It does not use the api token, the
// view is session based and the scraper keeps its own cookies.
type Scraper struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts       Options
	normalizer Normalizer
	clock      chrono.API
	tel        telemetry.API

	loginMu  sync.Mutex
	loggedIn bool
}

func NewScraper(opts Options, clock chrono.API, tel telemetry.API) (*Scraper, error) {
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "tel")

	if opts.BaseUrl == "" {
		return nil, fmt.Errorf("%w: base url is required", core.ErrInvalidArgument)
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.TimestampLayout == "" {
		opts.TimestampLayout = DefaultTimestampLayout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	tel = telemetry.NewScopedAPI("operlog_history", tel)

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	httpClient.SetTimeout(opts.Timeout)

	// burst matches the limit so that no requests are dropped
	burst := max(int(opts.RateLimit), 1)
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel, opts.HttpDump)

	return &Scraper{
		BaseUrl: baseUrl,
		Http:    httpClient,
		opts:    opts,
		normalizer: Normalizer{
			Layout:   opts.TimestampLayout,
			Location: clock.Location(),
		},
		clock: clock,
		tel:   tel,
	}, nil
}

// Range resolves two bounds against the current time, malformed bounds fall
// back to now and are reported.
func (s *Scraper) Range(from, to Bound) DateRange {
	r, err := NewRange(from, to, s.clock.Now())
	if err != nil {
		s.tel.ReportWarning(report_scraper_range, err)
	}
	return r
}

func (s *Scraper) hasCredentials() bool {
	return s.opts.Username != "" && s.opts.Password != ""
}

func (s *Scraper) login(ctx context.Context) error {
	if !s.hasCredentials() {
		return nil
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.loggedIn {
		return nil
	}

	res, err := s.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": s.opts.Username,
			"password": s.opts.Password,
		}).
		Post(s.opts.LoginPath)
	if err != nil {
		s.tel.ReportBroken(report_scraper_login, err)
		return &core.TransportError{Method: core.MethodPost, Endpoint: s.opts.LoginPath, Err: err}
	}
	if res.StatusCode() != http.StatusOK {
		err := &core.ServerError{
			Method:     core.MethodPost,
			Endpoint:   s.opts.LoginPath,
			StatusCode: res.StatusCode(),
		}
		s.tel.ReportBroken(report_scraper_login, err)
		return &core.AuthenticationError{Reason: "form login rejected", Err: err}
	}

	s.loggedIn = true
	return nil
}

// sessionLost reports whether the server turned a search away because the
// form session expired, it either redirects to the login page or answers
// with an auth status.
func (s *Scraper) sessionLost(res *resty.Response) bool {
	if !s.hasCredentials() {
		return false
	}
	switch res.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	raw := res.RawResponse
	return raw != nil && raw.Request != nil && raw.Request.URL.Path == s.opts.LoginPath
}

func (s *Scraper) forgetLogin() {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	s.loggedIn = false
}

func (s *Scraper) search(ctx context.Context, date1, date2 string) (*resty.Response, error) {
	err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"date1": date1,
			"date2": date2,
			"event": "",
		}).
		Post("/search")
	if err != nil {
		s.tel.ReportBroken(report_scraper_submit, err, date1, date2)
		return nil, &core.TransportError{Method: core.MethodPost, Endpoint: "/search", Err: err}
	}
	return res, nil
}

// Submit posts the search form for the calendar days the range covers. An
// expired form session is renewed once before giving up.
func (s *Scraper) Submit(ctx context.Context, r DateRange) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	date1, date2 := r.Query()
	span.SetAttributes(
		attribute.String("date1", date1),
		attribute.String("date2", date2),
	)

	res, err := s.search(ctx, date1, date2)
	if err == nil && s.sessionLost(res) {
		s.tel.ReportDebug("form session expired, logging in again", date1, date2)
		s.forgetLogin()
		res, err = s.search(ctx, date1, date2)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request failed")
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		err := &core.ServerError{
			Method:     core.MethodPost,
			Endpoint:   "/search",
			StatusCode: res.StatusCode(),
		}
		span.SetStatus(codes.Error, err.Error())
		s.tel.ReportBroken(report_scraper_submit, err, date1, date2)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		s.tel.ReportBroken(report_scraper_submit, err)
		return nil, &core.ParseError{What: "history page", Err: err}
	}
	return doc, nil
}

// Fetch runs the whole pipeline: submit, parse, normalize, filter.
func (s *Scraper) Fetch(ctx context.Context, r DateRange) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	doc, err := s.Submit(ctx, r)
	if err != nil {
		return nil, err
	}

	rows, err := ParseTable(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse history table")
		s.tel.ReportBroken(report_scraper_parse_table, err)
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := s.normalizer.Normalize(row)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to normalize history row")
			s.tel.ReportBroken(report_scraper_normalize, err, row.Timestamp, row.Event)
			return nil, err
		}
		records = append(records, record)
	}

	filtered := Filter(records, r.Start.Unix(), r.End.Unix())
	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("records", len(filtered)),
	)
	if dropped := len(records) - len(filtered); dropped > 0 {
		s.tel.ReportDebug("dropped out of range history rows", dropped, r.String())
	}
	return filtered, nil
}

// LastNDays fetches the records of [now - n days, now].
func (s *Scraper) LastNDays(ctx context.Context, n int) ([]Record, error) {
	r, err := LastDays(n, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, r)
}
