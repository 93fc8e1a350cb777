package core

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"operlog-client/internal/components/assert"
	"operlog-client/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("operlog.lib.platforms.operlog.core")

const defaultTimeout = 30 * time.Second

type ClientOptions struct {
	BaseUrl  string
	Username string
	Password string
	// defaults to a FileTokenStore at ".token"
	TokenStore TokenStore
	// per request, defaults to 30 seconds
	Timeout time.Duration
	// optional, receives a dump of every request/response pair
	HttpDump telemetry.HttpDumpOutput
}

// Client is the authenticated entrypoint to the operlog json api.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	session    *Session
	dispatcher *Dispatcher
}

// NewClient only builds the client, it performs no I/O. Call Bootstrap before
// making requests, or use Connect which does both.
func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "tel")

	if opts.BaseUrl == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidArgument)
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	tel = telemetry.NewScopedAPI("operlog_core", tel)

	store := opts.TokenStore
	if store == nil {
		store = NewFileTokenStore(".token")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(httpClient, tel, opts.HttpDump)

	session := newSession(
		Credentials{
			BaseUrl:  opts.BaseUrl,
			Username: opts.Username,
			Password: opts.Password,
		},
		httpClient,
		store,
		tel,
	)

	return &Client{
		BaseUrl: baseUrl,
		Http:    httpClient,
		session: session,
		dispatcher: &Dispatcher{
			http:    httpClient,
			session: session,
			tel:     tel,
		},
	}, nil
}

// Connect builds a client and bootstraps its session, it never returns a client
// without a token.
func Connect(ctx context.Context, opts ClientOptions, tel telemetry.API) (*Client, error) {
	client, err := NewClient(opts, tel)
	if err != nil {
		return nil, err
	}
	err = client.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) Bootstrap(ctx context.Context) error {
	return c.session.Bootstrap(ctx)
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Call(ctx context.Context, method Method, endpoint string, body any) (*resty.Response, error) {
	return c.dispatcher.Call(ctx, method, endpoint, body)
}
