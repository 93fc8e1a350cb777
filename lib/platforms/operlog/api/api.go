package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"operlog-client/internal/components/assert"
	"operlog-client/internal/components/telemetry"
	"operlog-client/lib/platforms/operlog/core"

	"github.com/go-resty/resty/v2"
)

const (
	report_client_list_all = "client.list-all"
	report_client_decode   = "client.decode"
)

type LogItem struct {
	ID             int    `json:"id"`
	Event          string `json:"event"`
	AfterEvent     string `json:"after_event"`
	Operator       string `json:"operator"`
	UsernameReport string `json:"username_report"`
	TimeEvent      string `json:"time_event"`
	TimeReport     string `json:"time_report"`
}

// ItemUpdate holds the fields an edit changes, nil fields are left alone.
type ItemUpdate struct {
	Event      *string `json:"event,omitempty"`
	AfterEvent *string `json:"after_event,omitempty"`
}

type addRequest struct {
	Event      string `json:"event"`
	AfterEvent string `json:"after_event,omitempty"`
}

// Dispatcher is satisfied by *core.Client.
type Dispatcher interface {
	Call(ctx context.Context, method core.Method, endpoint string, body any) (*resty.Response, error)
}

// Client maps the operlog json api onto typed results. It checks only that
// required arguments are present, the server validates everything else.
type Client struct {
	http Dispatcher
	tel  telemetry.API
}

func NewClient(http Dispatcher, tel telemetry.API) Client {
	assert.NotNil(http, "http")
	assert.NotNil(tel, "tel")

	return Client{
		http: http,
		tel:  telemetry.NewScopedAPI("operlog_api", tel),
	}
}

func itemEndpoint(id int) string {
	return "/api/" + strconv.Itoa(id)
}

func (c Client) call(ctx context.Context, method core.Method, endpoint string, body any, expect int) (*resty.Response, error) {
	res, err := c.http.Call(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != expect {
		return nil, &core.ServerError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: res.StatusCode(),
		}
	}
	return res, nil
}

func (c Client) decodeItem(res *resty.Response) (LogItem, error) {
	var item LogItem
	err := json.Unmarshal(res.Body(), &item)
	if err != nil {
		c.tel.ReportBroken(report_client_decode, err, res.Request.URL)
		return LogItem{}, &core.ParseError{What: "log item", Err: err}
	}
	return item, nil
}

// ListAll returns every item keyed by id. A nil error with an empty map is an
// empty log, failures are always returned as errors.
func (c Client) ListAll(ctx context.Context) (map[int]LogItem, error) {
	res, err := c.call(ctx, core.MethodGet, "/api", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var raw map[string]LogItem
	err = json.Unmarshal(res.Body(), &raw)
	if err != nil {
		c.tel.ReportBroken(report_client_list_all, err)
		return nil, &core.ParseError{What: "log item collection", Err: err}
	}

	items := make(map[int]LogItem, len(raw))
	for key, item := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			c.tel.ReportBroken(report_client_list_all, fmt.Errorf("non numeric id %q", key))
			return nil, &core.ParseError{What: "log item collection", Err: fmt.Errorf("non numeric id %q", key)}
		}
		if item.ID == 0 {
			item.ID = id
		}
		items[id] = item
	}
	return items, nil
}

// Add creates an item, `afterEvent` is optional and not sent when empty.
func (c Client) Add(ctx context.Context, event, afterEvent string) (LogItem, error) {
	if event == "" {
		return LogItem{}, fmt.Errorf("%w: event is required", core.ErrInvalidArgument)
	}
	res, err := c.call(ctx, core.MethodPost, "/api", addRequest{
		Event:      event,
		AfterEvent: afterEvent,
	}, http.StatusCreated)
	if err != nil {
		return LogItem{}, err
	}
	return c.decodeItem(res)
}

// Get fetches one item, a missing item matches errors.Is(err, core.ErrNotFound).
func (c Client) Get(ctx context.Context, id int) (LogItem, error) {
	if id <= 0 {
		return LogItem{}, fmt.Errorf("%w: id must be positive, got %d", core.ErrInvalidArgument, id)
	}
	res, err := c.call(ctx, core.MethodGet, itemEndpoint(id), nil, http.StatusOK)
	if err != nil {
		return LogItem{}, err
	}
	return c.decodeItem(res)
}

func (c Client) Edit(ctx context.Context, id int, update ItemUpdate) (LogItem, error) {
	if id <= 0 {
		return LogItem{}, fmt.Errorf("%w: id must be positive, got %d", core.ErrInvalidArgument, id)
	}
	if update.Event == nil && update.AfterEvent == nil {
		return LogItem{}, fmt.Errorf("%w: nothing to update", core.ErrInvalidArgument)
	}
	res, err := c.call(ctx, core.MethodPut, itemEndpoint(id), update, http.StatusCreated)
	if err != nil {
		return LogItem{}, err
	}
	return c.decodeItem(res)
}

// Delete returns the status code as is, it is up to the caller to decide what
// counts as success. Only transport and authentication failures are errors.
func (c Client) Delete(ctx context.Context, id int) (int, error) {
	if id <= 0 {
		return 0, fmt.Errorf("%w: id must be positive, got %d", core.ErrInvalidArgument, id)
	}
	res, err := c.http.Call(ctx, core.MethodDelete, itemEndpoint(id), nil)
	if err != nil {
		return 0, err
	}
	return res.StatusCode(), nil
}
