package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"operlog-client/internal/components/telemetry"
	"operlog-client/lib/platforms/operlog/core"
	"operlog-client/lib/platforms/operlog/operlogtest"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) (Client, *operlogtest.Server) {
	server := operlogtest.NewServer()
	t.Cleanup(server.Close)

	tel := &telemetry.RecordingAPI{}
	coreClient, err := core.Connect(context.Background(), core.ClientOptions{
		BaseUrl:    server.URL,
		Username:   operlogtest.Username,
		Password:   operlogtest.Password,
		TokenStore: core.NewFileTokenStore(filepath.Join(t.TempDir(), ".token")),
	}, tel)
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(coreClient, tel), server
}

func ptr[T any](v T) *T {
	return &v
}

func TestListAll(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	items, err := client.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	server.PutItem(operlogtest.Item{ID: 3, Event: "pump restarted", Operator: "ivanov"})
	server.PutItem(operlogtest.Item{ID: 11, Event: "valve closed", AfterEvent: "pressure normal"})

	items, err = client.ListAll(ctx)
	require.NoError(t, err)

	expected := map[int]LogItem{
		3:  {ID: 3, Event: "pump restarted", Operator: "ivanov"},
		11: {ID: 11, Event: "valve closed", AfterEvent: "pressure normal"},
	}
	if diff := cmp.Diff(expected, items); diff != "" {
		t.Fatal("unexpected items (-want +got):\n", diff)
	}
}

func TestAdd(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	item, err := client.Add(ctx, "boiler started", "")
	require.NoError(t, err)
	require.Equal(t, "boiler started", item.Event)
	require.Empty(t, item.AfterEvent)
	require.NotEmpty(t, item.TimeEvent)
	require.Equal(t, operlogtest.Username, item.Operator)

	stored, ok := server.Item(item.ID)
	require.True(t, ok)
	require.Equal(t, "boiler started", stored.Event)

	second, err := client.Add(ctx, "boiler stopped", "no damage")
	require.NoError(t, err)
	require.Equal(t, "no damage", second.AfterEvent)
	require.Greater(t, second.ID, item.ID)

	_, err = client.Add(ctx, "", "after")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestGet(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	server.PutItem(operlogtest.Item{ID: 5, Event: "alarm", AfterEvent: "cleared"})

	item, err := client.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, LogItem{ID: 5, Event: "alarm", AfterEvent: "cleared"}, item)

	_, err = client.Get(ctx, 6)
	require.ErrorIs(t, err, core.ErrNotFound)
	var serverErr *core.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusNotFound, serverErr.StatusCode)

	_, err = client.Get(ctx, 0)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestEdit(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	server.PutItem(operlogtest.Item{ID: 2, Event: "old event", AfterEvent: "old after"})

	item, err := client.Edit(ctx, 2, ItemUpdate{AfterEvent: ptr("new after")})
	require.NoError(t, err)
	require.Equal(t, "old event", item.Event)
	require.Equal(t, "new after", item.AfterEvent)

	item, err = client.Edit(ctx, 2, ItemUpdate{Event: ptr("new event")})
	require.NoError(t, err)
	require.Equal(t, "new event", item.Event)
	require.Equal(t, "new after", item.AfterEvent)

	_, err = client.Edit(ctx, 2, ItemUpdate{})
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = client.Edit(ctx, 99, ItemUpdate{Event: ptr("x")})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestDelete(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	server.PutItem(operlogtest.Item{ID: 4, Event: "to remove"})

	status, err := client.Delete(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, status)
	_, ok := server.Item(4)
	require.False(t, ok)

	// a missing item is reported through the status code, not an error
	status, err = client.Delete(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
}

func TestOperationsSurviveTokenExpiry(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	server.PutItem(operlogtest.Item{ID: 1, Event: "kept"})
	server.ExpireToken()

	item, err := client.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "kept", item.Event)
	require.Equal(t, 2, server.LoginCount())
}

func TestAuthenticationFailureIsAnError(t *testing.T) {
	client, server := setup(t)
	server.SetAlwaysUnauthorized(true)

	_, err := client.ListAll(context.Background())
	var authErr *core.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.False(t, errors.Is(err, core.ErrNotFound))
}

// fixtureDispatcher answers every call with a fixed json body.
type fixtureDispatcher struct {
	url  string
	http *resty.Client
}

func httpFixture(t testing.TB, body string) fixtureDispatcher {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return fixtureDispatcher{url: server.URL, http: resty.New()}
}

func (d fixtureDispatcher) Call(ctx context.Context, method core.Method, endpoint string, body any) (*resty.Response, error) {
	return d.http.R().SetContext(ctx).Get(d.url + endpoint)
}

func TestListAllRejectsNonNumericKeys(t *testing.T) {
	server := httpFixture(t, `{"abc": {"event": "x"}}`)
	client := NewClient(server, &telemetry.RecordingAPI{})

	_, err := client.ListAll(context.Background())
	var parseErr *core.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestListAllFillsMissingIds(t *testing.T) {
	server := httpFixture(t, `{"7": {"event": "no id field"}}`)
	client := NewClient(server, &telemetry.RecordingAPI{})

	items, err := client.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, items[7].ID)
}
