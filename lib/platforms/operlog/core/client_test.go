package core

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"operlog-client/internal/components/telemetry"
	"operlog-client/lib/platforms/operlog/operlogtest"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *operlogtest.Server
	store  FileTokenStore
	tel    *telemetry.RecordingAPI
}

func setupEnv(t testing.TB) testEnv {
	server := operlogtest.NewServer()
	t.Cleanup(server.Close)
	return testEnv{
		server: server,
		store:  NewFileTokenStore(filepath.Join(t.TempDir(), ".token")),
		tel:    &telemetry.RecordingAPI{},
	}
}

func (e testEnv) options() ClientOptions {
	return ClientOptions{
		BaseUrl:    e.server.URL,
		Username:   operlogtest.Username,
		Password:   operlogtest.Password,
		TokenStore: e.store,
	}
}

func (e testEnv) connect(t testing.TB) *Client {
	client, err := Connect(context.Background(), e.options(), e.tel)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientOptions{Username: "a", Password: "b"}, telemetry.SlogAPI{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewClient(ClientOptions{BaseUrl: "http://localhost"}, telemetry.SlogAPI{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBootstrapUsesStoredToken(t *testing.T) {
	env := setupEnv(t)
	env.server.SetValidToken("persisted")
	require.NoError(t, env.store.Save("persisted"))

	client := env.connect(t)
	require.Equal(t, "persisted", client.Session().Token())
	require.Equal(t, 0, env.server.LoginCount())

	res, err := client.Call(context.Background(), MethodGet, "/api", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
}

func TestBootstrapLogsInWithoutStoredToken(t *testing.T) {
	env := setupEnv(t)

	client := env.connect(t)
	require.Equal(t, 1, env.server.LoginCount())
	require.Equal(t, env.server.ValidToken(), client.Session().Token())

	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, env.server.ValidToken(), stored)
}

func TestBootstrapFailsWithoutToken(t *testing.T) {
	env := setupEnv(t)
	env.server.SetLoginBroken(true)

	client, err := Connect(context.Background(), env.options(), env.tel)
	require.Nil(t, client)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	require.Len(t, env.tel.Find("broken", report_session_renew), 1)

	_, err = env.store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestBootstrapWrongCredentials(t *testing.T) {
	env := setupEnv(t)
	opts := env.options()
	opts.Password = "wrong"

	_, err := Connect(context.Background(), opts, env.tel)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestCallBeforeBootstrap(t *testing.T) {
	env := setupEnv(t)
	client, err := NewClient(env.options(), env.tel)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), MethodGet, "/api", nil)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Empty(t, env.server.Requests())
}

func TestCallRetriesWithRenewedToken(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.store.Save("stale"))

	client := env.connect(t)
	require.Equal(t, "stale", client.Session().Token())

	res, err := client.Call(context.Background(), MethodGet, "/api", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())

	requests := env.server.Requests()
	require.Len(t, requests, 2)
	require.Equal(t, "stale", requests[0].Token)
	require.Equal(t, env.server.ValidToken(), requests[1].Token)
	require.NotEqual(t, "stale", requests[1].Token)

	require.Equal(t, env.server.ValidToken(), client.Session().Token())
	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, env.server.ValidToken(), stored)
}

func TestCallMakesAtMostTwoAttempts(t *testing.T) {
	env := setupEnv(t)
	client := env.connect(t)
	env.server.SetAlwaysUnauthorized(true)

	for _, method := range []Method{MethodGet, MethodPost, MethodPut, MethodDelete} {
		before := len(env.server.Requests())

		_, err := client.Call(context.Background(), method, "/api/1", map[string]string{"event": "x"})
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)

		require.Equal(t, 2, len(env.server.Requests())-before, method.String())
	}
	require.NotEmpty(t, env.tel.Find("broken", report_dispatcher_call))
}

func TestCallKeepsTokenWhenRenewalFails(t *testing.T) {
	env := setupEnv(t)
	client := env.connect(t)
	token := client.Session().Token()

	env.server.ExpireToken()
	env.server.SetLoginBroken(true)
	loginsBefore := env.server.LoginCount()

	_, err := client.Call(context.Background(), MethodGet, "/api", nil)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	require.Len(t, env.server.Requests(), 1)
	require.Equal(t, loginsBefore+1, env.server.LoginCount())
	require.Equal(t, token, client.Session().Token())

	stored, err := env.store.Load()
	require.NoError(t, err)
	require.Equal(t, token, stored)
}

func TestCallPassesThroughOtherStatuses(t *testing.T) {
	env := setupEnv(t)
	client := env.connect(t)

	res, err := client.Call(context.Background(), MethodGet, "/api/404", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode())
	require.Len(t, env.server.Requests(), 1)
}

func TestCallTransportError(t *testing.T) {
	env := setupEnv(t)
	client := env.connect(t)
	env.server.Close()

	_, err := client.Call(context.Background(), MethodGet, "/api", nil)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, MethodGet, transportErr.Method)
	require.Equal(t, "/api", transportErr.Endpoint)
}

func TestCallUnknownMethod(t *testing.T) {
	env := setupEnv(t)
	client := env.connect(t)

	_, err := client.Call(context.Background(), Method(42), "/api", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Empty(t, env.server.Requests())
}

func TestConcurrentRenewalLogsInOnce(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.store.Save("stale"))
	client := env.connect(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Call(context.Background(), MethodGet, "/api", nil)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errors.Join(errs...))
	require.Equal(t, 1, env.server.LoginCount())
}

func TestServerErrorClassification(t *testing.T) {
	notFound := &ServerError{Method: MethodGet, Endpoint: "/api/7", StatusCode: http.StatusNotFound}
	require.True(t, notFound.NotFound())
	require.ErrorIs(t, notFound, ErrNotFound)

	internal := &ServerError{Method: MethodGet, Endpoint: "/api", StatusCode: http.StatusInternalServerError}
	require.False(t, internal.NotFound())
	require.False(t, errors.Is(internal, ErrNotFound))
	require.Contains(t, internal.Error(), "500")
}

func TestBootstrapReportsUnreadableStore(t *testing.T) {
	env := setupEnv(t)
	// a directory where the token file should be cannot be read as a file
	dir := filepath.Join(t.TempDir(), ".token")
	require.NoError(t, os.Mkdir(dir, 0700))
	opts := env.options()
	opts.TokenStore = unreadableStore{path: dir}

	client, err := Connect(context.Background(), opts, env.tel)
	require.NoError(t, err)
	require.Equal(t, env.server.ValidToken(), client.Session().Token())
	require.Len(t, env.tel.Find("warning", report_session_bootstrap), 1)
}

// unreadableStore fails to load but persists like a normal store.
type unreadableStore struct {
	path string
}

func (s unreadableStore) Load() (string, error) {
	return NewFileTokenStore(s.path).Load()
}

func (s unreadableStore) Save(token string) error {
	return NewFileTokenStore(filepath.Join(s.path, "token")).Save(token)
}
