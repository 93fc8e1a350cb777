package telemetry

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &RecordingAPI{}
	scoped := NewScopedAPI("operlog_core", rec)

	scoped.ReportBroken("session.renew", "boom")
	scoped.ReportWarning("session.bootstrap")

	broken := rec.Find("broken", "session.renew")
	require.Len(t, broken, 1)
	require.Equal(t, "operlog_core: session.renew", broken[0].ID)
	require.Equal(t, []any{"boom"}, broken[0].Params)
	require.Len(t, rec.Find("warning", "session.bootstrap"), 1)
	require.Empty(t, rec.Find("broken", "session.bootstrap"))
}

type memoryDump struct {
	mu    sync.Mutex
	dumps map[string]string
}

func (m *memoryDump) Write(id, contents string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dumps[id] = contents
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	rec := &RecordingAPI{}
	dump := &memoryDump{dumps: map[string]string{}}
	client := resty.New()
	InstrumentResty(client, rec, dump)

	res, err := client.R().
		SetAuthToken("very-secret").
		SetBody(map[string]string{"event": "hello"}).
		Post(srv.URL + "/api")
	require.NoError(t, err)
	require.Equal(t, http.StatusTeapot, res.StatusCode())

	require.Len(t, rec.Find("debug", report_resty_request), 1)
	require.Len(t, rec.Find("debug", report_resty_response), 1)

	require.Contains(t, dump.dumps, "1")
	rendered := dump.dumps["1"]
	require.Contains(t, rendered, "short and stout")
	require.Contains(t, rendered, `{"event":"hello"}`)
	require.NotContains(t, rendered, "very-secret")
}

func TestInstrumentRestyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := &RecordingAPI{}
	client := resty.New()
	InstrumentResty(client, rec, nil)

	_, err := client.R().Get(url)
	require.Error(t, err)
	require.Len(t, rec.Find("broken", report_resty_response), 1)
}
