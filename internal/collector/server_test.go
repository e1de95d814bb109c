package collector

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *Buffer, *Clients) {
	t.Helper()
	b := NewBuffer(t.TempDir(), nil, nil)
	c := NewClients()
	opts = append(opts, withClock(func() time.Time { return time.Unix(0, 42) }))
	return NewServer(b, c, opts...), b, c
}

func post(t *testing.T, s *Server, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_AcceptsRecord(t *testing.T) {
	s, b, c := newTestServer(t)

	w := post(t, s, "/log", `{"data":["boom",{"k":1}]}`, map[string]string{InstanceIDKey: "inst-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["id"])

	got := b.Recent(1)
	require.Len(t, got, 1)
	assert.Equal(t, resp["id"], got[0].ID)
	assert.Equal(t, int64(42), got[0].ReceivedAt)
	assert.Equal(t, "inst-1", got[0].InstanceID)
	assert.Equal(t, "192.0.2.1", got[0].Remote)
	assert.JSONEq(t, `["boom",{"k":1}]`, string(got[0].Data))

	cl, ok := c.Get("inst-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), cl.Records)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.received))
}

func TestServer_StringData(t *testing.T) {
	s, b, _ := newTestServer(t)
	w := post(t, s, "/log", `{"data":"plain text"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"plain text"`, string(b.Recent(1)[0].Data))
}

func TestServer_RejectsBadBodies(t *testing.T) {
	s, b, _ := newTestServer(t)

	for _, body := range []string{`not json`, `["data"]`, `{"other":1}`} {
		w := post(t, s, "/log", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.rejected.WithLabelValues("missing_data")))
}

func TestServer_OversizedBodyIs413(t *testing.T) {
	s, b, _ := newTestServer(t)
	body := `{"data":"` + strings.Repeat("x", MaxBodySize) + `"}`

	w := post(t, s, "/log", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.rejected.WithLabelValues("too_large")))
}

func TestServer_FullBufferIs503(t *testing.T) {
	b := NewBuffer(t.TempDir(), nil, nil, WithMaxRecords(1))
	c := NewClients()
	s := NewServer(b, c)

	assert.Equal(t, http.StatusOK, post(t, s, "/log", `{"data":1}`, nil).Code)
	w := post(t, s, "/log", `{"data":2}`, map[string]string{InstanceIDKey: "late"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.rejected.WithLabelValues("buffer_full")))
}

func TestServer_CustomPath(t *testing.T) {
	s, _, _ := newTestServer(t, WithPath("/api/log"))
	assert.Equal(t, http.StatusOK, post(t, s, "/api/log", `{"data":1}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, post(t, s, "/log", `{"data":1}`, nil).Code)
}

func TestServer_BearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	s, b, _ := newTestServer(t, WithTokenHashes([]string{string(hash)}))

	w := post(t, s, "/log", `{"data":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")

	w = post(t, s, "/log", `{"data":1}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for i := 0; i < 2; i++ {
		w = post(t, s, "/log", `{"data":1}`, map[string]string{"Authorization": "Bearer secret"})
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(s.rejected.WithLabelValues("unauthorized")))
}

func TestServer_Records(t *testing.T) {
	s, b, _ := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		b.Append(model.Record{ID: id, Data: json.RawMessage(`1`)})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/records?limit=2", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got []model.Record
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/api/records?limit=-1", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ClientsAndMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	post(t, s, "/log", `{"data":1}`, map[string]string{InstanceIDKey: "inst-9"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/clients")
	require.NoError(t, err)
	var clients []Client
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clients))
	resp.Body.Close()
	require.Len(t, clients, 1)
	assert.Equal(t, "inst-9", clients[0].InstanceID)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "logshim_collector_records_total 1")
	assert.Contains(t, string(body), "logshim_collector_clients 1")
}
