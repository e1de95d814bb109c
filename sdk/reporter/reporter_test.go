package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coffersTech/logshim/sdk/diag"
	"github.com/coffersTech/logshim/sdk/poster"
	"github.com/coffersTech/logshim/sdk/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu    sync.Mutex
	calls []transport.Options
	block chan struct{}
}

func (rt *recordingTransport) Do(ctx context.Context, opts transport.Options) (*transport.Response, error) {
	if rt.block != nil {
		<-rt.block
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls = append(rt.calls, opts)
	return &transport.Response{StatusCode: 200}, nil
}

// envelopes decodes every body sent so far.
func (rt *recordingTransport) envelopes(t *testing.T) []map[string]json.RawMessage {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(rt.calls))
	for _, c := range rt.calls {
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(c.Data, &env))
		out = append(out, env)
	}
	return out
}

func dataString(t *testing.T, env map[string]json.RawMessage) string {
	var s string
	require.NoError(t, json.Unmarshal(env["data"], &s))
	return s
}

func TestReport_SingleStringIsVerbatim(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt)

	r.Report("user clicked save")
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "user clicked save", dataString(t, envs[0]))

	assert.Equal(t, DefaultURL, rt.calls[0].URL)
	assert.Equal(t, transport.MethodPost, rt.calls[0].Type)
	assert.Equal(t, transport.ContentTypeJSON, rt.calls[0].ContentType)
}

func TestReport_MultipleArgumentsAreSerializedList(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt, WithURL("/api/log"))

	r.Report("saving", map[string]int{"id": 7}, true)
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `["saving",{"id":7},true]`, dataString(t, envs[0]))
	assert.Equal(t, "/api/log", rt.calls[0].URL)
}

func TestReport_SingleNonStringIsSentAsValue(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt)

	r.Report(map[string]string{"k": "v"})
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"k":"v"}`, string(envs[0]["data"]))
}

func TestPostLog_SkipsEmpty(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt)

	r.PostLog(nil)
	r.PostLog("")
	r.Report()
	require.NoError(t, r.Close())

	assert.Empty(t, rt.envelopes(t))
}

func TestPostLog_StructIsSerializedString(t *testing.T) {
	type event struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	rt := &recordingTransport{}
	r := New(rt)

	r.PostLog(event{Name: "sync", Count: 2})
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"name":"sync","count":2}`, dataString(t, envs[0]))
}

func TestPostLog_PrimaryEncoderFallsBackToJSON(t *testing.T) {
	rt := &recordingTransport{}
	d := diag.New()
	failing := func(v any) ([]byte, error) {
		return nil, errors.New("primary encoder down")
	}
	r := New(rt, WithEncoder(failing), WithDiagnostics(d))

	r.Report("a", 1)
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `["a",1]`, dataString(t, envs[0]))
	assert.Equal(t, 0, d.Count(diag.Serialize))
}

func TestPostLog_UnserializableBecomesNull(t *testing.T) {
	rt := &recordingTransport{}
	d := diag.New()
	r := New(rt, WithDiagnostics(d))

	assert.NotPanics(t, func() {
		r.Report("bad", make(chan int))
		r.Report(func() {})
	})
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 2)
	for _, env := range envs {
		assert.Equal(t, "null", string(env["data"]))
	}
	assert.Equal(t, 2, d.Count(diag.Serialize))
	kind, err := d.LastError()
	assert.Equal(t, diag.Serialize, kind)
	assert.Error(t, err)
}

func TestPostLog_PanickingEncoderIsContained(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt, WithEncoder(func(v any) ([]byte, error) { panic("encoder bug") }))

	assert.NotPanics(t, func() { r.Report("x", "y") })
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `["x","y"]`, dataString(t, envs[0]))
}

func TestReporter_PreservesCallOrder(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt)

	for _, msg := range []string{"one", "two", "three", "four"} {
		r.Report(msg)
	}
	require.NoError(t, r.Close())

	var got []string
	for _, env := range rt.envelopes(t) {
		got = append(got, dataString(t, env))
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, got)
}

func TestReporter_DropsWhenFullAndAfterClose(t *testing.T) {
	rt := &recordingTransport{block: make(chan struct{})}
	d := diag.New()
	r := New(rt, WithQueueSize(1), WithDiagnostics(d))

	// The sender may already hold the first record, so overfill generously.
	for i := 0; i < 5; i++ {
		r.Report("burst")
	}
	close(rt.block)
	require.NoError(t, r.Close())

	assert.GreaterOrEqual(t, d.Count(diag.Dropped), 3)

	before := d.Count(diag.Dropped)
	r.Report("late")
	assert.Equal(t, before+1, d.Count(diag.Dropped))
	require.NoError(t, r.Close())
}

func TestReporter_DefaultTransportIsNoop(t *testing.T) {
	r := New(nil)
	r.Report("nowhere")
	assert.NoError(t, r.Close())
}

func TestReporter_SendsHeaders(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt, WithHeaders(map[string]string{"X-App": "billing"}))

	r.Report("hi")
	require.NoError(t, r.Close())

	require.Len(t, rt.calls, 1)
	assert.Equal(t, "billing", rt.calls[0].Headers["X-App"])
}

type failingTransport struct{}

func (failingTransport) Do(ctx context.Context, opts transport.Options) (*transport.Response, error) {
	return nil, errors.New("connection refused")
}

func TestReporter_CloseIsBoundedWhenEndpointIsDown(t *testing.T) {
	d := diag.New()
	p := poster.New(failingTransport{}, poster.WithRetries(3, 50*time.Millisecond), poster.WithDiagnostics(d))
	r := New(nil, WithPoster(p), WithDiagnostics(d), WithCloseTimeout(100*time.Millisecond))

	for i := 0; i < 10; i++ {
		r.Report("pending")
	}

	start := time.Now()
	err := r.Close()
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrCloseTimeout)
	assert.GreaterOrEqual(t, d.Count(diag.Dropped), 8)

	assert.NoError(t, r.Close())
}

func TestReporter_CloseContext(t *testing.T) {
	rt := &recordingTransport{block: make(chan struct{})}
	d := diag.New()
	r := New(rt, WithDiagnostics(d), WithCloseTimeout(0))
	r.Report("one")
	r.Report("two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	close(rt.block)
	err := r.CloseContext(ctx)
	if err != nil {
		assert.ErrorIs(t, err, ErrCloseTimeout)
	}
	rt.mu.Lock()
	sent := len(rt.calls)
	rt.mu.Unlock()
	assert.Equal(t, 2, sent+d.Count(diag.Dropped))
}

func TestPostLog_SkipsNilValues(t *testing.T) {
	rt := &recordingTransport{}
	r := New(rt)

	var p *struct{ A int }
	var m map[string]int
	var sl []int
	r.PostLog(p)
	r.PostLog(m)
	r.PostLog(sl)
	r.PostLog([]any(nil))
	r.PostLog(map[string]int{})
	require.NoError(t, r.Close())

	envs := rt.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "{}", dataString(t, envs[0]))
}
