// ABOUTME: Tests for routing, CORS, auth gating, and the five relay endpoints
// ABOUTME: Covers the SSE broadcast scenarios end to end over real connections

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/time/rate"
)

func TestOptions_PreflightShortCircuits(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	for _, path := range []string{"/events", "/message", "/push", "/relay/vargo", "/anything"} {
		rec, _ := doJSON(t, h, http.MethodOptions, path, "", "")

		assert.Equal(t, http.StatusNoContent, rec.Code, "path %s", path)
		assert.Empty(t, rec.Body.String(), "path %s", path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), "path %s", path)
	}

	send, complete := ts.backend.calls()
	assert.Empty(t, send)
	assert.Empty(t, complete)
	assert.Equal(t, 0, ts.registry.Count())
}

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/healthz"},
		{http.MethodGet, "/no/such/route"},
		{http.MethodPost, "/message"},
	}

	for _, tc := range cases {
		rec, _ := doJSON(t, h, tc.method, tc.path, "", "")
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), "%s %s", tc.method, tc.path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Clawd-Token")
	}
}

func TestUnmatchedRoutesAre404(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, _ := doJSON(t, h, http.MethodGet, "/no/such/route", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Right path, wrong method
	rec, _ = doJSON(t, h, http.MethodGet, "/message", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/events", goodToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessage_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	// No credential at all
	rec, body := doJSON(t, h, http.MethodPost, "/message", "", `{"message":"ping"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	// Invalid credential
	rec, _ = doJSON(t, h, http.MethodPost, "/message", "wrong-token", `{"message":"ping"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	send, complete := ts.backend.calls()
	assert.Empty(t, send, "unauthenticated requests must never reach the backend")
	assert.Empty(t, complete)
}

func TestEvents_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/events", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, 0, ts.registry.Count(), "unauthenticated requests must never register a connection")
}

func TestMessage_TokenSources(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	// Custom header
	req := httptest.NewRequest(http.MethodPost, "/message", nil)
	req.Header.Set("X-Clawd-Token", goodToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "authenticated but empty body")

	// Query parameter
	req = httptest.NewRequest(http.MethodPost, "/message?token="+goodToken, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessage_MissingMessageField(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"other":"field"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", body["error"])

	send, complete := ts.backend.calls()
	assert.Empty(t, send, "a 400 must not trigger an outbound call")
	assert.Empty(t, complete)
}

func TestMessage_MalformedBody(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"message": not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestMessage_ForwardsToBackend(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"message":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, map[string]any{"reply": "pong"}, body["result"])

	send, _ := ts.backend.calls()
	assert.Equal(t, []string{"ping"}, send, "backend invoked exactly once with the message")
}

func TestMessage_BackendFailureIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.err = assert.AnError
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"message":"ping"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to communicate with backend", body["error"])
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestMessage_CompletionsMode(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken,
		`{"message":"hello","useCompletions":true,"systemPrompt":"be brief"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "completion reply", body["reply"])

	send, complete := ts.backend.calls()
	assert.Empty(t, send)
	assert.Equal(t, []string{"hello"}, complete)
	assert.Equal(t, []string{"be brief"}, ts.backend.systemPrompts)
}

func TestMessage_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	h := ts.srv.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"message":"one"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, http.MethodPost, "/message", goodToken, `{"message":"two"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limited", body["error"])

	send, _ := ts.backend.calls()
	assert.Equal(t, []string{"one"}, send)
}

func TestPush_BroadcastsToOpenStreams(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	t.Cleanup(httpSrv.Close)

	first := openStream(t, httpSrv.URL)
	second := openStream(t, httpSrv.URL)

	require.Eventually(t, func() bool { return ts.registry.Count() == 2 },
		time.Second, 10*time.Millisecond)

	resp, err := http.Post(httpSrv.URL+"/push", "application/json",
		jsonBody(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.True(t, ack["ok"])

	for i, st := range []*sseStream{first, second} {
		payload := st.readData(t)

		var event struct {
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal([]byte(payload), &event), "stream %d", i)
		assert.Equal(t, "hi", event.Message, "stream %d", i)

		_, err := time.Parse(time.RFC3339, event.Timestamp)
		assert.NoError(t, err, "stream %d timestamp %q", i, event.Timestamp)
	}
}

func TestPush_MissingMessage(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/push", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", body["error"])
}

func TestEvents_KeepAliveArrives(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	t.Cleanup(httpSrv.Close)

	st := openStream(t, httpSrv.URL)

	// keepAlive is 50ms in tests; the next non-blank line on an idle
	// stream must be the keep-alive comment.
	assert.Equal(t, ": keepalive", st.readLine(t))
}

func TestEvents_DisconnectUnregisters(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	t.Cleanup(httpSrv.Close)

	st := openStream(t, httpSrv.URL)
	require.Eventually(t, func() bool { return ts.registry.Count() == 1 },
		time.Second, 10*time.Millisecond)

	st.cancel()

	require.Eventually(t, func() bool { return ts.registry.Count() == 0 },
		2*time.Second, 10*time.Millisecond,
		"disconnect must remove the connection from the registry")
}

func TestRelay_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	ts.relay.configured = false
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/relay/vargo", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "relay not configured", body["error"])
	assert.Empty(t, ts.relay.calls(), "no outbound call without a credential")
}

func TestRelay_ForwardsMessage(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/relay/vargo", "", `{"message":"hi vargo"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, []string{"hi vargo"}, ts.relay.calls())
}

func TestRelay_FailureIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.relay.err = assert.AnError
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/relay/vargo", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to relay message", body["error"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}
