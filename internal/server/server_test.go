// ABOUTME: Test doubles and helpers shared by the server handler tests
// ABOUTME: Fake verifier, backend, and relay plus an SSE stream reader

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vargolabs/archie-relay/internal/auth"
	"github.com/vargolabs/archie-relay/internal/config"
	"github.com/vargolabs/archie-relay/internal/stream"
)

const goodToken = "good-token"

// fakeVerifier accepts exactly goodToken.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, raw string) (*auth.Identity, error) {
	if raw == goodToken {
		return &auth.Identity{Email: "owner@example.com", Subject: "subject-1"}, nil
	}
	return nil, auth.ErrInvalidToken
}

// fakeBackend records forwarded messages and serves canned replies.
type fakeBackend struct {
	mu            sync.Mutex
	sendCalls     []string
	completeCalls []string
	systemPrompts []string

	sendResult    json.RawMessage
	completeReply string
	err           error
}

func (f *fakeBackend) Send(_ context.Context, message string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, message)
	if f.err != nil {
		return nil, f.err
	}
	return f.sendResult, nil
}

func (f *fakeBackend) Complete(_ context.Context, message, systemPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, message)
	f.systemPrompts = append(f.systemPrompts, systemPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.completeReply, nil
}

func (f *fakeBackend) calls() (send, complete []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sendCalls...), append([]string(nil), f.completeCalls...)
}

// fakeRelay records relayed messages.
type fakeRelay struct {
	mu         sync.Mutex
	configured bool
	err        error
	relayed    []string
}

func (f *fakeRelay) Configured() bool { return f.configured }

func (f *fakeRelay) Relay(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayed = append(f.relayed, text)
	return f.err
}

func (f *fakeRelay) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.relayed...)
}

// testServer bundles a Server with its doubles.
type testServer struct {
	srv      *Server
	registry *stream.Registry
	backend  *fakeBackend
	relay    *fakeRelay
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	registry := stream.NewRegistry(nil)
	backend := &fakeBackend{
		sendResult:    json.RawMessage(`{"reply":"pong"}`),
		completeReply: "completion reply",
	}
	relay := &fakeRelay{configured: true}

	srv := New(&config.Config{}, fakeVerifier{}, registry, backend, relay, nil)
	srv.keepAlive = 50 * time.Millisecond

	return &testServer{srv: srv, registry: registry, backend: backend, relay: relay}
}

// sseStream is one open /events connection.
type sseStream struct {
	reader *bufio.Reader
	cancel context.CancelFunc
}

// openStream connects to /events and consumes the initial comment.
func openStream(t *testing.T, baseURL string) *sseStream {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/events?token="+goodToken, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	st := &sseStream{reader: bufio.NewReader(resp.Body), cancel: cancel}
	require.Equal(t, ": connected", st.readLine(t))
	return st
}

// readLine returns the next non-blank line from the stream.
func (st *sseStream) readLine(t *testing.T) string {
	t.Helper()
	for {
		line, err := st.reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line != "" {
			return line
		}
	}
}

// readData returns the payload of the next data event, skipping
// keep-alive comments.
func (st *sseStream) readData(t *testing.T) string {
	t.Helper()
	for {
		line := st.readLine(t)
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			return payload
		}
		require.True(t, strings.HasPrefix(line, ":"), "unexpected SSE line %q", line)
	}
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}

// doJSON runs one request against the handler and decodes the JSON body.
func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}
