package streaminghttp

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/druidops/druid-mcp-go/druid"
	"github.com/druidops/druid-mcp-go/internal/jsonrpc"
	"github.com/druidops/druid-mcp-go/mcp"
	"github.com/druidops/druid-mcp-go/server"
)

type staticUpstream struct{}

func (staticUpstream) RunSQLQuery(ctx context.Context, query string, qc map[string]any) (*druid.QueryResult, error) {
	return &druid.QueryResult{
		Rows:        []map[string]any{{"n": float64(1)}},
		ColumnOrder: []string{"n"},
	}, nil
}
func (staticUpstream) ListDatasources(ctx context.Context) ([]string, error) {
	return []string{"wikipedia"}, nil
}
func (staticUpstream) ListSegments(ctx context.Context, datasource string) ([]druid.Segment, error) {
	return []druid.Segment{}, nil
}
func (staticUpstream) GetDatasourceMetadata(ctx context.Context, name string) (*druid.DatasourceMetadata, error) {
	return &druid.DatasourceMetadata{ID: name}, nil
}
func (staticUpstream) GetStatus(ctx context.Context) (*druid.Status, error) {
	return &druid.Status{Status: "healthy"}, nil
}
func (staticUpstream) TestConnection(ctx context.Context) bool { return true }

func newTestServer(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	dispatch := server.New(staticUpstream{}, server.WithLogger(slog.New(slog.DiscardHandler)))
	h := NewHandler(dispatch, WithHeartbeatInterval(time.Hour))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

// sseStream is a test-side reader for one open event stream.
type sseStream struct {
	cancel context.CancelFunc
	body   interface{ Close() error }
	r      *bufio.Reader
}

func openStream(t *testing.T, srv *httptest.Server) *sseStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+ssePath, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	res, err := srv.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		cancel()
		t.Fatalf("open stream: status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	s := &sseStream{cancel: cancel, body: res.Body, r: bufio.NewReader(res.Body)}
	t.Cleanup(s.close)
	return s
}

func (s *sseStream) close() {
	s.cancel()
	_ = s.body.Close()
}

// nextEvent reads one SSE frame, skipping comment lines.
func (s *sseStream) nextEvent(t *testing.T) (event, data string) {
	t.Helper()
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// endpoint reads the stream's opening event and returns the announced
// message-post path.
func (s *sseStream) endpoint(t *testing.T) string {
	t.Helper()
	event, data := s.nextEvent(t)
	if event != "endpoint" {
		t.Fatalf("first event = %q, want endpoint", event)
	}
	return data
}

func sessionIDFromEndpoint(t *testing.T, endpoint string) string {
	t.Helper()
	_, query, ok := strings.Cut(endpoint, "?")
	if !ok {
		t.Fatalf("endpoint %q has no query string", endpoint)
	}
	id := strings.TrimPrefix(query, sessionIDParam+"=")
	if id == query || id == "" {
		t.Fatalf("endpoint %q does not carry a session id", endpoint)
	}
	return id
}

func postMessage(t *testing.T, srv *httptest.Server, endpoint, body string) *http.Response {
	t.Helper()
	res, err := srv.Client().Post(srv.URL+endpoint, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func waitForSessionCount(t *testing.T, h *Handler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session count = %d, want %d", h.SessionCount(), want)
}

func TestOpenStreamAnnouncesEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	stream := openStream(t, srv)
	endpoint := stream.endpoint(t)
	if !strings.HasPrefix(endpoint, messagePath+"?"+sessionIDParam+"=") {
		t.Fatalf("endpoint = %q, want %s?%s=<id>", endpoint, messagePath, sessionIDParam)
	}
	sessionIDFromEndpoint(t, endpoint)
}

func TestConcurrentStreamsGetDistinctSessions(t *testing.T) {
	h, srv := newTestServer(t)

	first := openStream(t, srv)
	second := openStream(t, srv)
	firstID := sessionIDFromEndpoint(t, first.endpoint(t))
	secondID := sessionIDFromEndpoint(t, second.endpoint(t))
	if firstID == secondID {
		t.Fatalf("both streams got session id %q", firstID)
	}
	waitForSessionCount(t, h, 2)

	first.close()
	waitForSessionCount(t, h, 1)

	// The surviving session still accepts messages.
	res := postMessage(t, srv, messagePath+"?"+sessionIDParam+"="+secondID,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("post to surviving session: status = %d, want 202", res.StatusCode)
	}
}

func TestPostMessageRepliesOverStream(t *testing.T) {
	_, srv := newTestServer(t)

	stream := openStream(t, srv)
	endpoint := stream.endpoint(t)

	res := postMessage(t, srv, endpoint, `{"jsonrpc":"2.0","id":7,"method":"`+string(mcp.ToolsListMethod)+`"}`)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("post: status = %d, want 202", res.StatusCode)
	}

	event, data := stream.nextEvent(t)
	if event != "message" {
		t.Fatalf("reply event = %q, want message", event)
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	reply := msg.AsResponse()
	if reply == nil {
		t.Fatalf("reply is not a response: %s", data)
	}
	if got := reply.ID.String(); got != "7" {
		t.Errorf("reply id = %q, want 7", got)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(result.Tools) != 4 {
		t.Errorf("tools = %d, want 4", len(result.Tools))
	}
}

func TestPostMessagePreservesArrivalOrder(t *testing.T) {
	_, srv := newTestServer(t)

	stream := openStream(t, srv)
	endpoint := stream.endpoint(t)

	for i := 1; i <= 3; i++ {
		res := postMessage(t, srv, endpoint,
			`{"jsonrpc":"2.0","id":`+strconv.Itoa(i)+`,"method":"ping"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("post %d: status = %d, want 202", i, res.StatusCode)
		}
	}

	for i := 1; i <= 3; i++ {
		_, data := stream.nextEvent(t)
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.Fatalf("decode reply %d: %v", i, err)
		}
		reply := msg.AsResponse()
		if reply == nil {
			t.Fatalf("reply %d is not a response: %s", i, data)
		}
		if got, want := reply.ID.String(), strconv.Itoa(i); got != want {
			t.Fatalf("reply %d id = %q, want %q", i, got, want)
		}
	}
}

func TestPostMessageMissingSessionID(t *testing.T) {
	_, srv := newTestServer(t)

	res := postMessage(t, srv, messagePath, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestPostMessageUnknownSessionID(t *testing.T) {
	_, srv := newTestServer(t)

	res := postMessage(t, srv, messagePath+"?"+sessionIDParam+"=not-a-session",
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestPostMessageAfterStreamClosed(t *testing.T) {
	h, srv := newTestServer(t)

	stream := openStream(t, srv)
	endpoint := stream.endpoint(t)
	stream.close()
	waitForSessionCount(t, h, 0)

	res := postMessage(t, srv, endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestPostMessageRejectsWrongContentType(t *testing.T) {
	_, srv := newTestServer(t)

	stream := openStream(t, srv)
	endpoint := stream.endpoint(t)

	res, err := srv.Client().Post(srv.URL+endpoint, "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", res.StatusCode)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	h, srv := newTestServer(t)

	stream := openStream(t, srv)
	stream.endpoint(t)
	waitForSessionCount(t, h, 1)

	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitForSessionCount(t, h, 0)
}
