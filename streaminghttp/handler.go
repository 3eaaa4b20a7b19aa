package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/druidops/druid-mcp-go/internal/jsonrpc"
	"github.com/druidops/druid-mcp-go/internal/logctx"
	"github.com/druidops/druid-mcp-go/server"
	"github.com/druidops/druid-mcp-go/sessions"
)

const (
	ssePath        = "/sse"
	messagePath    = "/message"
	sessionIDParam = "sessionId"

	endpointEvent = "endpoint"
	messageEvent  = "message"

	// maxMessageBytes bounds a single posted JSON-RPC message.
	maxMessageBytes = 4 << 20

	// sessionQueueDepth bounds how many dispatched-but-unprocessed messages a
	// single session may accumulate before posts are rejected.
	sessionQueueDepth = 64

	defaultHeartbeatInterval = 15 * time.Second
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC message exchange is possible. We do NOT claim JSON-RPC framing
// here; this is transport-level. Shape:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Handler serves the streaming transport: a stream-open endpoint that binds a
// new session to a server-sent event stream, and a message-post endpoint that
// routes JSON-RPC messages to the session named by its sessionId query
// parameter. Replies travel over the stream, never the POST response.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	dispatch  *server.Handler
	registry  *sessions.Registry
	heartbeat time.Duration

	mu    sync.Mutex
	conns map[string]*streamConn
}

// streamConn pairs a registered session with its per-session dispatch queue.
// One worker goroutine drains jobs so messages posted to a session are
// processed in arrival order even when posts overlap.
type streamConn struct {
	sess *sessions.Session
	jobs chan *jsonrpc.Request
}

// NewHandler builds a streaming transport handler that routes decoded
// messages through dispatch.
func NewHandler(dispatch *server.Handler, opts ...Option) *Handler {
	cfg := newConfig{
		logger:    slog.New(slog.DiscardHandler),
		heartbeat: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handler{
		log:       slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		dispatch:  dispatch,
		registry:  sessions.NewRegistry(),
		heartbeat: cfg.heartbeat,
		conns:     make(map[string]*streamConn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET %s", ssePath), h.handleOpenStream)
	mux.HandleFunc(fmt.Sprintf("POST %s", messagePath), h.handlePostMessage)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// SessionCount reports how many streams are currently registered.
func (h *Handler) SessionCount() int { return h.registry.Len() }

// Shutdown closes every live session, unblocking their stream handlers. The
// HTTP server owning this handler should be shut down afterwards so in-flight
// handlers can finish draining.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.registry.CloseAll()
	return ctx.Err()
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes a Server-Sent Event with the given event name and
// payload, then flushes. Payloads are single-line JSON so one data field
// suffices.
func writeSSEEvent(wf *lockedWriteFlusher, event string, payload []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(wf, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event name: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

// handleOpenStream handles GET /sse. It allocates a session, announces the
// per-session message endpoint as the first event, and then holds the stream
// open, relaying replies and heartbeats until the client disconnects or the
// handler shuts down. Session removal happens before this handler returns.
func (h *Handler) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response writer does not support streaming")
		return
	}

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	sess := h.registry.Create(sessions.MessageWriterFunc(func(_ context.Context, msg jsonrpc.Message) error {
		return writeSSEEvent(wf, messageEvent, msg)
	}))

	conn := &streamConn{sess: sess, jobs: make(chan *jsonrpc.Request, sessionQueueDepth)}
	h.mu.Lock()
	h.conns[sess.ID()] = conn
	h.mu.Unlock()
	defer h.teardown(sess.ID())

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Transport: "sse"})

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	endpoint := fmt.Sprintf("%s?%s=%s", messagePath, sessionIDParam, sess.ID())
	if err := writeSSEEvent(wf, endpointEvent, []byte(endpoint)); err != nil {
		h.log.WarnContext(ctx, "sse.stream.endpoint.failed", slog.String("error", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.open")

	go h.runSession(ctx, conn)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.close", slog.String("reason", "client disconnected"))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.close", slog.String("reason", "session closed"))
			return
		case <-ticker.C:
			if _, err := wf.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			wf.Flush()
		}
	}
}

// runSession drains one session's queue, dispatching each message and sending
// the reply, if any, over the session's stream.
func (h *Handler) runSession(ctx context.Context, conn *streamConn) {
	for {
		select {
		case <-conn.sess.Done():
			return
		case req := <-conn.jobs:
			res := h.dispatch.HandleMessage(ctx, req)
			if res == nil {
				continue
			}
			msg, err := json.Marshal(res)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.reply.encode.failed", slog.String("error", err.Error()))
				continue
			}
			if err := conn.sess.Send(ctx, msg); err != nil {
				h.log.WarnContext(ctx, "sse.reply.send.failed", slog.String("error", err.Error()))
			}
		}
	}
}

// handlePostMessage handles POST /message?sessionId=... . A missing sessionId
// is a 400, an unknown one a 404. Accepted messages are acknowledged with 202
// and answered over the session's stream.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId query parameter")
		return
	}
	h.mu.Lock()
	conn, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		h.log.InfoContext(ctx, "sse.message.session.miss", slog.String("session_id", id))
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, Transport: "sse"})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		return
	}
	req := msg.AsRequest()
	if req == nil {
		// Client-originated responses have no pending counterpart here; accept
		// and discard.
		h.log.DebugContext(ctx, "sse.message.response.ignored")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case conn.jobs <- req:
	default:
		writeJSONError(w, http.StatusServiceUnavailable, "session message queue is full")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// teardown removes a session from both the connection table and the registry,
// then closes it. Runs synchronously as the stream handler unwinds.
func (h *Handler) teardown(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	h.registry.Remove(id)
	if ok {
		conn.sess.Close()
	}
}
