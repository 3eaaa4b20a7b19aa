package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/druidops/druid-mcp-go/internal/jsonrpc"
	"github.com/druidops/druid-mcp-go/server"
)

// maxFrameBytes bounds a single inbound line. Large SQL results flow the
// other way, so inbound frames stay small; 4 MiB leaves generous headroom.
const maxFrameBytes = 4 << 20

// Handler is the single-connection stdio transport. It reads JSON-RPC
// messages from an io.Reader and writes responses to an io.Writer,
// defaulting to os.Stdin and os.Stdout. All MCP semantics are delegated to
// the server.Handler.
type Handler struct {
	r io.Reader
	w io.Writer
	l *slog.Logger

	dispatch *server.Handler
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(dispatch *server.Handler, opts ...Option) *Handler {
	h := &Handler{
		r: os.Stdin,
		w: os.Stdout,
		// stdout is the wire; discard logs unless the caller overrides.
		l:        slog.New(slog.DiscardHandler),
		dispatch: dispatch,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 64*1024), maxFrameBytes)
		for sc.Scan() {
			// Scanner reuses its buffer; copy before handing off.
			line := make([]byte, len(sc.Bytes()))
			copy(line, sc.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	h.l.InfoContext(ctx, "stdio.serve.start")
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.stop")
			return ctx.Err()
		case err := <-readErr:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read stdin: %w", err)
			}
			h.l.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			h.handleLine(ctx, line)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.l.WarnContext(ctx, "stdio.frame.invalid", slog.String("err", err.Error()))
		h.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "invalid JSON-RPC message: "+err.Error(), nil))
		return
	}

	req := msg.AsRequest()
	if req == nil {
		// Client responses have no place on this server; drop them.
		h.l.DebugContext(ctx, "stdio.frame.ignored")
		return
	}

	res := h.dispatch.HandleMessage(ctx, req)
	if res == nil {
		return
	}
	h.write(ctx, res)
}

func (h *Handler) write(ctx context.Context, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')
	if _, err := h.w.Write(b); err != nil {
		h.l.ErrorContext(ctx, "stdio.response.write.fail", slog.String("err", err.Error()))
	}
}
