package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/druidops/druid-mcp-go/internal/jsonrpc"
	"github.com/druidops/druid-mcp-go/internal/logctx"
	"github.com/druidops/druid-mcp-go/mcp"
)

// supportedProtocolVersions lists the protocol revisions this server can
// speak, newest first.
var supportedProtocolVersions = []string{
	mcp.LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

// Handler is the transport-independent dispatch layer. Both transports
// decode JSON-RPC framing and hand requests here; replies are returned to
// the transport that originated the request.
type Handler struct {
	info      mcp.ImplementationInfo
	tools     *toolset
	resources *resourceRouter
	log       *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the dispatch layer. If not
// provided, logs go to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithServerInfo overrides the advertised implementation info.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) { h.info = info }
}

// New constructs a Handler over the given upstream.
func New(client Upstream, opts ...Option) *Handler {
	h := &Handler{
		info: mcp.ImplementationInfo{Name: "druid-mcp", Version: "1.0.0"},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	h.tools = newToolset(client, h.log)
	h.resources = newResourceRouter(client, h.log)
	return h
}

// HandleMessage dispatches one decoded JSON-RPC message. Notifications
// return a nil response; requests always return a response, never an error:
// failures are encoded as JSON-RPC error responses.
func (h *Handler) HandleMessage(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   messageType(req),
	})

	if req.ID.IsNil() {
		h.handleNotification(ctx, req)
		return nil
	}

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return h.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return mustResult(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return mustResult(req.ID, &mcp.ListToolsResult{Tools: h.tools.List()})
	case mcp.ToolsCallMethod:
		return h.handleToolsCall(ctx, req)
	case mcp.ResourcesListMethod:
		return mustResult(req.ID, &mcp.ListResourcesResult{Resources: h.resources.List(ctx)})
	case mcp.ResourcesReadMethod:
		return h.handleResourcesRead(ctx, req)
	default:
		h.log.WarnContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

func (h *Handler) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		h.log.InfoContext(ctx, "session.initialized")
	default:
		h.log.DebugContext(ctx, "notification.ignored")
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params: "+err.Error(), nil)
		}
	}

	version := mcp.LatestProtocolVersion
	for _, v := range supportedProtocolVersions {
		if params.ProtocolVersion == v {
			version = v
			break
		}
	}

	h.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("client", params.ClientInfo.Name),
		slog.String("protocol_version", version))

	return mustResult(req.ID, &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
			Resources: &struct {
				ListChanged bool `json:"listChanged"`
				Subscribe   bool `json:"subscribe"`
			}{},
		},
		ServerInfo: h.info,
	})
}

func (h *Handler) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params: "+err.Error(), nil)
	}
	res := h.tools.Call(ctx, &params)
	return mustResult(req.ID, res)
}

func (h *Handler) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid resources/read params: "+err.Error(), nil)
	}

	contents, err := h.resources.Read(ctx, params.URI)
	if err != nil {
		var routeErr *RoutingError
		if errors.As(err, &routeErr) {
			h.log.WarnContext(ctx, "resource.read.unknown", slog.String("uri", params.URI))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, routeErr.Error(), nil)
		}
		h.log.WarnContext(ctx, "resource.read.fail", slog.String("uri", params.URI), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return mustResult(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

// mustResult encodes a result response. Result types here are all
// marshal-safe structs, so an encoding failure indicates a programming error
// and is reported as an internal JSON-RPC error.
func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode response", nil)
	}
	return res
}

func messageType(req *jsonrpc.Request) string {
	if req.ID.IsNil() {
		return "notification"
	}
	return "request"
}
