package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/druidops/druid-mcp-go/druid"
	"github.com/druidops/druid-mcp-go/internal/logctx"
	"github.com/druidops/druid-mcp-go/mcp"
)

// Tool names. The set is closed: the dispatch table is built once at
// construction and never mutated.
const (
	toolExecuteSQLQuery       = "execute_sql_query"
	toolListDatasources       = "list_datasources"
	toolGetDatasourceMetadata = "get_datasource_metadata"
	toolTestConnection        = "test_connection"
)

// Upstream is the slice of the Druid client the dispatch layer consumes.
// *druid.Client satisfies it; tests substitute fakes.
type Upstream interface {
	RunSQLQuery(ctx context.Context, query string, queryContext map[string]any) (*druid.QueryResult, error)
	ListDatasources(ctx context.Context) ([]string, error)
	ListSegments(ctx context.Context, datasource string) ([]druid.Segment, error)
	GetDatasourceMetadata(ctx context.Context, name string) (*druid.DatasourceMetadata, error)
	GetStatus(ctx context.Context) (*druid.Status, error)
	TestConnection(ctx context.Context) bool
}

type executeSQLArgs struct {
	Query   string         `json:"query" jsonschema:"description=SQL query to execute against Druid"`
	Context map[string]any `json:"context,omitempty" jsonschema:"description=Optional Druid query context parameters"`
}

type metadataArgs struct {
	Datasource string `json:"datasource" jsonschema:"description=Name of the datasource to describe"`
}

type emptyArgs struct{}

type toolHandler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

type toolEntry struct {
	descriptor mcp.Tool
	handler    toolHandler
}

// toolset is the fixed dispatch table mapping tool names to handlers. It is
// stateless beyond the upstream reference.
type toolset struct {
	client Upstream
	order  []string
	byName map[string]toolEntry
	log    *slog.Logger
}

func newToolset(client Upstream, log *slog.Logger) *toolset {
	ts := &toolset{client: client, byName: make(map[string]toolEntry), log: log}

	ts.register(mcp.Tool{
		Name:        toolExecuteSQLQuery,
		Description: "Execute a SQL query against the Druid cluster and return the result rows",
		InputSchema: reflectInputSchema[executeSQLArgs](),
	}, ts.handleExecuteSQL)

	ts.register(mcp.Tool{
		Name:        toolListDatasources,
		Description: "List the names of all queryable datasources in the Druid cluster",
		InputSchema: reflectInputSchema[emptyArgs](),
	}, ts.handleListDatasources)

	ts.register(mcp.Tool{
		Name:        toolGetDatasourceMetadata,
		Description: "Get aggregated metadata for one datasource: intervals, columns, segment count and total size",
		InputSchema: reflectInputSchema[metadataArgs](),
	}, ts.handleGetMetadata)

	ts.register(mcp.Tool{
		Name:        toolTestConnection,
		Description: "Check whether the Druid cluster is reachable",
		InputSchema: reflectInputSchema[emptyArgs](),
	}, ts.handleTestConnection)

	return ts
}

func (ts *toolset) register(desc mcp.Tool, h toolHandler) {
	ts.order = append(ts.order, desc.Name)
	ts.byName[desc.Name] = toolEntry{descriptor: desc, handler: h}
}

// List returns the tool descriptors in registration order.
func (ts *toolset) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.byName[name].descriptor)
	}
	return out
}

// Call dispatches a tool invocation. It never returns an error: every
// failure, including panics inside a handler, is converted to a delivered
// CallToolResult with isError=true.
func (ts *toolset) Call(ctx context.Context, req *mcp.CallToolRequestReceived) (res *mcp.CallToolResult) {
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})

	defer func() {
		if r := recover(); r != nil {
			ts.log.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", r))
			res = Errorf("Error: %s", errorMessage(fmt.Errorf("%v", r)))
		}
	}()

	entry, ok := ts.byName[req.Name]
	if !ok {
		ts.log.WarnContext(ctx, "tool.call.unknown")
		return Errorf("Unknown tool: %s", req.Name)
	}

	res, err := entry.handler(ctx, req.Arguments)
	if err != nil {
		ts.log.WarnContext(ctx, "tool.call.fail", slog.String("err", errorMessage(err)))
		return Errorf("Error: %s", errorMessage(err))
	}
	ts.log.InfoContext(ctx, "tool.call.ok")
	return res
}

func (ts *toolset) handleExecuteSQL(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args executeSQLArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Errorf("Invalid arguments: %v", err), nil
	}
	if args.Query == "" {
		return Errorf("Missing required argument: query"), nil
	}
	res, err := ts.client.RunSQLQuery(ctx, args.Query, args.Context)
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

func (ts *toolset) handleListDatasources(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
	names, err := ts.client.ListDatasources(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(names)
}

func (ts *toolset) handleGetMetadata(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args metadataArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Errorf("Invalid arguments: %v", err), nil
	}
	if args.Datasource == "" {
		return Errorf("Missing required argument: datasource"), nil
	}
	md, err := ts.client.GetDatasourceMetadata(ctx, args.Datasource)
	if err != nil {
		return nil, err
	}
	return jsonResult(md)
}

func (ts *toolset) handleTestConnection(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
	if ts.client.TestConnection(ctx) {
		return TextResult("Connection successful"), nil
	}
	return TextResult("Connection failed"), nil
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

// jsonResult renders a value as a pretty-printed JSON text block.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return TextResult(string(b)), nil
}

// TextResult builds a successful text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf builds an error CallToolResult with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}

// errorMessage extracts a human-readable message from a failure, defaulting
// to a generic string when none is extractable.
func errorMessage(err error) string {
	if err == nil {
		return "Unknown error occurred"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error occurred"
}
