package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
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

// serve runs the handler over the given input and returns the output lines.
func serve(t *testing.T, input string) []string {
	t.Helper()
	dispatch := server.New(staticUpstream{}, server.WithLogger(slog.New(slog.DiscardHandler)))
	var out bytes.Buffer
	h := NewHandler(dispatch, WithIO(strings.NewReader(input), &out))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Serve(ctx); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestServeDispatchesInArrivalOrder(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"0"}},"id":1}
{"jsonrpc":"2.0","method":"notifications/initialized"}
{"jsonrpc":"2.0","method":"tools/list","id":2}
{"jsonrpc":"2.0","method":"ping","id":3}
`
	lines := serve(t, input)
	if len(lines) != 3 {
		t.Fatalf("reply count = %d, want 3 (notification has no reply)", len(lines))
	}

	var ids []string
	for _, line := range lines {
		var res jsonrpc.Response
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		if res.Error != nil {
			t.Fatalf("unexpected error frame: %+v", res.Error)
		}
		ids = append(ids, res.ID.String())
	}
	for i, want := range []string{"1", "2", "3"} {
		if ids[i] != want {
			t.Fatalf("reply order = %v", ids)
		}
	}
}

func TestServeToolCall(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"execute_sql_query","arguments":{"query":"SELECT 1"}},"id":7}
`
	lines := serve(t, input)
	if len(lines) != 1 {
		t.Fatalf("reply count = %d", len(lines))
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(lines[0]), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.IsError || !strings.Contains(result.Content[0].Text, `"n": 1`) {
		t.Fatalf("unexpected tool result: %+v", result)
	}
}

func TestServeRepliesToMalformedFrame(t *testing.T) {
	lines := serve(t, "this is not json\n")
	if len(lines) != 1 {
		t.Fatalf("reply count = %d", len(lines))
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(lines[0]), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("want parse error, got %+v", res.Error)
	}
}

func TestServeEndsOnEOF(t *testing.T) {
	if lines := serve(t, ""); len(lines) != 0 {
		t.Fatalf("unexpected output: %v", lines)
	}
}
