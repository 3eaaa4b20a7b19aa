package druid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	sqlPath                = "/druid/v2/sql"
	datasourcesPath        = "/druid/v2/datasources"
	coordinatorDatasources = "/druid/coordinator/v1/datasources"
	statusPath             = "/status"
)

// Client issues HTTP calls to a Druid router or broker. All methods take a
// context, return typed results, and fail with *NetworkError or *APIError.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	username string
	password string
	log      *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBasicAuth enables HTTP basic auth on every upstream request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout bounds each upstream call. Expiry surfaces as a NetworkError.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid druid URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("druid URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunSQLQuery executes a SQL query with a leading header row and reshapes the
// tabular result into per-row mappings. A zero-row upstream response
// (including the header) yields an empty QueryResult.
func (c *Client) RunSQLQuery(ctx context.Context, query string, queryContext map[string]any) (*QueryResult, error) {
	payload := map[string]any{
		"query":        query,
		"resultFormat": "array",
		"header":       true,
	}
	if len(queryContext) > 0 {
		payload["context"] = queryContext
	}

	body, err := c.post(ctx, sqlPath, payload)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode sql result: %w", err)
	}
	return ReshapeRows(rows), nil
}

// ListDatasources returns the names of all queryable datasources.
func (c *Client) ListDatasources(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, datasourcesPath)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("decode datasource list: %w", err)
	}
	return names, nil
}

// ListSegments returns segments for one datasource, or for the whole cluster
// when datasource is empty. The two upstream shapes (flat array vs. keyed
// segment map) are reconciled into one uniform sequence.
func (c *Client) ListSegments(ctx context.Context, datasource string) ([]Segment, error) {
	if datasource != "" {
		body, err := c.get(ctx, coordinatorDatasources+"/"+url.PathEscape(datasource)+"/segments?full")
		if err != nil {
			return nil, err
		}
		var segments []Segment
		if err := json.Unmarshal(body, &segments); err != nil {
			return nil, fmt.Errorf("decode segment list: %w", err)
		}
		if segments == nil {
			segments = []Segment{}
		}
		return segments, nil
	}

	body, err := c.get(ctx, coordinatorDatasources+"?full")
	if err != nil {
		return nil, err
	}
	return FlattenSegmentMap(body)
}

// GetDatasourceMetadata fans out three fetches concurrently: the segment
// list, the coordinator's datasource properties (intervals, granularities),
// and a column-introspection query. Only a segment-fetch failure is fatal;
// the other two degrade to empty values.
func (c *Client) GetDatasourceMetadata(ctx context.Context, name string) (*DatasourceMetadata, error) {
	var (
		segments []Segment
		props    *datasourceProperties
		cols     []ColumnInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		segs, err := c.ListSegments(gctx, name)
		if err != nil {
			return err
		}
		segments = segs
		return nil
	})
	g.Go(func() error {
		p, err := c.getDatasourceProperties(gctx, name)
		if err != nil {
			c.log.WarnContext(gctx, "druid.metadata.properties.degraded", slog.String("datasource", name), slog.String("err", err.Error()))
			return nil
		}
		props = p
		return nil
	})
	g.Go(func() error {
		cc, err := c.introspectColumns(gctx, name)
		if err != nil {
			c.log.WarnContext(gctx, "druid.metadata.columns.degraded", slog.String("datasource", name), slog.String("err", err.Error()))
			return nil
		}
		cols = cc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildDatasourceMetadata(name, segments, props, cols), nil
}

// GetStatus reports cluster health. If the status endpoint fails for any
// reason, a low-cost connectivity probe (listing datasources) is attempted;
// probe success yields a synthetic healthy report.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	body, err := c.get(ctx, statusPath)
	if err == nil {
		var st Status
		if decErr := json.Unmarshal(body, &st); decErr == nil {
			if st.Status == "" {
				st.Status = "healthy"
			}
			return &st, nil
		}
	}

	if _, probeErr := c.ListDatasources(ctx); probeErr == nil {
		return &Status{Status: "healthy"}, nil
	}
	return nil, &APIError{Message: "Unable to connect"}
}

// TestConnection wraps GetStatus and collapses any failure to false.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.GetStatus(ctx)
	return err == nil
}

func (c *Client) getDatasourceProperties(ctx context.Context, name string) (*datasourceProperties, error) {
	body, err := c.get(ctx, coordinatorDatasources+"/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}
	var props datasourceProperties
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("decode datasource properties: %w", err)
	}
	return &props, nil
}

func (c *Client) introspectColumns(ctx context.Context, name string) ([]ColumnInfo, error) {
	q := fmt.Sprintf(
		"SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = '%s'",
		strings.ReplaceAll(name, "'", "''"),
	)
	res, err := c.RunSQLQuery(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		col := ColumnInfo{}
		if v, ok := row["COLUMN_NAME"].(string); ok {
			col.Name = v
		}
		if v, ok := row["DATA_TYPE"].(string); ok {
			col.Type = v
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

// do executes one upstream exchange and classifies failures: transport
// errors (no response) become *NetworkError naming the target URL, non-2xx
// responses become *APIError with a best-effort message from the body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	target := strings.TrimSuffix(c.baseURL.String(), "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, newAPIError(res.StatusCode, data)
	}
	return data, nil
}
