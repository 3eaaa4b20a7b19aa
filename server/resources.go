package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/druidops/druid-mcp-go/mcp"
)

// Resource URIs use the druid scheme: druid://cluster/status,
// druid://datasources, and druid://datasource/{name} where {name} is any
// non-empty remainder with no further structure interpreted.
const (
	uriPrefix            = "druid://"
	uriClusterStatus     = uriPrefix + "cluster/status"
	uriDatasources       = uriPrefix + "datasources"
	uriDatasourceSegment = "datasource/"
	jsonMimeType         = "application/json"
)

// RoutingError reports a resource URI that matches none of the known
// patterns. It is a client-facing error and is never retried.
type RoutingError struct {
	URI string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("Unknown resource URI: %s", e.URI)
}

// resourceRouter lists static plus dynamically discovered resources and
// resolves URIs to content.
type resourceRouter struct {
	client Upstream
	log    *slog.Logger
}

func newResourceRouter(client Upstream, log *slog.Logger) *resourceRouter {
	return &resourceRouter{client: client, log: log}
}

// List returns the two static resources and, when datasource enumeration
// succeeds, one dynamic resource per datasource. Enumeration failure
// degrades silently to the static entries; listing never fails outright.
func (rr *resourceRouter) List(ctx context.Context) []mcp.Resource {
	out := []mcp.Resource{
		{
			URI:         uriClusterStatus,
			Name:        "Cluster Status",
			Description: "Health and version of the Druid cluster",
			MimeType:    jsonMimeType,
		},
		{
			URI:         uriDatasources,
			Name:        "Datasources",
			Description: "List of all queryable datasources",
			MimeType:    jsonMimeType,
		},
	}

	names, err := rr.client.ListDatasources(ctx)
	if err != nil {
		rr.log.WarnContext(ctx, "resources.list.degraded", slog.String("err", err.Error()))
		return out
	}
	for _, name := range names {
		out = append(out, mcp.Resource{
			URI:         uriPrefix + uriDatasourceSegment + name,
			Name:        name,
			Description: fmt.Sprintf("Metadata for datasource %q", name),
			MimeType:    jsonMimeType,
		})
	}
	return out
}

// Read resolves a URI to its contents. Match precedence: cluster status,
// datasource list, then the datasource/{name} pattern. An unmatched URI
// yields a *RoutingError; an underlying fetch failure is wrapped with the
// reading operation's prefix and re-raised.
func (rr *resourceRouter) Read(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	rest, ok := strings.CutPrefix(uri, uriPrefix)
	if !ok {
		return nil, &RoutingError{URI: uri}
	}

	switch {
	case uri == uriClusterStatus:
		st, err := rr.client.GetStatus(ctx)
		if err != nil {
			return nil, readFailure(err)
		}
		return jsonContents(uri, st)

	case uri == uriDatasources:
		names, err := rr.client.ListDatasources(ctx)
		if err != nil {
			return nil, readFailure(err)
		}
		if names == nil {
			names = []string{}
		}
		return jsonContents(uri, names)

	default:
		name, ok := strings.CutPrefix(rest, uriDatasourceSegment)
		if !ok || name == "" {
			return nil, &RoutingError{URI: uri}
		}
		md, err := rr.client.GetDatasourceMetadata(ctx, name)
		if err != nil {
			return nil, readFailure(err)
		}
		return jsonContents(uri, md)
	}
}

func readFailure(err error) error {
	return fmt.Errorf("Failed to read resource: %w", err)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, readFailure(err)
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: jsonMimeType, Text: string(b)}}, nil
}
