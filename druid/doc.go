// Package druid is the HTTP client for the upstream Apache Druid cluster.
// It normalizes Druid's three response shapes (tabular SQL results, flat
// per-datasource segment arrays, and the keyed global segment map) into typed
// results and classifies failures into NetworkError (no response received)
// and APIError (a response was received but indicates failure).
//
// The client holds no state across calls: segments, intervals, and metadata
// are fetched fresh on every invocation.
package druid
