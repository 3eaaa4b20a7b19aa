// Package mcp contains the protocol data types and constants shared across
// transports and the dispatch layer. It mirrors the wire representation of
// the Model Context Protocol while keeping the surface Go-friendly (exported
// structs with json tags, string constants for method names).
//
// The package is intentionally free of transport logic: the streaming HTTP
// and stdio transports import these types but implement their own framing
// and session handling. The server package constructs responses using these
// concrete types and hands them off for JSON-RPC serialization.
package mcp
