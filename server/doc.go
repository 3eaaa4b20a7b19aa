// Package server implements the semantic dispatch layer between the MCP
// transports and the Druid upstream: the fixed tool table, the resource URI
// router, and the JSON-RPC method handler both transports share.
//
// Tool-call failures of any kind are converted to a CallToolResult with
// isError=true; the protocol transaction itself always completes. Resource
// read failures and routing failures propagate as JSON-RPC errors.
package server
