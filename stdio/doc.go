// Package stdio implements the single-pipe transport: newline-delimited
// JSON-RPC over stdin/stdout for exactly one client per process.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : one implicit session for the process lifetime
//	Transport        : line oriented JSON-RPC
//
// Each complete inbound frame is dispatched synchronously in arrival order;
// replies are written back on the same channel. The loop ends on EOF or
// context cancellation. Options allow supplying alternate io.Reader /
// io.Writer or a custom logger.
package stdio
