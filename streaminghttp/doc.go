// Package streaminghttp implements the multi-client streaming transport:
// an HTTP listener exposing a stream-open endpoint (GET /sse) and a
// message-post endpoint (POST /message?sessionId=...).
//
// Opening the stream allocates a Session and binds it to the response body
// as a server-sent event stream; the first event names the message-post
// endpoint for that session. Posted messages are dispatched in arrival order
// per session and replies are delivered asynchronously over the matching
// stream; the POST response only acknowledges receipt. Stream termination
// removes the Session from the registry synchronously, so a message posted
// for a closed session fails with 404 rather than racing a half-removed
// entry.
package streaminghttp
