// Package gate implements the session gate: it holds protected content back
// until an authentication session is resolved, and re-evaluates on every
// session change for as long as it stays mounted.
//
// A Gate starts Pending, asks its Source once for the current session and
// keeps one change subscription open until Unmount. Render maps the state to
// an Outcome: Pending shows a loading placeholder, Unauthenticated redirects
// to login (replacing the history entry), Authenticated shows the content.
//
// Middleware applies the same lifecycle per HTTP request; the WebSocket
// session stream keeps one gate mounted per connection.
package gate
