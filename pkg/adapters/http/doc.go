// Package http carries the backend contract over HTTP.
//
// Server exposes the repositories of any store under /repos/{repo}; the
// dialer returned by NewDialer talks to it from the client side. Errors
// travel as {"error", "code"} JSON so the client can restore the domain
// sentinel (not found, conflict) on its side. Attribute values pass
// through encoding/json, so numbers come back as float64.
package http
