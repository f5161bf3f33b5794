// Package api exposes relay's HTTP surface: the auth lifecycle, the current
// user, thread CRUD and message history.
//
// All responses are JSON with Cache-Control: no-store. Errors are written as
// {"error":{"code":...,"message":...}}.
package api
