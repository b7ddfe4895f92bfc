// Package httpapi is the thin REST and websocket surface over the authcore
// engine. It owns cookie handling, the CSRF double-submit convention, and
// the websocket upgrade into the realtime event stream; all policy lives in
// the engine.
package httpapi
