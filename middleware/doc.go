// Package middleware provides net/http middleware around the authcore
// engine.
//
// [Guard] authenticates requests end to end (token, session liveness, CSRF
// for unsafe methods) and exposes the resolved identity through
// [AuthResultFromContext]. [RequireRole] layers coarse role checks on top.
package middleware
