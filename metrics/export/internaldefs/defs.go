package internaldefs

import (
	authcore "github.com/haloedesk/authcore"
)

// CounterDef binds one engine counter to its exported metric name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported metric name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter. The order here is the render
// order of the Prometheus exporter.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authcore.MetricLoginLockedOut, Name: "authcore_login_locked_out_total", Help: "Login attempts rejected by an armed lockout."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins answered with a two-factor challenge."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful two-factor confirmations."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed two-factor confirmations."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authcore.MetricRefreshReplayDetected, Name: "authcore_refresh_replay_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Successful access token validations."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Failed access token validations."},
	{ID: authcore.MetricCSRFMismatch, Name: "authcore_csrf_mismatch_total", Help: "Requests rejected for CSRF token mismatch."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionTerminated, Name: "authcore_session_terminated_total", Help: "Terminated sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logout operations."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Revoke-all operations."},
	{ID: authcore.MetricDeviceRegistered, Name: "authcore_device_registered_total", Help: "Newly registered devices."},
	{ID: authcore.MetricDeviceVerified, Name: "authcore_device_verified_total", Help: "Devices marked trusted."},
	{ID: authcore.MetricDeviceVerifyFailed, Name: "authcore_device_verify_failed_total", Help: "Failed device verification attempts."},
	{ID: authcore.MetricDeviceRevoked, Name: "authcore_device_revoked_total", Help: "Revoked devices."},
	{ID: authcore.MetricLeaderElected, Name: "authcore_leader_elected_total", Help: "Tab leader elections."},
	{ID: authcore.MetricLeaderPreempted, Name: "authcore_leader_preempted_total", Help: "Leader preemptions by priority or staleness."},
	{ID: authcore.MetricStatePublished, Name: "authcore_state_published_total", Help: "Accepted shared-state publishes."},
	{ID: authcore.MetricStateStaleRejected, Name: "authcore_state_stale_rejected_total", Help: "Shared-state publishes rejected as stale."},
	{ID: authcore.MetricEventPublished, Name: "authcore_event_published_total", Help: "Security events published."},
	{ID: authcore.MetricEventParkedOffline, Name: "authcore_event_parked_offline_total", Help: "Security events parked for offline delivery."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the upper bucket bounds, in seconds, matching the
// engine's fixed bucket layout.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in
// metric names, for exporters that flatten buckets into gauge names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts the
// way Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
