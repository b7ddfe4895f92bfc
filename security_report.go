package authcore

// SecurityPosture summarizes the engine's effective security configuration
// for dashboards and startup logging. It never includes key material.
func (e *Engine) SecurityPosture() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	return SecurityReport{
		SigningAlgorithm:       cfg.Token.SigningMethod,
		AccessTTL:              cfg.Token.AccessTTL,
		RefreshTTL:             cfg.Token.RefreshTTL,
		RememberMeMultiplier:   cfg.Token.RememberMeMultiplier,
		RotationEnabled:        true,
		ReplayEscalation:       true,
		TwoFactorEnabled:       cfg.TwoFactor.Enabled,
		DeviceTrustEnabled:     cfg.Device.Enabled,
		RateLimitingActive:     cfg.RateLimit.Enabled,
		TimingDefenseActive:    cfg.Timing.Enabled,
		LeaderTimeout:          cfg.Leader.HeartbeatTimeout,
		OfflineEventTTL:        cfg.Events.OfflineTTL,
		MaxAbsoluteSessionLife: cfg.Session.MaxAbsoluteLifetime,
	}
}
