package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/haloedesk/authcore/internal"
	"github.com/haloedesk/authcore/internal/stores"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
)

// ListDevices returns every device known for the user.
func (e *Engine) ListDevices(ctx context.Context, userID string) ([]DeviceInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.devices.List(ctx, userID)
	if err != nil {
		return nil, ErrDeviceUnavailable
	}

	infos := make([]DeviceInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, DeviceInfo{
			DeviceID:   record.DeviceID,
			UserID:     record.UserID,
			Name:       record.Name,
			Trusted:    record.Trusted,
			CreatedAt:  record.CreatedAt,
			LastUsedAt: record.LastUsedAt,
		})
	}
	return infos, nil
}

// RequestDeviceVerification issues a fresh numeric verification code for the
// device, replacing any outstanding one and resetting the attempt budget.
// The code is returned to the caller for delivery over a side channel
// (email, SMS); it is never pushed to the device being verified.
func (e *Engine) RequestDeviceVerification(ctx context.Context, userID, deviceID string) (string, time.Time, error) {
	if e == nil {
		return "", time.Time{}, ErrEngineNotReady
	}

	if _, err := e.devices.Get(ctx, userID, deviceID); err != nil {
		return "", time.Time{}, mapDeviceErr(err)
	}

	code, err := internal.NewOTP(e.config.Device.CodeDigits)
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := time.Now().Add(e.config.Device.CodeTTL)
	if err := e.deviceCodes.Issue(ctx, deviceID, code, e.config.Device.CodeTTL); err != nil {
		return "", time.Time{}, ErrDeviceUnavailable
	}

	e.emitAudit(ctx, auditEventDeviceCodeIssued, true, userID, "", deviceID, "", nil, nil)
	return code, expiresAt, nil
}

// ConfirmDeviceVerification checks the submitted code and marks the device
// trusted on a match. Wrong codes burn attempts; once the budget is spent,
// even the correct code is rejected until the code expires and a new one is
// requested.
func (e *Engine) ConfirmDeviceVerification(ctx context.Context, userID, deviceID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if _, err := e.devices.Get(ctx, userID, deviceID); err != nil {
		return mapDeviceErr(err)
	}

	if err := e.deviceCodes.Verify(ctx, deviceID, code, e.config.Device.CodeMaxAttempts); err != nil {
		e.metricInc(MetricDeviceVerifyFailed)
		mapped := mapDeviceCodeErr(err)
		e.emitAudit(ctx, auditEventDeviceVerifyFailed, false, userID, "", deviceID, "", mapped, nil)
		return mapped
	}

	if err := e.devices.MarkTrusted(ctx, userID, deviceID); err != nil {
		return mapDeviceErr(err)
	}

	e.metricInc(MetricDeviceVerified)
	e.emitAudit(ctx, auditEventDeviceVerified, true, userID, "", deviceID, "", nil, nil)

	event := realtime.NewEvent(realtime.EventDeviceVerified, realtime.DirectionDown,
		userID, deviceID, "", "")
	e.publishEvent(ctx, event)

	return nil
}

// RevokeDevice removes the device's trust record and terminates every
// session it holds. The device of the caller's own session cannot be
// revoked; that path is Logout.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID, currentSessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if currentSessionID != "" {
		current, err := e.sessions.Get(ctx, currentSessionID)
		if err == nil && current.DeviceID == deviceID {
			return ErrDeviceRevokeCurrent
		}
	}

	if _, err := e.devices.Revoke(ctx, userID, deviceID); err != nil {
		return mapDeviceErr(err)
	}

	terminated, err := e.sessions.TerminateAllForDevice(ctx, userID, deviceID, session.EndReasonDeviceRevoked)
	if len(terminated) > 0 {
		e.hub.CloseSessions(terminated...)
	}
	if err != nil {
		e.logger.Warn("device session cleanup incomplete", "device_id", deviceID, "error", err)
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, "", deviceID, "", nil, nil)

	event := realtime.NewEvent(realtime.EventDeviceRevoked, realtime.DirectionDown,
		userID, "", "", "")
	event.Payload = map[string]string{"device_id": deviceID}
	e.publishEvent(ctx, event)

	return nil
}

func mapDeviceErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrDeviceNotFound):
		return ErrDeviceNotFound
	default:
		return ErrDeviceUnavailable
	}
}

func mapDeviceCodeErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrCodeNotFound), errors.Is(err, stores.ErrCodeExpired):
		return ErrDeviceCodeExpired
	case errors.Is(err, stores.ErrCodeInvalid):
		return ErrDeviceCodeInvalid
	case errors.Is(err, stores.ErrCodeExceeded):
		return ErrDeviceMaxAttempts
	default:
		return ErrDeviceUnavailable
	}
}
