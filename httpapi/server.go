package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	authcore "github.com/haloedesk/authcore"
	"github.com/haloedesk/authcore/metrics/export/prometheus"
	"github.com/haloedesk/authcore/middleware"
	"github.com/haloedesk/authcore/realtime"
)

// Server is the REST and websocket surface over one engine.
type Server struct {
	engine   *authcore.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader

	cookieSecure bool
}

// Options tunes transport behavior without touching engine policy.
type Options struct {
	// CookieSecure marks auth cookies Secure. Leave false only for local
	// development over plain HTTP.
	CookieSecure bool
	// CheckOrigin overrides the websocket origin check. Nil keeps the
	// gorilla default (same-origin).
	CheckOrigin func(r *http.Request) bool
}

func NewServer(engine *authcore.Engine, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		cookieSecure: opts.CookieSecure,
	}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/2fa", s.handleConfirmTwoFactor)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(s.engine))

		r.Get("/auth/csrf", s.handleIssueCSRF)
		r.Get("/auth/sessions", s.handleListSessions)
		r.Delete("/auth/sessions/{sessionID}", s.handleTerminateSession)
		r.Post("/auth/revoke-all", s.handleRevokeAll)
		r.Post("/auth/password", s.handleChangePassword)

		r.Get("/auth/devices", s.handleListDevices)
		r.Post("/auth/devices/{deviceID}/verify", s.handleRequestDeviceCode)
		r.Post("/auth/devices/{deviceID}/confirm", s.handleConfirmDeviceCode)
		r.Delete("/auth/devices/{deviceID}", s.handleRevokeDevice)

		r.Post("/tabs/register", s.handleRegisterTab)
		r.Post("/tabs/heartbeat", s.handleHeartbeatTab)
		r.Post("/tabs/resign", s.handleResignTab)
		r.Get("/tabs/leader", s.handleCurrentLeader)

		r.Put("/state/{scope}", s.handlePublishState)
		r.Get("/state/{scope}", s.handleGetState)

		r.Get("/ws", s.handleWebsocket)
	})

	r.Method(http.MethodGet, "/metrics", prometheus.NewPrometheusExporter(s.engine).Handler())

	return r
}

type loginRequest struct {
	Identifier  string `json:"identifier"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
	DeviceName  string `json:"device_name"`
	TabID       string `json:"tab_id"`
	RememberMe  bool   `json:"remember_me"`
	TrustDevice bool   `json:"trust_device"`
}

type loginResponse struct {
	AccessToken       string    `json:"access_token,omitempty"`
	CSRFToken         string    `json:"csrf_token,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	DeviceID          string    `json:"device_id,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
	RequiresTwoFactor bool      `json:"requires_two_factor,omitempty"`
	TempToken         string    `json:"temp_token,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.Login(s.requestContext(r), authcore.LoginRequest{
		Identifier:  req.Identifier,
		Password:    req.Password,
		Fingerprint: req.Fingerprint,
		DeviceName:  req.DeviceName,
		TabID:       req.TabID,
		RememberMe:  req.RememberMe,
		TrustDevice: req.TrustDevice,
	})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.writeLoginResult(w, result)
}

type twoFactorRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

func (s *Server) handleConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.ConfirmTwoFactor(s.requestContext(r), req.TempToken, req.Code)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.writeLoginResult(w, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := s.cookieValue(r, s.engine.Config().CookieName.Refresh)
	if refreshToken == "" {
		s.writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	result, err := s.engine.Refresh(s.requestContext(r), refreshToken)
	if err != nil {
		if errors.Is(err, authcore.ErrRefreshReplay) {
			s.clearAuthCookies(w)
		}
		s.writeAuthError(w, err)
		return
	}

	s.writeLoginResult(w, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	accessToken := s.cookieValue(r, s.engine.Config().CookieName.Access)
	if accessToken == "" {
		accessToken = bearerToken(r)
	}
	if accessToken == "" {
		s.writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	if err := s.engine.Logout(s.requestContext(r), accessToken); err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleIssueCSRF re-issues the session's CSRF cookie for a frontend that
// lost it, for example after a hard reload on a cleared origin.
func (s *Server) handleIssueCSRF(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	token, err := s.engine.CSRFToken(r.Context(), auth.UserID, auth.SessionID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.setCookie(w, s.engine.Config().CookieName.CSRF, token, time.Time{}, false)
	s.writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	sessions, err := s.engine.ListSessions(r.Context(), auth.UserID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.engine.TerminateSession(r.Context(), auth.UserID, sessionID); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	count, err := s.engine.RevokeAll(r.Context(), auth.UserID, auth.SessionID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"terminated": count})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.engine.ChangePassword(r.Context(), auth.UserID, req.CurrentPassword, req.NewPassword, auth.SessionID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	devices, err := s.engine.ListDevices(r.Context(), auth.UserID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRequestDeviceCode(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	deviceID := chi.URLParam(r, "deviceID")

	// The code goes back to the caller for delivery over a side channel;
	// a production deployment hooks email/SMS here instead.
	code, expiresAt, err := s.engine.RequestDeviceVerification(r.Context(), auth.UserID, deviceID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":       code,
		"expires_at": expiresAt,
	})
}

type deviceConfirmRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleConfirmDeviceCode(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	deviceID := chi.URLParam(r, "deviceID")

	var req deviceConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.ConfirmDeviceVerification(r.Context(), auth.UserID, deviceID, req.Code); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.engine.RevokeDevice(r.Context(), auth.UserID, deviceID, auth.SessionID); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tabRequest struct {
	TabID    string `json:"tab_id"`
	Priority int    `json:"priority"`
}

func (s *Server) handleRegisterTab(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	var req tabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, won, err := s.engine.RegisterTab(r.Context(), auth.UserID, auth.DeviceID, req.TabID, req.Priority)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"leader":    state,
		"is_leader": won,
	})
}

func (s *Server) handleHeartbeatTab(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	var req tabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.HeartbeatTab(r.Context(), auth.UserID, auth.DeviceID, req.TabID); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResignTab(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	var req tabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.ResignTab(r.Context(), auth.UserID, auth.DeviceID, req.TabID); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentLeader(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)

	state, err := s.engine.CurrentLeader(r.Context(), auth.UserID, auth.DeviceID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

type publishStateRequest struct {
	TabID   string          `json:"tab_id"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handlePublishState(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	scope := chi.URLParam(r, "scope")

	var req publishStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.engine.PublishState(r.Context(), auth.UserID, auth.DeviceID, req.TabID, scope, req.Version, req.Payload)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	scope := chi.URLParam(r, "scope")

	state, err := s.engine.GetSharedState(r.Context(), auth.UserID, scope)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleWebsocket upgrades the connection and joins the event stream. Room
// membership comes from the validated identity; tab_id is the only client
// input and scopes nothing security-relevant beyond self-echo suppression.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	auth := mustAuth(r)
	tabID := r.URL.Query().Get("tab_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.engine.Hub()
	client := realtime.NewClient(hub, conn, realtime.Identity{
		UserID:    auth.UserID,
		DeviceID:  auth.DeviceID,
		SessionID: auth.SessionID,
		TabID:     tabID,
	})
	hub.Register(r.Context(), client)
	client.Start()
}

func mustAuth(r *http.Request) *authcore.AuthResult {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	return auth
}
