package api

import (
	"errors"
	"net/http"
	"strings"

	"relay/cmd/identity"
	"relay/cmd/internal/auth/session"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.Register(r.Context(), h.now(), identity.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		if field, ok := identity.ConflictField(err); ok {
			code := "email_taken"
			if field == "username" {
				code = "username_taken"
			}
			writeError(w, http.StatusConflict, code, field+" already registered")
			return
		}
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", invalidMessage(err))
			return
		}
		h.log.Error("auth.register.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(r, "auth.register", u.ID, "", nil)
	writeJSON(w, http.StatusCreated, userEnvelope{User: toUserResponse(u)})
}

func invalidMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid input"
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.loginIP.allow(ip, now); !ok {
		h.record(r, "auth.login.rate_limited", "", "", map[string]any{"retry_after_s": int64(retry.Seconds())})
		writeRateLimited(w, retry)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	dev := deviceFrom(r, req.Platform, req.RememberMe, h.cfg.TrustProxy)
	p, issued, err := h.sessions.Authenticate(r.Context(), now, req.Email, req.Password, dev)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.record(r, "auth.login.failed", "", "", map[string]any{"identifier": identity.NormalizeEmail(req.Email)})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(r, "auth.login.success", p.UserID, issued.SessionID, map[string]any{"platform": string(dev.Platform)})
	writeJSON(w, http.StatusOK, toTokenResponse(issued, now))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	now := h.now()
	dev := deviceFrom(r, req.Platform, req.RememberMe, h.cfg.TrustProxy)
	issued, err := h.sessions.Rotate(r.Context(), now, req.RefreshToken, dev)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenReuseDetected):
			h.record(r, "auth.refresh.reuse_detected", "", "", nil)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrTokenExpired):
			h.record(r, "auth.refresh.failed", "", "", map[string]any{"reason": "expired"})
			writeError(w, http.StatusUnauthorized, "token_expired", "refresh token expired")
		case errors.Is(err, session.ErrTokenInvalid):
			h.record(r, "auth.refresh.failed", "", "", map[string]any{"reason": "invalid"})
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.record(r, "auth.refresh.success", issued.UserID, issued.SessionID, nil)
	writeJSON(w, http.StatusOK, toTokenResponse(issued, now))
}

// handleLogout answers 204 whatever the token state.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
		if err := h.sessions.Revoke(r.Context(), h.now(), req.RefreshToken); err != nil && !errors.Is(err, session.ErrTokenInvalid) {
			h.log.Error("auth.logout.fail", "err", err)
		}
	}
	h.record(r, "auth.logout", "", "", nil)
	writeNoContent(w)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	n, err := h.sessions.RevokeAll(r.Context(), h.now(), claims.UserID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.record(r, "auth.logout_all", claims.UserID, claims.SessionID, map[string]any{"revoked": n})
	writeNoContent(w)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	u, err := h.users.Get(r.Context(), claims.UserID)
	if err != nil {
		h.writeUserErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	var req preferencesRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.UpdatePreferences(r.Context(), h.now(), claims.UserID, identity.PreferencesPatch{
		ChatTheme: req.ChatTheme,
		DarkMode:  req.DarkMode,
	})
	if err != nil {
		h.writeUserErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	var req profileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), h.now(), claims.UserID, identity.ProfilePatch{
		Email:     req.Email,
		Username:  req.Username,
		ChatTheme: req.ChatTheme,
		DarkMode:  req.DarkMode,
	})
	if err != nil {
		h.writeUserErr(w, err)
		return
	}
	h.record(r, "user.update", claims.UserID, claims.SessionID, nil)
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

// handleDeleteMe revokes every session first so that no refresh token
// outlives the account, then drops the threads and the user.
func (h *Handler) handleDeleteMe(w http.ResponseWriter, r *http.Request, claims session.AccessClaims) {
	ctx := r.Context()
	revoked, err := h.sessions.RevokeAll(ctx, h.now(), claims.UserID)
	if err != nil {
		h.log.Error("api.user.delete.revoke.fail", "err", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	dropped, err := h.threads.DeleteAll(ctx, claims.UserID)
	if err != nil {
		h.log.Error("api.user.delete.threads.fail", "err", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.users.Delete(ctx, claims.UserID); err != nil {
		h.writeUserErr(w, err)
		return
	}
	h.record(r, "user.delete", claims.UserID, claims.SessionID, map[string]any{"revoked": revoked, "threads": dropped})
	writeNoContent(w)
}

func (h *Handler) writeUserErr(w http.ResponseWriter, err error) {
	if field, ok := identity.ConflictField(err); ok {
		writeError(w, http.StatusConflict, field+"_taken", field+" already registered")
		return
	}
	switch {
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", invalidMessage(err))
	default:
		h.log.Error("api.user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
