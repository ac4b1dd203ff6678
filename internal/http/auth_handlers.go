package http

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/hlog"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/classroom"
	"lms/auth-identity/internal/crypto"
	"lms/auth-identity/internal/model"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type bindExternalRequest struct {
	ExternalAccessToken string `json:"external_access_token"`
}

type updateMeRequest struct {
	FullName  *string `json:"full_name"`
	Password  *string `json:"password"`
	AvatarURL *string `json:"avatar_url"`
}

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type userResponse struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	Role               model.Role `json:"role"`
	AvatarURL          *string    `json:"avatar_url,omitempty"`
	ExternalIdentityID *string    `json:"external_identity_id,omitempty"`
	Active             bool       `json:"is_active"`
}

func mapUser(identity model.Identity) userResponse {
	return userResponse{
		ID:                 identity.ID,
		Email:              identity.Email,
		FullName:           identity.FullName,
		Role:               identity.Role,
		AvatarURL:          identity.AvatarURL,
		ExternalIdentityID: identity.ExternalID,
		Active:             identity.Active,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if _, err := mail.ParseAddress(req.Email); err != nil || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooShort) {
			writeError(w, http.StatusBadRequest, "password_too_short")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	identity, err := s.store.CreateIdentity(r.Context(), model.Identity{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: &hash,
		Role:         model.RoleStudent,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		writeAppError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("user_id", identity.ID).Msg("identity registered")
	s.respondWithPair(w, r, http.StatusCreated, identity)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	identity, err := s.store.GetIdentityByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			crypto.BurnCompare(req.Password)
			writeError(w, http.StatusUnauthorized, string(apperr.CodeInvalidCredentials))
			return
		}
		writeAppError(w, r, err)
		return
	}
	if identity.PasswordHash == nil {
		crypto.BurnCompare(req.Password)
		writeError(w, http.StatusUnauthorized, string(apperr.CodeInvalidCredentials))
		return
	}
	if err := crypto.CheckPassword(*identity.PasswordHash, req.Password); err != nil {
		hlog.FromRequest(r).Info().Str("user_id", identity.ID).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, string(apperr.CodeInvalidCredentials))
		return
	}
	if !identity.Active {
		writeError(w, http.StatusUnauthorized, string(apperr.CodeDeactivated))
		return
	}
	s.respondWithPair(w, r, http.StatusOK, identity)
}

// handleRefresh never requires an access credential. The refresh credential
// comes from the query parameter, or the refresh cookie when absent.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := s.refreshTokenFrom(r)
	if token == "" {
		s.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "missing_refresh_token")
		return
	}

	pair, err := s.rotations.Rotate(r.Context(), token)
	if err != nil {
		// Only a failure of the credential itself ends the session.
		if !errors.Is(err, apperr.ErrUnavailable) {
			s.clearSessionCookies(w)
		}
		writeAppError(w, r, err)
		return
	}
	s.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) handleExternalCallback(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("external_access_token"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_external_access_token")
		return
	}
	ext, err := s.binder.VerifyExternalToken(r.Context(), raw)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	identity, err := s.binder.BindOrCreate(r.Context(), ext)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !identity.Active {
		writeError(w, http.StatusUnauthorized, string(apperr.CodeDeactivated))
		return
	}
	s.respondWithPair(w, r, http.StatusOK, identity)
}

func (s *Server) handleBindExternal(w http.ResponseWriter, r *http.Request) {
	var req bindExternalRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ExternalAccessToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	actor := actorFromContext(r.Context())
	ext, err := s.binder.VerifyExternalToken(r.Context(), strings.TrimSpace(req.ExternalAccessToken))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	identity, err := s.binder.BindToIdentity(r.Context(), actor.ID, ext)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: mapUser(identity)})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	identity, err := s.classroom.GetIdentity(r.Context(), actor, actor.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: mapUser(identity)})
}

// handleUpdateMe edits the caller's profile. Role and status are not part of
// the request shape at all.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	actor := actorFromContext(r.Context())
	identity, err := s.classroom.UpdateIdentity(r.Context(), actor, actor.ID, classroom.IdentityPatch{
		FullName:  req.FullName,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: mapUser(identity)})
}

// handleLogout revokes the refresh credential when one is presented and
// always clears both cookies.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.refreshTokenFrom(r); token != "" {
		if err := s.tokens.Revoke(r.Context(), token); err != nil && !errors.Is(err, apperr.ErrWrongKind) {
			hlog.FromRequest(r).Warn().Err(err).Msg("refresh revocation failed on logout")
		}
	}
	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) refreshTokenFrom(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("refresh_token")); token != "" {
		return token
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) respondWithPair(w http.ResponseWriter, r *http.Request, status int, identity model.Identity) {
	pair, err := s.tokens.Issue(identity)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.setSessionCookies(w, pair)
	writeJSON(w, status, authResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         mapUser(identity),
	})
}
