package http

import (
	"net/http"
	"time"

	"lms/auth-identity/internal/auth"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// setSessionCookies stores both credentials. The access cookie outlives the
// access token up to the configured ceiling so an expired token can still be
// presented for a coordinated refresh.
func (s *Server) setSessionCookies(w http.ResponseWriter, pair auth.Pair) {
	http.SetCookie(w, s.cookie(accessCookie, pair.AccessToken, s.cfg.AccessCookieMaxAge))
	http.SetCookie(w, s.cookie(refreshCookie, pair.RefreshToken, s.cfg.RefreshTokenTTL))
}

// clearSessionCookies removes both credentials together.
func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		c := s.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (s *Server) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.Production(),
		SameSite: http.SameSiteStrictMode,
	}
}
