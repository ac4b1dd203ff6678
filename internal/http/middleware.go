package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/auth"
	"lms/auth-identity/internal/policy"
	"lms/auth-identity/internal/session"
)

const (
	errTokenExpired = session.ErrorTokenExpired
	errInvalidToken = "invalid_token"
	errMissingToken = "missing_token"
)

var tracer = otel.Tracer("lms/auth-identity/internal/http")

// authMiddleware accepts an access credential from the Authorization header,
// or from the access cookie when no header is sent.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			if c, err := r.Cookie(accessCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, errMissingToken)
			return
		}

		claims, err := s.tokens.Verify(token, auth.KindAccess)
		if err != nil {
			if errors.Is(err, apperr.ErrExpired) {
				writeError(w, http.StatusUnauthorized, errTokenExpired)
				return
			}
			writeError(w, http.StatusUnauthorized, errInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", claims.UserID)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func actorFromContext(ctx context.Context) policy.Actor {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return policy.Actor{}
	}
	return policy.Actor{ID: claims.UserID, Role: claims.Role}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

// tracing starts a server span per request, continuing any incoming trace.
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", r.Method)),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
