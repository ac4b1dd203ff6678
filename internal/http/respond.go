package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"lms/auth-identity/internal/apperr"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeAppError maps a domain error to its status and wire code. Denials and
// missing records share one response.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status, wire := statusFor(code)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", string(code)).Msg("request failed")
	}
	writeError(w, status, wire)
}

func statusFor(code apperr.Code) (int, string) {
	switch code {
	case apperr.CodeNotFound, apperr.CodePolicyDenied:
		return http.StatusNotFound, string(apperr.CodeNotFound)
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest, string(code)
	case apperr.CodeConflict, apperr.CodeAlreadyBound, apperr.CodeAlreadyAnswered, apperr.CodeFailedPrecondition:
		return http.StatusConflict, string(code)
	case apperr.CodeExpired:
		return http.StatusUnauthorized, errTokenExpired
	case apperr.CodeMalformed, apperr.CodeWrongKind:
		return http.StatusUnauthorized, errInvalidToken
	case apperr.CodeRevoked, apperr.CodeDeactivated, apperr.CodeInvalidCredentials,
		apperr.CodeProviderRejected, apperr.CodeSessionInvalid:
		return http.StatusUnauthorized, string(code)
	case apperr.CodeProviderUnreachable:
		return http.StatusBadGateway, string(code)
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable, string(code)
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
