package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"lms/auth-identity/internal/apperr"
)

// ErrorTokenExpired is the wire error that triggers a coordinated refresh.
const ErrorTokenExpired = "token_expired"

const maxErrorBody = 4 << 10

// Transport attaches the jar's access credential to outgoing requests and
// replays a request once after a coordinated refresh when the server reports
// an expired access credential.
type Transport struct {
	Base        http.RoundTripper
	Jar         Jar
	Coordinator *Coordinator
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Coordinator.IsRefreshPath(req.URL.Path) {
		return t.base().RoundTrip(req)
	}

	tokens, _ := t.Jar.Tokens()
	resp, err := t.base().RoundTrip(withBearer(req, tokens.AccessToken))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	expired, err := accessExpired(resp)
	if err != nil {
		return nil, err
	}
	if !expired {
		return resp, nil
	}

	body, replayable, err := replayBody(req)
	if err != nil {
		return resp, nil
	}
	if !replayable {
		return resp, nil
	}

	fresh, err := t.Coordinator.FreshAccessToken(req.Context(), FailedRequest{
		Path:        req.URL.Path,
		AccessToken: tokens.AccessToken,
	})
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	retry := withBearer(req, fresh)
	retry.Body = body
	return t.base().RoundTrip(retry)
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

func replayBody(req *http.Request) (io.ReadCloser, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	if req.GetBody == nil {
		return nil, false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// accessExpired peeks at a 401 body and restores it for the caller.
func accessExpired(resp *http.Response) (bool, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil {
		return false, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, nil
	}
	return payload.Error == ErrorTokenExpired, nil
}

// HTTPRotator rotates through the server's refresh endpoint. The refresh
// credential travels only as the refresh_token query parameter.
type HTTPRotator struct {
	BaseURL     string
	RefreshPath string
	Client      *http.Client
}

func (r *HTTPRotator) Rotate(ctx context.Context, refreshToken string) (Tokens, error) {
	path := r.RefreshPath
	if path == "" {
		path = DefaultRefreshPath
	}
	endpoint := strings.TrimRight(r.BaseURL, "/") + path + "?refresh_token=" + url.QueryEscape(refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Tokens{}, err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Tokens{}, apperr.Wrap(apperr.CodeUnavailable, "refresh timed out", err)
		}
		return Tokens{}, apperr.Wrap(apperr.CodeUnavailable, "refresh request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload)
		cause := fmt.Errorf("refresh status %d: %s", resp.StatusCode, payload.Error)
		if resp.StatusCode == http.StatusUnauthorized {
			return Tokens{}, apperr.Wrap(apperr.CodeRevoked, "refresh rejected", cause)
		}
		return Tokens{}, apperr.Wrap(apperr.CodeUnavailable, "refresh failed", cause)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Tokens{}, apperr.Wrap(apperr.CodeMalformed, "decode refresh response", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return Tokens{}, apperr.Wrap(apperr.CodeMalformed, "refresh response without credentials", nil)
	}
	return tokens, nil
}
