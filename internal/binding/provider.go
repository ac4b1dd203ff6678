// Package binding links identities asserted by an external provider to
// local identities.
package binding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/metrics"
)

var tracer = otel.Tracer("lms/auth-identity/internal/binding")

// ExternalIdentity is what the provider asserts about the token's owner.
type ExternalIdentity struct {
	ID        string
	Name      string
	Email     string
	AvatarURL *string
}

type Provider interface {
	Verify(ctx context.Context, rawToken string) (ExternalIdentity, error)
}

type GraphOptions struct {
	BaseURL        string
	Fields         string
	Timeout        time.Duration
	MaxAttempts    uint
	InitialBackoff time.Duration
	// Client is the base HTTP client; the provider wraps its transport
	// with the external token.
	Client *http.Client
	Logger zerolog.Logger
}

// GraphProvider verifies tokens against a Graph-style /me endpoint.
type GraphProvider struct {
	opts GraphOptions
	log  zerolog.Logger
}

func NewGraphProvider(opts GraphOptions) *GraphProvider {
	if opts.Fields == "" {
		opts.Fields = "id,name,email,picture"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &GraphProvider{
		opts: opts,
		log:  opts.Logger.With().Str("component", "external_provider").Logger(),
	}
}

type graphProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// Verify asks the provider who owns rawToken. A rejection is terminal;
// transient failures are retried a bounded number of times.
func (p *GraphProvider) Verify(ctx context.Context, rawToken string) (ExternalIdentity, error) {
	ctx, span := tracer.Start(ctx, "binding.VerifyExternalToken")
	defer span.End()

	if strings.TrimSpace(rawToken) == "" {
		return ExternalIdentity{}, apperr.Wrap(apperr.CodeProviderRejected, "empty external token", nil)
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, p.opts.Client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rawToken, TokenType: "Bearer"}),
	)
	client.Timeout = p.opts.Timeout

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.opts.InitialBackoff

	attempt := 0
	profile, err := backoff.Retry(ctx, func() (graphProfile, error) {
		attempt++
		profile, err := p.fetch(ctx, client)
		if err != nil {
			var perm *backoff.PermanentError
			outcome := "transient"
			if errors.As(err, &perm) {
				outcome = "rejected"
			}
			metrics.ExternalVerifications.WithLabelValues(outcome).Inc()
			p.log.Debug().Int("attempt", attempt).Str("outcome", outcome).Err(err).Msg("external verification attempt failed")
			return graphProfile{}, err
		}
		metrics.ExternalVerifications.WithLabelValues("ok").Inc()
		return profile, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(p.opts.MaxAttempts))
	span.SetAttributes(attribute.Int("binding.attempts", attempt))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "external verification failed")
		if errors.Is(err, apperr.ErrProviderRejected) {
			return ExternalIdentity{}, err
		}
		p.log.Warn().Int("attempts", attempt).Err(err).Msg("identity provider unreachable")
		return ExternalIdentity{}, apperr.Wrap(apperr.CodeProviderUnreachable, "verify external token", err)
	}

	identity := ExternalIdentity{
		ID:    profile.ID,
		Name:  strings.TrimSpace(profile.Name),
		Email: strings.TrimSpace(profile.Email),
	}
	if profile.Picture.Data.URL != "" {
		avatar := profile.Picture.Data.URL
		identity.AvatarURL = &avatar
	}
	return identity, nil
}

func (p *GraphProvider) fetch(ctx context.Context, client *http.Client) (graphProfile, error) {
	endpoint := strings.TrimRight(p.opts.BaseURL, "/") + "/me?fields=" + url.QueryEscape(p.opts.Fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return graphProfile{}, backoff.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return graphProfile{}, backoff.Permanent(err)
		}
		return graphProfile{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return graphProfile{}, fmt.Errorf("provider status %d", resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return graphProfile{}, backoff.Permanent(apperr.Wrap(apperr.CodeProviderRejected, "provider rejected token",
			fmt.Errorf("provider status %d", resp.StatusCode)))
	}

	var profile graphProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return graphProfile{}, backoff.Permanent(apperr.Wrap(apperr.CodeProviderRejected, "decode provider profile", err))
	}
	if profile.ID == "" {
		return graphProfile{}, backoff.Permanent(apperr.Wrap(apperr.CodeProviderRejected, "provider profile without id", nil))
	}
	return profile, nil
}
