package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/metrics"
)

// DefaultRefreshPath is the rotation endpoint. Failures on it are never
// coordinated: a failing refresh must not wait on itself.
const DefaultRefreshPath = "/auth/refresh"

// Rotator exchanges a refresh credential for a new pair.
type Rotator interface {
	Rotate(ctx context.Context, refreshToken string) (Tokens, error)
}

// FailedRequest describes a request that was rejected because its access
// credential expired.
type FailedRequest struct {
	Path        string
	AccessToken string
	// Retried is set once the request has already been replayed with a
	// fresh token. A second expiry on it is terminal.
	Retried bool
}

type CoordinatorOptions struct {
	RefreshPath string
	// Timeout bounds a single rotation, independently of any waiter.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Coordinator makes sure that overlapping expiries trigger exactly one
// rotation and that every waiter observes its single outcome.
type Coordinator struct {
	rotator     Rotator
	jar         Jar
	refreshPath string
	timeout     time.Duration
	group       singleflight.Group
	log         zerolog.Logger
}

func NewCoordinator(rotator Rotator, jar Jar, opts CoordinatorOptions) *Coordinator {
	if opts.RefreshPath == "" {
		opts.RefreshPath = DefaultRefreshPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Coordinator{
		rotator:     rotator,
		jar:         jar,
		refreshPath: opts.RefreshPath,
		timeout:     opts.Timeout,
		log:         opts.Logger.With().Str("component", "refresh_coordinator").Logger(),
	}
}

// IsRefreshPath reports whether path targets the rotation endpoint.
func (c *Coordinator) IsRefreshPath(path string) bool {
	return path == c.refreshPath || strings.HasPrefix(path, c.refreshPath+"?")
}

// FreshAccessToken returns an access credential the failed request can be
// replayed with, rotating at most once for all concurrent callers.
func (c *Coordinator) FreshAccessToken(ctx context.Context, failed FailedRequest) (string, error) {
	if c.IsRefreshPath(failed.Path) {
		c.jar.Clear()
		return "", apperr.Wrap(apperr.CodeSessionInvalid, "refresh endpoint rejected the credential", nil)
	}
	if failed.Retried {
		return "", apperr.Wrap(apperr.CodeSessionInvalid, "retried request expired again", nil)
	}

	current, ok := c.jar.Tokens()
	if !ok || current.RefreshToken == "" {
		return "", apperr.ErrSessionInvalid
	}
	// Someone already rotated after this request was sent.
	if current.AccessToken != "" && failed.AccessToken != "" && current.AccessToken != failed.AccessToken {
		return current.AccessToken, nil
	}

	ch := c.group.DoChan("rotate", func() (interface{}, error) {
		return c.rotate(ctx, current)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		metrics.RefreshWaiters.WithLabelValues(boolLabel(res.Shared)).Inc()
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) rotate(ctx context.Context, seen Tokens) (string, error) {
	// A flight that finished between our jar read and DoChan already did
	// the work.
	latest, ok := c.jar.Tokens()
	if !ok {
		return "", apperr.ErrSessionInvalid
	}
	if latest.AccessToken != seen.AccessToken {
		return latest.AccessToken, nil
	}

	// The rotation outlives the caller that started it; the timeout alone
	// decides when the slot is released.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	tokens, err := c.rotator.Rotate(rctx, latest.RefreshToken)
	if err != nil {
		c.jar.Clear()
		c.log.Warn().Str("reason", string(apperr.CodeOf(err))).Msg("rotation failed, session cleared")
		return "", apperr.Wrap(apperr.CodeSessionInvalid, "rotation failed", err)
	}
	c.jar.Store(tokens)
	c.log.Debug().Msg("session rotated")
	return tokens.AccessToken, nil
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
