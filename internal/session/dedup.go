package session

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"lms/auth-identity/internal/auth"
	"lms/auth-identity/internal/crypto"
)

// PairRotator is the server-side rotation, normally *auth.Service.
type PairRotator interface {
	Rotate(ctx context.Context, refreshToken string) (auth.Pair, error)
}

// Dedup collapses concurrent rotations of the same refresh credential into
// one, so duplicate requests from a single client do not burn a single-use
// credential against each other.
type Dedup struct {
	next    PairRotator
	timeout time.Duration
	group   singleflight.Group
}

func NewDedup(next PairRotator, timeout time.Duration) *Dedup {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dedup{next: next, timeout: timeout}
}

func (d *Dedup) Rotate(ctx context.Context, refreshToken string) (auth.Pair, error) {
	key := crypto.HashToken(refreshToken)
	ch := d.group.DoChan(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.next.Rotate(rctx, refreshToken)
	})
	select {
	case <-ctx.Done():
		return auth.Pair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return auth.Pair{}, res.Err
		}
		return res.Val.(auth.Pair), nil
	}
}
