package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/metrics"
	"lms/auth-identity/internal/model"
)

var tracer = otel.Tracer("lms/auth-identity/internal/auth")

// IdentityReader resolves the current state of an identity at rotation time.
type IdentityReader interface {
	GetIdentityByID(ctx context.Context, id string) (model.Identity, error)
}

// RevocationList records refresh credentials that must no longer be honoured.
// Revoke reports whether this call was the first to revoke the id, which is
// what makes single-use rotation race-free.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Options struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Revocations is optional; without it refresh credentials are purely
	// stateless and stay valid until they expire.
	Revocations RevocationList
	// SingleUseRefresh spends the presented refresh credential on rotation.
	// It has no effect without Revocations.
	SingleUseRefresh bool
	Now              func() time.Time
	Logger           zerolog.Logger
}

// Pair is a freshly minted access + refresh credential pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service issues, verifies and rotates bearer credentials.
type Service struct {
	signer     *Signer
	identities IdentityReader
	opts       Options
	log        zerolog.Logger
}

func NewService(signer *Signer, identities IdentityReader, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		signer:     signer,
		identities: identities,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "token_service").Logger(),
	}
}

// Issue mints both credentials for the identity's id and role as they are
// right now. The role inside each token is a snapshot.
func (s *Service) Issue(identity model.Identity) (Pair, error) {
	if identity.ID == "" || !identity.Role.Valid() {
		return Pair{}, apperr.Invalid("identity without id or valid role")
	}
	now := s.opts.Now().UTC()

	access, accessExp, err := s.mint(identity, KindAccess, now, s.opts.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := s.mint(identity, KindRefresh, now, s.opts.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	metrics.TokensIssued.Inc()
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) mint(identity model.Identity, kind Kind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := &Claims{
		UserID: identity.ID,
		Role:   identity.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := s.signer.sign(claims)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.CodeUnknown, "sign "+string(kind)+" token", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, expiry and kind, in that order.
func (s *Service) Verify(token string, expected Kind) (*Claims, error) {
	if token == "" {
		return nil, apperr.ErrMalformed
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, s.signer.keyFunc,
		jwt.WithValidMethods([]string{s.signer.method.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.opts.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.CodeExpired, "verify "+string(expected), err)
		}
		return nil, apperr.Wrap(apperr.CodeMalformed, "verify "+string(expected), err)
	}
	if claims.UserID == "" || claims.Subject != claims.UserID || claims.ID == "" || !claims.Role.Valid() {
		return nil, apperr.Wrap(apperr.CodeMalformed, "verify "+string(expected), errors.New("incomplete claims"))
	}
	if claims.Kind != expected {
		return nil, apperr.ErrWrongKind
	}
	return claims, nil
}

// Rotate exchanges a refresh credential for a new pair. The role in the new
// pair is re-read from the store, not copied from the presented claims.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (pair Pair, err error) {
	ctx, span := tracer.Start(ctx, "auth.Rotate")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		metrics.Rotations.WithLabelValues(outcome).Inc()
		span.End()
	}()

	claims, err := s.Verify(refreshToken, KindRefresh)
	if err != nil {
		if errors.Is(err, apperr.ErrExpired) {
			// An expired refresh credential is terminal; it must not look
			// like the access expiry that triggers a rotation.
			return Pair{}, apperr.Wrap(apperr.CodeRevoked, "refresh credential expired", err)
		}
		return Pair{}, err
	}

	if s.opts.Revocations != nil {
		revoked, err := s.opts.Revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Pair{}, apperr.Wrap(apperr.CodeUnavailable, "check revocation", err)
		}
		if revoked {
			s.log.Warn().Str("user_id", claims.UserID).Msg("revoked refresh credential presented")
			return Pair{}, apperr.ErrRevoked
		}
	}

	identity, err := s.identities.GetIdentityByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Pair{}, apperr.Wrap(apperr.CodeRevoked, "identity missing", err)
		}
		return Pair{}, apperr.Wrap(apperr.CodeUnavailable, "load identity", err)
	}
	if !identity.Active {
		s.log.Info().Str("user_id", identity.ID).Msg("rotation refused for deactivated identity")
		return Pair{}, apperr.ErrDeactivated
	}

	if s.opts.Revocations != nil && s.opts.SingleUseRefresh {
		first, err := s.opts.Revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return Pair{}, apperr.Wrap(apperr.CodeUnavailable, "spend refresh credential", err)
		}
		if !first {
			return Pair{}, apperr.ErrRevoked
		}
	}

	pair, err = s.Issue(identity)
	if err != nil {
		return Pair{}, err
	}
	s.log.Debug().Str("user_id", identity.ID).Str("role", string(identity.Role)).Msg("refresh credential rotated")
	return pair, nil
}

// Revoke invalidates a refresh credential, for logout. Credentials that are
// already expired or malformed need no revocation.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if s.opts.Revocations == nil {
		return nil
	}
	claims, err := s.Verify(refreshToken, KindRefresh)
	if err != nil {
		if errors.Is(err, apperr.ErrWrongKind) {
			return err
		}
		return nil
	}
	if _, err := s.opts.Revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "revoke refresh credential", err)
	}
	return nil
}
