package binding

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
)

// PlaceholderEmailDomain completes accounts whose provider shares no email.
const PlaceholderEmailDomain = "placeholder.local"

const maxBindAttempts = 3

type Store interface {
	GetIdentityByID(ctx context.Context, id string) (model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error)
	GetIdentityByExternalID(ctx context.Context, externalID string) (model.Identity, error)
	LinkExternalIdentity(ctx context.Context, identityID, externalID string, avatarURL *string) (bool, error)
	CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)
}

type Binder struct {
	provider Provider
	store    Store
	log      zerolog.Logger
}

func NewBinder(provider Provider, store Store, logger zerolog.Logger) *Binder {
	return &Binder{
		provider: provider,
		store:    store,
		log:      logger.With().Str("component", "identity_binder").Logger(),
	}
}

// VerifyExternalToken resolves the provider-side identity behind rawToken.
func (b *Binder) VerifyExternalToken(ctx context.Context, rawToken string) (ExternalIdentity, error) {
	return b.provider.Verify(ctx, rawToken)
}

// BindOrCreate returns the local identity for ext: the one already bound to
// it, an unbound one with the same email, or a new student account. Two
// concurrent calls for the same external id end on the same identity.
func (b *Binder) BindOrCreate(ctx context.Context, ext ExternalIdentity) (model.Identity, error) {
	ctx, span := tracer.Start(ctx, "binding.BindOrCreate")
	defer span.End()

	if ext.ID == "" {
		return model.Identity{}, apperr.Invalid("external identity without id")
	}

	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		identity, err := b.bindOrCreateOnce(ctx, ext)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
			return model.Identity{}, err
		}
		b.log.Debug().Int("attempt", attempt+1).Msg("bind raced with another writer, re-reading")
	}
	return model.Identity{}, apperr.Wrap(apperr.CodeConflict, "bind external identity", nil)
}

func (b *Binder) bindOrCreateOnce(ctx context.Context, ext ExternalIdentity) (model.Identity, error) {
	identity, err := b.store.GetIdentityByExternalID(ctx, ext.ID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return model.Identity{}, err
	}

	if ext.Email != "" {
		existing, err := b.store.GetIdentityByEmail(ctx, ext.Email)
		switch {
		case err == nil:
			return b.link(ctx, existing, ext)
		case !errors.Is(err, apperr.ErrNotFound):
			return model.Identity{}, err
		}
	}

	email := ext.Email
	if email == "" {
		email = PlaceholderEmail(ext.ID)
	}
	externalID := ext.ID
	created, err := b.store.CreateIdentity(ctx, model.Identity{
		Email:      email,
		FullName:   ext.Name,
		ExternalID: &externalID,
		AvatarURL:  ext.AvatarURL,
		Role:       model.RoleStudent,
		Active:     true,
	})
	if err != nil {
		return model.Identity{}, err
	}
	b.log.Info().Str("user_id", created.ID).Msg("identity created from external provider")
	return created, nil
}

// link attaches ext to an identity found by email.
func (b *Binder) link(ctx context.Context, identity model.Identity, ext ExternalIdentity) (model.Identity, error) {
	if identity.ExternalID != nil {
		if *identity.ExternalID == ext.ID {
			return identity, nil
		}
		return model.Identity{}, apperr.ErrAlreadyBound
	}
	linked, err := b.store.LinkExternalIdentity(ctx, identity.ID, ext.ID, ext.AvatarURL)
	if err != nil {
		return model.Identity{}, err
	}
	if !linked {
		// Someone bound this identity in between; let the caller re-read.
		return model.Identity{}, apperr.Wrap(apperr.CodeConflict, "identity bound concurrently", nil)
	}
	b.log.Info().Str("user_id", identity.ID).Msg("external identity linked by email")
	return b.store.GetIdentityByID(ctx, identity.ID)
}

// BindToIdentity attaches ext to an authenticated identity. Repeating the
// same binding is a no-op; anything else that would move a binding fails
// with already_bound. The role is never touched.
func (b *Binder) BindToIdentity(ctx context.Context, identityID string, ext ExternalIdentity) (model.Identity, error) {
	ctx, span := tracer.Start(ctx, "binding.BindToIdentity")
	defer span.End()

	identity, err := b.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return model.Identity{}, err
	}
	if identity.ExternalID != nil {
		if *identity.ExternalID == ext.ID {
			return identity, nil
		}
		return model.Identity{}, apperr.ErrAlreadyBound
	}

	owner, err := b.store.GetIdentityByExternalID(ctx, ext.ID)
	switch {
	case err == nil && owner.ID != identityID:
		return model.Identity{}, apperr.ErrAlreadyBound
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return model.Identity{}, err
	}

	linked, err := b.store.LinkExternalIdentity(ctx, identityID, ext.ID, ext.AvatarURL)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return model.Identity{}, apperr.Wrap(apperr.CodeAlreadyBound, "external identity bound concurrently", err)
		}
		return model.Identity{}, err
	}
	current, err := b.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return model.Identity{}, err
	}
	if !linked && (current.ExternalID == nil || *current.ExternalID != ext.ID) {
		return model.Identity{}, apperr.ErrAlreadyBound
	}
	return current, nil
}

// PlaceholderEmail derives a stable, unique address for an external id.
func PlaceholderEmail(externalID string) string {
	return "ext_" + strings.ToLower(externalID) + "@" + PlaceholderEmailDomain
}
