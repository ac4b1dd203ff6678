package classroom

import (
	"context"
	"errors"
	"strings"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/crypto"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
)

// IdentityPatch is a requested change to an identity. Password is plain text
// and hashed before it reaches the store.
type IdentityPatch struct {
	FullName  *string
	Password  *string
	AvatarURL *string
	Role      *model.Role
	Active    *bool
}

func (s *Service) GetIdentity(ctx context.Context, actor policy.Actor, id string) (model.Identity, error) {
	identity, err := s.store.GetIdentityByID(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, identityResource(identity, nil)); err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// UpdateIdentity applies a patch. Role and status changes are admin-only and
// never apply to the acting admin's own record.
func (s *Service) UpdateIdentity(ctx context.Context, actor policy.Actor, id string, patch IdentityPatch) (model.Identity, error) {
	update, err := patch.toUpdate()
	if err != nil {
		return model.Identity{}, err
	}
	fields := update.Fields()
	if len(fields) == 0 {
		return model.Identity{}, apperr.Invalid("no fields to update")
	}

	identity, err := s.store.GetIdentityByID(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionUpdate, identityResource(identity, fields)); err != nil {
		return model.Identity{}, err
	}

	updated, err := s.store.UpdateIdentity(ctx, id, update)
	if err != nil {
		return model.Identity{}, err
	}
	s.log.Info().
		Str("actor_id", actor.ID).
		Str("identity_id", id).
		Strs("fields", fields).
		Msg("identity updated")
	return updated, nil
}

func (p IdentityPatch) toUpdate() (model.IdentityUpdate, error) {
	var update model.IdentityUpdate
	if p.FullName != nil {
		name := strings.TrimSpace(*p.FullName)
		if name == "" {
			return update, apperr.Invalid("full_name must not be empty")
		}
		update.FullName = &name
	}
	if p.Password != nil {
		hash, err := crypto.HashPassword(*p.Password)
		if err != nil {
			if errors.Is(err, crypto.ErrPasswordTooShort) {
				return update, apperr.Invalid("password too short")
			}
			return update, apperr.Wrap(apperr.CodeUnknown, "hash password", err)
		}
		update.PasswordHash = &hash
	}
	if p.AvatarURL != nil {
		avatar := strings.TrimSpace(*p.AvatarURL)
		update.AvatarURL = &avatar
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			return update, apperr.Invalid("unknown role")
		}
		role := *p.Role
		update.Role = &role
	}
	if p.Active != nil {
		active := *p.Active
		update.Active = &active
	}
	return update, nil
}

func identityResource(identity model.Identity, fields []string) policy.Resource {
	return policy.Resource{
		Type:    policy.EntityIdentity,
		ID:      identity.ID,
		OwnerID: identity.ID,
		Fields:  fields,
	}
}
