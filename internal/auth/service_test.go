package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/revocation"
)

type identityTable struct {
	mu   sync.Mutex
	rows map[string]model.Identity
}

func (t *identityTable) GetIdentityByID(_ context.Context, id string) (model.Identity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	identity, ok := t.rows[id]
	if !ok {
		return model.Identity{}, apperr.ErrNotFound
	}
	return identity, nil
}

func (t *identityTable) put(identity model.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[identity.ID] = identity
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, revocations RevocationList) (*Service, *identityTable, *fixedClock) {
	t.Helper()
	signer, err := NewHMACSigner("test-secret")
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	table := &identityTable{rows: map[string]model.Identity{}}
	clock := &fixedClock{now: time.Now().UTC().Truncate(time.Second)}
	svc := NewService(signer, table, Options{
		Issuer:           "test-issuer",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		Revocations:      revocations,
		SingleUseRefresh: revocations != nil,
		Now:              clock.Now,
	})
	return svc, table, clock
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	pair, err := svc.Issue(model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true})
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	claims, err := svc.Verify(pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != model.RoleStudent || claims.Kind != KindAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("expected refresh to outlive access")
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Issue(model.Identity{ID: "user-1", Role: "teacher"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestVerifyFailures(t *testing.T) {
	svc, _, clock := newTestService(t, nil)
	pair, err := svc.Issue(model.Identity{ID: "user-1", Role: model.RoleAdmin, Active: true})
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	other, _ := NewHMACSigner("other-secret")
	foreign := NewService(other, nil, Options{Issuer: "test-issuer", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	foreignPair, _ := foreign.Issue(model.Identity{ID: "user-1", Role: model.RoleAdmin})

	wrongIssuer := NewService(svc.signer, nil, Options{Issuer: "someone-else", AccessTTL: time.Minute, RefreshTTL: time.Hour, Now: clock.Now})
	wrongIssuerPair, _ := wrongIssuer.Issue(model.Identity{ID: "user-1", Role: model.RoleAdmin})

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"

	cases := []struct {
		name  string
		token string
		kind  Kind
		want  error
	}{
		{name: "empty", token: "", kind: KindAccess, want: apperr.ErrMalformed},
		{name: "garbage", token: "not.a.jwt", kind: KindAccess, want: apperr.ErrMalformed},
		{name: "tampered", token: tampered, kind: KindAccess, want: apperr.ErrMalformed},
		{name: "foreign key", token: foreignPair.AccessToken, kind: KindAccess, want: apperr.ErrMalformed},
		{name: "wrong issuer", token: wrongIssuerPair.AccessToken, kind: KindAccess, want: apperr.ErrMalformed},
		{name: "refresh as access", token: pair.RefreshToken, kind: KindAccess, want: apperr.ErrWrongKind},
		{name: "access as refresh", token: pair.AccessToken, kind: KindRefresh, want: apperr.ErrWrongKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Verify(tc.token, tc.kind)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	svc, _, clock := newTestService(t, nil)
	pair, err := svc.Issue(model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true})
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	clock.Advance(16 * time.Minute)

	_, err = svc.Verify(pair.AccessToken, KindAccess)
	if !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("expired must not read as malformed")
	}
	if _, err := svc.Verify(pair.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("expected refresh still valid: %v", err)
	}
}

func TestRotateUsesCurrentRole(t *testing.T) {
	svc, table, _ := newTestService(t, nil)
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)

	pair, err := svc.Issue(identity)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	identity.Role = model.RoleAdmin
	table.put(identity)

	// The outstanding access token keeps its snapshot.
	claims, err := svc.Verify(pair.AccessToken, KindAccess)
	if err != nil || claims.Role != model.RoleStudent {
		t.Fatalf("expected snapshot role student, got %v (%v)", claims, err)
	}

	rotated, err := svc.Rotate(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotate error: %v", err)
	}
	claims, err = svc.Verify(rotated.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if claims.Role != model.RoleAdmin {
		t.Fatalf("expected rotated role admin, got %s", claims.Role)
	}
}

func TestRotateDeactivatedIdentity(t *testing.T) {
	svc, table, _ := newTestService(t, nil)
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)
	pair, _ := svc.Issue(identity)

	identity.Active = false
	table.put(identity)

	_, err := svc.Rotate(context.Background(), pair.RefreshToken)
	if !errors.Is(err, apperr.ErrDeactivated) || !errors.Is(err, apperr.ErrRevoked) {
		t.Fatalf("expected deactivated (revoked), got %v", err)
	}
}

func TestRotateMissingIdentity(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	pair, _ := svc.Issue(model.Identity{ID: "ghost", Role: model.RoleStudent, Active: true})
	if _, err := svc.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, apperr.ErrRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestRotateExpiredRefreshIsTerminal(t *testing.T) {
	svc, table, clock := newTestService(t, nil)
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)
	pair, _ := svc.Issue(identity)
	clock.Advance(25 * time.Hour)

	_, err := svc.Rotate(context.Background(), pair.RefreshToken)
	if !errors.Is(err, apperr.ErrRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestRotateRejectsAccessToken(t *testing.T) {
	svc, table, _ := newTestService(t, nil)
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)
	pair, _ := svc.Issue(identity)
	if _, err := svc.Rotate(context.Background(), pair.AccessToken); !errors.Is(err, apperr.ErrWrongKind) {
		t.Fatalf("expected wrong kind, got %v", err)
	}
}

func TestRotateSingleUse(t *testing.T) {
	svc, table, _ := newTestService(t, revocation.NewMemoryList())
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)
	pair, _ := svc.Issue(identity)

	var ok, revoked int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Rotate(context.Background(), pair.RefreshToken)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, apperr.ErrRevoked):
				atomic.AddInt32(&revoked, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || revoked != 7 {
		t.Fatalf("expected one rotation and seven rejections, got %d/%d", ok, revoked)
	}
}

func TestRevokeLogsOut(t *testing.T) {
	svc, table, _ := newTestService(t, revocation.NewMemoryList())
	identity := model.Identity{ID: "user-1", Role: model.RoleStudent, Active: true}
	table.put(identity)
	pair, _ := svc.Issue(identity)

	if err := svc.Revoke(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	if _, err := svc.Rotate(context.Background(), pair.RefreshToken); !errors.Is(err, apperr.ErrRevoked) {
		t.Fatalf("expected revoked after logout, got %v", err)
	}
	if err := svc.Revoke(context.Background(), "garbage"); err != nil {
		t.Fatalf("expected garbage revoke to be a no-op, got %v", err)
	}
	if err := svc.Revoke(context.Background(), pair.AccessToken); !errors.Is(err, apperr.ErrWrongKind) {
		t.Fatalf("expected wrong kind, got %v", err)
	}
}
