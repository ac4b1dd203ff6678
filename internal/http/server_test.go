package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/auth"
	"lms/auth-identity/internal/binding"
	"lms/auth-identity/internal/classroom"
	"lms/auth-identity/internal/config"
	"lms/auth-identity/internal/db"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
	"lms/auth-identity/internal/recommend"
	"lms/auth-identity/internal/repository"
	"lms/auth-identity/internal/revocation"
	"lms/auth-identity/internal/session"
)

type fakeProvider map[string]binding.ExternalIdentity

func (p fakeProvider) Verify(_ context.Context, rawToken string) (binding.ExternalIdentity, error) {
	ext, ok := p[rawToken]
	if !ok {
		return binding.ExternalIdentity{}, apperr.Wrap(apperr.CodeProviderRejected, "unknown token", nil)
	}
	return ext, nil
}

type testApp struct {
	*httptest.Server
	cfg    config.Config
	store  authStore
	signer *auth.Signer
	tokens *auth.Service
}

type authStore interface {
	Store
	classroom.Store
	binding.Store
}

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:           ":0",
		JWTSecret:          "test-secret",
		JWTIssuer:          "test-issuer",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    24 * time.Hour,
		AccessCookieMaxAge: 24 * time.Hour,
		RotationTimeout:    5 * time.Second,
	}
}

func newTestApp(t *testing.T, store authStore) *testApp {
	t.Helper()
	cfg := testConfig()
	signer, err := auth.NewHMACSigner(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tokens := auth.NewService(signer, store, auth.Options{
		Issuer:           cfg.JWTIssuer,
		AccessTTL:        cfg.AccessTokenTTL,
		RefreshTTL:       cfg.RefreshTokenTTL,
		Revocations:      revocation.NewMemoryList(),
		SingleUseRefresh: true,
		Logger:           zerolog.Nop(),
	})
	provider := fakeProvider{
		"fb-ada": {ID: "ext-ada", Name: "Ada", Email: "ada.ext@example.local"},
		"fb-bob": {ID: "ext-bob", Name: "Bob"},
	}
	server, err := NewServer(cfg, Deps{
		Store:     store,
		Signer:    signer,
		Tokens:    tokens,
		Rotations: session.NewDedup(tokens, cfg.RotationTimeout),
		Binder:    binding.NewBinder(provider, store, zerolog.Nop()),
		Classroom: classroom.NewService(store, policy.NewEngine(store, zerolog.Nop()), recommend.RuleGenerator{}, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	app := &testApp{Server: httptest.NewServer(server.Router()), cfg: cfg, store: store, signer: signer, tokens: tokens}
	t.Cleanup(app.Close)
	return app
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var payload map[string]string
	decodeBody(t, resp, &payload)
	return payload["error"]
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func (a *testApp) register(t *testing.T, email string) authResponse {
	t.Helper()
	resp := doReq(t, http.MethodPost, a.URL+"/auth/register", "", map[string]string{
		"email": email, "password": "dev-password", "full_name": "Test User",
	})
	expectStatus(t, resp, http.StatusCreated)
	var out authResponse
	decodeBody(t, resp, &out)
	return out
}

// mustToken mints an access token for an identity stored directly.
func (a *testApp) mustToken(t *testing.T, email string, role model.Role) (string, string) {
	t.Helper()
	hash := "unused"
	identity, err := a.store.CreateIdentity(context.Background(), model.Identity{
		Email: email, FullName: email, PasswordHash: &hash, Role: role, Active: true,
	})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	pair, err := a.tokens.Issue(identity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken, identity.ID
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterLoginAndMe(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())

	registered := app.register(t, "Ada@Example.local")
	if registered.AccessToken == "" || registered.RefreshToken == "" {
		t.Fatalf("expected both credentials")
	}
	if registered.User.Role != model.RoleStudent || registered.User.Email != "ada@example.local" {
		t.Fatalf("unexpected user %+v", registered.User)
	}

	resp := doReq(t, http.MethodPost, app.URL+"/auth/register", "", map[string]string{
		"email": "ada@example.local", "password": "dev-password", "full_name": "Again",
	})
	expectStatus(t, resp, http.StatusConflict)

	resp = doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email": " ADA@example.local ", "password": "dev-password",
	})
	expectStatus(t, resp, http.StatusOK)
	access := cookieByName(resp, accessCookie)
	refresh := cookieByName(resp, refreshCookie)
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies")
	}
	if !access.HttpOnly || access.SameSite != http.SameSiteStrictMode || access.Secure {
		t.Fatalf("unexpected access cookie attributes %+v", access)
	}
	if access.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Fatalf("expected 1 day access cookie ceiling, got %d", access.MaxAge)
	}
	var login authResponse
	decodeBody(t, resp, &login)

	resp = doReq(t, http.MethodGet, app.URL+"/auth/me", login.AccessToken, nil)
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "password") || strings.Contains(string(raw), login.RefreshToken) {
		t.Fatalf("me response leaks credentials: %s", raw)
	}
	var me userEnvelope
	if err := json.Unmarshal(raw, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.ID != registered.User.ID || !me.User.Active {
		t.Fatalf("unexpected me %+v", me.User)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	app.register(t, "ada@example.local")

	for _, body := range []map[string]string{
		{"email": "ada@example.local", "password": "wrong-password"},
		{"email": "nobody@example.local", "password": "dev-password"},
	} {
		resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", body)
		expectStatus(t, resp, http.StatusUnauthorized)
		if code := errorCode(t, resp); code != "invalid_credentials" {
			t.Fatalf("expected invalid_credentials, got %s", code)
		}
	}
}

func TestAccessCredentialErrors(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	registered := app.register(t, "ada@example.local")

	past := auth.NewService(app.signer, app.store, auth.Options{
		Issuer:     app.cfg.JWTIssuer,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Now:        func() time.Time { return time.Now().Add(-2 * time.Hour) },
	})
	identity, err := app.store.GetIdentityByID(context.Background(), registered.User.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	stale, err := past.Issue(identity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "expired access", token: stale.AccessToken, want: "token_expired"},
		{name: "refresh as bearer", token: registered.RefreshToken, want: "invalid_token"},
		{name: "garbage", token: "not-a-token", want: "invalid_token"},
		{name: "missing", token: "", want: "missing_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doReq(t, http.MethodGet, app.URL+"/auth/me", tt.token, nil)
			expectStatus(t, resp, http.StatusUnauthorized)
			if code := errorCode(t, resp); code != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, code)
			}
		})
	}
}

func TestRefreshIsSingleUseAndClearsCookiesOnFailure(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	registered := app.register(t, "ada@example.local")

	resp := doReq(t, http.MethodPost, app.URL+"/auth/refresh?refresh_token="+registered.RefreshToken, "", nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated tokenResponse
	decodeBody(t, resp, &rotated)
	if rotated.AccessToken == "" || rotated.RefreshToken == registered.RefreshToken {
		t.Fatalf("expected a new pair")
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh?refresh_token="+registered.RefreshToken, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookieByName(resp, name)
		if c == nil || c.MaxAge >= 0 {
			t.Fatalf("expected %s cleared, got %+v", name, c)
		}
	}
	if code := errorCode(t, resp); code != "revoked" {
		t.Fatalf("expected revoked, got %s", code)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh?refresh_token="+rotated.AccessToken, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestTransportRecoversExpiredAccessThroughRefreshEndpoint(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	registered := app.register(t, "ada@example.local")

	past := auth.NewService(app.signer, app.store, auth.Options{
		Issuer:     app.cfg.JWTIssuer,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Now:        func() time.Time { return time.Now().Add(-2 * time.Hour) },
	})
	identity, err := app.store.GetIdentityByID(context.Background(), registered.User.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	stale, err := past.Issue(identity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	jar := session.NewMemoryJar(session.Tokens{AccessToken: stale.AccessToken, RefreshToken: registered.RefreshToken})
	coordinator := session.NewCoordinator(&session.HTTPRotator{BaseURL: app.URL}, jar, session.CoordinatorOptions{Logger: zerolog.Nop()})
	client := &http.Client{Transport: &session.Transport{Jar: jar, Coordinator: coordinator}}

	const callers = 8
	var wg sync.WaitGroup
	statuses := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(app.URL + "/auth/me")
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)
	for status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("expected every caller to recover, got %d", status)
		}
	}

	tokens, ok := jar.Tokens()
	if !ok || tokens.AccessToken == stale.AccessToken || tokens.RefreshToken == registered.RefreshToken {
		t.Fatalf("expected the jar to hold the rotated pair")
	}
}

func TestExternalCallbackAndBind(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())

	var first, second authResponse
	resp := doReq(t, http.MethodPost, app.URL+"/auth/external/callback?external_access_token=fb-ada", "", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &first)
	resp = doReq(t, http.MethodPost, app.URL+"/auth/external/callback?external_access_token=fb-ada", "", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &second)
	if first.User.ID != second.User.ID || first.User.Role != model.RoleStudent {
		t.Fatalf("expected the same student, got %+v and %+v", first.User, second.User)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/external/callback?external_access_token=bogus", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if code := errorCode(t, resp); code != "provider_rejected" {
		t.Fatalf("expected provider_rejected, got %s", code)
	}

	bob := app.register(t, "bob@example.local")
	resp = doReq(t, http.MethodPatch, app.URL+"/auth/bind-external", bob.AccessToken, map[string]string{"external_access_token": "fb-bob"})
	expectStatus(t, resp, http.StatusOK)
	var bound userEnvelope
	decodeBody(t, resp, &bound)
	if bound.User.ExternalIdentityID == nil || *bound.User.ExternalIdentityID != "ext-bob" || bound.User.Role != model.RoleStudent {
		t.Fatalf("unexpected bound user %+v", bound.User)
	}

	carol := app.register(t, "carol@example.local")
	resp = doReq(t, http.MethodPatch, app.URL+"/auth/bind-external", carol.AccessToken, map[string]string{"external_access_token": "fb-bob"})
	expectStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "already_bound" {
		t.Fatalf("expected already_bound, got %s", code)
	}
}

func TestDeniedQuizLooksLikeMissingQuiz(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	adminToken, _ := app.mustToken(t, "admin@example.local", model.RoleAdmin)
	studentToken, studentID := app.mustToken(t, "student@example.local", model.RoleStudent)

	var c1, c2 model.Class
	resp := doReq(t, http.MethodPost, app.URL+"/classes", adminToken, map[string]string{"title": "C1"})
	expectStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)
	resp = doReq(t, http.MethodPost, app.URL+"/classes", adminToken, map[string]string{"title": "C2"})
	expectStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c2)
	resp = doReq(t, http.MethodPost, app.URL+"/classes/"+c1.ID+"/enrollments", adminToken, map[string]string{"student_id": studentID})
	expectStatus(t, resp, http.StatusCreated)

	resp = doReq(t, http.MethodPost, app.URL+"/quizzes", adminToken, map[string]interface{}{
		"class_id": c2.ID,
		"title":    "Dates",
		"questions": []map[string]interface{}{
			{"question_text": "1789?", "option_a": "yes", "option_b": "no", "correct_answer": "a"},
		},
	})
	expectStatus(t, resp, http.StatusCreated)
	var quiz model.Quiz
	decodeBody(t, resp, &quiz)

	denied := doReq(t, http.MethodGet, app.URL+"/quizzes/"+quiz.ID, studentToken, nil)
	missing := doReq(t, http.MethodGet, app.URL+"/quizzes/00000000-0000-0000-0000-000000000000", studentToken, nil)
	deniedBody, _ := io.ReadAll(denied.Body)
	missingBody, _ := io.ReadAll(missing.Body)
	if denied.StatusCode != http.StatusNotFound || denied.StatusCode != missing.StatusCode || string(deniedBody) != string(missingBody) {
		t.Fatalf("expected identical responses, got %d %s and %d %s", denied.StatusCode, deniedBody, missing.StatusCode, missingBody)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/classes", studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var classes []model.Class
	decodeBody(t, resp, &classes)
	if len(classes) != 1 || classes[0].ID != c1.ID {
		t.Fatalf("expected only the enrolled class, got %+v", classes)
	}
}

func TestUpdateMeCannotChangeRole(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	ada := app.register(t, "ada@example.local")

	resp := doReq(t, http.MethodPatch, app.URL+"/auth/me", ada.AccessToken, map[string]string{"role": "admin"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doReq(t, http.MethodPatch, app.URL+"/users/"+ada.User.ID, ada.AccessToken, map[string]string{"role": "admin"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = doReq(t, http.MethodPatch, app.URL+"/auth/me", ada.AccessToken, map[string]string{"full_name": "Ada Lovelace"})
	expectStatus(t, resp, http.StatusOK)
	var updated userEnvelope
	decodeBody(t, resp, &updated)
	if updated.User.FullName != "Ada Lovelace" || updated.User.Role != model.RoleStudent {
		t.Fatalf("unexpected user %+v", updated.User)
	}
}

func TestLogoutRevokesRefreshCredential(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())
	ada := app.register(t, "ada@example.local")

	resp := doReq(t, http.MethodPost, app.URL+"/auth/logout?refresh_token="+ada.RefreshToken, "", nil)
	expectStatus(t, resp, http.StatusOK)
	if c := cookieByName(resp, refreshCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected refresh cookie cleared")
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh?refresh_token="+ada.RefreshToken, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestHealthAndJWKS(t *testing.T) {
	app := newTestApp(t, repository.NewMemoryStore())

	resp := doReq(t, http.MethodGet, app.URL+"/health", "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodGet, app.URL+"/.well-known/jwks.json", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var set auth.JWKSet
	decodeBody(t, resp, &set)
	if len(set.Keys) != 0 {
		t.Fatalf("expected no published keys for HMAC signing, got %d", len(set.Keys))
	}
}

func TestPostgresRegisterAndLogin(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	app := newTestApp(t, repository.NewStore(pool))
	email := "pg." + time.Now().Format("150405.000000") + "@example.local"
	app.register(t, email)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{"email": email, "password": "dev-password"})
	expectStatus(t, resp, http.StatusOK)
}

func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("LMS_TEST_DB")
	if url == "" {
		t.Skip("LMS_TEST_DB not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if err := db.Migrate(context.Background(), pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	return pool
}
