package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"lms/auth-identity/internal/auth"
	"lms/auth-identity/internal/binding"
	"lms/auth-identity/internal/classroom"
	"lms/auth-identity/internal/config"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/session"
)

// Store is the slice of the credential store the auth handlers use directly.
type Store interface {
	Ping(ctx context.Context) error
	CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error)
	GetIdentityByID(ctx context.Context, id string) (model.Identity, error)
}

type Deps struct {
	Store  Store
	Signer *auth.Signer
	Tokens *auth.Service
	// Rotations serves the refresh endpoint; normally a session.Dedup
	// around Tokens.
	Rotations session.PairRotator
	Binder    *binding.Binder
	Classroom *classroom.Service
	Logger    zerolog.Logger
}

type Server struct {
	cfg       config.Config
	store     Store
	tokens    *auth.Service
	rotations session.PairRotator
	binder    *binding.Binder
	classroom *classroom.Service
	jwks      auth.JWKSet
	log       zerolog.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	jwks, err := auth.NewJWKSet(deps.Signer.PublicKey())
	if err != nil {
		return nil, err
	}
	rotations := deps.Rotations
	if rotations == nil {
		rotations = deps.Tokens
	}
	return &Server{
		cfg:       cfg,
		store:     deps.Store,
		tokens:    deps.Tokens,
		rotations: rotations,
		binder:    deps.Binder,
		classroom: deps.Classroom,
		jwks:      jwks,
		log:       deps.Logger,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(s.log))
	r.Use(accessLog)
	r.Use(tracing)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/external/callback", s.handleExternalCallback)
		r.Post("/logout", s.handleLogout)
		r.With(s.authMiddleware).Patch("/bind-external", s.handleBindExternal)
		r.With(s.authMiddleware).Get("/me", s.handleGetMe)
		r.With(s.authMiddleware).Patch("/me", s.handleUpdateMe)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/users/{userID}", s.handleGetUser)
		r.Patch("/users/{userID}", s.handleUpdateUser)

		r.Route("/classes", func(r chi.Router) {
			r.Get("/", s.handleListClasses)
			r.Post("/", s.handleCreateClass)
			r.Get("/{classID}", s.handleGetClass)
			r.Post("/{classID}/enrollments", s.handleEnroll)
			r.Get("/{classID}/quizzes", s.handleListQuizzes)
		})
		r.Get("/students/{studentID}/enrollments", s.handleListEnrollments)

		r.Route("/livestreams", func(r chi.Router) {
			r.Get("/", s.handleListLivestreams)
			r.Post("/", s.handleCreateLivestream)
			r.Get("/{id}", s.handleGetLivestream)
			r.Post("/{id}/activate", s.handleSetLivestreamActive(true))
			r.Post("/{id}/deactivate", s.handleSetLivestreamActive(false))
			r.Get("/{id}/comments", s.handleListComments)
			r.Post("/{id}/comments", s.handlePostComment)
		})
		r.Delete("/comments/{id}", s.handleDeleteComment)

		r.Route("/quizzes", func(r chi.Router) {
			r.Post("/", s.handleCreateQuiz)
			r.Get("/{id}", s.handleGetQuiz)
			r.Post("/{id}/questions", s.handleAddQuizQuestion)
			r.Post("/{id}/trigger", s.handleSetQuizState(true))
			r.Post("/{id}/close", s.handleSetQuizState(false))
			r.Post("/{id}/answers", s.handleSubmitAnswer)
			r.Get("/{id}/my-results", s.handleMyResults)
			r.Get("/{id}/results", s.handleQuizResults)
		})

		r.Route("/qna", func(r chi.Router) {
			r.Post("/sessions", s.handleCreateQnaSession)
			r.Get("/sessions/active/{classID}", s.handleActiveQnaSession)
			r.Post("/sessions/{id}/close", s.handleCloseQnaSession)
			r.Post("/questions", s.handleSubmitQnaQuestion)
			r.Post("/questions/{id}/answer", s.handleAnswerQnaQuestion)
		})

		r.Get("/ai/recommendations/{studentID}", s.handleGetRecommendation)
		r.Post("/ai/recommendations/{studentID}", s.handleGenerateRecommendation)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jwks)
}
