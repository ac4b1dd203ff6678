// Package classroom is the data-access layer for classroom records. Every
// operation loads its target, asks the policy engine and returns the
// authorized, redacted shape.
package classroom

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
	"lms/auth-identity/internal/recommend"
)

type Store interface {
	GetIdentityByID(ctx context.Context, id string) (model.Identity, error)
	UpdateIdentity(ctx context.Context, id string, update model.IdentityUpdate) (model.Identity, error)

	ListClasses(ctx context.Context) ([]model.Class, error)
	GetClass(ctx context.Context, id string) (model.Class, error)
	CreateClass(ctx context.Context, class model.Class) (model.Class, error)
	CreateEnrollment(ctx context.Context, enrollment model.Enrollment) (model.Enrollment, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	ListEnrollments(ctx context.Context, studentID string) ([]model.Enrollment, error)

	ListLivestreams(ctx context.Context) ([]model.Livestream, error)
	GetLivestream(ctx context.Context, id string) (model.Livestream, error)
	CreateLivestream(ctx context.Context, stream model.Livestream) (model.Livestream, error)
	SetLivestreamActive(ctx context.Context, id string, active bool, at time.Time) (model.Livestream, error)

	ListComments(ctx context.Context, livestreamID string) ([]model.Comment, error)
	GetComment(ctx context.Context, id string) (model.Comment, error)
	CreateComment(ctx context.Context, comment model.Comment) (model.Comment, error)
	SoftDeleteComment(ctx context.Context, id string) error

	ListQuizzes(ctx context.Context, classID string) ([]model.Quiz, error)
	GetQuiz(ctx context.Context, id string) (model.Quiz, error)
	GetQuizQuestion(ctx context.Context, id string) (model.QuizQuestion, error)
	CreateQuiz(ctx context.Context, quiz model.Quiz) (model.Quiz, error)
	CreateQuizQuestion(ctx context.Context, question model.QuizQuestion) (model.QuizQuestion, error)
	SetQuizState(ctx context.Context, id string, active bool, at time.Time) (model.Quiz, error)
	CreateQuizAnswer(ctx context.Context, answer model.QuizAnswer) (model.QuizAnswer, error)
	ListQuizAnswers(ctx context.Context, quizID, studentID string) ([]model.QuizAnswer, error)
	ListStudentAnswers(ctx context.Context, studentID string) ([]model.QuizAnswer, error)

	CreateQnaSession(ctx context.Context, session model.QnaSession) (model.QnaSession, error)
	GetQnaSession(ctx context.Context, id string) (model.QnaSession, error)
	GetActiveQnaSession(ctx context.Context, classID string) (model.QnaSession, error)
	CloseQnaSession(ctx context.Context, id string, at time.Time) (model.QnaSession, error)
	ListQnaQuestions(ctx context.Context, sessionID string) ([]model.QnaQuestion, error)
	GetQnaQuestion(ctx context.Context, id string) (model.QnaQuestion, error)
	CreateQnaQuestion(ctx context.Context, question model.QnaQuestion) (model.QnaQuestion, error)
	AnswerQnaQuestion(ctx context.Context, id, answer string, at time.Time) (model.QnaQuestion, error)

	GetRecommendation(ctx context.Context, studentID string) (model.AIRecommendation, error)
	UpsertRecommendation(ctx context.Context, rec model.AIRecommendation) (model.AIRecommendation, error)
}

type Service struct {
	store     Store
	policy    *policy.Engine
	generator recommend.Generator
	now       func() time.Time
	log       zerolog.Logger
}

func NewService(store Store, engine *policy.Engine, generator recommend.Generator, logger zerolog.Logger) *Service {
	if generator == nil {
		generator = recommend.RuleGenerator{}
	}
	return &Service{
		store:     store,
		policy:    engine,
		generator: generator,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With().Str("component", "classroom").Logger(),
	}
}

// authorize turns a denial into the same not-found a missing record gets,
// so callers cannot probe for existence.
func (s *Service) authorize(ctx context.Context, actor policy.Actor, action policy.Action, res policy.Resource) (policy.Decision, error) {
	decision, err := s.policy.Check(ctx, actor, action, res)
	if err != nil {
		if errors.Is(err, apperr.ErrPolicyDenied) {
			return decision, apperr.Wrap(apperr.CodeNotFound, string(res.Type)+" not found", err)
		}
		return decision, err
	}
	return decision, nil
}

// allowed is authorize for list filtering: denial drops the item.
func (s *Service) allowed(ctx context.Context, actor policy.Actor, action policy.Action, res policy.Resource) (policy.Decision, bool, error) {
	decision, err := s.policy.Authorize(ctx, actor, action, res)
	if err != nil {
		return decision, false, apperr.Wrap(apperr.CodeUnavailable, "evaluate policy", err)
	}
	return decision, decision.Allowed(), nil
}
