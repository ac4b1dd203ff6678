package classroom

import (
	"context"
	"strings"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
)

func (s *Service) CreateQnaSession(ctx context.Context, actor policy.Actor, classID, title string) (model.QnaSession, error) {
	title = strings.TrimSpace(title)
	if classID == "" || title == "" {
		return model.QnaSession{}, apperr.Invalid("class_id and title are required")
	}
	res := policy.Resource{Type: policy.EntityQnaSession, ClassID: classID}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.QnaSession{}, err
	}
	return s.store.CreateQnaSession(ctx, model.QnaSession{
		ClassID:   classID,
		Title:     title,
		Active:    true,
		CreatedBy: actor.ID,
	})
}

func (s *Service) CloseQnaSession(ctx context.Context, actor policy.Actor, id string) (model.QnaSession, error) {
	session, err := s.store.GetQnaSession(ctx, id)
	if err != nil {
		return model.QnaSession{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionUpdate, qnaSessionResource(session)); err != nil {
		return model.QnaSession{}, err
	}
	return s.store.CloseQnaSession(ctx, id, s.now())
}

// ActiveQnaSession returns the open session of a class with its questions.
// Authors of anonymous questions are masked for everyone but admins and the
// authors themselves.
func (s *Service) ActiveQnaSession(ctx context.Context, actor policy.Actor, classID string) (model.QnaSession, error) {
	if _, err := s.GetClass(ctx, actor, classID); err != nil {
		return model.QnaSession{}, err
	}
	session, err := s.store.GetActiveQnaSession(ctx, classID)
	if err != nil {
		return model.QnaSession{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, qnaSessionResource(session)); err != nil {
		return model.QnaSession{}, err
	}

	questions, err := s.store.ListQnaQuestions(ctx, session.ID)
	if err != nil {
		return model.QnaSession{}, err
	}
	session.Questions = make([]model.QnaQuestion, 0, len(questions))
	for _, question := range questions {
		decision, ok, err := s.allowed(ctx, actor, policy.ActionRead, qnaQuestionResource(session, question))
		if err != nil {
			return model.QnaSession{}, err
		}
		if !ok {
			continue
		}
		policy.Apply(decision, &question)
		session.Questions = append(session.Questions, question)
	}
	return session, nil
}

// SubmitQnaQuestion asks a question in an open session as the actor.
func (s *Service) SubmitQnaQuestion(ctx context.Context, actor policy.Actor, sessionID, text string, anonymous bool) (model.QnaQuestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.QnaQuestion{}, apperr.Invalid("question_text is required")
	}
	session, err := s.store.GetQnaSession(ctx, sessionID)
	if err != nil {
		return model.QnaQuestion{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, qnaSessionResource(session)); err != nil {
		return model.QnaQuestion{}, err
	}
	if !session.Active {
		return model.QnaQuestion{}, apperr.Precondition("qna session is closed")
	}
	res := policy.Resource{
		Type:         policy.EntityQnaQuestion,
		OwnerID:      actor.ID,
		ClassID:      session.ClassID,
		ParentActive: session.Active,
		Anonymous:    anonymous,
	}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.QnaQuestion{}, err
	}
	return s.store.CreateQnaQuestion(ctx, model.QnaQuestion{
		SessionID: sessionID,
		OwnerID:   actor.ID,
		Text:      text,
		Anonymous: anonymous,
	})
}

// AnswerQnaQuestion records an admin's reply.
func (s *Service) AnswerQnaQuestion(ctx context.Context, actor policy.Actor, questionID, answer string) (model.QnaQuestion, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return model.QnaQuestion{}, apperr.Invalid("answer_text is required")
	}
	question, err := s.store.GetQnaQuestion(ctx, questionID)
	if err != nil {
		return model.QnaQuestion{}, err
	}
	session, err := s.store.GetQnaSession(ctx, question.SessionID)
	if err != nil {
		return model.QnaQuestion{}, err
	}
	res := qnaQuestionResource(session, question)
	res.Fields = []string{model.FieldAnswerText}
	if _, err := s.authorize(ctx, actor, policy.ActionAnswer, res); err != nil {
		return model.QnaQuestion{}, err
	}
	return s.store.AnswerQnaQuestion(ctx, questionID, answer, s.now())
}

func qnaSessionResource(session model.QnaSession) policy.Resource {
	return policy.Resource{
		Type:         policy.EntityQnaSession,
		ID:           session.ID,
		ClassID:      session.ClassID,
		ParentActive: session.Active,
	}
}

func qnaQuestionResource(session model.QnaSession, question model.QnaQuestion) policy.Resource {
	return policy.Resource{
		Type:         policy.EntityQnaQuestion,
		ID:           question.ID,
		OwnerID:      question.OwnerID,
		ClassID:      session.ClassID,
		ParentActive: session.Active,
		Anonymous:    question.Anonymous,
	}
}
