package classroom

import (
	"context"
	"sort"

	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
	"lms/auth-identity/internal/recommend"
)

const generalSubject = "General"

func (s *Service) GetRecommendation(ctx context.Context, actor policy.Actor, studentID string) (model.AIRecommendation, error) {
	res := policy.Resource{Type: policy.EntityRecommendation, ID: studentID, OwnerID: studentID}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, res); err != nil {
		return model.AIRecommendation{}, err
	}
	return s.store.GetRecommendation(ctx, studentID)
}

// GenerateRecommendation recomputes a student's recommendation from their
// quiz results. The stored record is written by the system actor; the caller
// only needs the right to ask.
func (s *Service) GenerateRecommendation(ctx context.Context, actor policy.Actor, studentID string) (model.AIRecommendation, error) {
	res := policy.Resource{Type: policy.EntityRecommendation, ID: studentID, OwnerID: studentID}
	if _, err := s.authorize(ctx, actor, policy.ActionGenerate, res); err != nil {
		return model.AIRecommendation{}, err
	}

	scores, quizzes, err := s.subjectScores(ctx, studentID)
	if err != nil {
		return model.AIRecommendation{}, err
	}
	doc, err := s.generator.Generate(ctx, recommend.Request{StudentID: studentID, Results: scores})
	if err != nil {
		return model.AIRecommendation{}, err
	}

	system := policy.System()
	if _, err := s.authorize(ctx, system, policy.ActionUpdate, res); err != nil {
		return model.AIRecommendation{}, err
	}
	rec, err := s.store.UpsertRecommendation(ctx, model.AIRecommendation{
		StudentID:      studentID,
		Recommendation: doc,
		BasedOnQuizzes: quizzes,
		GeneratedAt:    s.now(),
	})
	if err != nil {
		return model.AIRecommendation{}, err
	}
	s.log.Info().
		Str("actor_id", actor.ID).
		Str("student_id", studentID).
		Int("quizzes", quizzes).
		Msg("recommendation generated")
	return rec, nil
}

// subjectScores grades every quiz the student answered and sums the results
// per subject, weakest first.
func (s *Service) subjectScores(ctx context.Context, studentID string) ([]recommend.SubjectScore, int, error) {
	answers, err := s.store.ListStudentAnswers(ctx, studentID)
	if err != nil {
		return nil, 0, err
	}
	byQuiz := map[string][]model.QuizAnswer{}
	for _, answer := range answers {
		byQuiz[answer.QuizID] = append(byQuiz[answer.QuizID], answer)
	}

	bySubject := map[string]*recommend.SubjectScore{}
	for quizID, quizAnswers := range byQuiz {
		quiz, err := s.store.GetQuiz(ctx, quizID)
		if err != nil {
			return nil, 0, err
		}
		subject := generalSubject
		if quiz.Subject != nil && *quiz.Subject != "" {
			subject = *quiz.Subject
		}
		result := grade(quiz, studentID, quizAnswers)
		score, ok := bySubject[subject]
		if !ok {
			score = &recommend.SubjectScore{Subject: subject}
			bySubject[subject] = score
		}
		score.Score += result.Score
		score.Total += result.Total
		score.Quizzes++
	}

	scores := make([]recommend.SubjectScore, 0, len(bySubject))
	for _, score := range bySubject {
		if score.Total > 0 {
			score.Percentage = float64(score.Score) * 100 / float64(score.Total)
		}
		scores = append(scores, *score)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Percentage != scores[j].Percentage {
			return scores[i].Percentage < scores[j].Percentage
		}
		return scores[i].Subject < scores[j].Subject
	})
	return scores, len(byQuiz), nil
}
