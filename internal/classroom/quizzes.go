package classroom

import (
	"context"
	"errors"
	"strings"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
)

// QuestionInput is one multiple-choice question. Options C and D are
// optional; the correct answer must name a present option.
type QuestionInput struct {
	Text          string
	OptionA       string
	OptionB       string
	OptionC       *string
	OptionD       *string
	CorrectAnswer string
	Points        int
}

type QuizInput struct {
	ClassID          string
	Title            string
	Subject          *string
	TimeLimitSeconds int
	Questions        []QuestionInput
}

// AnswerResult is one graded answer.
type AnswerResult struct {
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
	Correct        bool   `json:"is_correct"`
	Points         int    `json:"points"`
}

// QuizResult is a student's graded submission for one quiz.
type QuizResult struct {
	QuizID     string         `json:"quiz_id"`
	StudentID  string         `json:"student_id"`
	Score      int            `json:"score"`
	Total      int            `json:"total"`
	Percentage float64        `json:"percentage"`
	Answers    []AnswerResult `json:"answers"`
}

func (s *Service) ListQuizzes(ctx context.Context, actor policy.Actor, classID string) ([]model.Quiz, error) {
	if _, err := s.GetClass(ctx, actor, classID); err != nil {
		return nil, err
	}
	res := policy.Resource{Type: policy.EntityQuiz, ClassID: classID}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, res); err != nil {
		return nil, err
	}
	return s.store.ListQuizzes(ctx, classID)
}

// GetQuiz returns a quiz with its questions. Non-admin readers never see the
// correct answers.
func (s *Service) GetQuiz(ctx context.Context, actor policy.Actor, id string) (model.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return model.Quiz{}, err
	}
	decision, err := s.authorize(ctx, actor, policy.ActionRead, quizResource(quiz))
	if err != nil {
		return model.Quiz{}, err
	}
	policy.Apply(decision, &quiz)
	return quiz, nil
}

func (s *Service) CreateQuiz(ctx context.Context, actor policy.Actor, in QuizInput) (model.Quiz, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.ClassID == "" || in.Title == "" {
		return model.Quiz{}, apperr.Invalid("class_id and title are required")
	}
	if in.TimeLimitSeconds < 0 {
		return model.Quiz{}, apperr.Invalid("time_limit_seconds must not be negative")
	}
	questions := make([]model.QuizQuestion, 0, len(in.Questions))
	for i, q := range in.Questions {
		question, err := q.toQuestion(i)
		if err != nil {
			return model.Quiz{}, err
		}
		questions = append(questions, question)
	}

	res := policy.Resource{Type: policy.EntityQuiz, ClassID: in.ClassID}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.Quiz{}, err
	}
	quiz, err := s.store.CreateQuiz(ctx, model.Quiz{
		ClassID:          in.ClassID,
		Title:            in.Title,
		Subject:          in.Subject,
		TimeLimitSeconds: in.TimeLimitSeconds,
		CreatedBy:        actor.ID,
		Questions:        questions,
	})
	if err != nil {
		return model.Quiz{}, err
	}
	s.log.Info().Str("quiz_id", quiz.ID).Str("class_id", quiz.ClassID).Int("questions", len(quiz.Questions)).Msg("quiz created")
	return quiz, nil
}

// AddQuizQuestion appends a question after the quiz's existing ones.
func (s *Service) AddQuizQuestion(ctx context.Context, actor policy.Actor, quizID string, in QuestionInput) (model.QuizQuestion, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return model.QuizQuestion{}, err
	}
	res := policy.Resource{Type: policy.EntityQuizQuestion, ClassID: quiz.ClassID}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.QuizQuestion{}, err
	}
	question, err := in.toQuestion(len(quiz.Questions))
	if err != nil {
		return model.QuizQuestion{}, err
	}
	question.QuizID = quiz.ID
	return s.store.CreateQuizQuestion(ctx, question)
}

// TriggerQuiz opens a quiz for answers; CloseQuiz ends it.
func (s *Service) TriggerQuiz(ctx context.Context, actor policy.Actor, id string) (model.Quiz, error) {
	return s.setQuizState(ctx, actor, id, true)
}

func (s *Service) CloseQuiz(ctx context.Context, actor policy.Actor, id string) (model.Quiz, error) {
	return s.setQuizState(ctx, actor, id, false)
}

func (s *Service) setQuizState(ctx context.Context, actor policy.Actor, id string, active bool) (model.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return model.Quiz{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionUpdate, quizResource(quiz)); err != nil {
		return model.Quiz{}, err
	}
	updated, err := s.store.SetQuizState(ctx, id, active, s.now())
	if err != nil {
		return model.Quiz{}, err
	}
	s.log.Info().Str("quiz_id", id).Bool("active", active).Msg("quiz state changed")
	return updated, nil
}

// SubmitAnswer records the actor's choice for one question of an active quiz.
// Each question takes one answer per student; a second one is
// ErrAlreadyAnswered.
func (s *Service) SubmitAnswer(ctx context.Context, actor policy.Actor, quizID, questionID, option string) (model.QuizAnswer, error) {
	option = strings.ToLower(strings.TrimSpace(option))
	quiz, err := s.GetQuiz(ctx, actor, quizID)
	if err != nil {
		return model.QuizAnswer{}, err
	}
	question, ok := findQuestion(quiz, questionID)
	if !ok {
		return model.QuizAnswer{}, apperr.Wrap(apperr.CodeNotFound, "quiz question not found", nil)
	}
	if !question.hasOption(option) {
		return model.QuizAnswer{}, apperr.Invalid("selected_option must name one of the question's options")
	}
	if !quiz.Active {
		return model.QuizAnswer{}, apperr.Precondition("quiz is not active")
	}

	res := policy.Resource{
		Type:         policy.EntityQuizAnswer,
		OwnerID:      actor.ID,
		ClassID:      quiz.ClassID,
		ParentActive: quiz.Active,
	}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.QuizAnswer{}, err
	}

	answer, err := s.store.CreateQuizAnswer(ctx, model.QuizAnswer{
		QuizID:         quizID,
		QuestionID:     questionID,
		StudentID:      actor.ID,
		SelectedOption: option,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return model.QuizAnswer{}, apperr.Wrap(apperr.CodeAlreadyAnswered, "answer already submitted", err)
		}
		return model.QuizAnswer{}, err
	}
	return answer, nil
}

// MyResults grades the actor's own answers for a quiz.
func (s *Service) MyResults(ctx context.Context, actor policy.Actor, quizID string) (QuizResult, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return QuizResult{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, quizResource(quiz)); err != nil {
		return QuizResult{}, err
	}
	res := policy.Resource{Type: policy.EntityQuizAnswer, OwnerID: actor.ID, ClassID: quiz.ClassID}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, res); err != nil {
		return QuizResult{}, err
	}
	answers, err := s.store.ListQuizAnswers(ctx, quizID, actor.ID)
	if err != nil {
		return QuizResult{}, err
	}
	return grade(quiz, actor.ID, answers), nil
}

// QuizResults grades the submissions for a quiz that the actor may read, one
// result per student. Admins see every student.
func (s *Service) QuizResults(ctx context.Context, actor policy.Actor, quizID string) ([]QuizResult, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, quizResource(quiz)); err != nil {
		return nil, err
	}
	answers, err := s.store.ListQuizAnswers(ctx, quizID, "")
	if err != nil {
		return nil, err
	}

	byStudent := map[string][]model.QuizAnswer{}
	var order []string
	for _, answer := range answers {
		if _, seen := byStudent[answer.StudentID]; !seen {
			order = append(order, answer.StudentID)
		}
		byStudent[answer.StudentID] = append(byStudent[answer.StudentID], answer)
	}
	results := make([]QuizResult, 0, len(order))
	for _, studentID := range order {
		res := policy.Resource{Type: policy.EntityQuizAnswer, OwnerID: studentID, ClassID: quiz.ClassID}
		_, ok, err := s.allowed(ctx, actor, policy.ActionRead, res)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, grade(quiz, studentID, byStudent[studentID]))
		}
	}
	return results, nil
}

func grade(quiz model.Quiz, studentID string, answers []model.QuizAnswer) QuizResult {
	result := QuizResult{QuizID: quiz.ID, StudentID: studentID, Answers: []AnswerResult{}}
	selected := make(map[string]model.QuizAnswer, len(answers))
	for _, answer := range answers {
		selected[answer.QuestionID] = answer
	}
	for _, question := range quiz.Questions {
		result.Total += question.Points
		answer, ok := selected[question.ID]
		if !ok {
			continue
		}
		graded := AnswerResult{QuestionID: question.ID, SelectedOption: answer.SelectedOption}
		if answer.SelectedOption == question.CorrectAnswer {
			graded.Correct = true
			graded.Points = question.Points
			result.Score += question.Points
		}
		result.Answers = append(result.Answers, graded)
	}
	if result.Total > 0 {
		result.Percentage = float64(result.Score) * 100 / float64(result.Total)
	}
	return result
}

func quizResource(quiz model.Quiz) policy.Resource {
	return policy.Resource{
		Type:         policy.EntityQuiz,
		ID:           quiz.ID,
		ClassID:      quiz.ClassID,
		ParentActive: quiz.Active,
	}
}

type questionView model.QuizQuestion

func findQuestion(quiz model.Quiz, id string) (questionView, bool) {
	for _, q := range quiz.Questions {
		if q.ID == id {
			return questionView(q), true
		}
	}
	return questionView{}, false
}

func (q questionView) hasOption(option string) bool {
	switch option {
	case "a", "b":
		return true
	case "c":
		return q.OptionC != nil && *q.OptionC != ""
	case "d":
		return q.OptionD != nil && *q.OptionD != ""
	}
	return false
}

func (in QuestionInput) toQuestion(order int) (model.QuizQuestion, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" || strings.TrimSpace(in.OptionA) == "" || strings.TrimSpace(in.OptionB) == "" {
		return model.QuizQuestion{}, apperr.Invalid("question_text, option_a and option_b are required")
	}
	points := in.Points
	if points == 0 {
		points = 1
	}
	if points < 0 {
		return model.QuizQuestion{}, apperr.Invalid("points must be positive")
	}
	question := model.QuizQuestion{
		Text:          text,
		OptionA:       in.OptionA,
		OptionB:       in.OptionB,
		OptionC:       in.OptionC,
		OptionD:       in.OptionD,
		CorrectAnswer: strings.ToLower(strings.TrimSpace(in.CorrectAnswer)),
		Points:        points,
		OrderIndex:    order,
	}
	if !questionView(question).hasOption(question.CorrectAnswer) {
		return model.QuizQuestion{}, apperr.Invalid("correct_answer must name one of the question's options")
	}
	return question, nil
}
