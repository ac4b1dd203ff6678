package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lms/auth-identity/internal/db"
	"lms/auth-identity/internal/model"
)

const quizColumns = `id, class_id, title, subject, time_limit_seconds, is_live, is_active, triggered_at, created_by, created_at`

func scanQuiz(row pgx.Row) (model.Quiz, error) {
	var quiz model.Quiz
	err := row.Scan(&quiz.ID, &quiz.ClassID, &quiz.Title, &quiz.Subject, &quiz.TimeLimitSeconds,
		&quiz.Live, &quiz.Active, &quiz.TriggeredAt, &quiz.CreatedBy, &quiz.CreatedAt)
	return quiz, err
}

func (s *Store) ListQuizzes(ctx context.Context, classID string) ([]model.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE class_id = $1 ORDER BY created_at DESC`, classID)
	if err != nil {
		return nil, mapError("list quizzes", err)
	}
	defer rows.Close()

	quizzes := []model.Quiz{}
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, mapError("scan quiz", err)
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, mapError("list quizzes", rows.Err())
}

// GetQuiz loads the quiz with its questions in order.
func (s *Store) GetQuiz(ctx context.Context, id string) (model.Quiz, error) {
	quiz, err := scanQuiz(s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id))
	if err != nil {
		return model.Quiz{}, mapError("get quiz", err)
	}
	questions, err := s.listQuizQuestions(ctx, id)
	if err != nil {
		return model.Quiz{}, err
	}
	quiz.Questions = questions
	return quiz, nil
}

const quizQuestionColumns = `id, quiz_id, question_text, option_a, option_b, option_c, option_d, correct_answer, points, order_index`

func scanQuizQuestion(row pgx.Row) (model.QuizQuestion, error) {
	var question model.QuizQuestion
	err := row.Scan(&question.ID, &question.QuizID, &question.Text, &question.OptionA, &question.OptionB,
		&question.OptionC, &question.OptionD, &question.CorrectAnswer, &question.Points, &question.OrderIndex)
	return question, err
}

func (s *Store) listQuizQuestions(ctx context.Context, quizID string) ([]model.QuizQuestion, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quizQuestionColumns+` FROM quiz_questions WHERE quiz_id = $1 ORDER BY order_index, id`, quizID)
	if err != nil {
		return nil, mapError("list quiz questions", err)
	}
	defer rows.Close()

	questions := []model.QuizQuestion{}
	for rows.Next() {
		question, err := scanQuizQuestion(rows)
		if err != nil {
			return nil, mapError("scan quiz question", err)
		}
		questions = append(questions, question)
	}
	return questions, mapError("list quiz questions", rows.Err())
}

func (s *Store) GetQuizQuestion(ctx context.Context, id string) (model.QuizQuestion, error) {
	question, err := scanQuizQuestion(s.pool.QueryRow(ctx, `SELECT `+quizQuestionColumns+` FROM quiz_questions WHERE id = $1`, id))
	return question, mapError("get quiz question", err)
}

// CreateQuiz inserts the quiz together with quiz.Questions in one transaction.
func (s *Store) CreateQuiz(ctx context.Context, quiz model.Quiz) (model.Quiz, error) {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	var created model.Quiz
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanQuiz(tx.QueryRow(ctx, `
			INSERT INTO quizzes (id, class_id, title, subject, time_limit_seconds, is_live, is_active, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+quizColumns,
			quiz.ID, quiz.ClassID, quiz.Title, quiz.Subject, quiz.TimeLimitSeconds, quiz.Live, quiz.Active, quiz.CreatedBy))
		if err != nil {
			return err
		}
		created.Questions = make([]model.QuizQuestion, 0, len(quiz.Questions))
		for _, question := range quiz.Questions {
			question.QuizID = created.ID
			row, err := insertQuizQuestion(ctx, tx, question)
			if err != nil {
				return err
			}
			created.Questions = append(created.Questions, row)
		}
		return nil
	})
	if err != nil {
		return model.Quiz{}, mapError("create quiz", err)
	}
	return created, nil
}

func (s *Store) CreateQuizQuestion(ctx context.Context, question model.QuizQuestion) (model.QuizQuestion, error) {
	created, err := insertQuizQuestion(ctx, s.pool, question)
	return created, mapError("create quiz question", err)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertQuizQuestion(ctx context.Context, q queryRower, question model.QuizQuestion) (model.QuizQuestion, error) {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	return scanQuizQuestion(q.QueryRow(ctx, `
		INSERT INTO quiz_questions (id, quiz_id, question_text, option_a, option_b, option_c, option_d, correct_answer, points, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+quizQuestionColumns,
		question.ID, question.QuizID, question.Text, question.OptionA, question.OptionB, question.OptionC,
		question.OptionD, question.CorrectAnswer, question.Points, question.OrderIndex))
}

// SetQuizState opens or closes a quiz. Opening stamps triggered_at.
func (s *Store) SetQuizState(ctx context.Context, id string, active bool, at time.Time) (model.Quiz, error) {
	quiz, err := scanQuiz(s.pool.QueryRow(ctx, `
		UPDATE quizzes
		SET is_active = $2,
		    is_live = $2,
		    triggered_at = CASE WHEN $2 THEN $3 ELSE triggered_at END
		WHERE id = $1
		RETURNING `+quizColumns, id, active, at))
	return quiz, mapError("set quiz state", err)
}

func (s *Store) CreateQuizAnswer(ctx context.Context, answer model.QuizAnswer) (model.QuizAnswer, error) {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO quiz_answers (id, quiz_id, question_id, student_id, selected_option)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING submitted_at
	`, answer.ID, answer.QuizID, answer.QuestionID, answer.StudentID, answer.SelectedOption).Scan(&answer.SubmittedAt)
	return answer, mapError("create quiz answer", err)
}

// ListQuizAnswers returns the answers to a quiz, optionally limited to one
// student.
func (s *Store) ListQuizAnswers(ctx context.Context, quizID, studentID string) ([]model.QuizAnswer, error) {
	query := `
		SELECT id, quiz_id, question_id, student_id, selected_option, submitted_at
		FROM quiz_answers
		WHERE quiz_id = $1 AND ($2 = '' OR student_id::text = $2)
		ORDER BY submitted_at
	`
	return s.queryAnswers(ctx, "list quiz answers", query, quizID, studentID)
}

func (s *Store) ListStudentAnswers(ctx context.Context, studentID string) ([]model.QuizAnswer, error) {
	query := `
		SELECT id, quiz_id, question_id, student_id, selected_option, submitted_at
		FROM quiz_answers
		WHERE student_id = $1
		ORDER BY submitted_at
	`
	return s.queryAnswers(ctx, "list student answers", query, studentID)
}

func (s *Store) queryAnswers(ctx context.Context, op, query string, args ...any) ([]model.QuizAnswer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	answers := []model.QuizAnswer{}
	for rows.Next() {
		var answer model.QuizAnswer
		if err := rows.Scan(&answer.ID, &answer.QuizID, &answer.QuestionID, &answer.StudentID,
			&answer.SelectedOption, &answer.SubmittedAt); err != nil {
			return nil, mapError(op, err)
		}
		answers = append(answers, answer)
	}
	return answers, mapError(op, rows.Err())
}
