package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lms/auth-identity/internal/model"
)

const qnaSessionColumns = `id, class_id, title, is_active, created_by, created_at, ended_at`

func scanQnaSession(row pgx.Row) (model.QnaSession, error) {
	var session model.QnaSession
	err := row.Scan(&session.ID, &session.ClassID, &session.Title, &session.Active,
		&session.CreatedBy, &session.CreatedAt, &session.EndedAt)
	return session, err
}

func (s *Store) CreateQnaSession(ctx context.Context, session model.QnaSession) (model.QnaSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	created, err := scanQnaSession(s.pool.QueryRow(ctx, `
		INSERT INTO qna_sessions (id, class_id, title, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+qnaSessionColumns,
		session.ID, session.ClassID, session.Title, session.Active, session.CreatedBy))
	return created, mapError("create qna session", err)
}

func (s *Store) GetQnaSession(ctx context.Context, id string) (model.QnaSession, error) {
	session, err := scanQnaSession(s.pool.QueryRow(ctx, `SELECT `+qnaSessionColumns+` FROM qna_sessions WHERE id = $1`, id))
	return session, mapError("get qna session", err)
}

// GetActiveQnaSession returns the most recent active session of a class.
func (s *Store) GetActiveQnaSession(ctx context.Context, classID string) (model.QnaSession, error) {
	session, err := scanQnaSession(s.pool.QueryRow(ctx, `
		SELECT `+qnaSessionColumns+`
		FROM qna_sessions
		WHERE class_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, classID))
	return session, mapError("get active qna session", err)
}

func (s *Store) CloseQnaSession(ctx context.Context, id string, at time.Time) (model.QnaSession, error) {
	session, err := scanQnaSession(s.pool.QueryRow(ctx, `
		UPDATE qna_sessions
		SET is_active = false, ended_at = $2
		WHERE id = $1
		RETURNING `+qnaSessionColumns, id, at))
	return session, mapError("close qna session", err)
}

const qnaQuestionColumns = `q.id, q.session_id, q.student_id, COALESCE(i.full_name, ''), q.question_text, q.is_anonymous, q.is_answered, q.answer_text, q.submitted_at, q.answered_at`

func scanQnaQuestion(row pgx.Row) (model.QnaQuestion, error) {
	var question model.QnaQuestion
	err := row.Scan(&question.ID, &question.SessionID, &question.OwnerID, &question.OwnerName, &question.Text,
		&question.Anonymous, &question.Answered, &question.AnswerText, &question.SubmittedAt, &question.AnsweredAt)
	return question, err
}

func (s *Store) ListQnaQuestions(ctx context.Context, sessionID string) ([]model.QnaQuestion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qnaQuestionColumns+`
		FROM qna_questions q
		LEFT JOIN identities i ON i.id = q.student_id
		WHERE q.session_id = $1
		ORDER BY q.submitted_at
	`, sessionID)
	if err != nil {
		return nil, mapError("list qna questions", err)
	}
	defer rows.Close()

	questions := []model.QnaQuestion{}
	for rows.Next() {
		question, err := scanQnaQuestion(rows)
		if err != nil {
			return nil, mapError("scan qna question", err)
		}
		questions = append(questions, question)
	}
	return questions, mapError("list qna questions", rows.Err())
}

func (s *Store) GetQnaQuestion(ctx context.Context, id string) (model.QnaQuestion, error) {
	question, err := scanQnaQuestion(s.pool.QueryRow(ctx, `
		SELECT `+qnaQuestionColumns+`
		FROM qna_questions q
		LEFT JOIN identities i ON i.id = q.student_id
		WHERE q.id = $1
	`, id))
	return question, mapError("get qna question", err)
}

func (s *Store) CreateQnaQuestion(ctx context.Context, question model.QnaQuestion) (model.QnaQuestion, error) {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO qna_questions (id, session_id, student_id, question_text, is_anonymous)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING submitted_at
	`, question.ID, question.SessionID, question.OwnerID, question.Text, question.Anonymous).Scan(&question.SubmittedAt)
	if err != nil {
		return model.QnaQuestion{}, mapError("create qna question", err)
	}
	return s.GetQnaQuestion(ctx, question.ID)
}

func (s *Store) AnswerQnaQuestion(ctx context.Context, id, answer string, at time.Time) (model.QnaQuestion, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qna_questions
		SET is_answered = true, answer_text = $2, answered_at = $3
		WHERE id = $1
	`, id, answer, at)
	if err != nil {
		return model.QnaQuestion{}, mapError("answer qna question", err)
	}
	if tag.RowsAffected() == 0 {
		return model.QnaQuestion{}, mapError("answer qna question", pgx.ErrNoRows)
	}
	return s.GetQnaQuestion(ctx, id)
}

func (s *Store) GetRecommendation(ctx context.Context, studentID string) (model.AIRecommendation, error) {
	var rec model.AIRecommendation
	err := s.pool.QueryRow(ctx, `
		SELECT student_id, recommendations, based_on_quizzes, generated_at
		FROM ai_recommendations
		WHERE student_id = $1
	`, studentID).Scan(&rec.StudentID, &rec.Recommendation, &rec.BasedOnQuizzes, &rec.GeneratedAt)
	return rec, mapError("get recommendation", err)
}

// UpsertRecommendation keeps exactly one row per student.
func (s *Store) UpsertRecommendation(ctx context.Context, rec model.AIRecommendation) (model.AIRecommendation, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ai_recommendations (student_id, recommendations, based_on_quizzes, generated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE
		SET recommendations = EXCLUDED.recommendations,
		    based_on_quizzes = EXCLUDED.based_on_quizzes,
		    generated_at = EXCLUDED.generated_at
		RETURNING generated_at
	`, rec.StudentID, []byte(rec.Recommendation), rec.BasedOnQuizzes, rec.GeneratedAt).Scan(&rec.GeneratedAt)
	return rec, mapError("upsert recommendation", err)
}
