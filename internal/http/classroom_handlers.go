package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lms/auth-identity/internal/classroom"
	"lms/auth-identity/internal/model"
)

type updateUserRequest struct {
	FullName  *string     `json:"full_name"`
	Password  *string     `json:"password"`
	AvatarURL *string     `json:"avatar_url"`
	Role      *model.Role `json:"role"`
	Active    *bool       `json:"is_active"`
}

type createClassRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type enrollRequest struct {
	StudentID string `json:"student_id"`
}

type createLivestreamRequest struct {
	ClassID     string     `json:"class_id"`
	Title       string     `json:"title"`
	VideoID     *string    `json:"video_id"`
	Private     bool       `json:"is_private"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type commentRequest struct {
	Content string `json:"content"`
}

type questionRequest struct {
	Text          string  `json:"question_text"`
	OptionA       string  `json:"option_a"`
	OptionB       string  `json:"option_b"`
	OptionC       *string `json:"option_c"`
	OptionD       *string `json:"option_d"`
	CorrectAnswer string  `json:"correct_answer"`
	Points        int     `json:"points"`
}

func (q questionRequest) input() classroom.QuestionInput {
	return classroom.QuestionInput{
		Text:          q.Text,
		OptionA:       q.OptionA,
		OptionB:       q.OptionB,
		OptionC:       q.OptionC,
		OptionD:       q.OptionD,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
	}
}

type createQuizRequest struct {
	ClassID          string            `json:"class_id"`
	Title            string            `json:"title"`
	Subject          *string           `json:"subject"`
	TimeLimitSeconds int               `json:"time_limit_seconds"`
	Questions        []questionRequest `json:"questions"`
}

type submitAnswerRequest struct {
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
}

type createQnaSessionRequest struct {
	ClassID string `json:"class_id"`
	Title   string `json:"title"`
}

type submitQnaQuestionRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"question_text"`
	Anonymous bool   `json:"is_anonymous"`
}

type answerQnaQuestionRequest struct {
	AnswerText string `json:"answer_text"`
}

// decodeOr400 decodes the body and answers 400 itself on failure.
func decodeOr400(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	identity, err := s.classroom.GetIdentity(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: mapUser(identity)})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	identity, err := s.classroom.UpdateIdentity(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "userID"), classroom.IdentityPatch{
		FullName:  req.FullName,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
		Role:      req.Role,
		Active:    req.Active,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: mapUser(identity)})
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.classroom.ListClasses(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req createClassRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	class, err := s.classroom.CreateClass(r.Context(), actorFromContext(r.Context()), req.Title, req.Description)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	class, err := s.classroom.GetClass(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "classID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	enrollment, err := s.classroom.Enroll(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "classID"), req.StudentID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollment)
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	enrollments, err := s.classroom.ListEnrollments(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "studentID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollments)
}

func (s *Server) handleListLivestreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.classroom.ListLivestreams(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleCreateLivestream(w http.ResponseWriter, r *http.Request) {
	var req createLivestreamRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	stream, err := s.classroom.CreateLivestream(r.Context(), actorFromContext(r.Context()), classroom.LivestreamInput{
		ClassID:     req.ClassID,
		Title:       req.Title,
		VideoID:     req.VideoID,
		Private:     req.Private,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stream)
}

func (s *Server) handleGetLivestream(w http.ResponseWriter, r *http.Request) {
	stream, err := s.classroom.GetLivestream(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (s *Server) handleSetLivestreamActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, err := s.classroom.SetLivestreamActive(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), active)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stream)
	}
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.classroom.ListComments(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	comment, err := s.classroom.PostComment(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.classroom.DeleteComment(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.classroom.ListQuizzes(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "classID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	in := classroom.QuizInput{
		ClassID:          req.ClassID,
		Title:            req.Title,
		Subject:          req.Subject,
		TimeLimitSeconds: req.TimeLimitSeconds,
	}
	for _, q := range req.Questions {
		in.Questions = append(in.Questions, q.input())
	}
	quiz, err := s.classroom.CreateQuiz(r.Context(), actorFromContext(r.Context()), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.classroom.GetQuiz(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleAddQuizQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	question, err := s.classroom.AddQuizQuestion(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (s *Server) handleSetQuizState(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFromContext(r.Context())
		id := chi.URLParam(r, "id")
		var (
			quiz model.Quiz
			err  error
		)
		if active {
			quiz, err = s.classroom.TriggerQuiz(r.Context(), actor, id)
		} else {
			quiz, err = s.classroom.CloseQuiz(r.Context(), actor, id)
		}
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	}
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	answer, err := s.classroom.SubmitAnswer(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.QuestionID, req.SelectedOption)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, answer)
}

func (s *Server) handleMyResults(w http.ResponseWriter, r *http.Request) {
	result, err := s.classroom.MyResults(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuizResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.classroom.QuizResults(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCreateQnaSession(w http.ResponseWriter, r *http.Request) {
	var req createQnaSessionRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	session, err := s.classroom.CreateQnaSession(r.Context(), actorFromContext(r.Context()), req.ClassID, req.Title)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleActiveQnaSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.classroom.ActiveQnaSession(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "classID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCloseQnaSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.classroom.CloseQnaSession(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSubmitQnaQuestion(w http.ResponseWriter, r *http.Request) {
	var req submitQnaQuestionRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	question, err := s.classroom.SubmitQnaQuestion(r.Context(), actorFromContext(r.Context()), req.SessionID, req.Text, req.Anonymous)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (s *Server) handleAnswerQnaQuestion(w http.ResponseWriter, r *http.Request) {
	var req answerQnaQuestionRequest
	if !decodeOr400(w, r, &req) {
		return
	}
	question, err := s.classroom.AnswerQnaQuestion(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.AnswerText)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.classroom.GetRecommendation(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "studentID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGenerateRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.classroom.GenerateRecommendation(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "studentID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
