package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
)

// MemoryStore implements the same contracts as Store, including its unique
// constraints, for development and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	identities      map[string]model.Identity
	identityEmail   map[string]string
	identityExtID   map[string]string
	classes         map[string]model.Class
	enrollments     map[string]model.Enrollment
	enrollmentPairs map[string]struct{}
	livestreams     map[string]model.Livestream
	comments        map[string]model.Comment
	quizzes         map[string]model.Quiz
	questions       map[string]model.QuizQuestion
	answers         map[string]model.QuizAnswer
	answerPairs     map[string]struct{}
	qnaSessions     map[string]model.QnaSession
	qnaQuestions    map[string]model.QnaQuestion
	recommendations map[string]model.AIRecommendation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:             func() time.Time { return time.Now().UTC() },
		identities:      map[string]model.Identity{},
		identityEmail:   map[string]string{},
		identityExtID:   map[string]string{},
		classes:         map[string]model.Class{},
		enrollments:     map[string]model.Enrollment{},
		enrollmentPairs: map[string]struct{}{},
		livestreams:     map[string]model.Livestream{},
		comments:        map[string]model.Comment{},
		quizzes:         map[string]model.Quiz{},
		questions:       map[string]model.QuizQuestion{},
		answers:         map[string]model.QuizAnswer{},
		answerPairs:     map[string]struct{}{},
		qnaSessions:     map[string]model.QnaSession{},
		qnaQuestions:    map[string]model.QnaQuestion{},
		recommendations: map[string]model.AIRecommendation{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func notFound(op string) error {
	return apperr.Wrap(apperr.CodeNotFound, op, nil)
}

func conflict(op string) error {
	return apperr.Wrap(apperr.CodeConflict, op, nil)
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func (m *MemoryStore) CreateIdentity(_ context.Context, identity model.Identity) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if !identity.HasCredential() {
		return model.Identity{}, apperr.Invalid("identity needs a password or an external identity")
	}
	identity.Email = strings.TrimSpace(identity.Email)
	if _, ok := m.identities[identity.ID]; ok {
		return model.Identity{}, conflict("create identity: id")
	}
	if _, ok := m.identityEmail[emailKey(identity.Email)]; ok {
		return model.Identity{}, conflict("create identity: identities_email_key")
	}
	if identity.ExternalID != nil {
		if _, ok := m.identityExtID[*identity.ExternalID]; ok {
			return model.Identity{}, conflict("create identity: identities_external_identity_id_key")
		}
		m.identityExtID[*identity.ExternalID] = identity.ID
	}
	now := m.now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	m.identityEmail[emailKey(identity.Email)] = identity.ID
	m.identities[identity.ID] = identity
	return identity, nil
}

func (m *MemoryStore) GetIdentityByID(_ context.Context, id string) (model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return model.Identity{}, notFound("get identity")
	}
	return identity, nil
}

func (m *MemoryStore) GetIdentityByEmail(_ context.Context, email string) (model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identityEmail[emailKey(email)]
	if !ok {
		return model.Identity{}, notFound("get identity by email")
	}
	return m.identities[id], nil
}

func (m *MemoryStore) GetIdentityByExternalID(_ context.Context, externalID string) (model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identityExtID[externalID]
	if !ok {
		return model.Identity{}, notFound("get identity by external id")
	}
	return m.identities[id], nil
}

func (m *MemoryStore) LinkExternalIdentity(_ context.Context, identityID, externalID string, avatarURL *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[identityID]
	if !ok || identity.ExternalID != nil {
		return false, nil
	}
	if _, taken := m.identityExtID[externalID]; taken {
		return false, conflict("link external identity: identities_external_identity_id_key")
	}
	ext := externalID
	identity.ExternalID = &ext
	if identity.AvatarURL == nil {
		identity.AvatarURL = avatarURL
	}
	identity.UpdatedAt = m.now()
	m.identities[identityID] = identity
	m.identityExtID[externalID] = identityID
	return true, nil
}

func (m *MemoryStore) UpdateIdentity(_ context.Context, id string, update model.IdentityUpdate) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return model.Identity{}, notFound("update identity")
	}
	if update.FullName != nil {
		identity.FullName = *update.FullName
	}
	if update.PasswordHash != nil {
		hash := *update.PasswordHash
		identity.PasswordHash = &hash
	}
	if update.AvatarURL != nil {
		avatar := *update.AvatarURL
		identity.AvatarURL = &avatar
	}
	if update.Role != nil {
		identity.Role = *update.Role
	}
	if update.Active != nil {
		identity.Active = *update.Active
	}
	identity.UpdatedAt = m.now()
	m.identities[id] = identity
	return identity, nil
}

func (m *MemoryStore) ListClasses(context.Context) ([]model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	classes := make([]model.Class, 0, len(m.classes))
	for _, class := range m.classes {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].CreatedAt.After(classes[j].CreatedAt) })
	return classes, nil
}

func (m *MemoryStore) GetClass(_ context.Context, id string) (model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	class, ok := m.classes[id]
	if !ok {
		return model.Class{}, notFound("get class")
	}
	return class, nil
}

func (m *MemoryStore) CreateClass(_ context.Context, class model.Class) (model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	class.CreatedAt = m.now()
	m.classes[class.ID] = class
	return class, nil
}

func (m *MemoryStore) CreateEnrollment(_ context.Context, enrollment model.Enrollment) (model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[enrollment.StudentID]; !ok {
		return model.Enrollment{}, notFound("create enrollment: student")
	}
	if _, ok := m.classes[enrollment.ClassID]; !ok {
		return model.Enrollment{}, notFound("create enrollment: class")
	}
	key := pairKey(enrollment.StudentID, enrollment.ClassID)
	if _, ok := m.enrollmentPairs[key]; ok {
		return model.Enrollment{}, conflict("create enrollment: enrollments_student_class_key")
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.CreatedAt = m.now()
	m.enrollmentPairs[key] = struct{}{}
	m.enrollments[enrollment.ID] = enrollment
	return enrollment, nil
}

func (m *MemoryStore) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.enrollmentPairs[pairKey(studentID, classID)]
	return ok, nil
}

func (m *MemoryStore) ListEnrollments(_ context.Context, studentID string) ([]model.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enrollments := []model.Enrollment{}
	for _, enrollment := range m.enrollments {
		if enrollment.StudentID == studentID {
			enrollments = append(enrollments, enrollment)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].CreatedAt.Before(enrollments[j].CreatedAt) })
	return enrollments, nil
}

func (m *MemoryStore) ListLivestreams(context.Context) ([]model.Livestream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	streams := make([]model.Livestream, 0, len(m.livestreams))
	for _, stream := range m.livestreams {
		streams = append(streams, stream)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].CreatedAt.After(streams[j].CreatedAt) })
	return streams, nil
}

func (m *MemoryStore) GetLivestream(_ context.Context, id string) (model.Livestream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream, ok := m.livestreams[id]
	if !ok {
		return model.Livestream{}, notFound("get livestream")
	}
	return stream, nil
}

func (m *MemoryStore) CreateLivestream(_ context.Context, stream model.Livestream) (model.Livestream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[stream.ClassID]; !ok {
		return model.Livestream{}, notFound("create livestream: class")
	}
	if stream.ID == "" {
		stream.ID = uuid.NewString()
	}
	stream.CreatedAt = m.now()
	m.livestreams[stream.ID] = stream
	return stream, nil
}

func (m *MemoryStore) SetLivestreamActive(_ context.Context, id string, active bool, at time.Time) (model.Livestream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream, ok := m.livestreams[id]
	if !ok {
		return model.Livestream{}, notFound("set livestream active")
	}
	stream.Active = active
	if active {
		stream.StartedAt = &at
		stream.EndedAt = nil
	} else {
		stream.EndedAt = &at
	}
	m.livestreams[id] = stream
	return stream, nil
}

func (m *MemoryStore) ListComments(_ context.Context, livestreamID string) ([]model.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	comments := []model.Comment{}
	for _, comment := range m.comments {
		if comment.LivestreamID != livestreamID || comment.Deleted {
			continue
		}
		comment.OwnerName = m.identities[comment.OwnerID].FullName
		comments = append(comments, comment)
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

func (m *MemoryStore) GetComment(_ context.Context, id string) (model.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	comment, ok := m.comments[id]
	if !ok {
		return model.Comment{}, notFound("get comment")
	}
	return comment, nil
}

func (m *MemoryStore) CreateComment(_ context.Context, comment model.Comment) (model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.livestreams[comment.LivestreamID]; !ok {
		return model.Comment{}, notFound("create comment: livestream")
	}
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.CreatedAt = m.now()
	m.comments[comment.ID] = comment
	return comment, nil
}

func (m *MemoryStore) SoftDeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[id]
	if !ok {
		return notFound("delete comment")
	}
	comment.Deleted = true
	m.comments[id] = comment
	return nil
}

func (m *MemoryStore) ListQuizzes(_ context.Context, classID string) ([]model.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quizzes := []model.Quiz{}
	for _, quiz := range m.quizzes {
		if quiz.ClassID == classID {
			quizzes = append(quizzes, quiz)
		}
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt) })
	return quizzes, nil
}

func (m *MemoryStore) GetQuiz(_ context.Context, id string) (model.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quiz, ok := m.quizzes[id]
	if !ok {
		return model.Quiz{}, notFound("get quiz")
	}
	quiz.Questions = []model.QuizQuestion{}
	for _, question := range m.questions {
		if question.QuizID == id {
			quiz.Questions = append(quiz.Questions, question)
		}
	}
	sort.Slice(quiz.Questions, func(i, j int) bool {
		if quiz.Questions[i].OrderIndex != quiz.Questions[j].OrderIndex {
			return quiz.Questions[i].OrderIndex < quiz.Questions[j].OrderIndex
		}
		return quiz.Questions[i].ID < quiz.Questions[j].ID
	})
	return quiz, nil
}

func (m *MemoryStore) GetQuizQuestion(_ context.Context, id string) (model.QuizQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	question, ok := m.questions[id]
	if !ok {
		return model.QuizQuestion{}, notFound("get quiz question")
	}
	return question, nil
}

func (m *MemoryStore) CreateQuiz(_ context.Context, quiz model.Quiz) (model.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[quiz.ClassID]; !ok {
		return model.Quiz{}, notFound("create quiz: class")
	}
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	quiz.CreatedAt = m.now()
	questions := make([]model.QuizQuestion, 0, len(quiz.Questions))
	for _, question := range quiz.Questions {
		question.QuizID = quiz.ID
		if question.ID == "" {
			question.ID = uuid.NewString()
		}
		questions = append(questions, question)
	}
	quiz.Questions = nil
	m.quizzes[quiz.ID] = quiz
	for _, question := range questions {
		m.questions[question.ID] = question
	}
	quiz.Questions = questions
	return quiz, nil
}

func (m *MemoryStore) CreateQuizQuestion(_ context.Context, question model.QuizQuestion) (model.QuizQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[question.QuizID]; !ok {
		return model.QuizQuestion{}, notFound("create quiz question: quiz")
	}
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	m.questions[question.ID] = question
	return question, nil
}

func (m *MemoryStore) SetQuizState(_ context.Context, id string, active bool, at time.Time) (model.Quiz, error) {
	m.mu.Lock()
	quiz, ok := m.quizzes[id]
	if !ok {
		m.mu.Unlock()
		return model.Quiz{}, notFound("set quiz state")
	}
	quiz.Active = active
	quiz.Live = active
	if active {
		quiz.TriggeredAt = &at
	}
	m.quizzes[id] = quiz
	m.mu.Unlock()
	return m.GetQuiz(context.Background(), id)
}

func (m *MemoryStore) CreateQuizAnswer(_ context.Context, answer model.QuizAnswer) (model.QuizAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[answer.QuestionID]; !ok {
		return model.QuizAnswer{}, notFound("create quiz answer: question")
	}
	key := pairKey(answer.StudentID, answer.QuestionID)
	if _, ok := m.answerPairs[key]; ok {
		return model.QuizAnswer{}, conflict("create quiz answer: quiz_answers_student_question_key")
	}
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	answer.SubmittedAt = m.now()
	m.answerPairs[key] = struct{}{}
	m.answers[answer.ID] = answer
	return answer, nil
}

func (m *MemoryStore) ListQuizAnswers(_ context.Context, quizID, studentID string) ([]model.QuizAnswer, error) {
	return m.filterAnswers(func(a model.QuizAnswer) bool {
		return a.QuizID == quizID && (studentID == "" || a.StudentID == studentID)
	}), nil
}

func (m *MemoryStore) ListStudentAnswers(_ context.Context, studentID string) ([]model.QuizAnswer, error) {
	return m.filterAnswers(func(a model.QuizAnswer) bool { return a.StudentID == studentID }), nil
}

func (m *MemoryStore) filterAnswers(keep func(model.QuizAnswer) bool) []model.QuizAnswer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	answers := []model.QuizAnswer{}
	for _, answer := range m.answers {
		if keep(answer) {
			answers = append(answers, answer)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].SubmittedAt.Before(answers[j].SubmittedAt) })
	return answers
}

func (m *MemoryStore) CreateQnaSession(_ context.Context, session model.QnaSession) (model.QnaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[session.ClassID]; !ok {
		return model.QnaSession{}, notFound("create qna session: class")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = m.now()
	m.qnaSessions[session.ID] = session
	return session, nil
}

func (m *MemoryStore) GetQnaSession(_ context.Context, id string) (model.QnaSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.qnaSessions[id]
	if !ok {
		return model.QnaSession{}, notFound("get qna session")
	}
	return session, nil
}

func (m *MemoryStore) GetActiveQnaSession(_ context.Context, classID string) (model.QnaSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.QnaSession
	for _, session := range m.qnaSessions {
		if session.ClassID != classID || !session.Active {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			s := session
			latest = &s
		}
	}
	if latest == nil {
		return model.QnaSession{}, notFound("get active qna session")
	}
	return *latest, nil
}

func (m *MemoryStore) CloseQnaSession(_ context.Context, id string, at time.Time) (model.QnaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.qnaSessions[id]
	if !ok {
		return model.QnaSession{}, notFound("close qna session")
	}
	session.Active = false
	session.EndedAt = &at
	m.qnaSessions[id] = session
	return session, nil
}

func (m *MemoryStore) ListQnaQuestions(_ context.Context, sessionID string) ([]model.QnaQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	questions := []model.QnaQuestion{}
	for _, question := range m.qnaQuestions {
		if question.SessionID == sessionID {
			question.OwnerName = m.identities[question.OwnerID].FullName
			questions = append(questions, question)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].SubmittedAt.Before(questions[j].SubmittedAt) })
	return questions, nil
}

func (m *MemoryStore) GetQnaQuestion(_ context.Context, id string) (model.QnaQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	question, ok := m.qnaQuestions[id]
	if !ok {
		return model.QnaQuestion{}, notFound("get qna question")
	}
	question.OwnerName = m.identities[question.OwnerID].FullName
	return question, nil
}

func (m *MemoryStore) CreateQnaQuestion(ctx context.Context, question model.QnaQuestion) (model.QnaQuestion, error) {
	m.mu.Lock()
	if _, ok := m.qnaSessions[question.SessionID]; !ok {
		m.mu.Unlock()
		return model.QnaQuestion{}, notFound("create qna question: session")
	}
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	question.SubmittedAt = m.now()
	m.qnaQuestions[question.ID] = question
	m.mu.Unlock()
	return m.GetQnaQuestion(ctx, question.ID)
}

func (m *MemoryStore) AnswerQnaQuestion(ctx context.Context, id, answer string, at time.Time) (model.QnaQuestion, error) {
	m.mu.Lock()
	question, ok := m.qnaQuestions[id]
	if !ok {
		m.mu.Unlock()
		return model.QnaQuestion{}, notFound("answer qna question")
	}
	question.Answered = true
	question.AnswerText = &answer
	question.AnsweredAt = &at
	m.qnaQuestions[id] = question
	m.mu.Unlock()
	return m.GetQnaQuestion(ctx, id)
}

func (m *MemoryStore) GetRecommendation(_ context.Context, studentID string) (model.AIRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recommendations[studentID]
	if !ok {
		return model.AIRecommendation{}, notFound("get recommendation")
	}
	return rec, nil
}

func (m *MemoryStore) UpsertRecommendation(_ context.Context, rec model.AIRecommendation) (model.AIRecommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[rec.StudentID]; !ok {
		return model.AIRecommendation{}, notFound("upsert recommendation: student")
	}
	rec.Recommendation = append(json.RawMessage(nil), rec.Recommendation...)
	m.recommendations[rec.StudentID] = rec
	return rec, nil
}
