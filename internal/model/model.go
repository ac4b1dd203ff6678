package model

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Valid reports whether the role can be held by an identity.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

// AnonymousOwnerID replaces the owner of an anonymous Q&A question for
// readers that may not see it.
const (
	AnonymousOwnerID   = "anonymous"
	AnonymousOwnerName = "Anonymous"
)

type Identity struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash *string
	ExternalID   *string
	AvatarURL    *string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasCredential reports whether the identity can authenticate at all: it
// needs a password hash, a bound external identity, or both.
func (i Identity) HasCredential() bool {
	return (i.PasswordHash != nil && *i.PasswordHash != "") || (i.ExternalID != nil && *i.ExternalID != "")
}

type Class struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Enrollment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Livestream struct {
	ID          string     `json:"id"`
	ClassID     string     `json:"class_id"`
	Title       string     `json:"title"`
	VideoID     *string    `json:"video_id,omitempty"`
	Private     bool       `json:"is_private"`
	Active      bool       `json:"is_active"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Comment struct {
	ID           string    `json:"id"`
	LivestreamID string    `json:"livestream_id"`
	OwnerID      string    `json:"student_id"`
	OwnerName    string    `json:"full_name,omitempty"`
	Content      string    `json:"content"`
	Deleted      bool      `json:"is_deleted"`
	CreatedAt    time.Time `json:"created_at"`
}

type Quiz struct {
	ID               string         `json:"id"`
	ClassID          string         `json:"class_id"`
	Title            string         `json:"title"`
	Subject          *string        `json:"subject,omitempty"`
	TimeLimitSeconds int            `json:"time_limit_seconds"`
	Live             bool           `json:"is_live"`
	Active           bool           `json:"is_active"`
	TriggeredAt      *time.Time     `json:"triggered_at,omitempty"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	Questions        []QuizQuestion `json:"quiz_questions,omitempty"`
}

// RedactField strips a field from every question of the quiz.
func (q *Quiz) RedactField(field string) {
	for i := range q.Questions {
		q.Questions[i].RedactField(field)
	}
}

type QuizQuestion struct {
	ID            string  `json:"id"`
	QuizID        string  `json:"quiz_id"`
	Text          string  `json:"question_text"`
	OptionA       string  `json:"option_a"`
	OptionB       string  `json:"option_b"`
	OptionC       *string `json:"option_c,omitempty"`
	OptionD       *string `json:"option_d,omitempty"`
	CorrectAnswer string  `json:"correct_answer,omitempty"`
	Points        int     `json:"points"`
	OrderIndex    int     `json:"order_index"`
}

// RedactField strips a field from an authorized read.
func (q *QuizQuestion) RedactField(field string) {
	if field == FieldCorrectAnswer {
		q.CorrectAnswer = ""
	}
}

type QuizAnswer struct {
	ID             string    `json:"id"`
	QuizID         string    `json:"quiz_id"`
	QuestionID     string    `json:"question_id"`
	StudentID      string    `json:"student_id"`
	SelectedOption string    `json:"selected_option"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type QnaSession struct {
	ID        string        `json:"id"`
	ClassID   string        `json:"class_id"`
	Title     string        `json:"title"`
	Active    bool          `json:"is_active"`
	CreatedBy string        `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Questions []QnaQuestion `json:"qna_questions,omitempty"`
}

type QnaQuestion struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	OwnerID     string     `json:"student_id"`
	OwnerName   string     `json:"full_name,omitempty"`
	Text        string     `json:"question_text"`
	Anonymous   bool       `json:"is_anonymous"`
	Answered    bool       `json:"is_answered"`
	AnswerText  *string    `json:"answer_text,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
}

// RedactField masks the author of the question with the anonymous sentinel.
func (q *QnaQuestion) RedactField(field string) {
	if field == FieldOwner {
		q.OwnerID = AnonymousOwnerID
		q.OwnerName = AnonymousOwnerName
	}
}

type AIRecommendation struct {
	StudentID      string          `json:"student_id"`
	Recommendation json.RawMessage `json:"recommendations"`
	BasedOnQuizzes int             `json:"based_on_quizzes"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Field names referenced by redaction and field-level write rules.
const (
	FieldRole          = "role"
	FieldCorrectAnswer = "correct_answer"
	FieldOwner         = "owner_id"
	FieldAnswerText    = "answer_text"
	FieldFullName      = "full_name"
	FieldPassword      = "password"
	FieldEmail         = "email"
	FieldAvatarURL     = "avatar_url"
	FieldActive        = "is_active"
)

// IdentityUpdate carries the fields of an identity being changed; nil fields
// are left alone.
type IdentityUpdate struct {
	FullName     *string
	PasswordHash *string
	AvatarURL    *string
	Role         *Role
	Active       *bool
}

// Fields lists the names of the fields the update writes.
func (u IdentityUpdate) Fields() []string {
	var fields []string
	if u.FullName != nil {
		fields = append(fields, FieldFullName)
	}
	if u.PasswordHash != nil {
		fields = append(fields, FieldPassword)
	}
	if u.AvatarURL != nil {
		fields = append(fields, FieldAvatarURL)
	}
	if u.Role != nil {
		fields = append(fields, FieldRole)
	}
	if u.Active != nil {
		fields = append(fields, FieldActive)
	}
	return fields
}
