package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/db"
	"lms/auth-identity/internal/model"
)

type contractStore interface {
	CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)
	GetIdentityByID(ctx context.Context, id string) (model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error)
	GetIdentityByExternalID(ctx context.Context, externalID string) (model.Identity, error)
	LinkExternalIdentity(ctx context.Context, identityID, externalID string, avatarURL *string) (bool, error)
	UpdateIdentity(ctx context.Context, id string, update model.IdentityUpdate) (model.Identity, error)
	CreateClass(ctx context.Context, class model.Class) (model.Class, error)
	CreateEnrollment(ctx context.Context, enrollment model.Enrollment) (model.Enrollment, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	CreateQuiz(ctx context.Context, quiz model.Quiz) (model.Quiz, error)
	CreateQuizQuestion(ctx context.Context, question model.QuizQuestion) (model.QuizQuestion, error)
	GetQuiz(ctx context.Context, id string) (model.Quiz, error)
	CreateQuizAnswer(ctx context.Context, answer model.QuizAnswer) (model.QuizAnswer, error)
	UpsertRecommendation(ctx context.Context, rec model.AIRecommendation) (model.AIRecommendation, error)
	GetRecommendation(ctx context.Context, studentID string) (model.AIRecommendation, error)
}

var (
	_ contractStore = (*Store)(nil)
	_ contractStore = (*MemoryStore)(nil)
)

func strPtr(v string) *string { return &v }

func uniqueEmail(prefix string) string {
	return prefix + "." + uuid.NewString()[:8] + "@example.local"
}

func runContract(t *testing.T, store contractStore) {
	ctx := context.Background()

	t.Run("identity uniqueness", func(t *testing.T) {
		email := uniqueEmail("ada")
		created, err := store.CreateIdentity(ctx, model.Identity{
			Email: email, FullName: "Ada", PasswordHash: strPtr("hash"), Role: model.RoleStudent, Active: true,
		})
		if err != nil {
			t.Fatalf("create error: %v", err)
		}
		byEmail, err := store.GetIdentityByEmail(ctx, "  "+strings.ToUpper(email))
		if err != nil || byEmail.ID != created.ID {
			t.Fatalf("expected case-insensitive email lookup, got %v (%v)", byEmail.ID, err)
		}
		_, err = store.CreateIdentity(ctx, model.Identity{
			Email: strings.ToUpper(email), PasswordHash: strPtr("hash"), Role: model.RoleStudent, Active: true,
		})
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected conflict on duplicate email, got %v", err)
		}
		if _, err := store.GetIdentityByID(ctx, uuid.NewString()); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("external link is conditional", func(t *testing.T) {
		extID := "ext-" + uuid.NewString()
		first, _ := store.CreateIdentity(ctx, model.Identity{Email: uniqueEmail("a"), PasswordHash: strPtr("h"), Role: model.RoleStudent, Active: true})
		second, _ := store.CreateIdentity(ctx, model.Identity{Email: uniqueEmail("b"), PasswordHash: strPtr("h"), Role: model.RoleStudent, Active: true})

		linked, err := store.LinkExternalIdentity(ctx, first.ID, extID, strPtr("https://cdn/a.png"))
		if err != nil || !linked {
			t.Fatalf("expected link, got %v (%v)", linked, err)
		}
		linked, err = store.LinkExternalIdentity(ctx, first.ID, "ext-other", nil)
		if err != nil || linked {
			t.Fatalf("expected no relink of a bound identity, got %v (%v)", linked, err)
		}
		if _, err := store.LinkExternalIdentity(ctx, second.ID, extID, nil); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected conflict linking a taken external id, got %v", err)
		}
		got, err := store.GetIdentityByExternalID(ctx, extID)
		if err != nil || got.ID != first.ID {
			t.Fatalf("expected lookup by external id, got %v (%v)", got.ID, err)
		}
		if got.AvatarURL == nil || *got.AvatarURL != "https://cdn/a.png" {
			t.Fatalf("expected avatar to be recorded")
		}
	})

	t.Run("concurrent creates for one external id", func(t *testing.T) {
		extID := "ext-" + uuid.NewString()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := extID
				_, err := store.CreateIdentity(ctx, model.Identity{
					Email: uniqueEmail("race"), ExternalID: &id, Role: model.RoleStudent, Active: true,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, apperr.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 || conflicts != 7 {
			t.Fatalf("expected one winner, got %d wins and %d conflicts", wins, conflicts)
		}
	})

	t.Run("update keeps unset fields", func(t *testing.T) {
		created, _ := store.CreateIdentity(ctx, model.Identity{Email: uniqueEmail("u"), FullName: "Before", PasswordHash: strPtr("h"), Role: model.RoleStudent, Active: true})
		inactive := false
		updated, err := store.UpdateIdentity(ctx, created.ID, model.IdentityUpdate{Active: &inactive})
		if err != nil {
			t.Fatalf("update error: %v", err)
		}
		if updated.Active || updated.FullName != "Before" || updated.Role != model.RoleStudent {
			t.Fatalf("unexpected update result: %+v", updated)
		}
	})

	t.Run("answers are unique per student and question", func(t *testing.T) {
		admin, _ := store.CreateIdentity(ctx, model.Identity{Email: uniqueEmail("admin"), PasswordHash: strPtr("h"), Role: model.RoleAdmin, Active: true})
		student, _ := store.CreateIdentity(ctx, model.Identity{Email: uniqueEmail("s"), PasswordHash: strPtr("h"), Role: model.RoleStudent, Active: true})
		class, err := store.CreateClass(ctx, model.Class{Title: "Algebra", Active: true})
		if err != nil {
			t.Fatalf("create class: %v", err)
		}
		if _, err := store.CreateEnrollment(ctx, model.Enrollment{StudentID: student.ID, ClassID: class.ID}); err != nil {
			t.Fatalf("enroll: %v", err)
		}
		if _, err := store.CreateEnrollment(ctx, model.Enrollment{StudentID: student.ID, ClassID: class.ID}); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected duplicate enrollment conflict, got %v", err)
		}
		enrolled, err := store.IsEnrolled(ctx, student.ID, class.ID)
		if err != nil || !enrolled {
			t.Fatalf("expected enrollment, got %v (%v)", enrolled, err)
		}

		quiz, err := store.CreateQuiz(ctx, model.Quiz{ClassID: class.ID, Title: "Q1", TimeLimitSeconds: 30, CreatedBy: admin.ID})
		if err != nil {
			t.Fatalf("create quiz: %v", err)
		}
		question, err := store.CreateQuizQuestion(ctx, model.QuizQuestion{QuizID: quiz.ID, Text: "1+1", OptionA: "2", OptionB: "3", CorrectAnswer: "a", Points: 1})
		if err != nil {
			t.Fatalf("create question: %v", err)
		}
		withQuestions, err := store.CreateQuiz(ctx, model.Quiz{
			ClassID:   class.ID,
			Title:     "Q2",
			CreatedBy: admin.ID,
			Questions: []model.QuizQuestion{
				{Text: "2+2", OptionA: "4", OptionB: "5", CorrectAnswer: "a", Points: 1},
				{Text: "3+3", OptionA: "5", OptionB: "6", CorrectAnswer: "b", Points: 2, OrderIndex: 1},
			},
		})
		if err != nil {
			t.Fatalf("create quiz with questions: %v", err)
		}
		stored, err := store.GetQuiz(ctx, withQuestions.ID)
		if err != nil {
			t.Fatalf("get quiz: %v", err)
		}
		if len(stored.Questions) != 2 || stored.Questions[0].QuizID != withQuestions.ID {
			t.Fatalf("expected both questions stored with the quiz, got %+v", stored.Questions)
		}

		answer := model.QuizAnswer{QuizID: quiz.ID, QuestionID: question.ID, StudentID: student.ID, SelectedOption: "a"}
		if _, err := store.CreateQuizAnswer(ctx, answer); err != nil {
			t.Fatalf("answer: %v", err)
		}
		if _, err := store.CreateQuizAnswer(ctx, answer); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected duplicate answer conflict, got %v", err)
		}

		rec := model.AIRecommendation{StudentID: student.ID, Recommendation: json.RawMessage(`{"v":1}`), BasedOnQuizzes: 1, GeneratedAt: time.Now().UTC()}
		if _, err := store.UpsertRecommendation(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		rec.Recommendation = json.RawMessage(`{"v":2}`)
		rec.BasedOnQuizzes = 2
		if _, err := store.UpsertRecommendation(ctx, rec); err != nil {
			t.Fatalf("upsert again: %v", err)
		}
		got, err := store.GetRecommendation(ctx, student.ID)
		if err != nil {
			t.Fatalf("get recommendation: %v", err)
		}
		if got.BasedOnQuizzes != 2 {
			t.Fatalf("expected single upserted row, got %+v", got)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, NewMemoryStore())
}

func TestMemoryStoreRejectsIdentityWithoutCredential(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CreateIdentity(context.Background(), model.Identity{Email: "x@example.local", Role: model.RoleStudent})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("LMS_TEST_DB")
	if url == "" {
		t.Skip("LMS_TEST_DB not set")
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	runContract(t, NewStore(pool))
}
