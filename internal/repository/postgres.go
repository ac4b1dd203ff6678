// Package repository persists identities and classroom records, in
// PostgreSQL through pgx or in process memory.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const identityColumns = `id, email, full_name, password_hash, external_identity_id, avatar_url, role, is_active, created_at, updated_at`

func scanIdentity(row pgx.Row) (model.Identity, error) {
	var identity model.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.FullName,
		&identity.PasswordHash,
		&identity.ExternalID,
		&identity.AvatarURL,
		&identity.Role,
		&identity.Active,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	return identity, err
}

func (s *Store) CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error) {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identities (id, email, full_name, password_hash, external_identity_id, avatar_url, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+identityColumns,
		identity.ID, strings.TrimSpace(identity.Email), identity.FullName, identity.PasswordHash,
		identity.ExternalID, identity.AvatarURL, identity.Role, identity.Active)
	created, err := scanIdentity(row)
	return created, mapError("create identity", err)
}

func (s *Store) GetIdentityByID(ctx context.Context, id string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	identity, err := scanIdentity(row)
	return identity, mapError("get identity", err)
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	identity, err := scanIdentity(row)
	return identity, mapError("get identity by email", err)
}

func (s *Store) GetIdentityByExternalID(ctx context.Context, externalID string) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE external_identity_id = $1`, externalID)
	identity, err := scanIdentity(row)
	return identity, mapError("get identity by external id", err)
}

// LinkExternalIdentity attaches an external id to an identity that has none.
// It reports false when the identity already carries an external id; a
// unique violation means another identity holds this one.
func (s *Store) LinkExternalIdentity(ctx context.Context, identityID, externalID string, avatarURL *string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET external_identity_id = $2,
		    avatar_url = COALESCE(avatar_url, $3),
		    updated_at = now()
		WHERE id = $1 AND external_identity_id IS NULL
	`, identityID, externalID, avatarURL)
	if err != nil {
		return false, mapError("link external identity", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, update model.IdentityUpdate) (model.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE identities
		SET full_name = COALESCE($2, full_name),
		    password_hash = COALESCE($3, password_hash),
		    avatar_url = COALESCE($4, avatar_url),
		    role = COALESCE($5, role),
		    is_active = COALESCE($6, is_active),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+identityColumns,
		id, update.FullName, update.PasswordHash, update.AvatarURL, rolePtr(update.Role), update.Active)
	identity, err := scanIdentity(row)
	return identity, mapError("update identity", err)
}

func rolePtr(role *model.Role) *string {
	if role == nil {
		return nil
	}
	value := string(*role)
	return &value
}

func (s *Store) ListClasses(ctx context.Context) ([]model.Class, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, is_active, created_at
		FROM classes
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, mapError("list classes", err)
	}
	defer rows.Close()

	classes := []model.Class{}
	for rows.Next() {
		var class model.Class
		if err := rows.Scan(&class.ID, &class.Title, &class.Description, &class.Active, &class.CreatedAt); err != nil {
			return nil, mapError("scan class", err)
		}
		classes = append(classes, class)
	}
	return classes, mapError("list classes", rows.Err())
}

func (s *Store) GetClass(ctx context.Context, id string) (model.Class, error) {
	var class model.Class
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, is_active, created_at
		FROM classes
		WHERE id = $1
	`, id).Scan(&class.ID, &class.Title, &class.Description, &class.Active, &class.CreatedAt)
	return class, mapError("get class", err)
}

func (s *Store) CreateClass(ctx context.Context, class model.Class) (model.Class, error) {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO classes (id, title, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, class.ID, class.Title, class.Description, class.Active).Scan(&class.CreatedAt)
	return class, mapError("create class", err)
}

func (s *Store) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) (model.Enrollment, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO enrollments (id, student_id, class_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, enrollment.ID, enrollment.StudentID, enrollment.ClassID).Scan(&enrollment.CreatedAt)
	return enrollment, mapError("create enrollment", err)
}

func (s *Store) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var enrolled bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)
	`, studentID, classID).Scan(&enrolled)
	if err != nil {
		mapped := mapError("is enrolled", err)
		if errors.Is(mapped, apperr.ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return enrolled, nil
}

func (s *Store) ListEnrollments(ctx context.Context, studentID string) ([]model.Enrollment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, student_id, class_id, created_at
		FROM enrollments
		WHERE student_id = $1
		ORDER BY created_at
	`, studentID)
	if err != nil {
		return nil, mapError("list enrollments", err)
	}
	defer rows.Close()

	enrollments := []model.Enrollment{}
	for rows.Next() {
		var enrollment model.Enrollment
		if err := rows.Scan(&enrollment.ID, &enrollment.StudentID, &enrollment.ClassID, &enrollment.CreatedAt); err != nil {
			return nil, mapError("scan enrollment", err)
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, mapError("list enrollments", rows.Err())
}

const livestreamColumns = `id, class_id, title, video_id, is_private, is_active, scheduled_at, started_at, ended_at, created_by, created_at`

func scanLivestream(row pgx.Row) (model.Livestream, error) {
	var stream model.Livestream
	err := row.Scan(&stream.ID, &stream.ClassID, &stream.Title, &stream.VideoID, &stream.Private, &stream.Active,
		&stream.ScheduledAt, &stream.StartedAt, &stream.EndedAt, &stream.CreatedBy, &stream.CreatedAt)
	return stream, err
}

func (s *Store) ListLivestreams(ctx context.Context) ([]model.Livestream, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+livestreamColumns+` FROM livestreams ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapError("list livestreams", err)
	}
	defer rows.Close()

	streams := []model.Livestream{}
	for rows.Next() {
		stream, err := scanLivestream(rows)
		if err != nil {
			return nil, mapError("scan livestream", err)
		}
		streams = append(streams, stream)
	}
	return streams, mapError("list livestreams", rows.Err())
}

func (s *Store) GetLivestream(ctx context.Context, id string) (model.Livestream, error) {
	stream, err := scanLivestream(s.pool.QueryRow(ctx, `SELECT `+livestreamColumns+` FROM livestreams WHERE id = $1`, id))
	return stream, mapError("get livestream", err)
}

func (s *Store) CreateLivestream(ctx context.Context, stream model.Livestream) (model.Livestream, error) {
	if stream.ID == "" {
		stream.ID = uuid.NewString()
	}
	created, err := scanLivestream(s.pool.QueryRow(ctx, `
		INSERT INTO livestreams (id, class_id, title, video_id, is_private, is_active, scheduled_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+livestreamColumns,
		stream.ID, stream.ClassID, stream.Title, stream.VideoID, stream.Private, stream.Active, stream.ScheduledAt, stream.CreatedBy))
	return created, mapError("create livestream", err)
}

// SetLivestreamActive flips the stream on or off, stamping started_at or
// ended_at.
func (s *Store) SetLivestreamActive(ctx context.Context, id string, active bool, at time.Time) (model.Livestream, error) {
	stream, err := scanLivestream(s.pool.QueryRow(ctx, `
		UPDATE livestreams
		SET is_active = $2,
		    started_at = CASE WHEN $2 THEN $3 ELSE started_at END,
		    ended_at = CASE WHEN $2 THEN NULL ELSE $3 END
		WHERE id = $1
		RETURNING `+livestreamColumns, id, active, at))
	return stream, mapError("set livestream active", err)
}

func (s *Store) ListComments(ctx context.Context, livestreamID string) ([]model.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.livestream_id, c.student_id, COALESCE(i.full_name, ''), c.content, c.is_deleted, c.created_at
		FROM comments c
		LEFT JOIN identities i ON i.id = c.student_id
		WHERE c.livestream_id = $1 AND c.is_deleted = false
		ORDER BY c.created_at
	`, livestreamID)
	if err != nil {
		return nil, mapError("list comments", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var comment model.Comment
		if err := rows.Scan(&comment.ID, &comment.LivestreamID, &comment.OwnerID, &comment.OwnerName,
			&comment.Content, &comment.Deleted, &comment.CreatedAt); err != nil {
			return nil, mapError("scan comment", err)
		}
		comments = append(comments, comment)
	}
	return comments, mapError("list comments", rows.Err())
}

func (s *Store) GetComment(ctx context.Context, id string) (model.Comment, error) {
	var comment model.Comment
	err := s.pool.QueryRow(ctx, `
		SELECT id, livestream_id, student_id, content, is_deleted, created_at
		FROM comments
		WHERE id = $1
	`, id).Scan(&comment.ID, &comment.LivestreamID, &comment.OwnerID, &comment.Content, &comment.Deleted, &comment.CreatedAt)
	return comment, mapError("get comment", err)
}

func (s *Store) CreateComment(ctx context.Context, comment model.Comment) (model.Comment, error) {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO comments (id, livestream_id, student_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, comment.ID, comment.LivestreamID, comment.OwnerID, comment.Content).Scan(&comment.CreatedAt)
	return comment, mapError("create comment", err)
}

func (s *Store) SoftDeleteComment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE comments SET is_deleted = true WHERE id = $1`, id)
	if err != nil {
		return mapError("delete comment", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError("delete comment", pgx.ErrNoRows)
	}
	return nil
}
