package classroom

import (
	"context"
	"strings"
	"time"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/model"
	"lms/auth-identity/internal/policy"
)

// ListClasses returns the classes the actor may read: all of them for an
// admin, the enrolled ones for a student.
func (s *Service) ListClasses(ctx context.Context, actor policy.Actor) ([]model.Class, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]model.Class, 0, len(classes))
	for _, class := range classes {
		_, ok, err := s.allowed(ctx, actor, policy.ActionRead, classResource(class.ID))
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, class)
		}
	}
	return visible, nil
}

func (s *Service) GetClass(ctx context.Context, actor policy.Actor, id string) (model.Class, error) {
	class, err := s.store.GetClass(ctx, id)
	if err != nil {
		return model.Class{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, classResource(class.ID)); err != nil {
		return model.Class{}, err
	}
	return class, nil
}

func (s *Service) CreateClass(ctx context.Context, actor policy.Actor, title, description string) (model.Class, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Class{}, apperr.Invalid("title is required")
	}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, policy.Resource{Type: policy.EntityClass}); err != nil {
		return model.Class{}, err
	}
	return s.store.CreateClass(ctx, model.Class{
		Title:       title,
		Description: strings.TrimSpace(description),
		Active:      true,
	})
}

// Enroll adds a student to a class. Enrolling twice is a conflict.
func (s *Service) Enroll(ctx context.Context, actor policy.Actor, classID, studentID string) (model.Enrollment, error) {
	res := policy.Resource{Type: policy.EntityEnrollment, OwnerID: studentID, ClassID: classID}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.Enrollment{}, err
	}
	student, err := s.store.GetIdentityByID(ctx, studentID)
	if err != nil {
		return model.Enrollment{}, err
	}
	if student.Role != model.RoleStudent {
		return model.Enrollment{}, apperr.Invalid("only students can be enrolled")
	}
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return model.Enrollment{}, err
	}
	return s.store.CreateEnrollment(ctx, model.Enrollment{StudentID: studentID, ClassID: classID})
}

func (s *Service) ListEnrollments(ctx context.Context, actor policy.Actor, studentID string) ([]model.Enrollment, error) {
	res := policy.Resource{Type: policy.EntityEnrollment, OwnerID: studentID}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, res); err != nil {
		return nil, err
	}
	return s.store.ListEnrollments(ctx, studentID)
}

func classResource(id string) policy.Resource {
	return policy.Resource{Type: policy.EntityClass, ID: id, ClassID: id}
}

// LivestreamInput describes a livestream to schedule.
type LivestreamInput struct {
	ClassID     string
	Title       string
	VideoID     *string
	Private     bool
	ScheduledAt *time.Time
}

func (s *Service) ListLivestreams(ctx context.Context, actor policy.Actor) ([]model.Livestream, error) {
	streams, err := s.store.ListLivestreams(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]model.Livestream, 0, len(streams))
	for _, stream := range streams {
		_, ok, err := s.allowed(ctx, actor, policy.ActionRead, livestreamResource(stream))
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, stream)
		}
	}
	return visible, nil
}

func (s *Service) GetLivestream(ctx context.Context, actor policy.Actor, id string) (model.Livestream, error) {
	stream, err := s.store.GetLivestream(ctx, id)
	if err != nil {
		return model.Livestream{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, livestreamResource(stream)); err != nil {
		return model.Livestream{}, err
	}
	return stream, nil
}

func (s *Service) CreateLivestream(ctx context.Context, actor policy.Actor, in LivestreamInput) (model.Livestream, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.ClassID == "" {
		return model.Livestream{}, apperr.Invalid("class_id and title are required")
	}
	res := policy.Resource{Type: policy.EntityLivestream, ClassID: in.ClassID}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.Livestream{}, err
	}
	return s.store.CreateLivestream(ctx, model.Livestream{
		ClassID:     in.ClassID,
		Title:       in.Title,
		VideoID:     in.VideoID,
		Private:     in.Private,
		ScheduledAt: in.ScheduledAt,
		CreatedBy:   actor.ID,
	})
}

// SetLivestreamActive starts or ends a livestream. Comments are accepted only
// while it is active.
func (s *Service) SetLivestreamActive(ctx context.Context, actor policy.Actor, id string, active bool) (model.Livestream, error) {
	stream, err := s.store.GetLivestream(ctx, id)
	if err != nil {
		return model.Livestream{}, err
	}
	if _, err := s.authorize(ctx, actor, policy.ActionUpdate, livestreamResource(stream)); err != nil {
		return model.Livestream{}, err
	}
	return s.store.SetLivestreamActive(ctx, id, active, s.now())
}

func livestreamResource(stream model.Livestream) policy.Resource {
	return policy.Resource{
		Type:         policy.EntityLivestream,
		ID:           stream.ID,
		ClassID:      stream.ClassID,
		ParentActive: stream.Active,
	}
}

func (s *Service) ListComments(ctx context.Context, actor policy.Actor, livestreamID string) ([]model.Comment, error) {
	stream, err := s.GetLivestream(ctx, actor, livestreamID)
	if err != nil {
		return nil, err
	}
	res := policy.Resource{Type: policy.EntityComment, ClassID: stream.ClassID}
	if _, err := s.authorize(ctx, actor, policy.ActionRead, res); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, livestreamID)
}

// PostComment adds a comment to an active livestream as the actor.
func (s *Service) PostComment(ctx context.Context, actor policy.Actor, livestreamID, content string) (model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Comment{}, apperr.Invalid("content is required")
	}
	stream, err := s.GetLivestream(ctx, actor, livestreamID)
	if err != nil {
		return model.Comment{}, err
	}
	if !stream.Active {
		return model.Comment{}, apperr.Precondition("livestream is not active")
	}
	res := policy.Resource{
		Type:         policy.EntityComment,
		OwnerID:      actor.ID,
		ClassID:      stream.ClassID,
		ParentActive: stream.Active,
	}
	if _, err := s.authorize(ctx, actor, policy.ActionCreate, res); err != nil {
		return model.Comment{}, err
	}
	return s.store.CreateComment(ctx, model.Comment{
		LivestreamID: livestreamID,
		OwnerID:      actor.ID,
		Content:      content,
	})
}

// DeleteComment hides a comment. Comments are never removed from the store.
func (s *Service) DeleteComment(ctx context.Context, actor policy.Actor, id string) error {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if comment.Deleted {
		return apperr.Wrap(apperr.CodeNotFound, "comment deleted", nil)
	}
	stream, err := s.store.GetLivestream(ctx, comment.LivestreamID)
	if err != nil {
		return err
	}
	res := policy.Resource{
		Type:    policy.EntityComment,
		ID:      comment.ID,
		OwnerID: comment.OwnerID,
		ClassID: stream.ClassID,
	}
	if _, err := s.authorize(ctx, actor, policy.ActionUpdate, res); err != nil {
		return err
	}
	return s.store.SoftDeleteComment(ctx, id)
}
