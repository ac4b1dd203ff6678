// Package policy decides, for every actor, action and target record, whether
// the action is permitted and which fields of an allowed read are hidden.
package policy

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"lms/auth-identity/internal/apperr"
	"lms/auth-identity/internal/metrics"
	"lms/auth-identity/internal/model"
)

var tracer = otel.Tracer("lms/auth-identity/internal/policy")

// RoleSystem is held only by internal jobs. No credential can carry it.
const RoleSystem model.Role = "system"

type Actor struct {
	ID   string
	Role model.Role
}

// System is the internal actor used for writes no client may perform.
func System() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

func (a Actor) valid() bool {
	if a.Role == RoleSystem {
		return true
	}
	return a.ID != "" && a.Role.Valid()
}

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	// ActionAnswer is an admin replying to a Q&A question.
	ActionAnswer Action = "answer"
	// ActionGenerate asks for a recommendation to be (re)computed.
	ActionGenerate Action = "generate"
)

type EntityType string

const (
	EntityIdentity       EntityType = "identity"
	EntityClass          EntityType = "class"
	EntityEnrollment     EntityType = "enrollment"
	EntityLivestream     EntityType = "livestream"
	EntityComment        EntityType = "comment"
	EntityQuiz           EntityType = "quiz"
	EntityQuizQuestion   EntityType = "quiz_question"
	EntityQuizAnswer     EntityType = "quiz_answer"
	EntityQnaSession     EntityType = "qna_session"
	EntityQnaQuestion    EntityType = "qna_question"
	EntityRecommendation EntityType = "ai_recommendation"
)

// Resource describes the target of an action with the relations the rules
// need. Callers load it from the store before asking.
type Resource struct {
	Type EntityType
	ID   string
	// OwnerID is the identity the record belongs to: the identity itself,
	// the enrolled student, the author of a comment, answer or question.
	OwnerID string
	// ClassID scopes the record for enrollment checks.
	ClassID string
	// ParentActive tells whether the enclosing livestream, quiz or Q&A
	// session currently accepts submissions.
	ParentActive bool
	// Anonymous marks a Q&A question whose author is hidden.
	Anonymous bool
	// Fields lists the fields a write touches.
	Fields []string
}

// Relations answers relationship questions the rules depend on.
type Relations interface {
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

type Effect int

const (
	Deny Effect = iota
	Allow
	AllowRedacted
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case AllowRedacted:
		return "allow_redacted"
	default:
		return "deny"
	}
}

// Decision is the outcome of Authorize. Reason is for logs only and must
// never reach a client.
type Decision struct {
	Effect Effect
	Reason string
	Redact []string
}

func (d Decision) Allowed() bool {
	return d.Effect != Deny
}

type Engine struct {
	relations Relations
	log       zerolog.Logger
}

func NewEngine(relations Relations, logger zerolog.Logger) *Engine {
	return &Engine{
		relations: relations,
		log:       logger.With().Str("component", "policy").Logger(),
	}
}

// Authorize evaluates the rule table for (actor, action, resource). An error
// is returned only when a relation lookup fails; denial is a Decision.
func (e *Engine) Authorize(ctx context.Context, actor Actor, action Action, res Resource) (Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("policy.entity", string(res.Type)),
		attribute.String("policy.action", string(action)),
	)

	decision, err := e.evaluate(ctx, actor, action, res)
	if err != nil {
		span.RecordError(err)
		return Decision{Effect: Deny, Reason: "relation lookup failed"}, err
	}

	span.SetAttributes(attribute.String("policy.effect", decision.Effect.String()))
	metrics.PolicyDecisions.WithLabelValues(string(res.Type), string(action), decision.Effect.String()).Inc()
	if decision.Effect == Deny {
		e.log.Debug().
			Str("actor_id", actor.ID).
			Str("entity", string(res.Type)).
			Str("entity_id", res.ID).
			Str("action", string(action)).
			Str("reason", decision.Reason).
			Msg("policy denied")
	}
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, actor Actor, action Action, res Resource) (Decision, error) {
	if !actor.valid() {
		return Decision{Effect: Deny, Reason: "invalid actor"}, nil
	}
	rules, ok := ruleTable[res.Type]
	if !ok {
		return Decision{Effect: Deny, Reason: "unknown entity"}, nil
	}
	rule, ok := rules[action]
	if !ok {
		return Decision{Effect: Deny, Reason: "action not defined for entity"}, nil
	}

	ev := &evaluation{ctx: ctx, actor: actor, res: res, relations: e.relations}
	allowed, reason, err := rule(ev)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return Decision{Effect: Deny, Reason: reason}, nil
	}

	if action != ActionRead {
		if field, ok := deniedField(ev, res.Fields); !ok {
			return Decision{Effect: Deny, Reason: "field not writable: " + field}, nil
		}
		return Decision{Effect: Allow}, nil
	}

	if redact := redactions(actor, res); len(redact) > 0 {
		return Decision{Effect: AllowRedacted, Redact: redact}, nil
	}
	return Decision{Effect: Allow}, nil
}

// Check is Authorize for callers that only need a yes or no. Denial comes
// back as ErrPolicyDenied.
func (e *Engine) Check(ctx context.Context, actor Actor, action Action, res Resource) (Decision, error) {
	decision, err := e.Authorize(ctx, actor, action, res)
	if err != nil {
		return decision, apperr.Wrap(apperr.CodeUnavailable, "evaluate policy", err)
	}
	if !decision.Allowed() {
		return decision, apperr.Wrap(apperr.CodePolicyDenied, decision.Reason, nil)
	}
	return decision, nil
}

// Redactable is a record that can hide one of its fields.
type Redactable interface {
	RedactField(field string)
}

// Apply strips the decision's redacted fields from target.
func Apply(decision Decision, target Redactable) {
	for _, field := range decision.Redact {
		target.RedactField(field)
	}
}
