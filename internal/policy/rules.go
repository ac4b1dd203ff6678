package policy

import (
	"context"

	"lms/auth-identity/internal/model"
)

type evaluation struct {
	ctx       context.Context
	actor     Actor
	res       Resource
	relations Relations

	enrolled *bool
}

// predicate reports whether it holds and, when it does not, a short reason.
type predicate func(ev *evaluation) (bool, string, error)

func admin(ev *evaluation) (bool, string, error) {
	return ev.actor.IsAdmin(), "not admin", nil
}

func self(ev *evaluation) (bool, string, error) {
	return ev.actor.ID != "" && ev.actor.ID == ev.res.OwnerID, "not owner", nil
}

func parentActive(ev *evaluation) (bool, string, error) {
	return ev.res.ParentActive, "parent inactive", nil
}

func systemOnly(ev *evaluation) (bool, string, error) {
	return ev.actor.Role == RoleSystem, "system only", nil
}

func never(*evaluation) (bool, string, error) {
	return false, "immutable", nil
}

// enrolled is looked up at most once per evaluation.
func enrolled(ev *evaluation) (bool, string, error) {
	if ev.enrolled == nil {
		if ev.relations == nil || ev.res.ClassID == "" || ev.actor.Role != model.RoleStudent {
			v := false
			ev.enrolled = &v
		} else {
			v, err := ev.relations.IsEnrolled(ev.ctx, ev.actor.ID, ev.res.ClassID)
			if err != nil {
				return false, "", err
			}
			ev.enrolled = &v
		}
	}
	return *ev.enrolled, "not enrolled", nil
}

func anyOf(preds ...predicate) predicate {
	return func(ev *evaluation) (bool, string, error) {
		reason := "no rule matched"
		for _, p := range preds {
			ok, why, err := p(ev)
			if err != nil {
				return false, "", err
			}
			if ok {
				return true, "", nil
			}
			reason = why
		}
		return false, reason, nil
	}
}

func allOf(preds ...predicate) predicate {
	return func(ev *evaluation) (bool, string, error) {
		for _, p := range preds {
			ok, why, err := p(ev)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, why, nil
			}
		}
		return true, "", nil
	}
}

var (
	adminOrSelf     = anyOf(admin, self)
	adminOrEnrolled = anyOf(admin, enrolled)
)

// ruleTable is the complete authorization surface. Anything missing denies.
var ruleTable = map[EntityType]map[Action]predicate{
	EntityIdentity: {
		ActionRead:   adminOrSelf,
		ActionUpdate: adminOrSelf,
	},
	EntityClass: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityEnrollment: {
		ActionRead:   adminOrSelf,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityLivestream: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityComment: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: allOf(self, parentActive, adminOrEnrolled),
		ActionUpdate: admin,
	},
	EntityQuiz: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityQuizQuestion: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityQuizAnswer: {
		ActionRead:   adminOrSelf,
		ActionCreate: allOf(self, enrolled, parentActive),
		ActionUpdate: never,
	},
	EntityQnaSession: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: admin,
		ActionUpdate: admin,
	},
	EntityQnaQuestion: {
		ActionRead:   adminOrEnrolled,
		ActionCreate: allOf(self, parentActive, adminOrEnrolled),
		ActionUpdate: admin,
		ActionAnswer: admin,
	},
	EntityRecommendation: {
		ActionRead:     adminOrSelf,
		ActionGenerate: adminOrSelf,
		ActionCreate:   systemOnly,
		ActionUpdate:   systemOnly,
	},
}

// fieldRules restrict individual fields beyond the entity's write rule.
var fieldRules = map[EntityType]map[string]predicate{
	EntityIdentity: {
		model.FieldRole:   allOf(admin, notSelf),
		model.FieldActive: allOf(admin, notSelf),
		model.FieldEmail:  never,
	},
	EntityQnaQuestion: {
		model.FieldAnswerText: admin,
	},
}

// notSelf keeps administrators from changing their own role or status.
func notSelf(ev *evaluation) (bool, string, error) {
	return ev.actor.ID != ev.res.OwnerID, "own record", nil
}

func deniedField(ev *evaluation, fields []string) (string, bool) {
	rules := fieldRules[ev.res.Type]
	for _, field := range fields {
		rule, ok := rules[field]
		if !ok {
			continue
		}
		allowed, _, err := rule(ev)
		if err != nil || !allowed {
			return field, false
		}
	}
	return "", true
}

// redactions lists the fields an allowed read must hide.
func redactions(actor Actor, res Resource) []string {
	if actor.IsAdmin() || actor.Role == RoleSystem {
		return nil
	}
	switch res.Type {
	case EntityQuiz, EntityQuizQuestion:
		return []string{model.FieldCorrectAnswer}
	case EntityQnaQuestion:
		if res.Anonymous && actor.ID != res.OwnerID {
			return []string{model.FieldOwner}
		}
	}
	return nil
}
