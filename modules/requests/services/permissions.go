package services

import (
	"context"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
)

// Predicates are the transition guards: pure, side-effect-free checks
// over (actor, request, optional target). They read role facts from the
// Authorizer and hold all transition policy themselves, so the state
// machine composes them instead of interleaving checks with mutation.
type Predicates struct {
	authz Authorizer
}

func NewPredicates(authz Authorizer) *Predicates {
	return &Predicates{authz: authz}
}

// TargetsWithRole exposes the role-store expansion used by collection
// queries carrying a stored-role filter.
func (p *Predicates) TargetsWithRole(ctx context.Context, login string, role request.Role) ([]request.TargetRef, error) {
	return p.authz.TargetsWithRole(ctx, login, role)
}

func (p *Predicates) isAdmin(ctx context.Context, actor composables.Actor) (bool, error) {
	if actor.IsSystem() {
		return true, nil
	}
	if actor.IsAnonymous() {
		return false, nil
	}
	return p.authz.IsAdmin(ctx, actor.Login)
}

// maintainsAnyTarget reports whether the actor maintains at least one
// action target.
func (p *Predicates) maintainsAnyTarget(ctx context.Context, actor composables.Actor, req *request.Request) (bool, error) {
	for i := range req.Actions {
		a := &req.Actions[i]
		ok, err := p.authz.IsMaintainer(ctx, actor.Login, a.TargetProject, a.TargetPackage)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// maintainsEveryTarget reports whether the actor maintains all targets.
func (p *Predicates) maintainsEveryTarget(ctx context.Context, actor composables.Actor, req *request.Request) (bool, error) {
	for i := range req.Actions {
		a := &req.Actions[i]
		ok, err := p.authz.IsMaintainer(ctx, actor.Login, a.TargetProject, a.TargetPackage)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// CanCreate requires authorization for every target in the action list:
// source-carrying actions need maintainership of the source they ship,
// target-only actions need maintainership of the target they change.
func (p *Predicates) CanCreate(ctx context.Context, actor composables.Actor, actions []request.Action) error {
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	if actor.IsAnonymous() {
		return request.NewForbiddenError("anonymous users cannot create requests")
	}
	for _, a := range actions {
		if a.Type.SourceRequired() {
			ok, err := p.authz.IsMaintainer(ctx, actor.Login, a.SourceProject, a.SourcePackage)
			if err != nil {
				return err
			}
			if !ok {
				return request.NewForbiddenError("actor %s is not a maintainer of source %s/%s", actor.Login, a.SourceProject, a.SourcePackage)
			}
			continue
		}
		ok, err := p.authz.IsMaintainer(ctx, actor.Login, a.TargetProject, a.TargetPackage)
		if err != nil {
			return err
		}
		if !ok {
			return request.NewForbiddenError("actor %s is not a maintainer of target %s/%s", actor.Login, a.TargetProject, a.TargetPackage)
		}
	}
	return nil
}

// CanAddReview: requester, maintainer of a target, or admin.
func (p *Predicates) CanAddReview(ctx context.Context, actor composables.Actor, req *request.Request) error {
	if actor.Login == req.Creator {
		return nil
	}
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	ok, err := p.maintainsAnyTarget(ctx, actor, req)
	if err != nil {
		return err
	}
	if !ok {
		return request.NewForbiddenError("actor %s is neither requester, target maintainer nor admin", actor.Login)
	}
	return nil
}

// MatchesReviewer reports whether the actor is the assignee of the
// review: the named user, a member of the named group, or a maintainer of
// the named project/package.
func (p *Predicates) MatchesReviewer(ctx context.Context, actor composables.Actor, rev *request.Review) (bool, error) {
	if actor.IsSystem() {
		return true, nil
	}
	switch {
	case rev.ByUser != "":
		return rev.ByUser == actor.Login, nil
	case rev.ByGroup != "":
		return p.authz.IsGroupMember(ctx, actor.Login, rev.ByGroup)
	case rev.ByPackage != "":
		return p.authz.IsMaintainer(ctx, actor.Login, rev.ByProject, rev.ByPackage)
	case rev.ByProject != "":
		return p.authz.IsMaintainer(ctx, actor.Login, rev.ByProject, "")
	}
	return false, nil
}

// CanChangeReviewState: the actor must match the review's assignee.
func (p *Predicates) CanChangeReviewState(ctx context.Context, actor composables.Actor, req *request.Request, rev *request.Review) error {
	ok, err := p.MatchesReviewer(ctx, actor, rev)
	if err != nil {
		return err
	}
	if !ok {
		return request.NewForbiddenError("actor %s is not assignee of review by %s", actor.Login, rev.Assignee())
	}
	return nil
}

// CanAssignReview: current assignee, target maintainer or admin.
func (p *Predicates) CanAssignReview(ctx context.Context, actor composables.Actor, req *request.Request, rev *request.Review) error {
	ok, err := p.MatchesReviewer(ctx, actor, rev)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	ok, err = p.maintainsAnyTarget(ctx, actor, req)
	if err != nil {
		return err
	}
	if !ok {
		return request.NewForbiddenError("actor %s may not reassign review by %s", actor.Login, rev.Assignee())
	}
	return nil
}

// CanChangeState guards changestate per target state.
func (p *Predicates) CanChangeState(ctx context.Context, actor composables.Actor, req *request.Request, newState request.State) error {
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	switch newState {
	case request.StateAccepted:
		for i := range req.Actions {
			a := &req.Actions[i]
			ok, err := p.authz.CanWriteTarget(ctx, actor.Login, a.TargetProject, a.TargetPackage)
			if err != nil {
				return err
			}
			if !ok {
				return request.NewForbiddenError("actor %s has no write permission on target %s/%s", actor.Login, a.TargetProject, a.TargetPackage)
			}
		}
		return nil
	case request.StateDeclined:
		ok, err := p.maintainsAnyTarget(ctx, actor, req)
		if err != nil {
			return err
		}
		if !ok {
			return request.NewForbiddenError("actor %s is not a maintainer of any target", actor.Login)
		}
		return nil
	case request.StateRevoked:
		if actor.Login == req.Creator {
			return nil
		}
		return request.NewForbiddenError("only the requester or an admin may revoke request %d", req.Number)
	case request.StateSuperseded:
		if actor.Login == req.Creator {
			return nil
		}
		ok, err := p.maintainsAnyTarget(ctx, actor, req)
		if err != nil {
			return err
		}
		if !ok {
			return request.NewForbiddenError("actor %s may not supersede request %d", actor.Login, req.Number)
		}
		return nil
	}
	return request.NewValidationError("state %q is not a legal changestate target", string(newState))
}

// CanModerate: maintainer of any target or admin. Guards setpriority,
// setincident and setacceptat.
func (p *Predicates) CanModerate(ctx context.Context, actor composables.Actor, req *request.Request) error {
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	ok, err := p.maintainsAnyTarget(ctx, actor, req)
	if err != nil {
		return err
	}
	if !ok {
		return request.NewForbiddenError("actor %s is neither target maintainer nor admin", actor.Login)
	}
	return nil
}

// CanApprove: maintainership of every target, or admin.
func (p *Predicates) CanApprove(ctx context.Context, actor composables.Actor, req *request.Request) error {
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	ok, err := p.maintainsEveryTarget(ctx, actor, req)
	if err != nil {
		return err
	}
	if !ok {
		return request.NewForbiddenError("actor %s does not hold the approval right for request %d", actor.Login, req.Number)
	}
	return nil
}

// CanAdminister: hard delete and destructive replace.
func (p *Predicates) CanAdminister(ctx context.Context, actor composables.Actor) error {
	admin, err := p.isAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return request.NewForbiddenError("actor %s is not an administrator", actor.Login)
	}
	return nil
}
