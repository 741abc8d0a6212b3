package services

import (
	"context"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
)

// Authorizer answers role questions about actors. Role storage lives
// behind this interface (casbin in production); the engine composes the
// answers into transition guards but never stores roles itself.
type Authorizer interface {
	IsAdmin(ctx context.Context, login string) (bool, error)
	// IsMaintainer with an empty pkg asks about the project itself.
	IsMaintainer(ctx context.Context, login, project, pkg string) (bool, error)
	// CanWriteTarget is the write capability required to apply an action.
	CanWriteTarget(ctx context.Context, login, project, pkg string) (bool, error)
	IsGroupMember(ctx context.Context, login, group string) (bool, error)
	// TargetsWithRole lists the coordinates on which the login holds the
	// given stored role. Collection queries expand role filters through
	// it before matching.
	TargetsWithRole(ctx context.Context, login string, role request.Role) ([]request.TargetRef, error)
}

// DiffView selects the diff output shape.
type DiffView string

const (
	DiffViewPlain      DiffView = "plain"
	DiffViewStructured DiffView = "structured"
)

type DiffOptions struct {
	View       DiffView
	WithIssues bool
}

// DiffBackend produces diff bytes for an action, optionally against the
// matching action of a superseded request. Calls may be slow and must
// honor ctx cancellation.
type DiffBackend interface {
	Diff(ctx context.Context, action request.Action, against *request.Action, opts DiffOptions) (string, error)
}

// ActionApplier validates and applies actions against their targets. It
// fronts the source service; the engine only sequences the calls.
type ActionApplier interface {
	// ValidateTarget fails with a validation error when the action's
	// coordinates do not refer to existing entities (subject to the
	// action type's rules about missing sources).
	ValidateTarget(ctx context.Context, action request.Action) error
	// Apply performs the change and reports the resulting revision.
	Apply(ctx context.Context, action request.Action) (*request.AcceptInfo, error)
}

// ReviewPolicy yields the reviews auto-assigned at creation time, e.g. a
// project that enforces review of all incoming submits.
type ReviewPolicy interface {
	ReviewsFor(ctx context.Context, actions []request.Action) ([]request.Review, error)
}

// DiffCache stores computed diffs keyed by request/action/view.
type DiffCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// JobEnqueuer is the background-job collaborator: fire-and-forget units
// of work whose failure never surfaces to the command caller.
type JobEnqueuer interface {
	Enqueue(job Job)
}

// Job mirrors pkg/jobs.Job so services do not depend on the queue
// implementation.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// StaticReviewPolicy assigns reviews from a fixed project map. Production
// deployments configure it from the access policy; tests build it inline.
type StaticReviewPolicy struct {
	// ProjectGroups maps a target project to the review groups that must
	// sign off on every request touching it.
	ProjectGroups map[string][]string
}

func (p StaticReviewPolicy) ReviewsFor(ctx context.Context, actions []request.Action) ([]request.Review, error) {
	var reviews []request.Review
	seen := map[string]bool{}
	for _, a := range actions {
		for _, group := range p.ProjectGroups[a.TargetProject] {
			if seen[group] {
				continue
			}
			seen[group] = true
			reviews = append(reviews, request.Review{
				ByGroup: group,
				Reason:  "review enforced for project " + a.TargetProject,
			})
		}
	}
	return reviews, nil
}
