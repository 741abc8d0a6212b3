package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/events"
	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/eventbus"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/serrors"
)

// maxSupersedeChain bounds the walk when checking a superseding chain for
// cycles, so a corrupted store cannot loop the engine.
const maxSupersedeChain = 100

// Workflow is the state machine engine. Every mutating command loads the
// aggregate, evaluates the guard predicate against the loaded state,
// applies the transition and commits with compare-and-set; events are
// published only after the commit.
type Workflow struct {
	repo    request.Repository
	perms   *Predicates
	applier ActionApplier
	bus     eventbus.EventBus
	logger  *logrus.Logger
	inTx    TxRunner
	now     func() time.Time
}

type WorkflowOptions struct {
	Repo    request.Repository
	Perms   *Predicates
	Applier ActionApplier
	Bus     eventbus.EventBus
	Logger  *logrus.Logger
	Tx      TxRunner
	Now     func() time.Time
}

func NewWorkflow(opts WorkflowOptions) *Workflow {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Workflow{
		repo:    opts.Repo,
		perms:   opts.Perms,
		applier: opts.Applier,
		bus:     opts.Bus,
		logger:  logger,
		inTx:    defaultTxRunner(opts.Tx),
		now:     now,
	}
}

// Execute dispatches a command. The union is closed; the default branch
// exists only to satisfy future Command implementations outside this
// package, which are rejected.
func (w *Workflow) Execute(ctx context.Context, cmd Command) (req *request.Request, err error) {
	defer func() {
		metrics.ObserveCommand(cmd.Name(), err, serrors.CodeOf)
	}()

	switch c := cmd.(type) {
	case ChangeStateCommand:
		return w.changeState(ctx, c)
	case AddReviewCommand:
		return w.addReview(ctx, c)
	case ChangeReviewStateCommand:
		return w.changeReviewState(ctx, c)
	case AssignReviewCommand:
		return w.assignReview(ctx, c)
	case SetPriorityCommand:
		return w.setPriority(ctx, c)
	case SetIncidentCommand:
		return w.setIncident(ctx, c)
	case SetAcceptAtCommand:
		return w.setAcceptAt(ctx, c)
	case ApproveCommand:
		return w.approve(ctx, c)
	case CancelApprovalCommand:
		return w.cancelApproval(ctx, c)
	default:
		return nil, request.NewUnknownCommandError(cmd.Name())
	}
}

// mutate wraps the load-guard-apply-commit cycle shared by all commands.
// fn mutates the loaded aggregate and returns the events to publish once
// the transaction commits. Returning errSkipUpdate commits nothing.
func (w *Workflow) mutate(ctx context.Context, number int64, fn func(txCtx context.Context, req *request.Request) ([]any, error)) (*request.Request, error) {
	var updated *request.Request
	var pending []any
	err := w.inTx(ctx, func(txCtx context.Context) error {
		req, err := w.repo.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}
		evts, err := fn(txCtx, req)
		if err != nil {
			if err == errSkipUpdate {
				updated = req
				return nil
			}
			return err
		}
		req.UpdatedAt = w.now()
		updated, err = w.repo.Update(txCtx, req)
		if err != nil {
			return err
		}
		pending = evts
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(pending)
	return updated, nil
}

// errSkipUpdate signals an idempotent no-op from inside mutate.
var errSkipUpdate = serrors.NewError("REQUEST_NOOP", "no change", "")

func (w *Workflow) publish(evts []any) {
	for _, evt := range evts {
		if changed, ok := evt.(events.RequestChanged); ok {
			if !changed.OldState.Terminal() && changed.NewState.Terminal() {
				metrics.OpenRequests.Dec()
			}
		}
		if w.bus != nil {
			w.bus.Publish(evt)
		}
	}
}

func (w *Workflow) requireOpen(req *request.Request, cmd string) error {
	if req.IsTerminal() {
		return request.NewInvalidTransitionError(req.State, cmd)
	}
	return nil
}

func (w *Workflow) changeState(ctx context.Context, c ChangeStateCommand) (*request.Request, error) {
	if c.NewState == request.StateSuperseded {
		return w.supersede(ctx, c)
	}
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanChangeState(txCtx, c.Actor, req, c.NewState); err != nil {
			return nil, err
		}
		oldState := req.State
		switch c.NewState {
		case request.StateAccepted:
			if err := w.accept(txCtx, req); err != nil {
				return nil, err
			}
		case request.StateDeclined:
			req.State = request.StateDeclined
		case request.StateRevoked:
			req.State = request.StateRevoked
		default:
			return nil, request.NewValidationError("state %q is not a legal changestate target", string(c.NewState))
		}
		return []any{events.RequestChanged{
			Type:          events.TypeRequestChanged,
			RequestNumber: req.Number,
			Actor:         c.Actor.Login,
			Command:       c.Name(),
			OldState:      oldState,
			NewState:      req.State,
			Comment:       c.Comment,
			At:            w.now(),
		}}, nil
	})
}

// accept applies every action and moves the request to accepted. All
// targets are validated before any action is applied; partial application
// is not permitted.
func (w *Workflow) accept(ctx context.Context, req *request.Request) error {
	if req.HasOpenReviews() {
		return request.NewInvalidTransitionError(req.State, "changestate")
	}
	for i := range req.Actions {
		if err := w.applier.ValidateTarget(ctx, req.Actions[i]); err != nil {
			return err
		}
	}
	// Apply results are staged: accept_info reaches the actions only once
	// every apply succeeded, so a mid-sequence failure leaves the
	// aggregate untouched even when the caller commits it anyway.
	infos := make([]*request.AcceptInfo, len(req.Actions))
	for i := range req.Actions {
		info, err := w.applier.Apply(ctx, req.Actions[i])
		if err != nil {
			return err
		}
		infos[i] = info
	}
	for i := range req.Actions {
		req.Actions[i].AcceptInfo = infos[i]
	}
	req.State = request.StateAccepted
	return nil
}

// supersede links two requests. Only the superseded request changes
// state; the superseding request gains the back reference. Both writes
// happen in one transaction, in request-number order.
func (w *Workflow) supersede(ctx context.Context, c ChangeStateCommand) (*request.Request, error) {
	if c.SupersededBy == nil {
		return nil, request.NewValidationError("changestate to superseded requires superseded_by")
	}
	target := *c.SupersededBy

	var updated *request.Request
	var pending []any
	err := w.inTx(ctx, func(txCtx context.Context) error {
		req, err := w.repo.GetByNumber(txCtx, c.Number)
		if err != nil {
			return err
		}
		if err := w.requireOpen(req, c.Name()); err != nil {
			return err
		}
		if err := w.perms.CanChangeState(txCtx, c.Actor, req, request.StateSuperseded); err != nil {
			return err
		}
		if target == req.Number {
			return request.NewValidationError("request %d cannot supersede itself", req.Number)
		}
		other, err := w.repo.GetByNumber(txCtx, target)
		if err != nil {
			return err
		}
		if err := w.checkSupersedeCycle(txCtx, req.Number, other); err != nil {
			return err
		}

		oldState := req.State
		req.State = request.StateSuperseded
		req.SupersededBy = &target
		req.UpdatedAt = w.now()
		if !other.IsSuperseding(req.Number) {
			other.Supersedes = append(other.Supersedes, req.Number)
			other.UpdatedAt = w.now()
		}

		// Commit in number order to keep a consistent lock ordering.
		first, second := req, other
		if second.Number < first.Number {
			first, second = second, first
		}
		if _, err := w.repo.Update(txCtx, first); err != nil {
			return err
		}
		committed, err := w.repo.Update(txCtx, second)
		if err != nil {
			return err
		}
		if committed.Number == req.Number {
			updated = committed
		} else {
			updated, err = w.repo.GetByNumber(txCtx, req.Number)
			if err != nil {
				return err
			}
		}
		pending = []any{events.RequestChanged{
			Type:          events.TypeRequestChanged,
			RequestNumber: req.Number,
			Actor:         c.Actor.Login,
			Command:       c.Name(),
			OldState:      oldState,
			NewState:      request.StateSuperseded,
			Comment:       c.Comment,
			At:            w.now(),
		}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.publish(pending)
	return updated, nil
}

// checkSupersedeCycle walks the superseding chain starting at other and
// fails when it reaches number, which would close a cycle.
func (w *Workflow) checkSupersedeCycle(ctx context.Context, number int64, other *request.Request) error {
	current := other
	for i := 0; i < maxSupersedeChain; i++ {
		if current.SupersededBy == nil {
			return nil
		}
		next := *current.SupersededBy
		if next == number {
			return request.NewValidationError("superseding request %d by %d would create a cycle", number, other.Number)
		}
		var err error
		current, err = w.repo.GetByNumber(ctx, next)
		if err != nil {
			return err
		}
	}
	return request.NewValidationError("superseding chain starting at request %d is too long", other.Number)
}

func (w *Workflow) addReview(ctx context.Context, c AddReviewCommand) (*request.Request, error) {
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanAddReview(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		rev := request.Review{
			ByUser:    c.ByUser,
			ByGroup:   c.ByGroup,
			ByProject: c.ByProject,
			ByPackage: c.ByPackage,
			Reason:    c.Comment,
			CreatedAt: w.now(),
		}
		if err := req.AddReview(rev); err != nil {
			return nil, err
		}
		added := req.Reviews[len(req.Reviews)-1]
		return []any{events.ReviewChanged{
			Type:          events.TypeReviewChanged,
			RequestNumber: req.Number,
			Actor:         c.Actor.Login,
			Assignee:      added.Assignee(),
			NewState:      request.ReviewStateNew,
			Comment:       c.Comment,
			At:            w.now(),
		}}, nil
	})
}

func (w *Workflow) changeReviewState(ctx context.Context, c ChangeReviewStateCommand) (*request.Request, error) {
	if c.NewState != request.ReviewStateAccepted && c.NewState != request.ReviewStateDeclined {
		return nil, request.NewValidationError("review state %q is not a legal changereviewstate target", string(c.NewState))
	}
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		rev := req.FindOpenReviewFor(c.ByUser, c.ByGroup, c.ByProject, c.ByPackage)
		if rev == nil {
			return nil, serrors.NewError(request.CodeNotFound, "no open review matching the given reviewer on request "+itoa(req.Number), "Requests.Errors.NotFound")
		}
		if err := w.perms.CanChangeReviewState(txCtx, c.Actor, req, rev); err != nil {
			return nil, err
		}

		now := w.now()
		last, err := req.ResolveReview(rev.ID, c.NewState, c.Actor.Login, c.Comment, now)
		if err != nil {
			return nil, err
		}

		evts := []any{events.ReviewChanged{
			Type:          events.TypeReviewChanged,
			RequestNumber: req.Number,
			Actor:         c.Actor.Login,
			Assignee:      rev.Assignee(),
			NewState:      c.NewState,
			Comment:       c.Comment,
			At:            now,
		}}

		oldState := req.State
		switch {
		case c.NewState == request.ReviewStateDeclined:
			// a single decline blocks the whole request
			req.State = request.StateDeclined
		case last:
			// quorum reached: attempt acceptance under system authority
			// unless a future accept_at defers it
			if req.AcceptAt == nil || !req.AcceptAt.After(now) {
				if err := w.accept(txCtx, req); err != nil {
					w.logger.WithError(err).WithField("request", req.Number).
						Warn("auto-acceptance failed, request stays in review")
				}
			}
		}
		if req.State != oldState {
			evts = append(evts, events.RequestChanged{
				Type:          events.TypeRequestChanged,
				RequestNumber: req.Number,
				Actor:         composables.SystemLogin,
				Command:       c.Name(),
				OldState:      oldState,
				NewState:      req.State,
				At:            now,
			})
		}
		return evts, nil
	})
}

func (w *Workflow) assignReview(ctx context.Context, c AssignReviewCommand) (*request.Request, error) {
	if c.Reviewer == "" {
		return nil, request.NewValidationError("assignreview requires a reviewer")
	}
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		rev := req.FindOpenReviewFor("", c.ByGroup, c.ByProject, c.ByPackage)
		if rev == nil {
			return nil, serrors.NewError(request.CodeNotFound, "no open review matching the given reviewer on request "+itoa(req.Number), "Requests.Errors.NotFound")
		}
		if err := w.perms.CanAssignReview(txCtx, c.Actor, req, rev); err != nil {
			return nil, err
		}

		now := w.now()
		if _, err := req.ResolveReview(rev.ID, request.ReviewStateSuperseded, c.Actor.Login, c.Comment, now); err != nil {
			return nil, err
		}
		replacement := request.Review{
			ByUser:    c.Reviewer,
			Reason:    "reassigned from " + rev.Assignee(),
			CreatedAt: now,
		}
		if err := req.AddReview(replacement); err != nil {
			return nil, err
		}
		return []any{events.ReviewChanged{
			Type:          events.TypeReviewChanged,
			RequestNumber: req.Number,
			Actor:         c.Actor.Login,
			Assignee:      "user " + c.Reviewer,
			NewState:      request.ReviewStateNew,
			Comment:       c.Comment,
			At:            now,
		}}, nil
	})
}

func (w *Workflow) setPriority(ctx context.Context, c SetPriorityCommand) (*request.Request, error) {
	if !c.Priority.Valid() {
		return nil, request.NewValidationError("priority %q is not known", string(c.Priority))
	}
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanModerate(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		req.Priority = c.Priority
		return nil, nil
	})
}

func (w *Workflow) setIncident(ctx context.Context, c SetIncidentCommand) (*request.Request, error) {
	if c.Incident == "" {
		return nil, request.NewValidationError("setincident requires an incident")
	}
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanModerate(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		if !req.TargetsMaintenanceIncident() {
			return nil, request.NewValidationError("request %d does not target a maintenance-incident project", req.Number)
		}
		for i := range req.Actions {
			req.Actions[i].TargetProject = incidentProject(req.Actions[i].TargetProject, c.Incident)
		}
		return nil, nil
	})
}

func (w *Workflow) setAcceptAt(ctx context.Context, c SetAcceptAtCommand) (*request.Request, error) {
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanModerate(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		req.AcceptAt = c.At
		return nil, nil
	})
}

func (w *Workflow) approve(ctx context.Context, c ApproveCommand) (*request.Request, error) {
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanApprove(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		if req.ApprovedAt != nil {
			// approve is idempotent
			return nil, errSkipUpdate
		}
		now := w.now()
		req.ApprovedAt = &now
		req.ApprovedBy = c.Actor.Login
		return nil, nil
	})
}

func (w *Workflow) cancelApproval(ctx context.Context, c CancelApprovalCommand) (*request.Request, error) {
	return w.mutate(ctx, c.Number, func(txCtx context.Context, req *request.Request) ([]any, error) {
		if err := w.requireOpen(req, c.Name()); err != nil {
			return nil, err
		}
		if err := w.perms.CanApprove(txCtx, c.Actor, req); err != nil {
			return nil, err
		}
		if req.ApprovedAt == nil {
			return nil, errSkipUpdate
		}
		req.ApprovedAt = nil
		req.ApprovedBy = ""
		return nil, nil
	})
}

// incidentProject re-points a maintenance target at the chosen incident:
// an existing numeric incident suffix is replaced.
func incidentProject(target, incident string) string {
	if idx := strings.LastIndex(target, ":"); idx > 0 {
		if isDigits(target[idx+1:]) {
			target = target[:idx]
		}
	}
	return target + ":" + incident
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
