package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/events"
	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/eventbus"
	"github.com/buildforge/buildforge/pkg/metrics"
)

// RequestService owns the aggregate lifecycle around the workflow engine:
// creation, reads, the destructive replace and the administrative delete.
type RequestService struct {
	repo    request.Repository
	perms   *Predicates
	policy  ReviewPolicy
	applier ActionApplier
	backend DiffBackend
	cache   DiffCache
	bus     eventbus.EventBus
	jobs    JobEnqueuer
	logger  *logrus.Logger
	inTx    TxRunner
}

type RequestServiceOptions struct {
	Repo    request.Repository
	Perms   *Predicates
	Policy  ReviewPolicy
	Applier ActionApplier
	Backend DiffBackend
	Cache   DiffCache
	Bus     eventbus.EventBus
	Jobs    JobEnqueuer
	Logger  *logrus.Logger
	Tx      TxRunner
}

func NewRequestService(opts RequestServiceOptions) *RequestService {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := opts.Policy
	if policy == nil {
		policy = StaticReviewPolicy{}
	}
	return &RequestService{
		repo:    opts.Repo,
		perms:   opts.Perms,
		policy:  policy,
		applier: opts.Applier,
		backend: opts.Backend,
		cache:   opts.Cache,
		bus:     opts.Bus,
		jobs:    opts.Jobs,
		logger:  logger,
		inTx:    defaultTxRunner(opts.Tx),
	}
}

type CreateRequestParams struct {
	Description string
	Actions     []request.Action
}

// Create validates every action target before anything is persisted:
// either the whole request is created or nothing is.
func (s *RequestService) Create(ctx context.Context, params CreateRequestParams) (*request.Request, error) {
	actor, err := composables.UseUser(ctx)
	if err != nil {
		return nil, request.NewForbiddenError("authentication required to create requests")
	}
	if len(params.Actions) == 0 {
		return nil, request.NewValidationError("request must contain at least one action")
	}
	if err := s.perms.CanCreate(ctx, actor, params.Actions); err != nil {
		return nil, err
	}
	for _, a := range params.Actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if err := s.applier.ValidateTarget(ctx, a); err != nil {
			return nil, err
		}
	}

	req, err := request.New(actor.Login, params.Description, params.Actions)
	if err != nil {
		return nil, err
	}
	reviews, err := s.policy.ReviewsFor(ctx, req.Actions)
	if err != nil {
		return nil, err
	}
	for _, rev := range reviews {
		if err := req.AddReview(rev); err != nil {
			return nil, err
		}
	}

	var created *request.Request
	if err := s.inTx(ctx, func(txCtx context.Context) error {
		created, err = s.repo.Create(txCtx, req)
		return err
	}); err != nil {
		return nil, err
	}

	if !created.IsTerminal() {
		metrics.OpenRequests.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(events.RequestCreated{
			Type:          events.TypeRequestCreated,
			RequestNumber: created.Number,
			Actor:         actor.Login,
			State:         created.State,
			At:            time.Now().UTC(),
			Request:       created,
		})
	}
	s.warmDiffCache(created)
	return created, nil
}

// warmDiffCache enqueues one diff-caching job per action, fire and
// forget, right after creation.
func (s *RequestService) warmDiffCache(req *request.Request) {
	if s.jobs == nil || s.backend == nil || s.cache == nil {
		return
	}
	for _, a := range req.Actions {
		s.jobs.Enqueue(cacheActionDiffJob{
			backend: s.backend,
			cache:   s.cache,
			number:  req.Number,
			action:  a,
		})
	}
}

func (s *RequestService) Get(ctx context.Context, number int64) (*request.Request, error) {
	return s.repo.GetByNumber(ctx, number)
}

// List runs the collection query. An entirely unscoped filter is refused
// rather than scanning the whole collection. Stored-role filters
// (maintainer, bugowner, downloader, reader) are expanded into the
// user's target coordinates before the query runs.
func (s *RequestService) List(ctx context.Context, f request.Filter) ([]*request.Request, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.User != "" {
		for _, role := range f.StoredRoles() {
			refs, err := s.perms.TargetsWithRole(ctx, f.User, role)
			if err != nil {
				return nil, err
			}
			f.RoleTargets = append(f.RoleTargets, refs...)
		}
	}
	return s.repo.Find(ctx, f)
}

type ReplaceRequestParams struct {
	Creator     string
	Description string
	State       request.State
	Actions     []request.Action
}

// Replace is the destructive update: the stored request is destroyed and
// a new one built from the submitted representation takes over its
// number, inside one transaction. Admin only.
func (s *RequestService) Replace(ctx context.Context, number int64, params ReplaceRequestParams) (*request.Request, error) {
	actor, err := composables.UseUser(ctx)
	if err != nil {
		return nil, request.NewForbiddenError("authentication required")
	}
	if err := s.perms.CanAdminister(ctx, actor); err != nil {
		return nil, err
	}

	replacement, err := request.New(params.Creator, params.Description, params.Actions)
	if err != nil {
		return nil, err
	}
	if params.State != "" {
		if !params.State.Valid() {
			return nil, request.NewValidationError("state %q is not known", string(params.State))
		}
		replacement.State = params.State
	}

	var old *request.Request
	var replaced *request.Request
	if err := s.inTx(ctx, func(txCtx context.Context) error {
		old, err = s.repo.GetByNumber(txCtx, number)
		if err != nil {
			return err
		}
		replaced, err = s.repo.Replace(txCtx, number, replacement)
		return err
	}); err != nil {
		return nil, err
	}

	if old.IsTerminal() != replaced.IsTerminal() {
		if replaced.IsTerminal() {
			metrics.OpenRequests.Dec()
		} else {
			metrics.OpenRequests.Inc()
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.RequestChanged{
			Type:          events.TypeRequestChanged,
			RequestNumber: number,
			Actor:         actor.Login,
			Command:       "update",
			OldState:      old.State,
			NewState:      replaced.State,
			At:            time.Now().UTC(),
		})
	}
	return replaced, nil
}

// Delete hard-deletes a request and emits a deletion event carrying a
// snapshot of the prior state for audit. Admin only.
func (s *RequestService) Delete(ctx context.Context, number int64) error {
	actor, err := composables.UseUser(ctx)
	if err != nil {
		return request.NewForbiddenError("authentication required")
	}
	if err := s.perms.CanAdminister(ctx, actor); err != nil {
		return err
	}

	var snapshot *request.Request
	if err := s.inTx(ctx, func(txCtx context.Context) error {
		snapshot, err = s.repo.Delete(txCtx, number)
		return err
	}); err != nil {
		return err
	}

	if !snapshot.IsTerminal() {
		metrics.OpenRequests.Dec()
	}
	if s.bus != nil {
		s.bus.Publish(events.RequestDeleted{
			Type:          events.TypeRequestDeleted,
			RequestNumber: number,
			Actor:         actor.Login,
			At:            time.Now().UTC(),
			Snapshot:      snapshot,
		})
	}
	return nil
}
