package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/serrors"
)

// ActionDiff is one diff fragment, in action order.
type ActionDiff struct {
	Action request.Action `json:"action"`
	Diff   string         `json:"diff"`
}

// RequestDiff is the merged diff document for a request.
type RequestDiff struct {
	Number  int64        `json:"number"`
	Actions []ActionDiff `json:"actions"`
}

// PlainText concatenates the fragments for callers that asked for the
// plain view.
func (d *RequestDiff) PlainText() string {
	var b strings.Builder
	for _, a := range d.Actions {
		b.WriteString(a.Diff)
	}
	return b.String()
}

type DiffParams struct {
	View             DiffView
	WithIssues       bool
	DiffToSuperseded *int64
}

// DiffService selects the comparison operands for each action and merges
// the backend's output in action order. The diff bytes themselves come
// from the backend collaborator.
type DiffService struct {
	repo    request.Repository
	backend DiffBackend
	cache   DiffCache
	logger  *logrus.Logger
}

func NewDiffService(repo request.Repository, backend DiffBackend, cache DiffCache, logger *logrus.Logger) *DiffService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DiffService{repo: repo, backend: backend, cache: cache, logger: logger}
}

func (s *DiffService) Diff(ctx context.Context, number int64, params DiffParams) (*RequestDiff, error) {
	req, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	var superseded *request.Request
	if params.DiffToSuperseded != nil {
		target := *params.DiffToSuperseded
		if !req.IsSuperseding(target) {
			return nil, serrors.NewError(
				request.CodeNotFound,
				fmt.Sprintf("Request %d does not exist or is not superseded by request %d.", target, req.Number),
				"Requests.Errors.NotFound",
			)
		}
		superseded, err = s.repo.GetByNumber(ctx, target)
		if err != nil {
			return nil, err
		}
	}

	opts := DiffOptions{View: params.View, WithIssues: params.WithIssues}
	result := &RequestDiff{Number: req.Number}
	for _, a := range req.Actions {
		var against *request.Action
		if superseded != nil {
			against = superseded.ActionWithSameTarget(a)
		}
		diff, err := s.actionDiff(ctx, req.Number, a, against, opts)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, ActionDiff{Action: a, Diff: diff})
	}
	return result, nil
}

// actionDiff consults the cache for plain, non-comparative diffs; other
// variants always go to the backend.
func (s *DiffService) actionDiff(ctx context.Context, number int64, a request.Action, against *request.Action, opts DiffOptions) (string, error) {
	cacheable := against == nil && s.cache != nil
	key := diffCacheKey(number, a.ID, opts.View, opts.WithIssues)
	if cacheable {
		if cached, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.WithError(err).Warn("diff cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	diff, err := s.backend.Diff(ctx, a, against, opts)
	if err != nil {
		return "", err
	}
	if cacheable {
		if err := s.cache.Set(ctx, key, diff); err != nil {
			s.logger.WithError(err).Warn("diff cache write failed")
		}
	}
	return diff, nil
}

func diffCacheKey(number int64, actionID uuid.UUID, view DiffView, withIssues bool) string {
	return fmt.Sprintf("reqdiff:%d:%s:%s:%t", number, actionID, view, withIssues)
}

// cacheActionDiffJob warms the diff cache for one action. Enqueued once
// per action right after request creation; failures are retried by the
// queue and never reach the creator.
type cacheActionDiffJob struct {
	backend DiffBackend
	cache   DiffCache
	number  int64
	action  request.Action
}

func (j cacheActionDiffJob) Name() string {
	return fmt.Sprintf("cache_action_diff:%d:%s", j.number, j.action.ID)
}

func (j cacheActionDiffJob) Run(ctx context.Context) error {
	opts := DiffOptions{View: DiffViewPlain}
	diff, err := j.backend.Diff(ctx, j.action, nil, opts)
	if err != nil {
		return err
	}
	return j.cache.Set(ctx, diffCacheKey(j.number, j.action.ID, opts.View, false), diff)
}
