package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
)

// memoryRepo implements request.Repository on a map. It honors the same
// contract as the postgres repository: number assignment, lock-version
// compare-and-set and deterministic Find ordering.
type memoryRepo struct {
	mu    sync.Mutex
	next  int64
	store map[int64]*request.Request
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{store: map[int64]*request.Request{}}
}

func cloneRequest(r *request.Request) *request.Request {
	c := *r
	c.Actions = make([]request.Action, len(r.Actions))
	copy(c.Actions, r.Actions)
	for i := range r.Actions {
		if r.Actions[i].AcceptInfo != nil {
			info := *r.Actions[i].AcceptInfo
			c.Actions[i].AcceptInfo = &info
		}
	}
	c.Reviews = make([]request.Review, len(r.Reviews))
	copy(c.Reviews, r.Reviews)
	for i := range r.Reviews {
		if r.Reviews[i].ReviewedAt != nil {
			at := *r.Reviews[i].ReviewedAt
			c.Reviews[i].ReviewedAt = &at
		}
		c.Reviews[i].History = append([]request.ReviewHistoryEntry(nil), r.Reviews[i].History...)
	}
	if r.AcceptAt != nil {
		at := *r.AcceptAt
		c.AcceptAt = &at
	}
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		c.ApprovedAt = &at
	}
	if r.SupersededBy != nil {
		by := *r.SupersededBy
		c.SupersededBy = &by
	}
	c.Supersedes = append([]int64(nil), r.Supersedes...)
	return &c
}

func (m *memoryRepo) Create(ctx context.Context, req *request.Request) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	req.Number = m.next
	req.LockVersion = 0
	m.store[req.Number] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (m *memoryRepo) GetByNumber(ctx context.Context, number int64) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[number]
	if !ok {
		return nil, request.NewNotFoundError(number)
	}
	return cloneRequest(stored), nil
}

func (m *memoryRepo) Update(ctx context.Context, req *request.Request) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[req.Number]
	if !ok {
		return nil, request.NewNotFoundError(req.Number)
	}
	if stored.LockVersion != req.LockVersion {
		return nil, request.NewConflictError(req.Number)
	}
	committed := cloneRequest(req)
	committed.LockVersion++
	m.store[req.Number] = committed
	return cloneRequest(committed), nil
}

func (m *memoryRepo) Replace(ctx context.Context, number int64, req *request.Request) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[number]; !ok {
		return nil, request.NewNotFoundError(number)
	}
	req.Number = number
	req.LockVersion = 0
	m.store[number] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (m *memoryRepo) Delete(ctx context.Context, number int64) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[number]
	if !ok {
		return nil, request.NewNotFoundError(number)
	}
	delete(m.store, number)
	return cloneRequest(stored), nil
}

func (m *memoryRepo) Find(ctx context.Context, f request.Filter) ([]*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*request.Request
	for number := int64(1); number <= m.next; number++ {
		stored, ok := m.store[number]
		if !ok || !f.Matches(stored) {
			continue
		}
		out = append(out, cloneRequest(stored))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) DueForAcceptance(ctx context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var numbers []int64
	for number := int64(1); number <= m.next; number++ {
		stored, ok := m.store[number]
		if !ok || stored.IsTerminal() || stored.AcceptAt == nil {
			continue
		}
		if stored.AcceptAt.After(now) || stored.HasOpenReviews() {
			continue
		}
		numbers = append(numbers, number)
	}
	return numbers, nil
}

// fakeAuthz stores role facts as flat sets keyed login|project|pkg.
type fakeAuthz struct {
	admins      map[string]bool
	maintainers map[string]bool
	writers     map[string]bool
	members     map[string]bool
	targets     map[string][]request.TargetRef
}

func newFakeAuthz() *fakeAuthz {
	return &fakeAuthz{
		admins:      map[string]bool{},
		maintainers: map[string]bool{},
		writers:     map[string]bool{},
		members:     map[string]bool{},
		targets:     map[string][]request.TargetRef{},
	}
}

func roleKey(login, project, pkg string) string {
	return login + "|" + project + "|" + pkg
}

func (f *fakeAuthz) grantMaintainer(login, project, pkg string) {
	f.maintainers[roleKey(login, project, pkg)] = true
	f.writers[roleKey(login, project, pkg)] = true
	f.grantTargetRole(login, request.RoleMaintainer, project, pkg)
}

func (f *fakeAuthz) grantTargetRole(login string, role request.Role, project, pkg string) {
	key := login + "|" + string(role)
	f.targets[key] = append(f.targets[key], request.TargetRef{Project: project, Package: pkg})
}

func (f *fakeAuthz) IsAdmin(ctx context.Context, login string) (bool, error) {
	return f.admins[login], nil
}

func (f *fakeAuthz) IsMaintainer(ctx context.Context, login, project, pkg string) (bool, error) {
	return f.maintainers[roleKey(login, project, pkg)] || f.maintainers[roleKey(login, project, "")], nil
}

func (f *fakeAuthz) CanWriteTarget(ctx context.Context, login, project, pkg string) (bool, error) {
	return f.writers[roleKey(login, project, pkg)] || f.writers[roleKey(login, project, "")], nil
}

func (f *fakeAuthz) IsGroupMember(ctx context.Context, login, group string) (bool, error) {
	return f.members[login+"|"+group], nil
}

func (f *fakeAuthz) TargetsWithRole(ctx context.Context, login string, role request.Role) ([]request.TargetRef, error) {
	return f.targets[login+"|"+string(role)], nil
}

// fakeApplier accepts everything unless told otherwise and records what
// it applied. applyErrAt makes only the nth apply fail (1-based); zero
// means applyErr applies to every call.
type fakeApplier struct {
	mu          sync.Mutex
	validateErr error
	applyErr    error
	applyErrAt  int
	calls       int
	applied     []request.Action
}

func (f *fakeApplier) ValidateTarget(ctx context.Context, action request.Action) error {
	return f.validateErr
}

func (f *fakeApplier) Apply(ctx context.Context, action request.Action) (*request.AcceptInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.applyErr != nil && (f.applyErrAt == 0 || f.calls == f.applyErrAt) {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, action)
	return &request.AcceptInfo{Rev: "1", SrcMD5: "d41d8cd98f00b204e9800998ecf8427e"}, nil
}

type fakeBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Diff(ctx context.Context, action request.Action, against *request.Action, opts DiffOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if against != nil {
		return fmt.Sprintf("diff %s/%s against %s\n", action.TargetProject, action.TargetPackage, against.ID), nil
	}
	return fmt.Sprintf("diff %s/%s\n", action.TargetProject, action.TargetPackage), nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.entries[key]
	return value, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return nil
}

// recordingBus collects published events; delivery is not under test.
type recordingBus struct {
	mu     sync.Mutex
	events []any
}

func (b *recordingBus) Publish(args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, args...)
}

func (b *recordingBus) Subscribe(handler interface{})   {}
func (b *recordingBus) Unsubscribe(handler interface{}) {}
func (b *recordingBus) Clear()                          {}
func (b *recordingBus) SubscribersCount() int           { return 0 }

func (b *recordingBus) Events() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.events...)
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recordingJobs) Enqueue(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}
