package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/buildforge/modules/requests/domain/events"
	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/serrors"
)

type workflowFixture struct {
	workflow *Workflow
	repo     *memoryRepo
	authz    *fakeAuthz
	applier  *fakeApplier
	bus      *recordingBus
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	repo := newMemoryRepo()
	authz := newFakeAuthz()
	applier := &fakeApplier{}
	bus := &recordingBus{}
	workflow := NewWorkflow(WorkflowOptions{
		Repo:    repo,
		Perms:   NewPredicates(authz),
		Applier: applier,
		Bus:     bus,
		Tx:      PassthroughTx,
	})
	return &workflowFixture{workflow: workflow, repo: repo, authz: authz, applier: applier, bus: bus}
}

func submitAction() request.Action {
	return request.Action{
		Type:          request.ActionSubmit,
		SourceProject: "home:alice",
		SourcePackage: "tool",
		TargetProject: "core",
		TargetPackage: "tool",
	}
}

func (f *workflowFixture) seed(t *testing.T, creator string, actions ...request.Action) *request.Request {
	t.Helper()
	if len(actions) == 0 {
		actions = []request.Action{submitAction()}
	}
	req, err := request.New(creator, "please merge", actions)
	require.NoError(t, err)
	created, err := f.repo.Create(context.Background(), req)
	require.NoError(t, err)
	return created
}

func actor(login string) composables.Actor {
	return composables.Actor{Login: login}
}

func TestChangeStateAccept(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	updated, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("bob"), request.StateAccepted, "lgtm", nil))
	require.NoError(t, err)

	assert.Equal(t, request.StateAccepted, updated.State)
	require.NotNil(t, updated.Actions[0].AcceptInfo)
	assert.Equal(t, "1", updated.Actions[0].AcceptInfo.Rev)

	evts := f.bus.Events()
	require.Len(t, evts, 1)
	changed := evts[0].(events.RequestChanged)
	assert.Equal(t, request.StateNew, changed.OldState)
	assert.Equal(t, request.StateAccepted, changed.NewState)
	assert.Equal(t, "lgtm", changed.Comment)
}

func TestChangeStateAcceptBlockedByOpenReview(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("bob"), request.StateAccepted, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeInvalidTransition))
	assert.Empty(t, f.applier.applied)
}

func TestChangeStateAcceptWithoutWritePermission(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")

	_, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("mallory"), request.StateAccepted, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeForbidden))
}

func TestChangeStateRevoke(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")

	updated, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("alice"), request.StateRevoked, "changed my mind", nil))
	require.NoError(t, err)
	assert.Equal(t, request.StateRevoked, updated.State)

	// only the requester (or an admin) may revoke
	other := f.seed(t, "alice")
	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(other.Number, actor("mallory"), request.StateRevoked, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeForbidden))
}

func TestTerminalStateRejectsCommands(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")
	_, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("alice"), request.StateRevoked, "", nil))
	require.NoError(t, err)

	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("alice"), request.StateRevoked, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeInvalidTransition))

	_, err = f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	assert.True(t, serrors.HasCode(err, request.CodeInvalidTransition))
}

func TestChangeStateUnknownTarget(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.admins["root"] = true
	req := f.seed(t, "alice")

	_, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("root"), request.StateNew, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeValidation))
}

func TestAddReviewMovesToReview(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")

	updated, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)
	assert.Equal(t, request.StateReview, updated.State)
	require.Len(t, updated.Reviews, 1)
	assert.Equal(t, request.ReviewStateNew, updated.Reviews[0].State)
	assert.Equal(t, "carol", updated.Reviews[0].ByUser)
}

func TestChangeReviewStateAcceptTriggersAcceptance(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")
	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	cmd := NewChangeReviewStateCommand(req.Number, actor("carol"), request.ReviewStateAccepted)
	cmd.ByUser = "carol"
	cmd.Comment = "looks fine"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, request.StateAccepted, updated.State)
	require.Len(t, updated.Reviews, 1)
	assert.Equal(t, request.ReviewStateAccepted, updated.Reviews[0].State)
	require.Len(t, updated.Reviews[0].History, 1)
	assert.Equal(t, "carol", updated.Reviews[0].History[0].Actor)
	require.NotNil(t, updated.Actions[0].AcceptInfo)
}

func TestChangeReviewStateDeclineBlocksRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")
	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)
	_, err = f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("dave"))
	require.NoError(t, err)

	cmd := NewChangeReviewStateCommand(req.Number, actor("carol"), request.ReviewStateDeclined)
	cmd.ByUser = "carol"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, request.StateDeclined, updated.State)
	// dave's review stays open; the request-level decline wins regardless
	assert.Equal(t, request.ReviewStateNew, updated.Reviews[1].State)
	assert.Empty(t, f.applier.applied)
}

func TestChangeReviewStateWrongReviewer(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")
	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	cmd := NewChangeReviewStateCommand(req.Number, actor("mallory"), request.ReviewStateAccepted)
	cmd.ByUser = "carol"
	_, err = f.workflow.Execute(context.Background(), cmd)
	assert.True(t, serrors.HasCode(err, request.CodeForbidden))
}

func TestChangeReviewStateGroupMembership(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.members["bob|release-team"] = true
	req := f.seed(t, "alice")
	grp := NewAddReviewCommand(req.Number, actor("alice"))
	grp.ByGroup = "release-team"
	_, err := f.workflow.Execute(context.Background(), grp)
	require.NoError(t, err)

	cmd := NewChangeReviewStateCommand(req.Number, actor("bob"), request.ReviewStateAccepted)
	cmd.ByGroup = "release-team"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, request.StateAccepted, updated.State)
}

func TestFutureAcceptAtDefersAcceptance(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("alice", "core", "")
	req := f.seed(t, "alice")

	deadline := time.Now().UTC().Add(time.Hour)
	_, err := f.workflow.Execute(context.Background(), NewSetAcceptAtCommand(req.Number, actor("alice"), &deadline))
	require.NoError(t, err)
	_, err = f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	cmd := NewChangeReviewStateCommand(req.Number, actor("carol"), request.ReviewStateAccepted)
	cmd.ByUser = "carol"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, request.StateReview, updated.State)
	assert.Empty(t, f.applier.applied)
}

func TestAutoAcceptanceFailureLeavesReviewState(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")
	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	f.applier.applyErr = errors.New("backend down")
	cmd := NewChangeReviewStateCommand(req.Number, actor("carol"), request.ReviewStateAccepted)
	cmd.ByUser = "carol"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, request.StateReview, updated.State)
	assert.Equal(t, request.ReviewStateAccepted, updated.Reviews[0].State)
}

func TestAutoAcceptanceFailureWritesNoAcceptInfo(t *testing.T) {
	f := newWorkflowFixture(t)
	second := submitAction()
	second.SourcePackage = "lib"
	second.TargetPackage = "lib"
	req := f.seed(t, "alice", submitAction(), second)
	_, err := f.workflow.Execute(context.Background(), NewAddReviewCommand(req.Number, actor("alice")).withUser("carol"))
	require.NoError(t, err)

	// the second apply fails after the first succeeded
	f.applier.applyErr = errors.New("backend down")
	f.applier.applyErrAt = 2
	cmd := NewChangeReviewStateCommand(req.Number, actor("carol"), request.ReviewStateAccepted)
	cmd.ByUser = "carol"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, request.StateReview, updated.State)

	stored, err := f.repo.GetByNumber(context.Background(), req.Number)
	require.NoError(t, err)
	assert.Equal(t, request.StateReview, stored.State)
	for i := range stored.Actions {
		assert.Nil(t, stored.Actions[i].AcceptInfo)
	}
	assert.Equal(t, request.ReviewStateAccepted, stored.Reviews[0].State)
}

func TestAssignReviewSupersedesAndAppends(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.members["bob|release-team"] = true
	req := f.seed(t, "alice")
	grp := NewAddReviewCommand(req.Number, actor("alice"))
	grp.ByGroup = "release-team"
	_, err := f.workflow.Execute(context.Background(), grp)
	require.NoError(t, err)

	cmd := NewAssignReviewCommand(req.Number, actor("bob"), "carol")
	cmd.ByGroup = "release-team"
	updated, err := f.workflow.Execute(context.Background(), cmd)
	require.NoError(t, err)

	require.Len(t, updated.Reviews, 2)
	assert.Equal(t, request.ReviewStateSuperseded, updated.Reviews[0].State)
	assert.Equal(t, "carol", updated.Reviews[1].ByUser)
	assert.Equal(t, request.ReviewStateNew, updated.Reviews[1].State)
	assert.Equal(t, request.StateReview, updated.State)
}

func TestSetPriority(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	updated, err := f.workflow.Execute(context.Background(), NewSetPriorityCommand(req.Number, actor("bob"), request.PriorityCritical))
	require.NoError(t, err)
	assert.Equal(t, request.PriorityCritical, updated.Priority)

	_, err = f.workflow.Execute(context.Background(), NewSetPriorityCommand(req.Number, actor("mallory"), request.PriorityLow))
	assert.True(t, serrors.HasCode(err, request.CodeForbidden))
}

func TestSetIncident(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.admins["root"] = true

	incident := f.seed(t, "alice", request.Action{
		Type:          request.ActionMaintenanceIncident,
		SourceProject: "home:alice",
		SourcePackage: "tool",
		TargetProject: "maintenance:updates:17",
	})
	updated, err := f.workflow.Execute(context.Background(), NewSetIncidentCommand(incident.Number, actor("root"), "42"))
	require.NoError(t, err)
	assert.Equal(t, "maintenance:updates:42", updated.Actions[0].TargetProject)

	plain := f.seed(t, "alice")
	_, err = f.workflow.Execute(context.Background(), NewSetIncidentCommand(plain.Number, actor("root"), "42"))
	assert.True(t, serrors.HasCode(err, request.CodeValidation))
}

func TestSetAcceptAtClearsWithNil(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	deadline := time.Now().UTC().Add(time.Hour)
	updated, err := f.workflow.Execute(context.Background(), NewSetAcceptAtCommand(req.Number, actor("bob"), &deadline))
	require.NoError(t, err)
	require.NotNil(t, updated.AcceptAt)

	updated, err = f.workflow.Execute(context.Background(), NewSetAcceptAtCommand(req.Number, actor("bob"), nil))
	require.NoError(t, err)
	assert.Nil(t, updated.AcceptAt)
}

func TestApproveIsIdempotent(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	first, err := f.workflow.Execute(context.Background(), NewApproveCommand(req.Number, actor("bob"), ""))
	require.NoError(t, err)
	require.NotNil(t, first.ApprovedAt)
	assert.Equal(t, "bob", first.ApprovedBy)

	second, err := f.workflow.Execute(context.Background(), NewApproveCommand(req.Number, actor("bob"), ""))
	require.NoError(t, err)
	assert.Equal(t, first.ApprovedAt.Unix(), second.ApprovedAt.Unix())
	assert.Equal(t, first.LockVersion, second.LockVersion)

	cleared, err := f.workflow.Execute(context.Background(), NewCancelApprovalCommand(req.Number, actor("bob"), ""))
	require.NoError(t, err)
	assert.Nil(t, cleared.ApprovedAt)
	assert.Empty(t, cleared.ApprovedBy)
}

func TestSupersedeLinksBothRequests(t *testing.T) {
	f := newWorkflowFixture(t)
	old := f.seed(t, "alice")
	replacement := f.seed(t, "alice")

	updated, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(old.Number, actor("alice"), request.StateSuperseded, "replaced", &replacement.Number))
	require.NoError(t, err)

	assert.Equal(t, request.StateSuperseded, updated.State)
	require.NotNil(t, updated.SupersededBy)
	assert.Equal(t, replacement.Number, *updated.SupersededBy)

	other, err := f.repo.GetByNumber(context.Background(), replacement.Number)
	require.NoError(t, err)
	assert.True(t, other.IsSuperseding(old.Number))
}

func TestSupersedeRejectsSelfAndCycles(t *testing.T) {
	f := newWorkflowFixture(t)
	a := f.seed(t, "alice")
	b := f.seed(t, "alice")

	_, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(a.Number, actor("alice"), request.StateSuperseded, "", &a.Number))
	assert.True(t, serrors.HasCode(err, request.CodeValidation))

	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(a.Number, actor("alice"), request.StateSuperseded, "", &b.Number))
	require.NoError(t, err)

	// b superseded by a would close the loop; a is already superseded and
	// therefore terminal, but the cycle check must fire first for chains.
	c := f.seed(t, "alice")
	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(b.Number, actor("alice"), request.StateSuperseded, "", &c.Number))
	require.NoError(t, err)
	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(c.Number, actor("alice"), request.StateSuperseded, "", &a.Number))
	assert.True(t, serrors.HasCode(err, request.CodeValidation))
}

func TestSupersedeMissingTarget(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seed(t, "alice")

	_, err := f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("alice"), request.StateSuperseded, "", nil))
	assert.True(t, serrors.HasCode(err, request.CodeValidation))

	missing := int64(999)
	_, err = f.workflow.Execute(context.Background(), NewChangeStateCommand(req.Number, actor("alice"), request.StateSuperseded, "", &missing))
	assert.True(t, serrors.HasCode(err, request.CodeNotFound))
}

func TestConcurrentModificationSurfacesConflict(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("bob", "core", "")
	req := f.seed(t, "alice")

	stale, err := f.repo.GetByNumber(context.Background(), req.Number)
	require.NoError(t, err)
	_, err = f.repo.Update(context.Background(), stale)
	require.NoError(t, err)

	_, err = f.repo.Update(context.Background(), stale)
	assert.True(t, serrors.HasCode(err, request.CodeConflict))
}

func TestSchedulerAcceptsDueRequests(t *testing.T) {
	f := newWorkflowFixture(t)
	f.authz.grantMaintainer("alice", "core", "")
	due := f.seed(t, "alice")
	notDue := f.seed(t, "alice")

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	_, err := f.workflow.Execute(context.Background(), NewSetAcceptAtCommand(due.Number, actor("alice"), &past))
	require.NoError(t, err)
	_, err = f.workflow.Execute(context.Background(), NewSetAcceptAtCommand(notDue.Number, actor("alice"), &future))
	require.NoError(t, err)

	scheduler := NewAcceptScheduler(f.repo, f.workflow, time.Second, nil)
	scheduler.Tick(context.Background())

	accepted, err := f.repo.GetByNumber(context.Background(), due.Number)
	require.NoError(t, err)
	assert.Equal(t, request.StateAccepted, accepted.State)

	waiting, err := f.repo.GetByNumber(context.Background(), notDue.Number)
	require.NoError(t, err)
	assert.Equal(t, request.StateNew, waiting.State)
}

// withUser sets the reviewer reference on an add-review command.
func (c AddReviewCommand) withUser(login string) AddReviewCommand {
	c.ByUser = login
	return c
}
