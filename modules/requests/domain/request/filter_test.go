package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/buildforge/pkg/serrors"
)

func filterTestRequest(t *testing.T) *Request {
	t.Helper()
	req, err := New("alice", "", []Action{submit()})
	require.NoError(t, err)
	req.Number = 10
	require.NoError(t, req.AddReview(Review{ByGroup: "release-team"}))
	require.NoError(t, req.AddReview(Review{ByUser: "carol"}))
	return req
}

func TestFilterValidate(t *testing.T) {
	assert.True(t, serrors.HasCode(Filter{}.Validate(), CodeMissingFilter))
	assert.True(t, serrors.HasCode(Filter{Limit: 5}.Validate(), CodeMissingFilter), "limit alone does not scope")
	assert.True(t, serrors.HasCode(Filter{Roles: []Role{RoleCreator}}.Validate(), CodeMissingFilter), "roles alone do not scope")

	assert.NoError(t, Filter{User: "alice"}.Validate())
	assert.NoError(t, Filter{IDs: []int64{1}}.Validate())

	assert.True(t, serrors.HasCode(Filter{States: []State{"bogus"}}.Validate(), CodeValidation))
	assert.True(t, serrors.HasCode(Filter{Types: []ActionType{"bogus"}}.Validate(), CodeValidation))
	assert.True(t, serrors.HasCode(Filter{User: "alice", Roles: []Role{"bogus"}}.Validate(), CodeValidation))
}

func TestFilterMatches(t *testing.T) {
	req := filterTestRequest(t)

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"by creator", Filter{User: "alice"}, true},
		{"by reviewer user", Filter{User: "carol"}, true},
		{"unrelated user", Filter{User: "mallory"}, false},
		{"by group", Filter{Group: "release-team"}, true},
		{"by target project", Filter{Project: "core"}, true},
		{"by source project", Filter{Project: "home:alice"}, true},
		{"by package", Filter{Package: "tool"}, true},
		{"by state", Filter{States: []State{StateReview}}, true},
		{"wrong state", Filter{States: []State{StateAccepted}}, false},
		{"by type", Filter{Types: []ActionType{ActionSubmit, ActionDelete}}, true},
		{"by review state", Filter{ReviewStates: []ReviewState{ReviewStateNew}}, true},
		{"by id", Filter{IDs: []int64{10}}, true},
		{"wrong id", Filter{IDs: []int64{11}}, false},
		{"dimensions are ANDed", Filter{User: "alice", States: []State{StateAccepted}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(req))
		})
	}
}

func TestFilterRoleRestrictions(t *testing.T) {
	req := filterTestRequest(t)

	// carol only appears as reviewer, so restricting to creator drops her
	assert.False(t, Filter{User: "carol", Roles: []Role{RoleCreator}}.Matches(req))
	assert.True(t, Filter{User: "carol", Roles: []Role{RoleReviewer}}.Matches(req))

	// alice only appears as creator
	assert.True(t, Filter{User: "alice", Roles: []Role{RoleCreator}}.Matches(req))
	assert.False(t, Filter{User: "alice", Roles: []Role{RoleReviewer}}.Matches(req))
}

func TestFilterStoredRoleTargets(t *testing.T) {
	req := filterTestRequest(t)

	// stored roles match through the expanded target coordinates
	project := Filter{User: "bob", Roles: []Role{RoleMaintainer}, RoleTargets: []TargetRef{{Project: "core"}}}
	assert.True(t, project.Matches(req))

	exact := Filter{User: "bob", Roles: []Role{RoleReader}, RoleTargets: []TargetRef{{Project: "core", Package: "tool"}}}
	assert.True(t, exact.Matches(req))

	otherPkg := Filter{User: "bob", Roles: []Role{RoleMaintainer}, RoleTargets: []TargetRef{{Project: "core", Package: "other"}}}
	assert.False(t, otherPkg.Matches(req))

	// without an expansion a stored role matches nothing
	assert.False(t, Filter{User: "bob", Roles: []Role{RoleMaintainer}}.Matches(req))

	// roles within the dimension are OR-combined
	assert.True(t, Filter{User: "alice", Roles: []Role{RoleCreator, RoleMaintainer}}.Matches(req))

	assert.Equal(t, []Role{RoleMaintainer, RoleBugowner}, Filter{
		Roles: []Role{RoleCreator, RoleMaintainer, RoleReviewer, RoleBugowner},
	}.StoredRoles())
}
