package request

// Role restricts which side of a request a user/project filter matches.
// Creator and reviewer are read off the request itself; the remaining
// roles are relationships between the user and the request's targets
// and live in the role store.
type Role string

const (
	RoleCreator    Role = "creator"
	RoleMaintainer Role = "maintainer"
	RoleReviewer   Role = "reviewer"
	RoleBugowner   Role = "bugowner"
	RoleDownloader Role = "downloader"
	RoleReader     Role = "reader"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCreator, RoleMaintainer, RoleReviewer, RoleBugowner, RoleDownloader, RoleReader:
		return true
	}
	return false
}

// Stored reports whether the role is answered by the role store rather
// than by the request itself.
func (r Role) Stored() bool {
	switch r {
	case RoleMaintainer, RoleBugowner, RoleDownloader, RoleReader:
		return true
	}
	return false
}

// TargetRef is one project or package coordinate a stored role expands
// to. An empty Package refers to the whole project.
type TargetRef struct {
	Project string
	Package string
}

// Filter is the collection query. Values within one dimension are
// OR-combined; dimensions are AND-combined. An entirely empty filter is
// rejected: unscoped scans over the collection are disallowed.
type Filter struct {
	Roles        []Role
	User         string
	Group        string
	Project      string
	Package      string
	States       []State
	Types        []ActionType
	ReviewStates []ReviewState
	IDs          []int64

	// RoleTargets is the expansion of the stored roles in Roles for User:
	// the coordinates on which the user holds them. The service fills it
	// before the query runs; the filter itself cannot ask the role store.
	RoleTargets []TargetRef

	// Limit truncates the result after ordering by number ascending, so
	// truncation is deterministic.
	Limit int
}

// Empty reports whether no scoping dimension is set (Roles and Limit do
// not scope on their own).
func (f Filter) Empty() bool {
	return f.User == "" && f.Group == "" && f.Project == "" && f.Package == "" &&
		len(f.States) == 0 && len(f.Types) == 0 && len(f.ReviewStates) == 0 && len(f.IDs) == 0
}

func (f Filter) Validate() error {
	if f.Empty() {
		return ErrMissingFilter
	}
	for _, s := range f.States {
		if !s.Valid() {
			return NewValidationError("unknown state %q in filter", string(s))
		}
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return NewValidationError("unknown action type %q in filter", string(t))
		}
	}
	for _, rs := range f.ReviewStates {
		if !rs.Valid() {
			return NewValidationError("unknown review state %q in filter", string(rs))
		}
	}
	for _, r := range f.Roles {
		if !r.Valid() {
			return NewValidationError("unknown role %q in filter", string(r))
		}
	}
	return nil
}

// StoredRoles returns the requested roles that need a role-store
// expansion into RoleTargets.
func (f Filter) StoredRoles() []Role {
	var out []Role
	for _, r := range f.Roles {
		if r.Stored() {
			out = append(out, r)
		}
	}
	return out
}

// Matches evaluates the filter against a fully loaded request. The
// repository pushes what it can into SQL and uses this for the rest; the
// in-memory test repository relies on it entirely.
func (f Filter) Matches(r *Request) bool {
	if len(f.IDs) > 0 && !containsInt64(f.IDs, r.Number) {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, r.State) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for i := range r.Actions {
			if containsType(f.Types, r.Actions[i].Type) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.ReviewStates) > 0 {
		found := false
		for i := range r.Reviews {
			if containsReviewState(f.ReviewStates, r.Reviews[i].State) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Project != "" && !f.matchesProject(r) {
		return false
	}
	if f.Package != "" && !f.matchesPackage(r) {
		return false
	}
	if f.User != "" && !f.matchesUser(r) {
		return false
	}
	if f.Group != "" && !f.matchesGroup(r) {
		return false
	}
	return true
}

func (f Filter) roleWanted(role Role) bool {
	if len(f.Roles) == 0 {
		return true
	}
	for _, r := range f.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (f Filter) matchesProject(r *Request) bool {
	for i := range r.Actions {
		a := &r.Actions[i]
		if a.TargetProject == f.Project || a.SourceProject == f.Project {
			return true
		}
	}
	if f.roleWanted(RoleReviewer) {
		for i := range r.Reviews {
			if r.Reviews[i].ByProject == f.Project {
				return true
			}
		}
	}
	return false
}

func (f Filter) matchesPackage(r *Request) bool {
	for i := range r.Actions {
		a := &r.Actions[i]
		if a.TargetPackage == f.Package || a.SourcePackage == f.Package {
			return true
		}
	}
	if f.roleWanted(RoleReviewer) {
		for i := range r.Reviews {
			if r.Reviews[i].ByPackage == f.Package {
				return true
			}
		}
	}
	return false
}

func (f Filter) matchesUser(r *Request) bool {
	if f.roleWanted(RoleCreator) && r.Creator == f.User {
		return true
	}
	if f.roleWanted(RoleReviewer) {
		for i := range r.Reviews {
			if r.Reviews[i].ByUser == f.User {
				return true
			}
		}
	}
	for i := range r.Actions {
		a := &r.Actions[i]
		for _, ref := range f.RoleTargets {
			if ref.Project == a.TargetProject && (ref.Package == "" || ref.Package == a.TargetPackage) {
				return true
			}
		}
	}
	return false
}

func (f Filter) matchesGroup(r *Request) bool {
	for i := range r.Reviews {
		if r.Reviews[i].ByGroup == f.Group {
			return true
		}
	}
	return false
}

func containsInt64(haystack []int64, needle int64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsState(haystack []State, needle State) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsType(haystack []ActionType, needle ActionType) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsReviewState(haystack []ReviewState, needle ReviewState) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
