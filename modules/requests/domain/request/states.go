package request

// State is the lifecycle state of a request. Terminal states admit no
// further mutating command.
type State string

const (
	StateNew        State = "new"
	StateReview     State = "review"
	StateDeclined   State = "declined"
	StateRevoked    State = "revoked"
	StateAccepted   State = "accepted"
	StateSuperseded State = "superseded"
	StateDeleted    State = "deleted"
)

func (s State) Valid() bool {
	switch s {
	case StateNew, StateReview, StateDeclined, StateRevoked, StateAccepted, StateSuperseded, StateDeleted:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateDeclined, StateRevoked, StateSuperseded, StateDeleted:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityModerate  Priority = "moderate"
	PriorityImportant Priority = "important"
	PriorityCritical  Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityModerate, PriorityImportant, PriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities for sorting; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityModerate:
		return 1
	case PriorityImportant:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

type ActionType string

const (
	ActionSubmit              ActionType = "submit"
	ActionDelete              ActionType = "delete"
	ActionChangeDevel         ActionType = "change_devel"
	ActionMaintenanceIncident ActionType = "maintenance_incident"
	ActionMaintenanceRelease  ActionType = "maintenance_release"
	ActionGroup               ActionType = "group"
	ActionSetBugowner         ActionType = "set_bugowner"
	ActionAddRole             ActionType = "add_role"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionSubmit, ActionDelete, ActionChangeDevel, ActionMaintenanceIncident,
		ActionMaintenanceRelease, ActionGroup, ActionSetBugowner, ActionAddRole:
		return true
	}
	return false
}

// SourceRequired reports whether the action type needs a source reference.
func (t ActionType) SourceRequired() bool {
	switch t {
	case ActionSubmit, ActionChangeDevel, ActionMaintenanceIncident, ActionMaintenanceRelease:
		return true
	}
	return false
}

type ReviewState string

const (
	ReviewStateNew        ReviewState = "new"
	ReviewStateAccepted   ReviewState = "accepted"
	ReviewStateDeclined   ReviewState = "declined"
	ReviewStateSuperseded ReviewState = "superseded"
	ReviewStateRevoked    ReviewState = "revoked"
)

func (s ReviewState) Valid() bool {
	switch s {
	case ReviewStateNew, ReviewStateAccepted, ReviewStateDeclined, ReviewStateSuperseded, ReviewStateRevoked:
		return true
	}
	return false
}
