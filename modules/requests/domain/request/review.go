package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReviewHistoryEntry is one audit record of a review state change.
type ReviewHistoryEntry struct {
	State   ReviewState `json:"state"`
	Actor   string      `json:"actor"`
	Comment string      `json:"comment,omitempty"`
	At      time.Time   `json:"at"`
}

// Review is an approval checkpoint owned by exactly one request. Exactly
// one of ByUser, ByGroup, ByProject, ByPackage is set; ByPackage implies
// ByProject.
type Review struct {
	ID         uuid.UUID            `json:"id"`
	State      ReviewState          `json:"state"`
	ByUser     string               `json:"by_user,omitempty"`
	ByGroup    string               `json:"by_group,omitempty"`
	ByProject  string               `json:"by_project,omitempty"`
	ByPackage  string               `json:"by_package,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	ReviewedAt *time.Time           `json:"reviewed_at,omitempty"`
	History    []ReviewHistoryEntry `json:"history,omitempty"`
}

func (r Review) Validate() error {
	kinds := 0
	if r.ByUser != "" {
		kinds++
	}
	if r.ByGroup != "" {
		kinds++
	}
	// a package review names both coordinates but counts as one kind
	if r.ByProject != "" {
		kinds++
	} else if r.ByPackage != "" {
		return NewValidationError("review by_package requires by_project")
	}
	if kinds != 1 {
		return NewValidationError("review must name exactly one of by_user, by_group, by_project, by_package")
	}
	if r.State != "" && !r.State.Valid() {
		return NewValidationError("review state %q is not known", string(r.State))
	}
	return nil
}

func (r Review) IsOpen() bool {
	return r.State == ReviewStateNew
}

// Assignee renders the reviewer reference for error messages and events.
func (r Review) Assignee() string {
	switch {
	case r.ByUser != "":
		return "user " + r.ByUser
	case r.ByGroup != "":
		return "group " + r.ByGroup
	case r.ByPackage != "":
		return fmt.Sprintf("package %s/%s", r.ByProject, r.ByPackage)
	case r.ByProject != "":
		return "project " + r.ByProject
	}
	return "unassigned"
}

// resolve closes the review and appends the audit entry.
func (r *Review) resolve(state ReviewState, actor, comment string, at time.Time) {
	r.State = state
	reviewedAt := at
	r.ReviewedAt = &reviewedAt
	r.History = append(r.History, ReviewHistoryEntry{
		State:   state,
		Actor:   actor,
		Comment: comment,
		At:      at,
	})
}
