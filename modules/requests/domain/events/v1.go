package events

import (
	"time"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
)

// Event types published on the application event bus. Delivery is
// asynchronous and best-effort; handlers must tolerate reordering.
const (
	TypeRequestCreated = "request.created"
	TypeRequestChanged = "request.changed"
	TypeReviewChanged  = "request.review_changed"
	TypeRequestDeleted = "request.deleted"
)

type RequestCreated struct {
	Type          string           `json:"type"`
	RequestNumber int64            `json:"request_number"`
	Actor         string           `json:"actor"`
	State         request.State    `json:"state"`
	At            time.Time        `json:"at"`
	Request       *request.Request `json:"request"`
}

type RequestChanged struct {
	Type          string        `json:"type"`
	RequestNumber int64         `json:"request_number"`
	Actor         string        `json:"actor"`
	Command       string        `json:"command"`
	OldState      request.State `json:"old_state"`
	NewState      request.State `json:"new_state"`
	Comment       string        `json:"comment,omitempty"`
	At            time.Time     `json:"at"`
}

type ReviewChanged struct {
	Type          string              `json:"type"`
	RequestNumber int64               `json:"request_number"`
	Actor         string              `json:"actor"`
	Assignee      string              `json:"assignee"`
	NewState      request.ReviewState `json:"new_state"`
	Comment       string              `json:"comment,omitempty"`
	At            time.Time           `json:"at"`
}

// RequestDeleted carries a snapshot of the request as it was before the
// hard delete, for audit.
type RequestDeleted struct {
	Type          string           `json:"type"`
	RequestNumber int64            `json:"request_number"`
	Actor         string           `json:"actor"`
	At            time.Time        `json:"at"`
	Snapshot      *request.Request `json:"snapshot"`
}
