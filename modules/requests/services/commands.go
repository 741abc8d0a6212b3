package services

import (
	"time"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
)

// Command is the closed union of workflow operations. Dispatch is a type
// switch in Workflow.Execute; the transport layer parses command strings
// into these and keeps the unknown-command error at its own boundary.
type Command interface {
	Name() string
	RequestNumber() int64
	CommandActor() composables.Actor
}

type base struct {
	Number int64
	Actor  composables.Actor
}

func (b base) RequestNumber() int64            { return b.Number }
func (b base) CommandActor() composables.Actor { return b.Actor }

type ChangeStateCommand struct {
	base
	NewState     request.State
	Comment      string
	SupersededBy *int64
}

func NewChangeStateCommand(number int64, actor composables.Actor, newState request.State, comment string, supersededBy *int64) ChangeStateCommand {
	return ChangeStateCommand{base: base{Number: number, Actor: actor}, NewState: newState, Comment: comment, SupersededBy: supersededBy}
}

func (ChangeStateCommand) Name() string { return "changestate" }

type AddReviewCommand struct {
	base
	ByUser    string
	ByGroup   string
	ByProject string
	ByPackage string
	Comment   string
}

func NewAddReviewCommand(number int64, actor composables.Actor) AddReviewCommand {
	return AddReviewCommand{base: base{Number: number, Actor: actor}}
}

func (AddReviewCommand) Name() string { return "addreview" }

// ChangeReviewStateCommand identifies the review through its assignee
// reference, the way reviewers address their own checkpoint.
type ChangeReviewStateCommand struct {
	base
	NewState  request.ReviewState
	ByUser    string
	ByGroup   string
	ByProject string
	ByPackage string
	Comment   string
}

func NewChangeReviewStateCommand(number int64, actor composables.Actor, newState request.ReviewState) ChangeReviewStateCommand {
	return ChangeReviewStateCommand{base: base{Number: number, Actor: actor}, NewState: newState}
}

func (ChangeReviewStateCommand) Name() string { return "changereviewstate" }

// AssignReviewCommand reassigns an open review to a user: the original
// review is marked superseded and a fresh one is appended, preserving
// audit order. The review is addressed through its current assignee
// reference.
type AssignReviewCommand struct {
	base
	ByGroup   string
	ByProject string
	ByPackage string
	Reviewer  string
	Comment   string
}

func NewAssignReviewCommand(number int64, actor composables.Actor, reviewer string) AssignReviewCommand {
	return AssignReviewCommand{base: base{Number: number, Actor: actor}, Reviewer: reviewer}
}

func (AssignReviewCommand) Name() string { return "assignreview" }

type SetPriorityCommand struct {
	base
	Priority request.Priority
}

func NewSetPriorityCommand(number int64, actor composables.Actor, priority request.Priority) SetPriorityCommand {
	return SetPriorityCommand{base: base{Number: number, Actor: actor}, Priority: priority}
}

func (SetPriorityCommand) Name() string { return "setpriority" }

type SetIncidentCommand struct {
	base
	Incident string
}

func NewSetIncidentCommand(number int64, actor composables.Actor, incident string) SetIncidentCommand {
	return SetIncidentCommand{base: base{Number: number, Actor: actor}, Incident: incident}
}

func (SetIncidentCommand) Name() string { return "setincident" }

// SetAcceptAtCommand sets or, with a nil time, clears the auto-accept
// deadline.
type SetAcceptAtCommand struct {
	base
	At *time.Time
}

func NewSetAcceptAtCommand(number int64, actor composables.Actor, at *time.Time) SetAcceptAtCommand {
	return SetAcceptAtCommand{base: base{Number: number, Actor: actor}, At: at}
}

func (SetAcceptAtCommand) Name() string { return "setacceptat" }

type ApproveCommand struct {
	base
	Comment string
}

func NewApproveCommand(number int64, actor composables.Actor, comment string) ApproveCommand {
	return ApproveCommand{base: base{Number: number, Actor: actor}, Comment: comment}
}

func (ApproveCommand) Name() string { return "approve" }

type CancelApprovalCommand struct {
	base
	Comment string
}

func NewCancelApprovalCommand(number int64, actor composables.Actor, comment string) CancelApprovalCommand {
	return CancelApprovalCommand{base: base{Number: number, Actor: actor}, Comment: comment}
}

func (CancelApprovalCommand) Name() string { return "cancelapproval" }
