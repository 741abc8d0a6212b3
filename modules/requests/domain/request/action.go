package request

import (
	"github.com/google/uuid"
)

// AcceptInfo records the source revision an action was accepted at. It is
// populated only when the owning request reaches the accepted state.
type AcceptInfo struct {
	Rev      string `json:"rev"`
	SrcMD5   string `json:"srcmd5"`
	XSrcMD5  string `json:"xsrcmd5,omitempty"`
	OProject string `json:"oproject,omitempty"`
	OPackage string `json:"opackage,omitempty"`
}

// Action is one proposed change, owned by exactly one request.
type Action struct {
	ID               uuid.UUID   `json:"id"`
	Type             ActionType  `json:"type"`
	SourceProject    string      `json:"source_project,omitempty"`
	SourcePackage    string      `json:"source_package,omitempty"`
	SourceRev        string      `json:"source_rev,omitempty"`
	TargetProject    string      `json:"target_project"`
	TargetPackage    string      `json:"target_package,omitempty"`
	TargetRepository string      `json:"target_repository,omitempty"`
	AcceptInfo       *AcceptInfo `json:"accept_info,omitempty"`
}

func (a Action) Validate() error {
	if !a.Type.Valid() {
		return NewValidationError("action type %q is not known", string(a.Type))
	}
	if a.TargetProject == "" {
		return NewValidationError("action of type %s has no target project", string(a.Type))
	}
	if a.Type.SourceRequired() && a.SourceProject == "" {
		return NewValidationError("action of type %s requires a source project", string(a.Type))
	}
	return nil
}

// SameTarget reports whether two actions point at the same coordinate.
// Used to pair actions across a superseding chain for diffing.
func (a Action) SameTarget(other Action) bool {
	return a.Type == other.Type &&
		a.TargetProject == other.TargetProject &&
		a.TargetPackage == other.TargetPackage
}
