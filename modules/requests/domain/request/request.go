package request

import (
	"time"

	"github.com/google/uuid"
)

// Request is the aggregate root of the workflow: a set of ordered actions,
// a set of ordered reviews, a state and the relationships to other
// requests. All mutation goes through the workflow engine; repositories
// persist whatever the engine hands them.
type Request struct {
	Number      int64    `json:"number"`
	State       State    `json:"state"`
	Creator     string   `json:"creator"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`

	AcceptAt   *time.Time `json:"accept_at,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	Actions []Action `json:"actions"`
	Reviews []Review `json:"reviews"`

	SupersededBy *int64  `json:"superseded_by,omitempty"`
	Supersedes   []int64 `json:"supersedes,omitempty"`

	// LockVersion implements optimistic concurrency: the repository
	// refuses to commit a request whose persisted version moved on.
	LockVersion int64 `json:"lock_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a request in state new. A request with zero actions is
// invalid and is never constructed, let alone persisted.
func New(creator string, description string, actions []Action) (*Request, error) {
	if creator == "" {
		return nil, NewValidationError("request creator is required")
	}
	if len(actions) == 0 {
		return nil, NewValidationError("request must contain at least one action")
	}
	now := time.Now().UTC()
	owned := make([]Action, len(actions))
	copy(owned, actions)
	for i := range owned {
		if err := owned[i].Validate(); err != nil {
			return nil, err
		}
		if owned[i].ID == uuid.Nil {
			owned[i].ID = uuid.New()
		}
		owned[i].AcceptInfo = nil
	}
	return &Request{
		State:       StateNew,
		Creator:     creator,
		Description: description,
		Priority:    PriorityModerate,
		Actions:     owned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *Request) IsTerminal() bool {
	return r.State.Terminal()
}

func (r *Request) OpenReviewCount() int {
	n := 0
	for i := range r.Reviews {
		if r.Reviews[i].IsOpen() {
			n++
		}
	}
	return n
}

func (r *Request) HasOpenReviews() bool {
	return r.OpenReviewCount() > 0
}

// AddReview appends a review in state new and moves the request into
// review if it is not there already.
func (r *Request) AddReview(rev Review) error {
	if err := rev.Validate(); err != nil {
		return err
	}
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	rev.State = ReviewStateNew
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	r.Reviews = append(r.Reviews, rev)
	r.State = StateReview
	return nil
}

// FindReview returns a pointer into the reviews slice, or nil.
func (r *Request) FindReview(id uuid.UUID) *Review {
	for i := range r.Reviews {
		if r.Reviews[i].ID == id {
			return &r.Reviews[i]
		}
	}
	return nil
}

// FindOpenReviewFor locates the open review assigned to the given
// reviewer reference.
func (r *Request) FindOpenReviewFor(byUser, byGroup, byProject, byPackage string) *Review {
	for i := range r.Reviews {
		rev := &r.Reviews[i]
		if !rev.IsOpen() {
			continue
		}
		if rev.ByUser == byUser && rev.ByGroup == byGroup &&
			rev.ByProject == byProject && rev.ByPackage == byPackage {
			return rev
		}
	}
	return nil
}

// ActionWithSameTarget returns the action of r matching the target of a,
// or nil. Used to pair actions across a superseding chain.
func (r *Request) ActionWithSameTarget(a Action) *Action {
	for i := range r.Actions {
		if r.Actions[i].SameTarget(a) {
			return &r.Actions[i]
		}
	}
	return nil
}

// IsSuperseding reports whether r supersedes the request with the given
// number.
func (r *Request) IsSuperseding(number int64) bool {
	for _, n := range r.Supersedes {
		if n == number {
			return true
		}
	}
	return false
}

// TargetsMaintenanceIncident reports whether every action targets a
// maintenance incident project (required by setincident).
func (r *Request) TargetsMaintenanceIncident() bool {
	for i := range r.Actions {
		if r.Actions[i].Type != ActionMaintenanceIncident {
			return false
		}
	}
	return len(r.Actions) > 0
}

// ResolveReview transitions one review and returns whether it was the
// last open one. The caller (the engine) decides the request-level
// consequence.
func (r *Request) ResolveReview(id uuid.UUID, state ReviewState, actor, comment string, at time.Time) (last bool, err error) {
	rev := r.FindReview(id)
	if rev == nil {
		return false, NewValidationError("review %s not found on request %d", id, r.Number)
	}
	if !rev.IsOpen() {
		return false, NewInvalidTransitionError(r.State, "changereviewstate")
	}
	rev.resolve(state, actor, comment, at)
	return !r.HasOpenReviews(), nil
}
