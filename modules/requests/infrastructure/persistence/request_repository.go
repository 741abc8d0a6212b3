package persistence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/repo"
)

// RequestRepository persists the request aggregate in postgres. Writes
// expect to run inside a transaction opened by the service layer
// (composables.InTx); reads work against the pool directly.
type RequestRepository struct{}

func NewRequestRepository() request.Repository {
	return &RequestRepository{}
}

func asTime(v pgtype.Timestamptz) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time
}

func asTimePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func pgTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func asInt64Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func pgInt64Ptr(n *int64) pgtype.Int8 {
	if n == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *n, Valid: true}
}

func (r *RequestRepository) Create(ctx context.Context, req *request.Request) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var number int64
	if err := tx.QueryRow(ctx, `SELECT nextval('request_numbers')`).Scan(&number); err != nil {
		return nil, err
	}
	req.Number = number
	req.LockVersion = 0

	if _, err := tx.Exec(ctx, `
INSERT INTO requests (number, state, creator, description, priority, accept_at, approved_at, approved_by, superseded_by, lock_version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		req.Number,
		string(req.State),
		req.Creator,
		req.Description,
		string(req.Priority),
		pgTimePtr(req.AcceptAt),
		pgTimePtr(req.ApprovedAt),
		req.ApprovedBy,
		pgInt64Ptr(req.SupersededBy),
		req.LockVersion,
		req.CreatedAt,
		req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := r.insertChildren(ctx, tx, req); err != nil {
		return nil, err
	}
	return r.GetByNumber(ctx, req.Number)
}

func (r *RequestRepository) insertChildren(ctx context.Context, tx repo.Tx, req *request.Request) error {
	for i := range req.Actions {
		a := &req.Actions[i]
		var acceptInfo []byte
		if a.AcceptInfo != nil {
			b, err := json.Marshal(a.AcceptInfo)
			if err != nil {
				return err
			}
			acceptInfo = b
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO request_actions (id, request_number, position, type, source_project, source_package, source_rev, target_project, target_package, target_repository, accept_info)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
			a.ID, req.Number, i, string(a.Type),
			a.SourceProject, a.SourcePackage, a.SourceRev,
			a.TargetProject, a.TargetPackage, a.TargetRepository,
			acceptInfo,
		); err != nil {
			return err
		}
	}

	for i := range req.Reviews {
		rev := &req.Reviews[i]
		history, err := json.Marshal(rev.History)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO request_reviews (id, request_number, position, state, by_user, by_group, by_project, by_package, reason, created_at, reviewed_at, history)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
			rev.ID, req.Number, i, string(rev.State),
			rev.ByUser, rev.ByGroup, rev.ByProject, rev.ByPackage,
			rev.Reason, rev.CreatedAt, pgTimePtr(rev.ReviewedAt), history,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *RequestRepository) deleteChildren(ctx context.Context, tx repo.Tx, number int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM request_actions WHERE request_number=$1`, number); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM request_reviews WHERE request_number=$1`, number); err != nil {
		return err
	}
	return nil
}

func (r *RequestRepository) GetByNumber(ctx context.Context, number int64) (*request.Request, error) {
	reqs, err := r.loadWhere(ctx, `WHERE number = $1`, []any{number})
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, request.NewNotFoundError(number)
	}
	return reqs[0], nil
}

func (r *RequestRepository) Update(ctx context.Context, req *request.Request) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
UPDATE requests
SET state=$2, creator=$3, description=$4, priority=$5, accept_at=$6, approved_at=$7, approved_by=$8, superseded_by=$9, lock_version=lock_version+1, updated_at=$10
WHERE number=$1 AND lock_version=$11
`,
		req.Number,
		string(req.State),
		req.Creator,
		req.Description,
		string(req.Priority),
		pgTimePtr(req.AcceptAt),
		pgTimePtr(req.ApprovedAt),
		req.ApprovedBy,
		pgInt64Ptr(req.SupersededBy),
		req.UpdatedAt,
		req.LockVersion,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE number=$1)`, req.Number).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, request.NewNotFoundError(req.Number)
		}
		return nil, request.NewConflictError(req.Number)
	}

	if err := r.deleteChildren(ctx, tx, req.Number); err != nil {
		return nil, err
	}
	if err := r.insertChildren(ctx, tx, req); err != nil {
		return nil, err
	}
	return r.GetByNumber(ctx, req.Number)
}

func (r *RequestRepository) Replace(ctx context.Context, number int64, req *request.Request) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	req.Number = number
	tag, err := tx.Exec(ctx, `
UPDATE requests
SET state=$2, creator=$3, description=$4, priority=$5, accept_at=$6, approved_at=$7, approved_by=$8, superseded_by=$9, lock_version=0, created_at=$10, updated_at=$11
WHERE number=$1
`,
		number,
		string(req.State),
		req.Creator,
		req.Description,
		string(req.Priority),
		pgTimePtr(req.AcceptAt),
		pgTimePtr(req.ApprovedAt),
		req.ApprovedBy,
		pgInt64Ptr(req.SupersededBy),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, request.NewNotFoundError(number)
	}

	if err := r.deleteChildren(ctx, tx, number); err != nil {
		return nil, err
	}
	if err := r.insertChildren(ctx, tx, req); err != nil {
		return nil, err
	}
	return r.GetByNumber(ctx, number)
}

func (r *RequestRepository) Delete(ctx context.Context, number int64) (*request.Request, error) {
	snapshot, err := r.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM requests WHERE number=$1`, number); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Find pushes the cheap dimensions into SQL, then applies the full
// filter (role semantics included) in memory. Results are ordered by
// number ascending; the limit truncates after ordering.
func (r *RequestRepository) Find(ctx context.Context, f request.Filter) ([]*request.Request, error) {
	where := ``
	args := []any{}
	add := func(cond string, arg any) {
		args = append(args, arg)
		if where == "" {
			where = "WHERE "
		} else {
			where += " AND "
		}
		where += cond
	}

	if len(f.IDs) > 0 {
		add(`number = ANY($`+itoa(len(args)+1)+`)`, f.IDs)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		add(`state = ANY($`+itoa(len(args)+1)+`)`, states)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add(`EXISTS(SELECT 1 FROM request_actions a WHERE a.request_number = requests.number AND a.type = ANY($`+itoa(len(args)+1)+`))`, types)
	}
	if len(f.ReviewStates) > 0 {
		states := make([]string, len(f.ReviewStates))
		for i, s := range f.ReviewStates {
			states[i] = string(s)
		}
		add(`EXISTS(SELECT 1 FROM request_reviews v WHERE v.request_number = requests.number AND v.state = ANY($`+itoa(len(args)+1)+`))`, states)
	}
	if f.Project != "" {
		n := itoa(len(args) + 1)
		add(`(EXISTS(SELECT 1 FROM request_actions a WHERE a.request_number = requests.number AND (a.target_project = $`+n+` OR a.source_project = $`+n+`))
  OR EXISTS(SELECT 1 FROM request_reviews v WHERE v.request_number = requests.number AND v.by_project = $`+n+`))`, f.Project)
	}
	if f.User != "" && len(f.RoleTargets) == 0 {
		// a role-target expansion widens the user dimension beyond
		// creator/reviewer and is matched in memory below
		n := itoa(len(args) + 1)
		add(`(creator = $`+n+` OR EXISTS(SELECT 1 FROM request_reviews v WHERE v.request_number = requests.number AND v.by_user = $`+n+`))`, f.User)
	}
	if f.Group != "" {
		add(`EXISTS(SELECT 1 FROM request_reviews v WHERE v.request_number = requests.number AND v.by_group = $`+itoa(len(args)+1)+`)`, f.Group)
	}

	loaded, err := r.loadWhere(ctx, where+` ORDER BY number`, args)
	if err != nil {
		return nil, err
	}

	out := make([]*request.Request, 0, len(loaded))
	for _, req := range loaded {
		if !f.Matches(req) {
			continue
		}
		out = append(out, req)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *RequestRepository) DueForAcceptance(ctx context.Context, now time.Time) ([]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT r.number FROM requests r
WHERE r.state IN ('new','review')
  AND r.accept_at IS NOT NULL AND r.accept_at <= $1
  AND NOT EXISTS (SELECT 1 FROM request_reviews v WHERE v.request_number = r.number AND v.state = 'new')
ORDER BY r.number
`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// loadWhere loads full aggregates: one query for base rows, one for all
// actions, one for all reviews and one for the superseding back links.
func (r *RequestRepository) loadWhere(ctx context.Context, clause string, args []any) ([]*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT number, state, creator, description, priority, accept_at, approved_at, approved_by, superseded_by, lock_version, created_at, updated_at
FROM requests `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byNumber := map[int64]*request.Request{}
	var ordered []*request.Request
	for rows.Next() {
		var (
			req          request.Request
			state        string
			priority     string
			acceptAt     pgtype.Timestamptz
			approvedAt   pgtype.Timestamptz
			supersededBy pgtype.Int8
			createdAt    pgtype.Timestamptz
			updatedAt    pgtype.Timestamptz
		)
		if err := rows.Scan(
			&req.Number, &state, &req.Creator, &req.Description, &priority,
			&acceptAt, &approvedAt, &req.ApprovedBy, &supersededBy,
			&req.LockVersion, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		req.State = request.State(state)
		req.Priority = request.Priority(priority)
		req.AcceptAt = asTimePtr(acceptAt)
		req.ApprovedAt = asTimePtr(approvedAt)
		req.SupersededBy = asInt64Ptr(supersededBy)
		req.CreatedAt = asTime(createdAt)
		req.UpdatedAt = asTime(updatedAt)
		byNumber[req.Number] = &req
		ordered = append(ordered, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	numbers := make([]int64, 0, len(ordered))
	for _, req := range ordered {
		numbers = append(numbers, req.Number)
	}

	if err := r.loadActions(ctx, tx, numbers, byNumber); err != nil {
		return nil, err
	}
	if err := r.loadReviews(ctx, tx, numbers, byNumber); err != nil {
		return nil, err
	}
	if err := r.loadSupersedes(ctx, tx, numbers, byNumber); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (r *RequestRepository) loadActions(ctx context.Context, tx repo.Tx, numbers []int64, byNumber map[int64]*request.Request) error {
	rows, err := tx.Query(ctx, `
SELECT id, request_number, type, source_project, source_package, source_rev, target_project, target_package, target_repository, accept_info
FROM request_actions WHERE request_number = ANY($1) ORDER BY request_number, position
`, numbers)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a          request.Action
			number     int64
			actionType string
			acceptInfo []byte
		)
		if err := rows.Scan(
			&a.ID, &number, &actionType,
			&a.SourceProject, &a.SourcePackage, &a.SourceRev,
			&a.TargetProject, &a.TargetPackage, &a.TargetRepository,
			&acceptInfo,
		); err != nil {
			return err
		}
		a.Type = request.ActionType(actionType)
		if len(acceptInfo) > 0 {
			var info request.AcceptInfo
			if err := json.Unmarshal(acceptInfo, &info); err != nil {
				return err
			}
			a.AcceptInfo = &info
		}
		byNumber[number].Actions = append(byNumber[number].Actions, a)
	}
	return rows.Err()
}

func (r *RequestRepository) loadReviews(ctx context.Context, tx repo.Tx, numbers []int64, byNumber map[int64]*request.Request) error {
	rows, err := tx.Query(ctx, `
SELECT id, request_number, state, by_user, by_group, by_project, by_package, reason, created_at, reviewed_at, history
FROM request_reviews WHERE request_number = ANY($1) ORDER BY request_number, position
`, numbers)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rev        request.Review
			number     int64
			state      string
			createdAt  pgtype.Timestamptz
			reviewedAt pgtype.Timestamptz
			history    []byte
		)
		if err := rows.Scan(
			&rev.ID, &number, &state,
			&rev.ByUser, &rev.ByGroup, &rev.ByProject, &rev.ByPackage,
			&rev.Reason, &createdAt, &reviewedAt, &history,
		); err != nil {
			return err
		}
		rev.State = request.ReviewState(state)
		rev.CreatedAt = asTime(createdAt)
		rev.ReviewedAt = asTimePtr(reviewedAt)
		if len(history) > 0 {
			if err := json.Unmarshal(history, &rev.History); err != nil {
				return err
			}
		}
		byNumber[number].Reviews = append(byNumber[number].Reviews, rev)
	}
	return rows.Err()
}

func (r *RequestRepository) loadSupersedes(ctx context.Context, tx repo.Tx, numbers []int64, byNumber map[int64]*request.Request) error {
	rows, err := tx.Query(ctx, `
SELECT number, superseded_by FROM requests WHERE superseded_by = ANY($1) ORDER BY number
`, numbers)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var number, by int64
		if err := rows.Scan(&number, &by); err != nil {
			return err
		}
		byNumber[by].Supersedes = append(byNumber[by].Supersedes, number)
	}
	return rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
