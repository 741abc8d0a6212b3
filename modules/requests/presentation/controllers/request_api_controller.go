package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/modules/requests/services"
	"github.com/buildforge/buildforge/pkg/application"
	"github.com/buildforge/buildforge/pkg/authz"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/httpapi"
	"github.com/buildforge/buildforge/pkg/serrors"
)

// RequestAPIController exposes the request workflow over HTTP. It is a
// thin shell: it parses command strings into typed commands and maps the
// error taxonomy to statuses; all decisions live in the services.
type RequestAPIController struct {
	app      application.Application
	requests *services.RequestService
	workflow *services.Workflow
	diffs    *services.DiffService
	logger   *logrus.Logger
}

func NewRequestAPIController(app application.Application) application.Controller {
	return &RequestAPIController{
		app:      app,
		requests: app.Service(services.RequestService{}).(*services.RequestService),
		workflow: app.Service(services.Workflow{}).(*services.Workflow),
		diffs:    app.Service(services.DiffService{}).(*services.DiffService),
		logger:   app.Logger(),
	}
}

func (c *RequestAPIController) Key() string {
	return "/requests"
}

func (c *RequestAPIController) Register(r *mux.Router) {
	router := r.PathPrefix("/requests").Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("", c.CollectionCommand).Methods(http.MethodPost)
	router.HandleFunc("/{number:[0-9]+}", c.Show).Methods(http.MethodGet)
	router.HandleFunc("/{number:[0-9]+}", c.Update).Methods(http.MethodPut)
	router.HandleFunc("/{number:[0-9]+}", c.Destroy).Methods(http.MethodDelete)
	router.HandleFunc("/{number:[0-9]+}", c.Command).Methods(http.MethodPost)
}

type createRequestBody struct {
	Description string           `json:"description"`
	Actions     []request.Action `json:"actions"`
}

type replaceRequestBody struct {
	Creator     string           `json:"creator"`
	State       string           `json:"state"`
	Description string           `json:"description"`
	Actions     []request.Action `json:"actions"`
}

// CollectionCommand handles POST /requests. The only collection command
// is create.
func (c *RequestAPIController) CollectionCommand(w http.ResponseWriter, r *http.Request) {
	cmd := r.URL.Query().Get("cmd")
	if cmd != "" && cmd != "create" {
		c.writeError(w, request.NewUnknownCommandError(cmd))
		return
	}
	if _, err := composables.UseUser(r.Context()); err != nil {
		c.unauthorized(w)
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeError(w, request.NewValidationError("malformed request body: %s", err.Error()))
		return
	}
	created, err := c.requests.Create(r.Context(), services.CreateRequestParams{
		Description: body.Description,
		Actions:     body.Actions,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, created)
}

func (c *RequestAPIController) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		c.writeError(w, err)
		return
	}
	reqs, err := c.requests.List(r.Context(), filter)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*request.Request{}
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, reqs)
}

func (c *RequestAPIController) Show(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		c.writeError(w, err)
		return
	}
	req, err := c.requests.Get(r.Context(), number)
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, req)
}

func (c *RequestAPIController) Update(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if _, err := composables.UseUser(r.Context()); err != nil {
		c.unauthorized(w)
		return
	}

	var body replaceRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.writeError(w, request.NewValidationError("malformed request body: %s", err.Error()))
		return
	}
	replaced, err := c.requests.Replace(r.Context(), number, services.ReplaceRequestParams{
		Creator:     body.Creator,
		Description: body.Description,
		State:       request.State(body.State),
		Actions:     body.Actions,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, replaced)
}

func (c *RequestAPIController) Destroy(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if _, err := composables.UseUser(r.Context()); err != nil {
		c.unauthorized(w)
		return
	}
	if err := c.requests.Delete(r.Context(), number); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Command handles POST /requests/{number}?cmd=... . The request body, when
// present, is the comment. cmd=diff is the one read in the bunch and is
// open to anonymous callers.
func (c *RequestAPIController) Command(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		c.writeError(w, err)
		return
	}
	query := r.URL.Query()
	name := query.Get("cmd")

	if name == "diff" {
		c.diff(w, r, number, query)
		return
	}

	actor, err := composables.UseUser(r.Context())
	if err != nil {
		c.unauthorized(w)
		return
	}
	comment := query.Get("comment")
	if body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20)); len(body) > 0 {
		comment = strings.TrimSpace(string(body))
	}

	cmd, err := parseCommand(number, actor, name, comment, query)
	if err != nil {
		c.writeError(w, err)
		return
	}
	req, err := c.workflow.Execute(r.Context(), cmd)
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, req)
}

func (c *RequestAPIController) diff(w http.ResponseWriter, r *http.Request, number int64, query url.Values) {
	params := services.DiffParams{View: services.DiffViewPlain}
	if query.Get("view") == string(services.DiffViewStructured) {
		params.View = services.DiffViewStructured
	}
	params.WithIssues = query.Get("withissues") == "1"
	if raw := query.Get("diff_to_superseded"); raw != "" {
		target, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.writeError(w, request.NewValidationError("diff_to_superseded must be a request number"))
			return
		}
		params.DiffToSuperseded = &target
	}

	diff, err := c.diffs.Diff(r.Context(), number, params)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if params.View == services.DiffViewStructured {
		_ = httpapi.WriteJSON(w, http.StatusOK, diff)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diff.PlainText()))
}

func parseCommand(number int64, actor composables.Actor, name, comment string, query url.Values) (services.Command, error) {
	b := services.Command(nil)
	switch name {
	case "changestate":
		state := request.State(query.Get("newstate"))
		if !state.Valid() {
			return nil, request.NewValidationError("newstate %q is not known", query.Get("newstate"))
		}
		var supersededBy *int64
		if raw := query.Get("superseded_by"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, request.NewValidationError("superseded_by must be a request number")
			}
			supersededBy = &n
		}
		b = services.NewChangeStateCommand(number, actor, state, comment, supersededBy)
	case "addreview":
		cmd := services.NewAddReviewCommand(number, actor)
		cmd.ByUser = query.Get("by_user")
		cmd.ByGroup = query.Get("by_group")
		cmd.ByProject = query.Get("by_project")
		cmd.ByPackage = query.Get("by_package")
		cmd.Comment = comment
		b = cmd
	case "changereviewstate":
		state := request.ReviewState(query.Get("newstate"))
		if !state.Valid() {
			return nil, request.NewValidationError("newstate %q is not a review state", query.Get("newstate"))
		}
		cmd := services.NewChangeReviewStateCommand(number, actor, state)
		cmd.ByUser = query.Get("by_user")
		cmd.ByGroup = query.Get("by_group")
		cmd.ByProject = query.Get("by_project")
		cmd.ByPackage = query.Get("by_package")
		cmd.Comment = comment
		b = cmd
	case "assignreview":
		reviewer := query.Get("reviewer")
		if reviewer == "" {
			return nil, request.NewValidationError("assignreview requires a reviewer")
		}
		cmd := services.NewAssignReviewCommand(number, actor, reviewer)
		cmd.ByGroup = query.Get("by_group")
		cmd.ByProject = query.Get("by_project")
		cmd.ByPackage = query.Get("by_package")
		cmd.Comment = comment
		b = cmd
	case "setpriority":
		priority := request.Priority(query.Get("priority"))
		if !priority.Valid() {
			return nil, request.NewValidationError("priority %q is not known", query.Get("priority"))
		}
		b = services.NewSetPriorityCommand(number, actor, priority)
	case "setincident":
		incident := query.Get("incident")
		if incident == "" {
			return nil, request.NewValidationError("setincident requires an incident number")
		}
		b = services.NewSetIncidentCommand(number, actor, incident)
	case "setacceptat":
		var at *time.Time
		if raw := query.Get("time"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, request.NewValidationError("time must be RFC3339, got %q", raw)
			}
			at = &parsed
		}
		b = services.NewSetAcceptAtCommand(number, actor, at)
	case "approve":
		b = services.NewApproveCommand(number, actor, comment)
	case "cancelapproval":
		b = services.NewCancelApprovalCommand(number, actor, comment)
	default:
		return nil, request.NewUnknownCommandError(name)
	}
	return b, nil
}

func parseFilter(query url.Values) (request.Filter, error) {
	f := request.Filter{
		User:    query.Get("user"),
		Group:   query.Get("group"),
		Project: query.Get("project"),
		Package: query.Get("package"),
	}
	for _, role := range splitList(query.Get("roles")) {
		f.Roles = append(f.Roles, request.Role(role))
	}
	for _, s := range splitList(query.Get("states")) {
		f.States = append(f.States, request.State(s))
	}
	for _, t := range splitList(query.Get("types")) {
		f.Types = append(f.Types, request.ActionType(t))
	}
	for _, s := range splitList(query.Get("reviewstates")) {
		f.ReviewStates = append(f.ReviewStates, request.ReviewState(s))
	}
	for _, raw := range splitList(query.Get("ids")) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, request.NewValidationError("ids must be request numbers, got %q", raw)
		}
		f.IDs = append(f.IDs, n)
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, request.NewValidationError("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pathNumber(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["number"]
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, request.NewValidationError("request number must be numeric, got %q", raw)
	}
	return number, nil
}

func (c *RequestAPIController) unauthorized(w http.ResponseWriter) {
	_ = httpapi.WriteError(w, http.StatusUnauthorized, request.CodeForbidden, "authentication required")
}

func (c *RequestAPIController) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch serrors.CodeOf(err) {
	case request.CodeValidation, request.CodeUnknownCommand, request.CodeInvalidTransition:
		status = http.StatusBadRequest
	case request.CodeForbidden, authz.CodeForbidden:
		status = http.StatusForbidden
	case request.CodeNotFound, request.CodeMissingFilter:
		status = http.StatusNotFound
	case request.CodeConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		c.logger.WithError(err).Error("request api failure")
	}
	_ = httpapi.WriteErr(w, status, err)
}
