package authz

import "strings"

// Request is a single authorization question: may subject perform action
// on object within domain.
type Request struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

type RequestOption func(*Request)

func NewRequest(subject, domain, object, action string, opts ...RequestOption) Request {
	req := Request{
		Subject: subject,
		Domain:  domain,
		Object:  object,
		Action:  action,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// SubjectForUser builds the casbin subject for a user login.
func SubjectForUser(login string) string {
	return "user:" + login
}

// ObjectName joins a module and resource into the canonical object id,
// e.g. ObjectName("requests", "project:openSUSE:Factory").
func ObjectName(module, resource string) string {
	return module + "." + resource
}

func NormalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}

const (
	DomainGlobal = "global"

	ActionRead     = "read"
	ActionWrite    = "write"
	ActionMaintain = "maintain"
	ActionReview   = "review"
	ActionAdmin    = "admin"
	ActionMember   = "member"
	ActionBugowner = "bugowner"
	ActionDownload = "download"
)
