package access

import (
	"context"
	"strings"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/authz"
	"github.com/buildforge/buildforge/pkg/composables"
)

// CasbinAuthorizer answers the engine's role questions from the casbin
// policy store. Objects follow the scheme requests.project:<name> and
// requests.package:<project>/<package>; package rights fall back to the
// enclosing project.
type CasbinAuthorizer struct {
	svc *authz.Service
}

func NewCasbinAuthorizer(svc *authz.Service) *CasbinAuthorizer {
	return &CasbinAuthorizer{svc: svc}
}

const adminRole = "role:admin"

func projectObject(project string) string {
	return authz.ObjectName("requests", "project:"+project)
}

func packageObject(project, pkg string) string {
	return authz.ObjectName("requests", "package:"+project+"/"+pkg)
}

func (a *CasbinAuthorizer) IsAdmin(ctx context.Context, login string) (bool, error) {
	if login == composables.SystemLogin {
		return true, nil
	}
	return a.svc.HasRole(ctx, authz.SubjectForUser(login), adminRole)
}

func (a *CasbinAuthorizer) IsMaintainer(ctx context.Context, login, project, pkg string) (bool, error) {
	return a.check(ctx, login, project, pkg, authz.ActionMaintain)
}

func (a *CasbinAuthorizer) CanWriteTarget(ctx context.Context, login, project, pkg string) (bool, error) {
	return a.check(ctx, login, project, pkg, authz.ActionWrite)
}

func (a *CasbinAuthorizer) IsGroupMember(ctx context.Context, login, group string) (bool, error) {
	return a.svc.HasRole(ctx, authz.SubjectForUser(login), "group:"+group)
}

// roleActions maps stored filter roles onto policy actions.
var roleActions = map[request.Role]string{
	request.RoleMaintainer: authz.ActionMaintain,
	request.RoleBugowner:   authz.ActionBugowner,
	request.RoleDownloader: authz.ActionDownload,
	request.RoleReader:     authz.ActionRead,
}

// TargetsWithRole expands a stored role into the coordinates the login
// holds it on, by enumerating the policy rules (own and inherited) whose
// action matches the role.
func (a *CasbinAuthorizer) TargetsWithRole(ctx context.Context, login string, role request.Role) ([]request.TargetRef, error) {
	action, ok := roleActions[role]
	if !ok {
		return nil, nil
	}
	rows, err := a.svc.PermissionsFor(ctx, authz.SubjectForUser(login))
	if err != nil {
		return nil, err
	}
	var refs []request.TargetRef
	for _, row := range rows {
		if len(row) < 4 || row[3] != action {
			continue
		}
		if ref, ok := parseTargetObject(row[2]); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func parseTargetObject(object string) (request.TargetRef, bool) {
	if rest, ok := strings.CutPrefix(object, projectObject("")); ok {
		return request.TargetRef{Project: rest}, rest != ""
	}
	if rest, ok := strings.CutPrefix(object, authz.ObjectName("requests", "package:")); ok {
		project, pkg, found := strings.Cut(rest, "/")
		if !found || project == "" || pkg == "" {
			return request.TargetRef{}, false
		}
		return request.TargetRef{Project: project, Package: pkg}, true
	}
	return request.TargetRef{}, false
}

func (a *CasbinAuthorizer) check(ctx context.Context, login, project, pkg, action string) (bool, error) {
	subject := authz.SubjectForUser(login)
	if pkg != "" {
		allowed, err := a.svc.Check(ctx, authz.NewRequest(subject, authz.DomainGlobal, packageObject(project, pkg), action))
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return a.svc.Check(ctx, authz.NewRequest(subject, authz.DomainGlobal, projectObject(project), action))
}
