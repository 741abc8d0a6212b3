package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/sirupsen/logrus"
)

// Service answers authorization questions through a casbin enforcer. It is
// the only component that knows how roles are stored; callers only ask
// allow/deny.
type Service struct {
	cfg      Config
	enforcer *casbin.Enforcer
	logger   *logrus.Entry
	mu       sync.RWMutex
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var logger *logrus.Entry
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("component", "authz")
	} else {
		logger = logrus.WithField("component", "authz")
	}

	enf, err := casbin.NewEnforcer(cfg.ModelPath, fileadapter.NewAdapter(cfg.PolicyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}

	return &Service{cfg: cfg, enforcer: enf, logger: logger}, nil
}

// Check returns whether the request is allowed.
func (s *Service) Check(ctx context.Context, req Request) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed, err := s.enforcer.Enforce(req.Subject, req.Domain, req.Object, req.Action)
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	return allowed, nil
}

// Authorize returns an error if the request is denied.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	allowed, err := s.Check(ctx, req)
	if err != nil {
		return err
	}
	if !allowed {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"subject": req.Subject,
			"domain":  req.Domain,
			"object":  req.Object,
			"action":  req.Action,
		}).Warn("authz denied request")
		return forbiddenError(req)
	}
	return nil
}

// HasRole reports whether the subject carries the named role, directly or
// through role inheritance.
func (s *Service) HasRole(ctx context.Context, subject, role string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles, err := s.enforcer.GetImplicitRolesForUser(subject)
	if err != nil {
		return false, fmt.Errorf("authz: role lookup failed: %w", err)
	}
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// PermissionsFor lists every policy rule the subject holds, directly or
// through role inheritance. Rows are [subject, domain, object, action].
func (s *Service) PermissionsFor(ctx context.Context, subject string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms, err := s.enforcer.GetImplicitPermissionsForUser(subject)
	if err != nil {
		return nil, fmt.Errorf("authz: permission lookup failed: %w", err)
	}
	return perms, nil
}

// AddPolicy appends one policy rule at runtime (admin tooling).
func (s *Service) AddPolicy(subject, domain, object, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enforcer.AddPolicy(subject, domain, object, action); err != nil {
		return fmt.Errorf("authz: add policy failed: %w", err)
	}
	return s.enforcer.SavePolicy()
}
