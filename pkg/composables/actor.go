package composables

import (
	"context"
	"errors"

	"github.com/buildforge/buildforge/pkg/constants"
)

// SystemLogin identifies engine-driven operations (auto-acceptance, the
// accept-at scheduler). It bypasses authorization checks but not state
// machine rules.
const SystemLogin = "_system"

var ErrNoUser = errors.New("no authenticated user found in context")

// Actor is the identity a command runs as.
type Actor struct {
	Login string
}

func (a Actor) IsSystem() bool {
	return a.Login == SystemLogin
}

func (a Actor) IsAnonymous() bool {
	return a.Login == ""
}

func SystemActor() Actor {
	return Actor{Login: SystemLogin}
}

func WithUser(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, constants.UserKey, actor)
}

func UseUser(ctx context.Context) (Actor, error) {
	v := ctx.Value(constants.UserKey)
	if v == nil {
		return Actor{}, ErrNoUser
	}
	actor := v.(Actor)
	if actor.IsAnonymous() {
		return Actor{}, ErrNoUser
	}
	return actor, nil
}
