package modules

import (
	"github.com/buildforge/buildforge/modules/requests"
	"github.com/buildforge/buildforge/pkg/application"
)

// BuiltIn returns every module compiled into the server binary, in
// registration order.
func BuiltIn(requestOpts requests.ModuleOptions) []application.Module {
	return []application.Module{
		requests.NewModule(requestOpts),
	}
}
