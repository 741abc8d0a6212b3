package requests

import (
	"github.com/buildforge/buildforge/modules/requests/presentation/controllers"
	"github.com/buildforge/buildforge/modules/requests/services"
	"github.com/buildforge/buildforge/pkg/application"
	"github.com/buildforge/buildforge/pkg/jobs"

	"github.com/buildforge/buildforge/modules/requests/infrastructure/persistence"
)

// ModuleOptions carries the collaborators the module cannot build itself:
// role storage, the source backend and the diff cache.
type ModuleOptions struct {
	Authorizer services.Authorizer
	Applier    services.ActionApplier
	Backend    services.DiffBackend
	Cache      services.DiffCache
	Policy     services.ReviewPolicy
}

type Module struct {
	opts ModuleOptions
}

func NewModule(opts ModuleOptions) *Module {
	return &Module{opts: opts}
}

func (m *Module) Name() string {
	return "requests"
}

func (m *Module) Register(app application.Application) error {
	repo := persistence.NewRequestRepository()
	perms := services.NewPredicates(m.opts.Authorizer)

	workflow := services.NewWorkflow(services.WorkflowOptions{
		Repo:    repo,
		Perms:   perms,
		Applier: m.opts.Applier,
		Bus:     app.EventPublisher(),
		Logger:  app.Logger(),
	})
	requestService := services.NewRequestService(services.RequestServiceOptions{
		Repo:    repo,
		Perms:   perms,
		Policy:  m.opts.Policy,
		Applier: m.opts.Applier,
		Backend: m.opts.Backend,
		Cache:   m.opts.Cache,
		Bus:     app.EventPublisher(),
		Jobs:    queueEnqueuer{app.Jobs()},
		Logger:  app.Logger(),
	})
	diffService := services.NewDiffService(repo, m.opts.Backend, m.opts.Cache, app.Logger())

	app.RegisterServices(workflow, requestService, diffService)
	app.RegisterControllers(controllers.NewRequestAPIController(app))
	return nil
}

// queueEnqueuer adapts the jobs queue to the service-level enqueue
// interface.
type queueEnqueuer struct {
	queue *jobs.Queue
}

func (q queueEnqueuer) Enqueue(job services.Job) {
	if q.queue == nil {
		return
	}
	q.queue.Enqueue(job)
}
