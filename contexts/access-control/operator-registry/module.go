package operatorregistry

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/access-control/operator-registry/adapters/http"
	"agora/contexts/access-control/operator-registry/adapters/memory"
	"agora/contexts/access-control/operator-registry/application/commands"
	"agora/contexts/access-control/operator-registry/application/queries"
	"agora/contexts/access-control/operator-registry/domain/entities"
	"agora/contexts/access-control/operator-registry/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Operators commands.OperatorUseCase
	Queries   queries.OperatorQueryUseCase
	Store     *memory.Store
}

type Dependencies struct {
	Grants         ports.GrantRepository
	Idempotency    ports.IdempotencyStore
	Sequences      ports.EventSequences
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	operatorUseCase := commands.OperatorUseCase{
		Grants:         deps.Grants,
		Idempotency:    deps.Idempotency,
		Sequences:      deps.Sequences,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	queryUseCase := queries.OperatorQueryUseCase{
		Grants: deps.Grants,
	}
	return Module{
		Handler: httpadapter.Handler{
			Operators: operatorUseCase,
			Queries:   queryUseCase,
			Logger:    deps.Logger,
		},
		Operators: operatorUseCase,
		Queries:   queryUseCase,
	}
}

func NewInMemoryModule(seed []entities.OperatorGrant, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Grants:         store,
		Idempotency:    store,
		Sequences:      store,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
