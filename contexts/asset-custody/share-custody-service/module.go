package sharecustody

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/asset-custody/share-custody-service/adapters/http"
	"agora/contexts/asset-custody/share-custody-service/adapters/memory"
	"agora/contexts/asset-custody/share-custody-service/application/commands"
	"agora/contexts/asset-custody/share-custody-service/application/queries"
	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	"agora/contexts/asset-custody/share-custody-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Custody commands.CustodyUseCase
	Queries queries.CustodyQueryUseCase
	Store   *memory.Store
}

type Dependencies struct {
	Custody        ports.CustodyRepository
	Holdings       ports.HoldingsProjection
	Operators      ports.OperatorDirectory
	Idempotency    ports.IdempotencyStore
	Sequences      ports.EventSequences
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	custodyUseCase := commands.CustodyUseCase{
		Custody:        deps.Custody,
		Holdings:       deps.Holdings,
		Operators:      deps.Operators,
		Idempotency:    deps.Idempotency,
		Sequences:      deps.Sequences,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	queryUseCase := queries.CustodyQueryUseCase{
		Custody:  deps.Custody,
		Holdings: deps.Holdings,
	}
	return Module{
		Handler: httpadapter.Handler{
			Custody: custodyUseCase,
			Queries: queryUseCase,
			Logger:  deps.Logger,
		},
		Custody: custodyUseCase,
		Queries: queryUseCase,
	}
}

func NewInMemoryModule(seed []entities.FractionEntry, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Custody:        store,
		Holdings:       store,
		Operators:      store,
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
