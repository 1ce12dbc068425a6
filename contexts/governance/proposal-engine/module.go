package proposalengine

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/governance/proposal-engine/adapters/http"
	"agora/contexts/governance/proposal-engine/adapters/memory"
	"agora/contexts/governance/proposal-engine/application/commands"
	"agora/contexts/governance/proposal-engine/application/queries"
	"agora/contexts/governance/proposal-engine/domain/entities"
	"agora/contexts/governance/proposal-engine/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Proposals commands.ProposalUseCase
	Queries   queries.ProposalQueryUseCase
	Results   queries.ResultsQueryUseCase
	Store     *memory.Store
}

type Dependencies struct {
	Proposals      ports.ProposalRepository
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
	proposalUseCase := commands.ProposalUseCase{
		Proposals:      deps.Proposals,
		Holdings:       deps.Holdings,
		Operators:      deps.Operators,
		Idempotency:    deps.Idempotency,
		Sequences:      deps.Sequences,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	queryUseCase := queries.ProposalQueryUseCase{
		Proposals: deps.Proposals,
		Clock:     deps.Clock,
	}
	resultsUseCase := queries.ResultsQueryUseCase{
		Proposals: deps.Proposals,
		Clock:     deps.Clock,
	}
	return Module{
		Handler: httpadapter.Handler{
			Proposals: proposalUseCase,
			Queries:   queryUseCase,
			Results:   resultsUseCase,
			Logger:    deps.Logger,
		},
		Proposals: proposalUseCase,
		Queries:   queryUseCase,
		Results:   resultsUseCase,
	}
}

func NewInMemoryModule(seed []entities.Proposal, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Proposals:      store,
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
