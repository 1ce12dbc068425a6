package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	operatorregistry "agora/contexts/access-control/operator-registry"
	accesspostgres "agora/contexts/access-control/operator-registry/adapters/postgres"
	accessworkers "agora/contexts/access-control/operator-registry/application/workers"
	accessports "agora/contexts/access-control/operator-registry/ports"
	sharecustody "agora/contexts/asset-custody/share-custody-service"
	custodypostgres "agora/contexts/asset-custody/share-custody-service/adapters/postgres"
	custodyworkers "agora/contexts/asset-custody/share-custody-service/application/workers"
	custodyports "agora/contexts/asset-custody/share-custody-service/ports"
	proposalengine "agora/contexts/governance/proposal-engine"
	governancepostgres "agora/contexts/governance/proposal-engine/adapters/postgres"
	governanceworkers "agora/contexts/governance/proposal-engine/application/workers"
	governanceports "agora/contexts/governance/proposal-engine/ports"
	contractsv1 "agora/contracts/gen/events/v1"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
	"agora/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so context code stays framework-agnostic.

const idempotencyTTL = 7 * 24 * time.Hour

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres *db.Postgres

	governanceRelay  governanceworkers.OutboxRelay
	custodyRelay     custodyworkers.OutboxRelay
	accessRelay      accessworkers.OutboxRelay
	governanceLedger governanceworkers.LedgerProjectionConsumer
	custodyLedger    custodyworkers.LedgerProjectionConsumer
	fractionPoll     governanceworkers.FractionPollConsumer

	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		applied, err := pg.MigrateUp()
		if err != nil {
			return nil, err
		}
		logger.Info("migrations applied on start",
			"event", "bootstrap_migrations_applied",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"applied", applied,
		)
	}

	accessRepo := accesspostgres.NewRepository(pg.DB, logger)
	accessModule := operatorregistry.NewModule(operatorregistry.Dependencies{
		Grants:         accessRepo,
		Idempotency:    accessRepo,
		Sequences:      accessRepo,
		Clock:          accesspostgres.SystemClock{},
		IDGen:          accesspostgres.UUIDGenerator{},
		IdempotencyTTL: idempotencyTTL,
		Logger:         logger,
	})
	if err := accessModule.Operators.SeedRootOperators(context.Background(), policy.RootOperators); err != nil {
		return nil, err
	}

	governanceRepo := governancepostgres.NewRepository(pg.DB, logger)
	governanceModule := proposalengine.NewModule(proposalengine.Dependencies{
		Proposals:      governanceRepo,
		Holdings:       governanceRepo,
		Operators:      accessModule.Queries,
		Idempotency:    governanceRepo,
		Sequences:      governanceRepo,
		Clock:          governancepostgres.SystemClock{},
		IDGen:          governancepostgres.UUIDGenerator{},
		IdempotencyTTL: idempotencyTTL,
		Logger:         logger,
	})

	custodyRepo := custodypostgres.NewRepository(pg.DB, logger)
	custodyModule := sharecustody.NewModule(sharecustody.Dependencies{
		Custody:        custodyRepo,
		Holdings:       custodyRepo,
		Operators:      accessModule.Queries,
		Idempotency:    custodyRepo,
		Sequences:      custodyRepo,
		Clock:          custodypostgres.SystemClock{},
		IDGen:          custodypostgres.UUIDGenerator{},
		IdempotencyTTL: idempotencyTTL,
		Logger:         logger,
	})

	server := httpserver.New(governanceModule, custodyModule, accessModule, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if _, err := pg.MigrateUp(); err != nil {
			return nil, err
		}
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	governanceRepo := governancepostgres.NewRepository(pg.DB, logger)
	custodyRepo := custodypostgres.NewRepository(pg.DB, logger)
	accessRepo := accesspostgres.NewRepository(pg.DB, logger)

	governanceBridge := governanceBus{kafka: kafka}
	custodyBridge := custodyBus{kafka: kafka}

	return &WorkerApp{
		postgres: pg,
		governanceRelay: governanceworkers.OutboxRelay{
			Outbox:    governanceRepo,
			Publisher: governanceBridge,
			Clock:     governancepostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		custodyRelay: custodyworkers.OutboxRelay{
			Outbox:    custodyRepo,
			Publisher: custodyBridge,
			Clock:     custodypostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		accessRelay: accessworkers.OutboxRelay{
			Outbox:    accessRepo,
			Publisher: accessBus{kafka: kafka},
			Clock:     accesspostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		governanceLedger: governanceworkers.LedgerProjectionConsumer{
			Subscriber: governanceBridge,
			Dedup:      governanceRepo,
			Holdings:   governanceRepo,
			Clock:      governancepostgres.SystemClock{},
			DedupTTL:   idempotencyTTL,
			Disabled:   !cfg.EnableGovernanceLedgerProjection,
			Logger:     logger,
		},
		custodyLedger: custodyworkers.LedgerProjectionConsumer{
			Subscriber: custodyBridge,
			Dedup:      custodyRepo,
			Holdings:   custodyRepo,
			Clock:      custodypostgres.SystemClock{},
			DedupTTL:   idempotencyTTL,
			Disabled:   !cfg.EnableCustodyLedgerProjection,
			Logger:     logger,
		},
		fractionPoll: governanceworkers.FractionPollConsumer{
			Subscriber:    governanceBridge,
			Dedup:         governanceRepo,
			Proposals:     governanceRepo,
			Sequences:     governanceRepo,
			Clock:         governancepostgres.SystemClock{},
			IDGen:         governancepostgres.UUIDGenerator{},
			DefaultWindow: policy.DefaultFractionWindow,
			DedupTTL:      idempotencyTTL,
			Disabled:      !cfg.EnableFractionPollConsumer,
			Logger:        logger,
		},
		pollInterval: 2 * time.Second,
		logger:       logger,
	}, nil
}

// RunMigrations connects and applies pending schema migrations once.
func RunMigrations() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return 0, errors.New("POSTGRES_DSN is required")
	}
	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return 0, err
	}
	defer func() { _ = pg.Close() }()
	return pg.MigrateUp()
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.governanceLedger.Start(ctx); err != nil {
		return err
	}
	if err := w.custodyLedger.Start(ctx); err != nil {
		return err
	}
	if err := w.fractionPoll.Start(ctx); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(w.relayLoop(ctx, "proposal-engine", w.governanceRelay.RunOnce))
	group.Go(w.relayLoop(ctx, "share-custody-service", w.custodyRelay.RunOnce))
	group.Go(w.relayLoop(ctx, "operator-registry", w.accessRelay.RunOnce))
	return group.Wait()
}

func (w *WorkerApp) relayLoop(ctx context.Context, service string, runOnce func(context.Context) (int, error)) func() error {
	return func() error {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			relayed, err := runOnce(ctx)
			if err != nil {
				return err
			}
			if relayed > 0 {
				metrics.OutboxPublished.WithLabelValues(service).Add(float64(relayed))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

// governanceBus bridges the proposal-engine event ports onto the shared bus.
// Envelopes are field-copied so the context keeps no dependency on the
// generated contracts package.
type governanceBus struct {
	kafka *messaging.Kafka
}

func (b governanceBus) Publish(ctx context.Context, topic string, event governanceports.EventEnvelope) error {
	return b.kafka.Publish(ctx, topic, contractsv1.Envelope{
		EventID:          event.EventID,
		EventType:        event.EventType,
		OccurredAt:       event.OccurredAt,
		SourceService:    event.SourceService,
		TraceID:          event.TraceID,
		SchemaVersion:    event.SchemaVersion,
		Sequence:         event.Sequence,
		PartitionKeyPath: event.PartitionKeyPath,
		PartitionKey:     event.PartitionKey,
		Data:             event.Data,
	})
}

func (b governanceBus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, governanceports.EventEnvelope) error,
) error {
	return b.kafka.Subscribe(ctx, topic, consumerGroup, func(ctx context.Context, event contractsv1.Envelope) error {
		return handler(ctx, governanceports.EventEnvelope{
			EventID:          event.EventID,
			EventType:        event.EventType,
			OccurredAt:       event.OccurredAt,
			SourceService:    event.SourceService,
			TraceID:          event.TraceID,
			SchemaVersion:    event.SchemaVersion,
			Sequence:         event.Sequence,
			PartitionKeyPath: event.PartitionKeyPath,
			PartitionKey:     event.PartitionKey,
			Data:             event.Data,
		})
	})
}

type custodyBus struct {
	kafka *messaging.Kafka
}

func (b custodyBus) Publish(ctx context.Context, topic string, event custodyports.EventEnvelope) error {
	return b.kafka.Publish(ctx, topic, contractsv1.Envelope{
		EventID:          event.EventID,
		EventType:        event.EventType,
		OccurredAt:       event.OccurredAt,
		SourceService:    event.SourceService,
		TraceID:          event.TraceID,
		SchemaVersion:    event.SchemaVersion,
		Sequence:         event.Sequence,
		PartitionKeyPath: event.PartitionKeyPath,
		PartitionKey:     event.PartitionKey,
		Data:             event.Data,
	})
}

func (b custodyBus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, custodyports.EventEnvelope) error,
) error {
	return b.kafka.Subscribe(ctx, topic, consumerGroup, func(ctx context.Context, event contractsv1.Envelope) error {
		return handler(ctx, custodyports.EventEnvelope{
			EventID:          event.EventID,
			EventType:        event.EventType,
			OccurredAt:       event.OccurredAt,
			SourceService:    event.SourceService,
			TraceID:          event.TraceID,
			SchemaVersion:    event.SchemaVersion,
			Sequence:         event.Sequence,
			PartitionKeyPath: event.PartitionKeyPath,
			PartitionKey:     event.PartitionKey,
			Data:             event.Data,
		})
	})
}

type accessBus struct {
	kafka *messaging.Kafka
}

func (b accessBus) Publish(ctx context.Context, topic string, event accessports.EventEnvelope) error {
	return b.kafka.Publish(ctx, topic, contractsv1.Envelope{
		EventID:          event.EventID,
		EventType:        event.EventType,
		OccurredAt:       event.OccurredAt,
		SourceService:    event.SourceService,
		TraceID:          event.TraceID,
		SchemaVersion:    event.SchemaVersion,
		Sequence:         event.Sequence,
		PartitionKeyPath: event.PartitionKeyPath,
		PartitionKey:     event.PartitionKey,
		Data:             event.Data,
	})
}

var _ governanceports.EventPublisher = governanceBus{}
var _ governanceports.EventSubscriber = governanceBus{}
var _ custodyports.EventPublisher = custodyBus{}
var _ custodyports.EventSubscriber = custodyBus{}
var _ accessports.EventPublisher = accessBus{}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
