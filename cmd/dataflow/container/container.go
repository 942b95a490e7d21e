package container

import (
	"fmt"

	"github.com/casemirror/dataflow/cmd/dataflow/activity"
	"github.com/casemirror/dataflow/cmd/dataflow/casesync"
	"github.com/casemirror/dataflow/cmd/dataflow/changes"
	"github.com/casemirror/dataflow/cmd/dataflow/checkpoint"
	"github.com/casemirror/dataflow/cmd/dataflow/consolidation"
	"github.com/casemirror/dataflow/cmd/dataflow/consumer"
	"github.com/casemirror/dataflow/cmd/dataflow/ordersync"
	"github.com/casemirror/dataflow/cmd/dataflow/trustee"
	"github.com/casemirror/dataflow/common/bootstrap"
	"github.com/casemirror/dataflow/common/gateways"
	"github.com/casemirror/dataflow/common/repository"
	"github.com/casemirror/dataflow/common/validation"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Legacy sources
	Cases    *gateways.CasesGateway
	Orders   *gateways.OrdersGateway
	Trustees *gateways.TrusteesGateway

	// Repositories
	CheckpointRepo     *repository.CheckpointRepository
	SyncedCaseRepo     *repository.SyncedCaseRepository
	OrderRepo          *repository.OrderRepository
	ConsolidationRepo  *repository.ConsolidationRepository
	TrusteeRepo        *repository.TrusteeRepository
	AppointmentRepo    *repository.AppointmentRepository
	MigrationStateRepo *repository.MigrationStateRepository

	// Services
	Checkpoints *checkpoint.Service
	Detector    *changes.Detector
	OrderSync   *ordersync.Service
	CaseLoader  *casesync.Loader
	Reconciler  *consolidation.Reconciler
	Migrator    *trustee.Migrator
	Activities  *activity.Registry

	// Consumer is nil when redis is not configured
	Consumer *consumer.ActivityRequestConsumer
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	if components.DB == nil || components.Sources == nil {
		return nil, fmt.Errorf("document store and legacy sources are required")
	}

	cfg := components.Config
	log := components.Logger

	// Legacy source gateways
	casesGateway := gateways.NewCasesGateway(
		gateways.NewSource(cfg.Sources.Cases.Name, components.Sources.Cases, log.WithSource(cfg.Sources.Cases.Name)),
		components.Cache,
		cfg.Cache.DefaultTTL,
	)
	ordersGateway := gateways.NewOrdersGateway(
		gateways.NewSource(cfg.Sources.Orders.Name, components.Sources.Orders, log.WithSource(cfg.Sources.Orders.Name)),
	)
	trusteesGateway := gateways.NewTrusteesGateway(
		gateways.NewSource(cfg.Sources.Trustees.Name, components.Sources.Trustees, log.WithSource(cfg.Sources.Trustees.Name)),
	)

	// Initialize repositories
	checkpointRepo := repository.NewCheckpointRepository(components.DB)
	syncedCaseRepo := repository.NewSyncedCaseRepository(components.DB)
	orderRepo := repository.NewOrderRepository(components.DB)
	consolidationRepo := repository.NewConsolidationRepository(components.DB)
	trusteeRepo := repository.NewTrusteeRepository(components.DB)
	appointmentRepo := repository.NewAppointmentRepository(components.DB)
	migrationStateRepo := repository.NewMigrationStateRepository(components.DB)

	rules, err := validation.LoadRules(cfg.Sync.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration rules: %w", err)
	}
	validator, err := validation.NewValidator(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build migration validator: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	checkpoints := checkpoint.NewService(checkpointRepo, components.Metrics, log.WithActivity("checkpoint"))
	detector := changes.NewDetector(casesGateway, log.WithActivity("change-detection"))
	orderSync := ordersync.NewService(ordersGateway, orderRepo, components.Metrics, log.WithActivity("order-sync"))
	caseLoader := casesync.NewLoader(casesGateway, syncedCaseRepo, components.Metrics, log.WithActivity("case-sync"))
	reconciler := consolidation.NewReconciler(
		ordersGateway,
		casesGateway,
		consolidationRepo,
		components.Metrics,
		log.WithActivity("consolidation"),
	)
	migrator := trustee.NewMigrator(trustee.Config{
		Source:       trusteesGateway,
		Trustees:     trusteeRepo,
		Appointments: appointmentRepo,
		States:       migrationStateRepo,
		Rules:        validator,
		PageSize:     cfg.Sync.TrusteePageSize,
		Metrics:      components.Metrics,
		Logger:       log.WithActivity("trustee-migration"),
	})

	registry := activity.NewRegistry(components.Metrics, log)
	activity.Register(registry, activity.Services{
		Checkpoints:        checkpoints,
		Orders:             orderSync,
		Changes:            detector,
		Cases:              caseLoader,
		Consolidations:     reconciler,
		Trustees:           migrator,
		FanOutConcurrency:  cfg.Sync.FanOutConcurrency,
		DefaultMigrationID: cfg.Sync.MigrationID,
	})

	var requestConsumer *consumer.ActivityRequestConsumer
	if components.Redis != nil {
		requestConsumer = consumer.NewActivityRequestConsumer(
			components.Redis,
			registry,
			consumer.Config{
				RequestQueue: cfg.Redis.RequestQueue,
				ResultTTL:    cfg.Redis.ResultTTL,
			},
			log.WithActivity("activity-consumer"),
		)
	}

	return &Container{
		Components:         components,
		Cases:              casesGateway,
		Orders:             ordersGateway,
		Trustees:           trusteesGateway,
		CheckpointRepo:     checkpointRepo,
		SyncedCaseRepo:     syncedCaseRepo,
		OrderRepo:          orderRepo,
		ConsolidationRepo:  consolidationRepo,
		TrusteeRepo:        trusteeRepo,
		AppointmentRepo:    appointmentRepo,
		MigrationStateRepo: migrationStateRepo,
		Checkpoints:        checkpoints,
		Detector:           detector,
		OrderSync:          orderSync,
		CaseLoader:         caseLoader,
		Reconciler:         reconciler,
		Migrator:           migrator,
		Activities:         registry,
		Consumer:           requestConsumer,
	}, nil
}
