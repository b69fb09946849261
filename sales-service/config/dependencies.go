package config

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/retailcore/sales-system/sales-service/application"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/sales-service/handlers"
	"github.com/retailcore/sales-system/sales-service/infrastructure"
	"github.com/retailcore/sales-system/shared/events"
	sharedinfra "github.com/retailcore/sales-system/shared/infrastructure"
	"github.com/retailcore/sales-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories (postgres or memory, per config.Storage)
	SagaRepository         domain.SagaExecutionRepository
	ChoreographyRepository domain.ChoreographedSagaRepository
	EventStore             events.EventStore

	// Collaborator clients
	InventoryClient *infrastructure.HTTPInventoryClient
	PaymentClient   *infrastructure.HTTPPaymentClient
	OrderClient     *infrastructure.HTTPOrderClient

	// Use Cases
	SagaManager          *application.ConcurrentSagaManager
	Compensation         *application.CompensationService
	SellProduct          *application.SellProduct
	GetSale              *application.GetSale
	TrackChoreography    *application.TrackChoreography
	RefundOnCompensation *application.RefundOnCompensation
	TimeoutSweep         *application.TimeoutSweep

	// HTTP Handlers
	SaleHandlers *handlers.SaleHandlers

	// Event Handlers
	SaleEventHandlers *handlers.SaleEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.SalesServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize storage. Memory mode runs without a database for local
	// development and demos.
	switch config.Storage {
	case "memory":
		deps.SagaRepository = infrastructure.NewMemorySagaRepository()
		deps.ChoreographyRepository = infrastructure.NewMemoryChoreographyRepository()
		deps.EventStore = sharedinfra.NewMemoryEventStore()
	default:
		db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		deps.DB = db
		deps.SagaRepository = infrastructure.NewPostgresSagaRepository(db)
		deps.ChoreographyRepository = infrastructure.NewPostgresChoreographyRepository(db)
		deps.EventStore = sharedinfra.NewPostgresEventStore(db)
	}

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Every event published through journalingPublisher is appended to
	// the store before it goes out on SNS.
	journalingPublisher := sharedinfra.NewJournalingPublisher(deps.EventStore, eventPublisher)

	// Initialize collaborator clients
	deps.InventoryClient = infrastructure.NewHTTPInventoryClient(infrastructure.CollaboratorConfig{
		BaseURL:  config.Collaborators.InventoryURL,
		RetryMax: config.Collaborators.RetryMax,
		Timeout:  config.Collaborators.Timeout,
	})
	deps.PaymentClient = infrastructure.NewHTTPPaymentClient(infrastructure.CollaboratorConfig{
		BaseURL:  config.Collaborators.PaymentURL,
		RetryMax: config.Collaborators.RetryMax,
		Timeout:  config.Collaborators.Timeout,
	})
	deps.OrderClient = infrastructure.NewHTTPOrderClient(infrastructure.CollaboratorConfig{
		BaseURL:  config.Collaborators.OrderURL,
		RetryMax: config.Collaborators.RetryMax,
		Timeout:  config.Collaborators.Timeout,
	})

	// Initialize use cases
	deps.SagaManager = application.NewConcurrentSagaManager(deps.SagaRepository, journalingPublisher)
	deps.Compensation = application.NewCompensationService(deps.SagaManager, deps.InventoryClient)
	deps.SellProduct = application.NewSellProduct(
		deps.SagaRepository,
		deps.SagaManager,
		deps.Compensation,
		deps.InventoryClient,
		deps.PaymentClient,
		deps.OrderClient,
		journalingPublisher,
	)
	deps.GetSale = application.NewGetSale(deps.SagaRepository)
	deps.TrackChoreography = application.NewTrackChoreography(deps.ChoreographyRepository)
	// The refund handler appends its own journal entry, so it gets the
	// raw SNS publisher. Handing it journalingPublisher would journal
	// the refund event twice.
	deps.RefundOnCompensation = application.NewRefundOnCompensation(
		deps.EventStore,
		deps.PaymentClient,
		eventPublisher,
	)
	deps.TimeoutSweep = application.NewTimeoutSweep(
		deps.SagaRepository,
		deps.Compensation,
		journalingPublisher,
		config.Saga.Timeout,
	)

	// Initialize handlers
	deps.SaleHandlers = handlers.NewSaleHandlers(deps.SellProduct, deps.GetSale)
	deps.SaleEventHandlers = handlers.NewSaleEventHandlers(deps.TrackChoreography, deps.RefundOnCompensation)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
