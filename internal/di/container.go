package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/handlers"
	"github.com/hanko-field/fulfillment/internal/payments"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/platform/messaging"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
	firestorerepo "github.com/hanko-field/fulfillment/internal/repositories/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories/sqlite"
	"github.com/hanko-field/fulfillment/internal/services"
)

// Services bundles the service-layer contracts that handlers and consumers rely upon.
type Services struct {
	CostLedger  services.CostLedger
	Transitions services.StatusTransitionService
	Payments    services.PaymentLedger
	Allocator   services.BackorderAllocator
	Receipts    services.PurchaseReceiptService
}

// Container wires repositories, services, transports and background workers for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Health       repositories.HealthRepository
	Router       http.Handler

	logger      *zap.Logger
	idempotency idempotency.Store
	consumer    *messaging.AMQPConsumer
	closers     []func(context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// Option customises NewContainer. Tests use them to swap out cloud dependencies.
type Option func(*containerOptions)

type containerOptions struct {
	registry  repositories.Registry
	store     idempotency.Store
	publisher services.EventPublisher
	staffAuth func(http.Handler) http.Handler
	build     handlers.BuildInfo
	clock     func() time.Time
}

// WithRegistry supplies the repositories instead of opening the configured store driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithIdempotencyStore overrides the configured idempotency backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *containerOptions) { o.store = store }
}

// WithEventPublisher overrides the Pub/Sub publisher.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *containerOptions) { o.publisher = publisher }
}

// WithStaffAuthenticator replaces the Firebase middleware guarding /api/v1.
func WithStaffAuthenticator(mw func(http.Handler) http.Handler) Option {
	return func(o *containerOptions) { o.staffAuth = mw }
}

// WithBuildInfo sets the metadata echoed by the health endpoints.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithClock injects the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies in order: store, idempotency, events,
// payment verification, services, HTTP surface and the purchase receipt consumer.
// Background workers do not run until Start.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	var provider *pfirestore.Provider
	firestoreProvider := func() *pfirestore.Provider {
		if provider == nil {
			provider = pfirestore.NewProvider(cfg.Firestore,
				pfirestore.WithPingCollection(firestorerepo.HealthCollection),
				pfirestore.WithClientOptions(googleClientOptions(cfg)...),
			)
			c.closers = append(c.closers, provider.Close)
		}
		return provider
	}

	checks := []repositories.DependencyCheck{}

	reg := options.registry
	if reg == nil {
		reg, err = openRegistry(ctx, cfg, firestoreProvider)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, reg.Close)
	}
	c.Repositories = reg
	if health := reg.Health(); health != nil {
		checks = append(checks, repositories.DependencyCheck{Name: cfg.Store.Driver, Check: reportCheck(health)})
	}

	store := options.store
	if store == nil {
		var check *repositories.DependencyCheck
		store, check, err = c.openIdempotencyStore(cfg, firestoreProvider)
		if err != nil {
			return nil, err
		}
		if check != nil {
			checks = append(checks, *check)
		}
	}
	c.idempotency = store

	publisher := options.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" && strings.TrimSpace(cfg.PubSub.EventsTopic) != "" {
		var check repositories.DependencyCheck
		publisher, check, err = c.openPublisher(ctx, cfg.PubSub, googleClientOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	var verifier services.PaymentVerifier
	if cfg.Stripe.APIKey != "" {
		stripeVerifier, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{
			APIKey:   cfg.Stripe.APIKey,
			Account:  cfg.Stripe.Account,
			Currency: cfg.Stripe.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe verifier: %w", err)
		}
		verifier = stripeVerifier
	}

	c.Services, err = buildServices(reg, cfg, logger, options.clock, publisher, verifier)
	if err != nil {
		return nil, err
	}

	if len(checks) > 0 {
		c.Health, err = repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(options.clock))
		if err != nil {
			return nil, fmt.Errorf("build health repository: %w", err)
		}
	}

	staffAuth := options.staffAuth
	if staffAuth == nil {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		staffAuth = auth.NewAuthenticator(firebase).RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)
	}
	oidc, err := buildOIDCMiddleware(logger.Named("auth"), cfg)
	if err != nil {
		return nil, err
	}
	c.Router = c.buildRouter(cfg, options, staffAuth, oidc)

	if cfg.AMQP.URL != "" {
		c.consumer, err = messaging.NewAMQPConsumer(cfg.AMQP, c.Services.Receipts, logger.Named("amqp"))
		if err != nil {
			return nil, fmt.Errorf("build amqp consumer: %w", err)
		}
	}
	return c, nil
}

// Start launches the idempotency cleanup loop and, when configured, the AMQP consumer.
func (c *Container) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	if c.idempotency != nil && c.Config.Idempotency.CleanupInterval > 0 {
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			idempotency.RunCleanup(ctx, c.idempotency, c.Config.Idempotency.CleanupInterval, c.Config.Idempotency.CleanupBatchSize, c.logger.Named("idempotency"))
		}()
	}
	if c.consumer != nil {
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			if err := c.consumer.Run(ctx); err != nil {
				c.logger.Error("amqp consumer stopped", zap.Error(err))
			}
		}()
	}
}

// Close stops background workers and releases clients in reverse order of construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.workers.Wait()

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func openRegistry(ctx context.Context, cfg config.Config, provider func() *pfirestore.Provider) (repositories.Registry, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StoreDriverFirestore:
		store, err := firestorerepo.NewStore(provider())
		if err != nil {
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (c *Container) openIdempotencyStore(cfg config.Config, provider func() *pfirestore.Provider) (idempotency.Store, *repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendMemory:
		return idempotency.NewMemoryStore(), nil, nil
	case config.IdempotencyBackendFirestore:
		return idempotency.NewFirestoreStore(provider()), nil, nil
	case config.IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		check := &repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}
		return idempotency.NewRedisStore(client), check, nil
	default:
		return nil, nil, fmt.Errorf("unknown idempotency backend %q", cfg.Idempotency.Backend)
	}
}

func (c *Container) openPublisher(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (services.EventPublisher, repositories.DependencyCheck, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, repositories.DependencyCheck{}, fmt.Errorf("build pubsub client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	topic := client.Topic(cfg.EventsTopic)
	publisher, err := messaging.NewPubSubPublisher(topic)
	if err != nil {
		return nil, repositories.DependencyCheck{}, err
	}
	c.closers = append(c.closers, func(context.Context) error {
		publisher.Stop()
		return nil
	})

	check := repositories.DependencyCheck{
		Name: "pubsub",
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %q does not exist", cfg.EventsTopic)
			}
			return nil
		},
	}
	return publisher, check, nil
}

// googleClientOptions carries the service account file shared by Firestore and Pub/Sub.
func googleClientOptions(cfg config.Config) []option.ClientOption {
	if cfg.Firebase.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.Firebase.CredentialsFile)}
}

func buildServices(reg repositories.Registry, cfg config.Config, logger *zap.Logger, clock func() time.Time, publisher services.EventPublisher, verifier services.PaymentVerifier) (Services, error) {
	var svc Services
	serviceLogger := observability.ServiceLogger(logger.Named("services"))

	costLedger, err := services.NewCostLedger(services.CostLedgerDeps{
		StockItems: reg.StockItems(),
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cost ledger: %w", err)
	}
	svc.CostLedger = costLedger

	transitions, err := services.NewStatusTransitionService(services.StatusTransitionServiceDeps{
		Orders:     reg.Orders(),
		LineItems:  reg.LineItems(),
		History:    reg.StatusHistory(),
		UnitOfWork: reg,
		Events:     publisher,
		Clock:      clock,
		Logger:     serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build status transition service: %w", err)
	}
	svc.Transitions = transitions

	paymentLedger, err := services.NewPaymentLedger(services.PaymentLedgerDeps{
		Orders:      reg.Orders(),
		Payments:    reg.PaymentRecords(),
		Transitions: transitions,
		UnitOfWork:  reg,
		Verifier:    verifier,
		Events:      publisher,
		Clock:       clock,
		Logger:      serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment ledger: %w", err)
	}
	svc.Payments = paymentLedger

	metrics, err := observability.NewAllocationMetrics(nil)
	if err != nil {
		return Services{}, fmt.Errorf("build allocation metrics: %w", err)
	}
	allocator, err := services.NewBackorderAllocator(services.BackorderAllocatorDeps{
		PurchaseLines: reg.PurchaseLines(),
		LineItems:     reg.LineItems(),
		Orders:        reg.Orders(),
		StockItems:    reg.StockItems(),
		Transitions:   transitions,
		UnitOfWork:    reg,
		Events:        publisher,
		Metrics:       metrics,
		Clock:         clock,
		Logger:        serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build backorder allocator: %w", err)
	}
	svc.Allocator = allocator

	receipts, err := services.NewPurchaseReceiptService(services.PurchaseReceiptServiceDeps{
		PurchaseLines:  reg.PurchaseLines(),
		CostLedger:     costLedger,
		Allocator:      allocator,
		UnitOfWork:     reg,
		Events:         publisher,
		DefaultStoreID: cfg.Allocation.DefaultStoreID,
		Clock:          clock,
		Logger:         serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build purchase receipt service: %w", err)
	}
	svc.Receipts = receipts

	return svc, nil
}

func (c *Container) buildRouter(cfg config.Config, options containerOptions, staffAuth, oidc func(http.Handler) http.Handler) http.Handler {
	httpLogger := c.logger.Named("http")
	guard := idempotency.Middleware(c.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithClock(options.clock),
	)
	localizer := handlers.NewLocalizer(cfg.Locale.Tag())

	inventory := handlers.NewInventoryHandlers(c.Services.Receipts, c.Services.Allocator, c.Services.CostLedger,
		handlers.WithInventoryLocalizer(localizer),
		handlers.WithInventoryIdempotency(guard),
	)
	paymentHandlers := handlers.NewPaymentHandlers(c.Services.Payments,
		handlers.WithPaymentLocalizer(localizer),
		handlers.WithPaymentIdempotency(guard),
	)
	status := handlers.NewStatusHandlers(c.Services.Transitions,
		handlers.WithBatchRateLimit(cfg.RateLimit.BatchTransitions, cfg.RateLimit.Window, options.clock),
	)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(options.build),
		handlers.WithHealthClock(options.clock),
	}
	if c.Health != nil {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(c.Health))
	}

	projectID := cfg.Firebase.ProjectID
	if projectID == "" {
		projectID = cfg.Firestore.ProjectID
	}

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithAPIMiddlewares(staffAuth),
		handlers.WithAPIRoutes(inventory.Routes, paymentHandlers.Routes, status.Routes),
		handlers.WithInternalMiddlewares(oidc),
		handlers.WithInternalRoutes(inventory.InternalRoutes),
	)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) (func(http.Handler) http.Handler, error) {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil, nil
	}
	metrics, err := observability.NewVerificationMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("build verification metrics: %w", err)
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCMetrics(metrics))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers), nil
}

// reportCheck turns a store health report into a single check result.
func reportCheck(repo repositories.HealthRepository) func(context.Context) error {
	return func(ctx context.Context) error {
		report, err := repo.Collect(ctx)
		if err != nil {
			return err
		}
		if report.Status == domain.HealthStatusOK {
			return nil
		}
		var failing []string
		for name, check := range report.Checks {
			if check.Status != domain.HealthStatusOK {
				failing = append(failing, name+": "+check.Error)
			}
		}
		slices.Sort(failing)
		return errors.New(strings.Join(failing, "; "))
	}
}
