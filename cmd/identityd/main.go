package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/adapters/zaplog"
	"github.com/goliatone/go-identity/cache/rediscache"
	"github.com/goliatone/go-identity/config"
	"github.com/goliatone/go-identity/events/kafka"
	"github.com/goliatone/go-identity/httpapi"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-identity/notify"
	"github.com/goliatone/go-identity/provider/auth0"
	"github.com/goliatone/go-identity/provider/keycloak"
	"github.com/goliatone/go-identity/provider/local"
	"github.com/goliatone/go-identity/repository"
	"github.com/goliatone/go-identity/store/mongostore"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds the wired services and the resources closed on shutdown.
type App struct {
	cfg     *config.Config
	logger  identity.Logger
	metrics *identity.Metrics

	users       identity.UserDirectory
	permStore   identity.PermissionStore
	tx          identity.TxRunner
	cache       identity.PermissionCache
	gateway     identity.IdentityGateway
	validators  []identity.AccessTokenValidator
	notifier    *notify.Service
	bus         *identity.EventBus
	permissions *identity.PermissionAuthorizationService
	lifecycle   *identity.AccountLifecycleService

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func main() {
	configPath := flag.String("config", os.Getenv("IDENTITY_CONFIG_FILE"), "path to a config file (yaml, json, toml or .env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	zl, err := zaplog.Build(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal(err)
	}

	os.Exit(start(cfg, zaplog.New(zl), zl.Sync))
}

func start(cfg *config.Config, logger identity.Logger, sync func() error) int {
	defer sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: identity.NewMetrics(prometheus.DefaultRegisterer),
	}
	defer app.Close()

	if err := app.run(ctx); err != nil {
		logger.Error("identityd stopped: %v", err)
		return 1
	}
	return 0
}

func (a *App) run(ctx context.Context) error {
	if err := a.setupStorage(ctx); err != nil {
		return err
	}

	if err := a.setupCache(ctx); err != nil {
		return err
	}

	a.permissions = identity.NewPermissionAuthorizationService(a.permStore,
		identity.WithPermissionCache(a.cache),
		identity.WithAuthorizationMetrics(a.metrics),
		identity.WithAuthorizationActivitySink(a.activitySink()),
		identity.WithAuthorizationLogger(a.logger),
	)

	a.lifecycle = identity.NewAccountLifecycleService(a.users,
		identity.WithLifecycleTxRunner(a.tx),
		identity.WithLifecycleCacheInvalidator(a.permissions),
		identity.WithLifecycleActivitySink(a.activitySink()),
		identity.WithLifecycleLogger(a.logger),
	)

	if err := a.setupGateway(); err != nil {
		return err
	}

	if err := a.setupEvents(); err != nil {
		return err
	}

	codec, err := identity.NewTokenCodec([]byte(a.cfg.GetSigningKey()),
		identity.WithTokenIssuer(a.cfg.Token.Issuer),
		identity.WithTokenLogger(a.logger),
	)
	if err != nil {
		return err
	}

	defaultRole, err := identity.ParseRole(a.cfg.GetDefaultRole())
	if err != nil {
		return err
	}

	links := identity.NewLinkBuilder(a.cfg.GetFrontendURL())

	registration := identity.NewRegistrationOrchestrator(a.gateway, a.lifecycle, codec,
		identity.WithRegistrationTxRunner(a.tx),
		identity.WithRegistrationNotifier(a.notifier),
		identity.WithRegistrationPublisher(a.bus),
		identity.WithRegistrationLinks(links),
		identity.WithRegistrationVerificationTTL(a.cfg.GetEmailVerificationTTL()),
		identity.WithRegistrationDefaultRole(defaultRole),
		identity.WithRegistrationActivitySink(a.activitySink()),
		identity.WithRegistrationMetrics(a.metrics),
		identity.WithRegistrationLogger(a.logger),
	)

	validator := identity.NewMultiTokenValidator(a.validators...)
	accounts := identity.NewAccountService(a.gateway, a.lifecycle, codec,
		identity.WithAccountNotifier(a.notifier),
		identity.WithAccountLinks(links),
		identity.WithAccountTokenTTLs(a.cfg.GetEmailVerificationTTL(), a.cfg.GetPasswordResetTTL()),
		identity.WithPasswordResetRateLimit(a.cfg.GetPasswordResetRatePerMinute(), a.cfg.GetPasswordResetBurst()),
		identity.WithAccountActivitySink(a.activitySink()),
		identity.WithAccountMetrics(a.metrics),
		identity.WithAccountTokenValidator(validator),
		identity.WithAccountLogger(a.logger),
	)

	controller := httpapi.NewController(
		httpapi.WithLogger(a.logger),
		httpapi.WithDebug(a.cfg.Log.Development),
		httpapi.WithRegistration(registration),
		httpapi.WithAccounts(accounts),
		httpapi.WithLifecycle(a.lifecycle),
		httpapi.WithPermissions(a.permissions),
		httpapi.WithTokenValidator(validator),
		httpapi.WithGatherer(prometheus.DefaultGatherer),
	)
	server := httpapi.NewApp(controller)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("identityd listening on %s (db=%s cache=%s gateway=%s)",
			a.cfg.HTTP.Addr, a.cfg.Database.Driver, a.cfg.Cache.Driver, a.cfg.Gateway.Driver)
		errCh <- server.Listen(a.cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.bus.Wait()
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case repository.DriverSQLite, repository.DriverPostgres:
		db, err := repository.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db)

		applied, err := repository.Migrate(ctx, db)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			a.logger.Info("applied migrations: %s", strings.Join(applied, ", "))
		}

		repos := repository.NewRepositoryManager(db)
		if err := repos.Validate(); err != nil {
			return err
		}
		a.users, a.permStore, a.tx = repos.Users(), repos.Permissions(), repos
	case "mongo":
		client, err := mongostore.Connect(ctx, a.cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closerFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}))

		store := mongostore.New(client.Database(a.cfg.Database.MongoDB))
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		seeded, err := store.Seed(ctx)
		if err != nil {
			return err
		}
		if seeded > 0 {
			a.logger.Info("seeded %d role permission mappings", seeded)
		}
		a.users, a.permStore, a.tx = store.Users(), store.Permissions(), store
	default:
		return fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	switch a.cfg.Cache.Driver {
	case "", "memory":
		a.cache = identity.NewMemoryPermissionCache()
	case "redis":
		client, err := rediscache.Connect(ctx, a.cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client)
		a.cache = rediscache.New(client,
			rediscache.WithPrefix(a.cfg.Cache.Prefix),
			rediscache.WithLogger(a.logger),
		)
	default:
		return fmt.Errorf("unsupported cache driver %q", a.cfg.Cache.Driver)
	}
	return nil
}

func (a *App) setupGateway() error {
	switch a.cfg.Gateway.Driver {
	case "local":
		// access tokens carry their own issuer so verification tokens
		// signed with the same key never pass as bearer tokens
		gw, err := local.New([]byte(a.cfg.GetSigningKey()),
			local.WithIssuer(a.cfg.Token.Issuer+"-local"),
			local.WithTokenTTLs(a.cfg.Token.LocalAccessTokenTTL, a.cfg.Token.LocalRefreshTokenTTL),
			local.WithRoleSource(a.directoryRoles),
			local.WithLogger(a.logger),
		)
		if err != nil {
			return err
		}
		a.gateway = gw
		a.validators = append(a.validators, gw)
	case "keycloak":
		kc := a.cfg.Keycloak
		gw, err := keycloak.New(keycloak.Config{
			BaseURL:           kc.BaseURL,
			Realm:             kc.Realm,
			AdminClientID:     kc.AdminClientID,
			AdminClientSecret: kc.AdminClientSecret,
			UserClientID:      kc.UserClientID,
			UserClientSecret:  kc.UserClientSecret,
			Logger:            a.logger,
		})
		if err != nil {
			return err
		}
		a.gateway = gw

		urls := a.cfg.JWKSURLs()
		if len(urls) == 0 {
			urls = []string{strings.TrimRight(kc.BaseURL, "/") + "/realms/" + kc.Realm + "/protocol/openid-connect/certs"}
		}
		validator, err := jwtware.NewValidator(jwtware.KeyConfig{
			JWKSetURLs: urls,
			Issuer:     strings.TrimRight(kc.BaseURL, "/") + "/realms/" + kc.Realm,
			RefreshErrorHandler: func(err error) {
				a.logger.Warn("keycloak JWKS refresh failed: %v", err)
			},
		})
		if err != nil {
			return err
		}
		a.validators = append(a.validators, validator)
		return nil
	case "auth0":
		ac := a.cfg.Auth0
		gw, err := auth0.NewGateway(auth0.GatewayConfig{
			Domain:       ac.Domain,
			ClientID:     ac.ClientID,
			ClientSecret: ac.ClientSecret,
			Connection:   ac.Connection,
			Logger:       a.logger,
		})
		if err != nil {
			return err
		}
		a.gateway = gw

		validator, err := auth0.NewTokenValidator(auth0.DefaultConfig(ac.Domain, []string{ac.Audience}))
		if err != nil {
			return err
		}
		a.validators = append(a.validators, validator)
	default:
		return fmt.Errorf("unsupported gateway driver %q", a.cfg.Gateway.Driver)
	}

	if urls := a.cfg.JWKSURLs(); len(urls) > 0 {
		validator, err := jwtware.NewValidator(jwtware.KeyConfig{
			JWKSetURLs: urls,
			RefreshErrorHandler: func(err error) {
				a.logger.Warn("JWKS refresh failed: %v", err)
			},
		})
		if err != nil {
			return err
		}
		a.validators = append(a.validators, validator)
	}
	return nil
}

func (a *App) setupEvents() error {
	notifier, err := notify.New(
		notify.WithFrom(a.cfg.Mail.From),
		notify.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.notifier = notifier

	a.bus = identity.NewEventBus(a.logger)
	a.bus.Subscribe(identity.EventUserRegistered, identity.WelcomeEmailHandler(notifier, a.logger))

	if producer := kafka.NewProducer(a.cfg.KafkaBrokers(), a.cfg.Kafka.Topic, kafka.WithProducerLogger(a.logger)); producer != nil {
		a.bus.Subscribe(identity.EventUserRegistered, producer.Handle)
		a.closers = append(a.closers, producer)
	}
	return nil
}

// directoryRoles stamps the directory roles on locally minted access tokens.
func (a *App) directoryRoles(ctx context.Context, id uuid.UUID) ([]string, error) {
	user, err := a.lifecycle.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Roles().Strings(), nil
}

func (a *App) activitySink() identity.ActivitySink {
	return identity.ActivitySinkFunc(func(_ context.Context, event identity.ActivityEvent) error {
		a.logger.Info("activity %s actor=%s user=%s %s",
			event.EventType, event.Actor.ID, event.UserID, print.MaybePrettyJSON(event.Metadata))
		return nil
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing resources: %v", err)
	}
}
