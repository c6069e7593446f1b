// Package httpapi exposes the identity services over HTTP with fiber.
package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller holds the services behind every route.
type Controller struct {
	Debug        bool
	Logger       identity.Logger
	Registration *identity.RegistrationOrchestrator
	Accounts     *identity.AccountService
	Lifecycle    *identity.AccountLifecycleService
	Permissions  *identity.PermissionAuthorizationService
	Authorizer   *identity.Authorizer
	Validator    identity.AccessTokenValidator
	Gatherer     prometheus.Gatherer
}

type ControllerOption func(*Controller) *Controller

func WithLogger(logger identity.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

func WithRegistration(o *identity.RegistrationOrchestrator) ControllerOption {
	return func(c *Controller) *Controller {
		c.Registration = o
		return c
	}
}

func WithAccounts(s *identity.AccountService) ControllerOption {
	return func(c *Controller) *Controller {
		c.Accounts = s
		return c
	}
}

func WithLifecycle(s *identity.AccountLifecycleService) ControllerOption {
	return func(c *Controller) *Controller {
		c.Lifecycle = s
		return c
	}
}

func WithPermissions(s *identity.PermissionAuthorizationService) ControllerOption {
	return func(c *Controller) *Controller {
		c.Permissions = s
		return c
	}
}

func WithAuthorizer(a *identity.Authorizer) ControllerOption {
	return func(c *Controller) *Controller {
		c.Authorizer = a
		return c
	}
}

func WithTokenValidator(v identity.AccessTokenValidator) ControllerOption {
	return func(c *Controller) *Controller {
		c.Validator = v
		return c
	}
}

// WithGatherer exposes the registry on /metrics. Defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) ControllerOption {
	return func(c *Controller) *Controller {
		c.Gatherer = g
		return c
	}
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:   identity.DefaultLogger(),
		Gatherer: prometheus.DefaultGatherer,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Registration == nil {
		panic("Missing RegistrationOrchestrator in identity controller...")
	}

	if c.Accounts == nil {
		panic("Missing AccountService in identity controller...")
	}

	if c.Lifecycle == nil {
		panic("Missing AccountLifecycleService in identity controller...")
	}

	if c.Permissions == nil {
		panic("Missing PermissionAuthorizationService in identity controller...")
	}

	if c.Validator == nil {
		panic("Missing AccessTokenValidator in identity controller...")
	}

	if c.Authorizer == nil {
		c.Authorizer = identity.NewAuthorizer(c.Permissions, c.Logger)
	}

	return c
}

// NewApp returns a fiber app with the JSON error handler and every route
// registered.
func NewApp(c *Controller) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "identityd",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(c.Logger),
	})
	RegisterRoutes(app, c)
	return app
}

// RegisterRoutes mounts the public auth routes, the protected account,
// user and permission routes, and /metrics.
func RegisterRoutes(app fiber.Router, c *Controller) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})))

	authn := jwtware.New(jwtware.Config{
		TokenValidator:      c.Validator,
		ErrorHandler:        authError,
		ValidationListeners: []jwtware.ValidationListener{c.requireActiveAccount},
	})

	auth := app.Group("/auth")
	auth.Post("/register", c.RegisterUser).Name("auth.register")
	auth.Get("/verify-email", c.VerifyEmail).Name("auth.verify-email")
	auth.Post("/resend-verification", c.ResendVerification).Name("auth.resend-verification")
	auth.Post("/login", c.Login).Name("auth.login")
	auth.Post("/refresh", c.Refresh).Name("auth.refresh")
	auth.Post("/logout", c.Logout).Name("auth.logout")
	auth.Post("/password-reset", c.InitiatePasswordReset).Name("auth.password-reset")
	auth.Post("/password-reset/confirm", c.ResetPassword).Name("auth.password-reset.confirm")
	auth.Post("/change-password", authn,
		c.Require(identity.RequirePermission(identity.PermissionAuthChangePassword)),
		c.ChangePassword,
	).Name("auth.change-password")
	auth.Post("/change-email", authn,
		c.Require(identity.RequirePermission(identity.PermissionAuthChangeEmail)),
		c.ChangeEmail,
	).Name("auth.change-email")

	users := app.Group("/users", authn)
	users.Get("/", c.Require(identity.RequirePermission(identity.PermissionUsersRead)), c.ListUsers).Name("users.list")
	users.Get("/:id", c.Require(identity.RequirePermission(identity.PermissionUsersRead)), c.GetUser).Name("users.get")
	users.Post("/", c.Require(identity.RequirePermission(identity.PermissionUsersCreate)), c.CreateUser).Name("users.create")
	users.Post("/:id/activate", c.Require(identity.RequirePermission(identity.PermissionUsersActivate)), c.ActivateUser).Name("users.activate")
	users.Post("/:id/deactivate", c.Require(identity.RequirePermission(identity.PermissionUsersDeactivate)), c.DeactivateUser).Name("users.deactivate")
	users.Put("/:id/roles", c.Require(identity.RequirePermission(identity.PermissionUsersManageRoles)), c.ReplaceUserRoles).Name("users.roles")

	perms := app.Group("/permissions", authn)
	perms.Get("/me", c.MyPermissions).Name("permissions.me")
	perms.Get("/mappings",
		c.Require(identity.RequireAnyPermission(identity.PermissionPermissionsManage, identity.PermissionSettingsManage)),
		c.ListMappings,
	).Name("permissions.mappings.list")
	perms.Get("/mappings/role/:role",
		c.Require(identity.RequireAnyRole(identity.RoleAdmin, identity.RoleSuperAdmin)),
		c.MappingsByRole,
	).Name("permissions.mappings.by-role")
	perms.Post("/mappings", c.Require(identity.RequirePermission(identity.PermissionPermissionsManage)), c.CreateMapping).Name("permissions.mappings.create")
	perms.Delete("/mappings/:id", c.Require(identity.RequirePermission(identity.PermissionPermissionsManage)), c.DeleteMapping).Name("permissions.mappings.delete")
}

// authError hands middleware failures to the app error handler. A missing
// bearer token is reported as unauthenticated.
func authError(_ *fiber.Ctx, err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return identity.WithCause(identity.ErrUnauthenticated, err, nil)
	}
	return err
}

// Require guards a route with an authorization requirement.
func (c *Controller) Require(req identity.Requirement) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		principal, _ := jwtware.PrincipalFrom(ctx)
		if err := c.Authorizer.Authorize(ctx.UserContext(), principal, req); err != nil {
			return err
		}
		return ctx.Next()
	}
}

// requireActiveAccount rejects principals whose directory record is
// missing or inactive.
func (c *Controller) requireActiveAccount(ctx *fiber.Ctx, principal *identity.Principal) error {
	id, err := principal.UserID()
	if err != nil {
		return identity.WithCause(identity.ErrAccountInactive, err, map[string]any{
			"principal": principal.CacheKey(),
		})
	}

	user, err := c.Lifecycle.GetUser(ctx.UserContext(), id)
	if identity.IsNotFound(err) {
		return identity.WithMeta(identity.ErrAccountInactive, map[string]any{
			"user_id": id.String(),
		})
	}
	if err != nil {
		return err
	}

	if !user.IsActive() {
		return identity.WithMeta(identity.ErrAccountInactive, map[string]any{
			"user_id": id.String(),
		})
	}
	return nil
}

func (c *Controller) bind(ctx *fiber.Ctx, payload validatable) error {
	if err := ctx.BodyParser(payload); err != nil {
		return invalidRequest(err)
	}

	if err := payload.Validate(); err != nil {
		return invalidRequest(err)
	}

	if c.Debug {
		c.Logger.Debug("%s %s payload: %s", ctx.Method(), ctx.Path(), print.MaybePrettyJSON(payload))
	}
	return nil
}

func principalFrom(ctx *fiber.Ctx) (*identity.Principal, uuid.UUID, error) {
	principal, ok := jwtware.PrincipalFrom(ctx)
	if !ok {
		return nil, uuid.Nil, identity.ErrUnauthenticated.Clone()
	}
	id, err := principal.UserID()
	if err != nil {
		return nil, uuid.Nil, identity.WithCause(identity.ErrUnauthenticated, err, nil)
	}
	return principal, id, nil
}

func actorOf(principal *identity.Principal) identity.ActorRef {
	return identity.ActorRef{ID: principal.CacheKey(), Type: "user"}
}

func paramUUID(ctx *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params(name))
	if err != nil {
		return uuid.Nil, identity.WithCause(identity.ErrInvalidRequest, err, map[string]any{
			"fields": map[string]any{name: "must be a valid UUID"},
		})
	}
	return id, nil
}
