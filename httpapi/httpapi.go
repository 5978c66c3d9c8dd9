// Package httpapi exposes the authentication strategies over HTTP with
// fiber.
package httpapi

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
)

// SessionCookie holds the session token for browser clients.
const SessionCookie = "identity_session"

// Users is the part of identity.Service the handlers use.
type Users interface {
	GetUserByID(ctx context.Context, id string) (*identity.User, error)
	GetUserRole(ctx context.Context, id string) (identity.ServerRole, error)
	SearchUsers(ctx context.Context, q identity.SearchQuery) (*identity.UserPage, error)
	ChangeUserRole(ctx context.Context, id string, role identity.ServerRole) error
	DeleteUser(ctx context.Context, id string) (bool, error)
}

// Inviter creates server invites.
type Inviter interface {
	Create(ctx context.Context, email, inviterID string) (*identity.Invite, error)
}

type Routes struct {
	Strategies string
	Login      string
	Register   string
	Begin      string
	Callback   string
	Me         string
	Users      string
	UserRole   string
	User       string
	Invites    string
	Metrics    string
}

func DefaultRoutes() Routes {
	return Routes{
		Strategies: "/auth/strategies",
		Login:      "/auth/local/login",
		Register:   "/auth/local/register",
		Begin:      "/auth/:strategy/begin",
		Callback:   "/auth/:strategy/callback",
		Me:         "/auth/me",
		Users:      "/admin/users",
		UserRole:   "/admin/users/:id/role",
		User:       "/admin/users/:id",
		Invites:    "/admin/invites",
		Metrics:    "/metrics",
	}
}

// Controller serves the authentication routes.
type Controller struct {
	Routes   Routes
	registry *strategy.Registry
	users    Users
	tokens   *identity.TokenService
	invites  Inviter
	logger   identity.Logger
	timeout  time.Duration
}

type Option func(*Controller)

func WithRoutes(routes Routes) Option {
	return func(c *Controller) {
		c.Routes = routes
	}
}

func WithLogger(logger identity.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithInviter enables the invite route.
func WithInviter(invites Inviter) Option {
	return func(c *Controller) {
		c.invites = invites
	}
}

// WithRequestTimeout bounds the work done for a single request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

func NewController(registry *strategy.Registry, users Users, tokens *identity.TokenService, opts ...Option) *Controller {
	c := &Controller{
		Routes:   DefaultRoutes(),
		registry: registry,
		users:    users,
		tokens:   tokens,
		timeout:  15 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = identity.ResolveLogger("http", nil, c.logger)
	return c
}

// NewApp returns a fiber app with the JSON error handler installed.
func NewApp(logger identity.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "identityd",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	return app
}

// Register mounts the routes on r.
func (c *Controller) Register(r fiber.Router) {
	r.Get(c.Routes.Strategies, c.ListStrategies)
	r.Post(c.Routes.Login, c.Login)
	r.Post(c.Routes.Register, c.RegisterUser)
	r.Get(c.Routes.Me, c.session(""), c.Me)
	r.Get(c.Routes.Begin, c.Begin)
	r.Get(c.Routes.Callback, c.Callback)

	admin := c.session(identity.RoleAdmin)
	r.Get(c.Routes.Users, admin, c.SearchUsers)
	r.Put(c.Routes.UserRole, admin, c.ChangeRole)
	r.Delete(c.Routes.User, admin, c.DeleteUser)
	if c.invites != nil {
		r.Post(c.Routes.Invites, admin, c.CreateInvite)
	}
	if c.Routes.Metrics != "" {
		r.Get(c.Routes.Metrics, adaptor.HTTPHandler(promhttp.Handler()))
	}
}

func (c *Controller) ctx(fc *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(fc.UserContext(), c.timeout)
}

func (c *Controller) ListStrategies(fc *fiber.Ctx) error {
	return fc.JSON(fiber.Map{"strategies": c.registry.Strategies()})
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (c *Controller) Login(fc *fiber.Ctx) error {
	var req loginRequest
	if err := fc.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := c.ctx(fc)
	defer cancel()

	session, err := c.registry.Authenticate(ctx, strategy.LocalID, strategy.CompleteRequest{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: fc.IP(),
	})
	if err != nil {
		return err
	}
	setSessionCookie(fc, session)
	return fc.JSON(session)
}

type registerRequest struct {
	Name        string `json:"name" form:"name"`
	Email       string `json:"email" form:"email"`
	Password    string `json:"password" form:"password"`
	InviteToken string `json:"invite_token" form:"invite_token"`
}

// RegisterUser creates a password account and signs it in.
func (c *Controller) RegisterUser(fc *fiber.Ctx) error {
	local, ok := c.registry.Local()
	if !ok {
		return strategy.ErrStrategyNotFound.Clone()
	}

	var req registerRequest
	if err := fc.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := c.ctx(fc)
	defer cancel()

	if _, err := local.Register(ctx, strategy.RegisterRequest{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		InviteToken: req.InviteToken,
		ClientIP:    fc.IP(),
	}); err != nil {
		return err
	}

	session, err := c.registry.Authenticate(ctx, strategy.LocalID, strategy.CompleteRequest{
		Email:    req.Email,
		Password: req.Password,
		ClientIP: fc.IP(),
	})
	if err != nil {
		return err
	}
	session.IsNewUser = true
	setSessionCookie(fc, session)
	return fc.Status(fiber.StatusCreated).JSON(session)
}

// Begin redirects the user agent to the provider.
func (c *Controller) Begin(fc *fiber.Ctx) error {
	ctx, cancel := c.ctx(fc)
	defer cancel()

	redirect, err := c.registry.Begin(ctx, fc.Params("strategy"), strategy.BeginRequest{
		RedirectURL: safeRedirect(fc.Query("redirect")),
		InviteToken: fc.Query("invite"),
	})
	if err != nil {
		return err
	}
	return fc.Redirect(redirect.URL, fiber.StatusFound)
}

// Callback completes the provider flow. When the flow started with a
// local redirect the token is handed over in the URL fragment.
func (c *Controller) Callback(fc *fiber.Ctx) error {
	if providerErr := fc.Query("error"); providerErr != "" {
		c.logger.Warn("provider returned an error", "strategy", fc.Params("strategy"), "error", providerErr)
		return identity.ErrAuthenticationFailed.Clone().WithMetadata(map[string]any{
			"strategy":          fc.Params("strategy"),
			"provider_error":    providerErr,
			"error_description": fc.Query("error_description"),
		})
	}

	ctx, cancel := c.ctx(fc)
	defer cancel()

	session, err := c.registry.Authenticate(ctx, fc.Params("strategy"), strategy.CompleteRequest{
		Code:     fc.Query("code"),
		State:    fc.Query("state"),
		ClientIP: fc.IP(),
	})
	if err != nil {
		return err
	}
	setSessionCookie(fc, session)

	if target := safeRedirect(session.RedirectURL); target != "" {
		fragment := url.Values{}
		fragment.Set("token", session.Token)
		return fc.Redirect(target+"#"+fragment.Encode(), fiber.StatusFound)
	}
	return fc.JSON(session)
}

func (c *Controller) session(minimum identity.ServerRole) fiber.Handler {
	return RequireSession(SessionConfig{
		Validator:   c.tokens,
		TokenLookup: "header:Authorization,cookie:" + SessionCookie,
		MinimumRole: minimum,
		RoleLookup:  c.users.GetUserRole,
	})
}

// Me returns the user of the session.
func (c *Controller) Me(fc *fiber.Ctx) error {
	claims, _ := SessionClaims(fc)

	ctx, cancel := c.ctx(fc)
	defer cancel()

	user, err := c.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.ErrAuthenticationFailed.Clone()
		}
		return err
	}
	return fc.JSON(user)
}

func (c *Controller) SearchUsers(fc *fiber.Ctx) error {
	ctx, cancel := c.ctx(fc)
	defer cancel()

	page, err := c.users.SearchUsers(ctx, identity.SearchQuery{
		Query:           fc.Query("query"),
		Limit:           fc.QueryInt("limit"),
		Cursor:          fc.Query("cursor"),
		IncludeArchived: fc.QueryBool("archived"),
		EmailOnly:       fc.QueryBool("email_only"),
	})
	if err != nil {
		return err
	}
	return fc.JSON(page)
}

type roleRequest struct {
	Role string `json:"role" form:"role"`
}

func (c *Controller) ChangeRole(fc *fiber.Ctx) error {
	var req roleRequest
	if err := fc.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	role, ok := identity.ParseRole(req.Role)
	if !ok {
		return identity.ErrInvalidRole.Clone().WithMetadata(map[string]any{"role": req.Role})
	}

	ctx, cancel := c.ctx(fc)
	defer cancel()

	if err := c.users.ChangeUserRole(ctx, fc.Params("id"), role); err != nil {
		return err
	}
	c.logger.Info("server role changed", "actor_id", identity.ActorID(ctx), "user_id", fc.Params("id"), "role", role)
	return fc.JSON(fiber.Map{"id": fc.Params("id"), "role": role})
}

func (c *Controller) DeleteUser(fc *fiber.Ctx) error {
	ctx, cancel := c.ctx(fc)
	defer cancel()

	deleted, err := c.users.DeleteUser(ctx, fc.Params("id"))
	if err != nil {
		return err
	}
	if !deleted {
		return identity.ErrNotFound.Clone()
	}
	c.logger.Info("user deleted", "actor_id", identity.ActorID(ctx), "user_id", fc.Params("id"))
	return fc.SendStatus(fiber.StatusNoContent)
}

type inviteRequest struct {
	Email string `json:"email" form:"email"`
}

func (c *Controller) CreateInvite(fc *fiber.Ctx) error {
	var req inviteRequest
	if err := fc.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := c.ctx(fc)
	defer cancel()

	invite, err := c.invites.Create(ctx, req.Email, identity.ActorID(ctx))
	if err != nil {
		return err
	}
	return fc.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     invite.ID,
		"target": invite.Target,
		"token":  invite.Token,
	})
}

func setSessionCookie(fc *fiber.Ctx, session *strategy.Session) {
	fc.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   fc.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// safeRedirect keeps only same origin paths.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	return target
}
