package identity

import (
	"context"

	"github.com/uptrace/bun"
)

// Service is the entry point for callers of the identity core.
type Service struct {
	repo      RepositoryManager
	ledger    *EmailLedger
	registry  *UserRegistry
	authority *RoleAuthority
	resolver  *IdentityResolver
}

type serviceOptions struct {
	loggerProvider LoggerProvider
	hasher         PasswordHasher
	projects       ProjectStore
	invites        InviteStore
	events         EventBus
}

type ServiceOption func(*serviceOptions)

func WithLoggerProvider(p LoggerProvider) ServiceOption {
	return func(o *serviceOptions) { o.loggerProvider = p }
}

func WithHasher(h PasswordHasher) ServiceOption {
	return func(o *serviceOptions) { o.hasher = h }
}

func WithProjects(s ProjectStore) ServiceOption {
	return func(o *serviceOptions) { o.projects = s }
}

func WithInvites(s InviteStore) ServiceOption {
	return func(o *serviceOptions) { o.invites = s }
}

func WithEvents(bus EventBus) ServiceOption {
	return func(o *serviceOptions) { o.events = bus }
}

// NewService wires the ledger, registry, authority and resolver over db.
func NewService(db *bun.DB, config ServerConfig, opts ...ServiceOption) *Service {
	o := serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := func(name string) Logger {
		return ResolveLogger(name, o.loggerProvider, nil)
	}

	repo := NewRepositoryManager(db)
	repo.MustValidate()

	ledger := NewEmailLedger(repo, WithLedgerLogger(logger("ledger")))
	authority := NewRoleAuthority(repo, config,
		WithAuthorityLogger(logger("authority")),
		WithAuthorityEvents(o.events),
	)
	registry := NewUserRegistry(repo, ledger, authority, config,
		WithPasswordHasher(o.hasher),
		WithProjectStore(o.projects),
		WithInviteStore(o.invites),
		WithEventBus(o.events),
		WithRegistryLogger(logger("registry")),
	)

	return &Service{
		repo:      repo,
		ledger:    ledger,
		registry:  registry,
		authority: authority,
		resolver:  NewIdentityResolver(ledger, registry, logger("resolver")),
	}
}

func (s *Service) Emails() *EmailLedger { return s.ledger }

func (s *Service) Users() *UserRegistry { return s.registry }

func (s *Service) Roles() *RoleAuthority { return s.authority }

func (s *Service) Resolver() *IdentityResolver { return s.resolver }

func (s *Service) CreateUser(ctx context.Context, input CreateUserInput, opts ...CreateOption) (string, error) {
	return s.registry.Create(ctx, input, opts...)
}

func (s *Service) FindOrCreateUser(ctx context.Context, ext ExternalIdentity) (*ResolvedIdentity, error) {
	return s.resolver.FindOrCreate(ctx, ext)
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.registry.GetByID(ctx, id)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.registry.GetByEmail(ctx, email)
}

func (s *Service) GetUserRole(ctx context.Context, id string) (ServerRole, error) {
	return s.authority.GetRole(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateUserInput) (*User, error) {
	return s.registry.Update(ctx, id, input)
}

func (s *Service) UpdateUserPassword(ctx context.Context, id, password string) error {
	return s.registry.UpdatePassword(ctx, id, password)
}

func (s *Service) ValidatePassword(ctx context.Context, email, password string) (string, bool, error) {
	return s.registry.ValidatePassword(ctx, email, password)
}

func (s *Service) MarkUserAsVerified(ctx context.Context, email string) (bool, error) {
	return s.registry.MarkVerified(ctx, email)
}

func (s *Service) SearchUsers(ctx context.Context, q SearchQuery) (*UserPage, error) {
	return s.registry.Search(ctx, q)
}

func (s *Service) GetUsers(ctx context.Context, q ListQuery) ([]*User, error) {
	return s.registry.List(ctx, q)
}

func (s *Service) CountUsers(ctx context.Context, query string) (int, error) {
	return s.registry.Count(ctx, query)
}

func (s *Service) ChangeUserRole(ctx context.Context, id string, role ServerRole) error {
	return s.authority.SetRole(ctx, id, role)
}

func (s *Service) DeleteUser(ctx context.Context, id string) (bool, error) {
	return s.registry.Delete(ctx, id)
}
