package identity

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/metrics"
)

const (
	// DefaultMaxPageSize caps search and listing page sizes.
	DefaultMaxPageSize = 200
	// DefaultSearchLimit is the search page size when none is given.
	DefaultSearchLimit = 25
	// DefaultListLimit is the listing page size when none is given.
	DefaultListLimit = 10
)

// UserRegistry owns user accounts. Creating a user writes the user row,
// its primary email and its role in one transaction.
type UserRegistry struct {
	repo      RepositoryManager
	ledger    *EmailLedger
	authority *RoleAuthority
	config    ServerConfig
	hasher    PasswordHasher
	projects  ProjectStore
	invites   InviteStore
	events    EventBus
	logger    Logger
}

type RegistryOption func(*UserRegistry)

func WithPasswordHasher(h PasswordHasher) RegistryOption {
	return func(r *UserRegistry) {
		if h != nil {
			r.hasher = h
		}
	}
}

func WithProjectStore(s ProjectStore) RegistryOption {
	return func(r *UserRegistry) {
		if s != nil {
			r.projects = s
		}
	}
}

func WithInviteStore(s InviteStore) RegistryOption {
	return func(r *UserRegistry) {
		if s != nil {
			r.invites = s
		}
	}
}

func WithEventBus(bus EventBus) RegistryOption {
	return func(r *UserRegistry) {
		if bus != nil {
			r.events = bus
		}
	}
}

func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *UserRegistry) {
		r.logger = logger
	}
}

func NewUserRegistry(repo RepositoryManager, ledger *EmailLedger, authority *RoleAuthority, config ServerConfig, opts ...RegistryOption) *UserRegistry {
	r := &UserRegistry{
		repo:      repo,
		ledger:    ledger,
		authority: authority,
		config:    config,
		projects:  noopProjects{},
		invites:   noopInvites{},
		events:    noopEventBus{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.hasher == nil {
		r.hasher = NewBcryptHasher(config.MinPasswordLength())
	}
	r.logger = ResolveLogger("registry", nil, r.logger)
	return r
}

type createOptions struct {
	skipValidation bool
}

type CreateOption func(*createOptions)

// WithSkipValidation skips input validation. Only tests should use it.
func WithSkipValidation() CreateOption {
	return func(o *createOptions) {
		o.skipValidation = true
	}
}

// Create registers a user and returns its id.
func (r *UserRegistry) Create(ctx context.Context, input CreateUserInput, opts ...CreateOption) (string, error) {
	options := createOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	input.Email = NormalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)

	if !options.skipValidation {
		if err := validateCreateInput(input); err != nil {
			return "", err
		}
	}

	var digest string
	if input.Password != "" {
		var err error
		if digest, err = r.hasher.Hash(input.Password); err != nil {
			return "", err
		}
	}

	user := &User{
		Name:           input.Name,
		Bio:            input.Bio,
		Company:        input.Company,
		Avatar:         SanitizeAvatar(input.Avatar),
		PasswordDigest: digest,
	}

	var role ServerRole
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := r.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}
		user = created

		if _, err := r.ledger.createTx(ctx, tx, CreateEmailInput{
			UserID:   user.ID.String(),
			Email:    input.Email,
			Primary:  true,
			Verified: input.Verified,
		}); err != nil {
			return err
		}

		role, err = r.authority.assignInitialRoleTx(ctx, tx, user.ID.String(), input.Role)
		return err
	})
	if err != nil {
		return "", asRichError(err, "failed to create user")
	}

	id := user.ID.String()
	source := input.Source
	if source == "" {
		source = "local"
	}

	metrics.ObserveUserCreated(source)
	r.logger.Info("user created", "user_id", id, "role", role, "source", source)
	r.events.Emit(ctx, NewEvent(EventUserCreated, id, map[string]any{
		"email":  input.Email,
		"name":   input.Name,
		"role":   string(role),
		"source": source,
	}))

	return id, nil
}

func validateCreateInput(input CreateUserInput) error {
	errs := validation.Errors{
		"email": validation.Validate(input.Email, validation.Required, is.Email),
		"name":  validation.Validate(input.Name, validation.Required),
	}.Filter()
	if errs == nil {
		return nil
	}
	return validationError("invalid user input", map[string]any{"fields": errs.Error()})
}

// GetByID returns the user with its primary email. The password digest is
// never loaded.
func (r *UserRegistry) GetByID(ctx context.Context, id string) (*User, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return nil, err
	}

	user, err := r.repo.Users().GetByIDTx(ctx, r.repo.DB(), uid)
	if err != nil {
		return nil, notFoundOr(err, "failed to get user")
	}
	return user, nil
}

// GetByEmail finds the user owning email as primary, ignoring case.
func (r *UserRegistry) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := r.repo.Users().GetByEmailTx(ctx, r.repo.DB(), email)
	if err != nil {
		return nil, notFoundOr(err, "failed to get user")
	}
	return user, nil
}

// Update changes profile fields. Name cannot be blank.
func (r *UserRegistry) Update(ctx context.Context, id string, input UpdateUserInput) (*User, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return nil, validationError("name cannot be empty", nil)
	}

	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.repo.Users().GetByIDTx(ctx, tx, uid)
		if err != nil {
			return notFoundOr(err, "failed to load user")
		}

		if input.Name != nil {
			current.Name = strings.TrimSpace(*input.Name)
		}
		if input.Bio != nil {
			current.Bio = *input.Bio
		}
		if input.Company != nil {
			current.Company = *input.Company
		}
		if input.Avatar != nil {
			current.Avatar = SanitizeAvatar(*input.Avatar)
		}

		return r.repo.Users().UpdateProfileTx(ctx, tx, current)
	})
	if err != nil {
		return nil, asRichError(err, "failed to update user")
	}

	return r.GetByID(ctx, id)
}

// UpdatePassword replaces the password digest. Weak passwords are rejected
// before anything is written.
func (r *UserRegistry) UpdatePassword(ctx context.Context, id, password string) error {
	uid, err := parseUserID(id)
	if err != nil {
		return err
	}

	digest, err := r.hasher.Hash(password)
	if err != nil {
		return err
	}

	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.repo.Users().SetPasswordDigestTx(ctx, tx, uid, digest)
	})
	if err != nil {
		return asRichError(err, "failed to update password")
	}
	return nil
}

// ValidatePassword checks the password of the user owning email as primary.
// It returns the user id on success.
func (r *UserRegistry) ValidatePassword(ctx context.Context, email, password string) (string, bool, error) {
	creds, err := r.repo.Users().GetCredentialsTx(ctx, r.repo.DB(), email)
	if err != nil {
		return "", false, notFoundOr(err, "failed to load credentials")
	}

	ok, err := r.hasher.Compare(password, creds.PasswordDigest)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return creds.ID.String(), true, nil
}

// MarkVerified flags the email as verified.
func (r *UserRegistry) MarkVerified(ctx context.Context, email string) (bool, error) {
	return r.ledger.MarkVerified(ctx, email)
}

// Delete removes a user together with the projects they solely own and
// their invites. The admin guard is checked first without locks to fail
// fast, then again with admin rows locked in the deleting transaction.
// Collaborators implementing the Tx interfaces are torn down inside that
// transaction, after the locked check; others are torn down before it.
func (r *UserRegistry) Delete(ctx context.Context, id string) (bool, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return false, err
	}

	if err := r.authority.ensureNotLastAdminTx(ctx, r.repo.DB(), id); err != nil {
		return false, asRichError(err, "failed to delete user")
	}

	txProjects, projectsInTx := r.projects.(TxProjectStore)
	txInvites, invitesInTx := r.invites.(TxInviteStore)

	var projectIDs []string
	if !projectsInTx {
		if projectIDs, err = r.deleteOwnedProjects(ctx, id, r.projects.SolelyOwnedProjectIDs, r.projects.DeleteProject); err != nil {
			return false, err
		}
	}
	if !invitesInTx {
		if err := r.invites.DeleteAllForUser(ctx, id); err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete invites")
		}
	}

	var deleted bool
	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.authority.ensureNotLastAdminTx(ctx, tx, id); err != nil {
			return err
		}
		if projectsInTx {
			list := func(ctx context.Context, userID string) ([]string, error) {
				return txProjects.SolelyOwnedProjectIDsTx(ctx, tx, userID)
			}
			remove := func(ctx context.Context, projectID string) error {
				return txProjects.DeleteProjectTx(ctx, tx, projectID)
			}
			if projectIDs, err = r.deleteOwnedProjects(ctx, id, list, remove); err != nil {
				return err
			}
		}
		if invitesInTx {
			if err := txInvites.DeleteAllForUserTx(ctx, tx, id); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete invites")
			}
		}
		if err := r.repo.Emails().DeleteAllForUserTx(ctx, tx, id); err != nil {
			return err
		}
		if err := r.repo.ACL().DeleteTx(ctx, tx, id); err != nil {
			return err
		}
		deleted, err = r.repo.Users().DeleteTx(ctx, tx, uid)
		return err
	})
	if err != nil {
		return false, asRichError(err, "failed to delete user")
	}

	if deleted {
		metrics.ObserveUserDeleted()
		r.logger.Info("user deleted", "user_id", id, "projects_deleted", len(projectIDs))
		r.events.Emit(ctx, NewEvent(EventUserDeleted, id, nil))
	}
	return deleted, nil
}

func (r *UserRegistry) deleteOwnedProjects(
	ctx context.Context,
	userID string,
	list func(context.Context, string) ([]string, error),
	remove func(context.Context, string) error,
) ([]string, error) {
	projectIDs, err := list(ctx, userID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list owned projects")
	}
	for _, projectID := range projectIDs {
		if err := remove(ctx, projectID); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete project").
				WithMetadata(map[string]any{"project_id": projectID})
		}
	}
	return projectIDs, nil
}

// Search matches any email of a user exactly or a name substring, newest
// first. Results carry neither emails nor roles. The cursor is the creation
// time of the last row of the previous page.
func (r *UserRegistry) Search(ctx context.Context, q SearchQuery) (*UserPage, error) {
	q.Limit = clampLimit(q.Limit, DefaultSearchLimit, r.config.MaxPageSize())

	var after *SearchCursor
	if q.Cursor != "" {
		cursor, err := ParseSearchCursor(q.Cursor)
		if err != nil {
			return nil, validationError("invalid cursor", map[string]any{"cursor": q.Cursor})
		}
		after = cursor
	}

	users, err := r.repo.Users().SearchTx(ctx, r.repo.DB(), q, after)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to search users")
	}

	page := &UserPage{Users: users}
	if last := len(users) - 1; len(users) == q.Limit && users[last].CreatedAt != nil {
		page.Cursor = SearchCursor{CreatedAt: *users[last].CreatedAt, ID: users[last].ID}.String()
	}
	return page, nil
}

// List is the admin listing, oldest first.
func (r *UserRegistry) List(ctx context.Context, q ListQuery) ([]*User, error) {
	q.Limit = clampLimit(q.Limit, DefaultListLimit, r.config.MaxPageSize())
	if q.Offset < 0 {
		q.Offset = 0
	}

	users, err := r.repo.Users().ListTx(ctx, r.repo.DB(), q)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users")
	}
	return users, nil
}

func (r *UserRegistry) Count(ctx context.Context, query string) (int, error) {
	n, err := r.repo.Users().CountTx(ctx, r.repo.DB(), query)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count users")
	}
	return n, nil
}

func clampLimit(limit, def, max int) int {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func parseUserID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, withMeta(ErrNotFound, map[string]any{"id": id})
	}
	return uid, nil
}

func notFoundOr(err error, message string) error {
	if isRecordNotFound(err) {
		return ErrNotFound.Clone()
	}
	return asRichError(err, message)
}
