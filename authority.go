package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/metrics"
)

// RoleAuthority owns the user to server role mapping and keeps at least
// one admin on the server.
type RoleAuthority struct {
	repo   RepositoryManager
	config ServerConfig
	events EventBus
	logger Logger
}

type AuthorityOption func(*RoleAuthority)

func WithAuthorityLogger(logger Logger) AuthorityOption {
	return func(a *RoleAuthority) {
		a.logger = logger
	}
}

func WithAuthorityEvents(bus EventBus) AuthorityOption {
	return func(a *RoleAuthority) {
		if bus != nil {
			a.events = bus
		}
	}
}

func NewRoleAuthority(repo RepositoryManager, config ServerConfig, opts ...AuthorityOption) *RoleAuthority {
	a := &RoleAuthority{
		repo:   repo,
		config: config,
		events: noopEventBus{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = ResolveLogger("authority", nil, a.logger)
	return a
}

// GetRole returns the user's role or ErrNotFound.
func (a *RoleAuthority) GetRole(ctx context.Context, userID string) (ServerRole, error) {
	role, err := a.repo.ACL().GetRoleTx(ctx, a.repo.DB(), userID)
	if err != nil {
		if isRecordNotFound(err) {
			return "", ErrNotFound.Clone()
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to get user role")
	}
	return role, nil
}

func (a *RoleAuthority) CountAdmins(ctx context.Context) (int, error) {
	n, err := a.repo.ACL().CountAdminsTx(ctx, a.repo.DB())
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count admins")
	}
	return n, nil
}

// SetRole changes the user's role. Demoting an admin re-counts the admins
// with their rows locked inside the writing transaction.
func (a *RoleAuthority) SetRole(ctx context.Context, userID string, role ServerRole) error {
	if err := a.checkRole(ctx, role); err != nil {
		return err
	}

	var previous ServerRole
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := a.repo.ACL().GetRoleTx(ctx, tx, userID)
		if err != nil {
			if isRecordNotFound(err) {
				return withMeta(ErrNotFound, map[string]any{"user_id": userID})
			}
			return err
		}
		previous = current

		if current == role {
			return nil
		}

		if current == RoleAdmin {
			if err := a.ensureNotLastAdminTx(ctx, tx, userID); err != nil {
				return err
			}
		}

		return a.repo.ACL().SetRoleTx(ctx, tx, userID, role)
	})
	if err != nil {
		return asRichError(err, "failed to change user role")
	}

	if previous != role {
		a.logger.Info("user role changed", "user_id", userID, "from", previous, "to", role)
		a.events.Emit(ctx, NewEvent(EventUserRoleChanged, userID, map[string]any{
			"from": string(previous),
			"to":   string(role),
		}))
	}
	return nil
}

func (a *RoleAuthority) checkRole(ctx context.Context, role ServerRole) error {
	if !role.IsValid() {
		return withMeta(ErrInvalidRole, map[string]any{"role": string(role)})
	}
	if role == RoleGuest && !a.config.GuestModeEnabled(ctx) {
		return ErrGuestModeDisabled.Clone()
	}
	return nil
}

// ensureNotLastAdminTx fails when userID is the only admin left.
func (a *RoleAuthority) ensureNotLastAdminTx(ctx context.Context, tx bun.IDB, userID string) error {
	admins, err := a.repo.ACL().AdminIDsTx(ctx, tx, true)
	if err != nil {
		return err
	}
	if len(admins) == 1 && admins[0] == userID {
		metrics.ObserveInvariantRejection(TextCodeLastAdmin)
		return ErrLastAdmin.Clone()
	}
	return nil
}

// assignInitialRoleTx gives the first user of the server the admin role,
// otherwise the requested role when allowed, otherwise RoleUser.
func (a *RoleAuthority) assignInitialRoleTx(ctx context.Context, tx bun.IDB, userID string, requested ServerRole) (ServerRole, error) {
	admins, err := a.repo.ACL().AdminIDsTx(ctx, tx, true)
	if err != nil {
		return "", err
	}

	role := RoleUser
	switch {
	case len(admins) == 0:
		role = RoleAdmin
	case requested != "" && a.checkRole(ctx, requested) == nil:
		role = requested
	}

	if err := a.repo.ACL().SetRoleTx(ctx, tx, userID, role); err != nil {
		return "", err
	}
	return role, nil
}
