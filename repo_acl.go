package identity

import (
	"context"

	"github.com/uptrace/bun"
)

// ACLs is the server_acl table repository.
type ACLs interface {
	GetRoleTx(ctx context.Context, tx bun.IDB, userID string) (ServerRole, error)
	SetRoleTx(ctx context.Context, tx bun.IDB, userID string, role ServerRole) error
	// AdminIDsTx returns the admin user ids, locking the rows when lock is set.
	AdminIDsTx(ctx context.Context, tx bun.IDB, lock bool) ([]string, error)
	CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error)
	DeleteTx(ctx context.Context, tx bun.IDB, userID string) error
}

type acls struct {
	db *bun.DB
}

var _ ACLs = (*acls)(nil)

func NewACLRepository(db *bun.DB) ACLs {
	return &acls{db: db}
}

func (r *acls) GetRoleTx(ctx context.Context, tx bun.IDB, userID string) (ServerRole, error) {
	var role string
	err := tx.NewSelect().
		Model((*ServerACL)(nil)).
		Column("role").
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx, &role)
	if err != nil {
		return "", err
	}
	return ServerRole(role), nil
}

func (r *acls) SetRoleTx(ctx context.Context, tx bun.IDB, userID string, role ServerRole) error {
	_, err := tx.NewRaw(
		`INSERT INTO server_acl (user_id, role) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`,
		userID, string(role),
	).Exec(ctx)
	return err
}

func (r *acls) AdminIDsTx(ctx context.Context, tx bun.IDB, lock bool) ([]string, error) {
	var ids []string
	q := tx.NewSelect().
		Model((*ServerACL)(nil)).
		Column("user_id").
		Where("role = ?", string(RoleAdmin)).
		OrderExpr("user_id ASC")
	if lock {
		q = forUpdate(tx, q)
	}
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *acls) CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error) {
	return tx.NewSelect().
		Model((*ServerACL)(nil)).
		Where("role = ?", string(RoleAdmin)).
		Count(ctx)
}

func (r *acls) DeleteTx(ctx context.Context, tx bun.IDB, userID string) error {
	_, err := tx.NewDelete().
		Model((*ServerACL)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}
