package identity

import (
	"context"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// EmailCriteria selects email records. Set fields are combined with AND.
type EmailCriteria struct {
	Email    string
	UserID   string
	Primary  *bool
	Verified *bool
}

// Emails is the user_emails table repository.
type Emails interface {
	FindTx(ctx context.Context, tx bun.IDB, c EmailCriteria) (*UserEmail, error)
	ListForUserTx(ctx context.Context, tx bun.IDB, userID string, lock bool) ([]*UserEmail, error)
	InsertTx(ctx context.Context, tx bun.IDB, record *UserEmail) error
	SetPrimaryFlagTx(ctx context.Context, tx bun.IDB, id string, primary bool) error
	DeleteTx(ctx context.Context, tx bun.IDB, id string) error
	DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID string) error
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
}

type emails struct {
	db *bun.DB
}

var _ Emails = (*emails)(nil)

func NewEmailsRepository(db *bun.DB) Emails {
	return &emails{db: db}
}

func (r *emails) FindTx(ctx context.Context, tx bun.IDB, c EmailCriteria) (*UserEmail, error) {
	record := &UserEmail{}
	q := tx.NewSelect().Model(record)

	if c.Email != "" {
		q = q.Where("lower(ue.email) = ?", NormalizeEmail(c.Email))
	}
	if c.UserID != "" {
		q = q.Where("ue.user_id = ?", c.UserID)
	}
	if c.Primary != nil {
		q = q.Where("ue.is_primary = ?", *c.Primary)
	}
	if c.Verified != nil {
		q = q.Where("ue.is_verified = ?", *c.Verified)
	}

	if err := q.OrderExpr("ue.created_at ASC").Limit(1).Scan(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *emails) ListForUserTx(ctx context.Context, tx bun.IDB, userID string, lock bool) ([]*UserEmail, error) {
	records := []*UserEmail{}
	q := tx.NewSelect().
		Model(&records).
		Where("ue.user_id = ?", userID).
		OrderExpr("ue.is_primary DESC, ue.created_at ASC")
	if lock {
		q = forUpdate(tx, q)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *emails) InsertTx(ctx context.Context, tx bun.IDB, record *UserEmail) error {
	record.Email = NormalizeEmail(record.Email)
	if record.ID == "" {
		id, err := hashid.NewUUID(record.Email)
		if err != nil {
			return err
		}
		record.ID = id.String()
	}

	now := time.Now().UTC()
	record.CreatedAt = &now
	record.UpdatedAt = &now

	_, err := tx.NewInsert().Model(record).Exec(ctx)
	return err
}

func (r *emails) SetPrimaryFlagTx(ctx context.Context, tx bun.IDB, id string, primary bool) error {
	res, err := tx.NewUpdate().
		Model((*UserEmail)(nil)).
		Set("is_primary = ?", primary).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, id)
}

func (r *emails) DeleteTx(ctx context.Context, tx bun.IDB, id string) error {
	res, err := tx.NewDelete().
		Model((*UserEmail)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, id)
}

func (r *emails) DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID string) error {
	_, err := tx.NewDelete().
		Model((*UserEmail)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (r *emails) MarkVerifiedTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*UserEmail)(nil)).
		Set("is_verified = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("lower(email) = ?", NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
